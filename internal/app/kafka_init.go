package app

import (
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shoporder/internal/messaging/kafka"
)

// initKafkaProducer создаёт producer для outbox. Пустой список брокеров — (nil, nil):
// сервис работает без публикации событий об остатках.
func initKafkaProducer(brokers []string, logger *log.Entry) (*kafka.Producer, error) {
	if len(brokers) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokers)
	if err != nil {
		return nil, errors.Join(errors.New("create kafka producer"), err)
	}
	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return producer, nil
}

// closeKafkaProducer закрывает producer, если он создан.
func closeKafkaProducer(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}
	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
		return
	}
	logger.Info("kafka producer closed")
}
