// Package order реализует транзакционное ядро заказов: создание, отмена, частичная отмена,
// возвраты, доставка с начислением баллов.
//
// Каждая операция выполняется в одной транзакции. Блокировки берутся в порядке
// order → user → products (по возрастанию) → user coupon → coupon.
package order

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shoporder/internal/domain"
	"github.com/vladislavdragonenkov/shoporder/internal/metrics"
	"github.com/vladislavdragonenkov/shoporder/internal/service/stock"
)

const (
	// DefaultShippingFee задаёт фиксированную стоимость доставки ниже порога уровня.
	DefaultShippingFee int64 = 3000
	// DefaultReturnWindow ограничивает срок подачи заявки на возврат после доставки.
	DefaultReturnWindow = 7 * 24 * time.Hour
)

// Имена операций для метрик и логов.
const (
	opCreate        = "create"
	opCancel        = "cancel"
	opPartialCancel = "partial_cancel"
	opRequestReturn = "request_return"
	opApproveReturn = "approve_return"
	opRejectReturn  = "reject_return"
	opShip          = "ship"
	opDeliver       = "deliver"
	opIssueCoupon   = "issue_coupon"
	opAdjustStock   = "adjust_stock"
)

// Service реализует операции над заказами поверх TxManager.
type Service struct {
	txm          domain.TxManager
	ledger       *stock.Ledger
	events       domain.StockEventPublisher
	metrics      *metrics.OrderMetrics
	logger       *log.Entry
	shippingFee  int64
	returnWindow time.Duration
	now          func() time.Time
}

// Option настраивает Service.
type Option func(*Service)

// WithEventPublisher задаёт получателя событий ProductStockChanged.
func WithEventPublisher(events domain.StockEventPublisher) Option {
	return func(s *Service) {
		s.events = events
	}
}

// WithMetrics включает метрики операций.
func WithMetrics(m *metrics.OrderMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithShippingFee переопределяет стоимость доставки.
func WithShippingFee(fee int64) Option {
	return func(s *Service) {
		if fee >= 0 {
			s.shippingFee = fee
		}
	}
}

// WithReturnWindow переопределяет срок возврата. Ноль отключает проверку срока.
func WithReturnWindow(window time.Duration) Option {
	return func(s *Service) {
		if window >= 0 {
			s.returnWindow = window
		}
	}
}

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService создаёт сервис заказов. logger может быть nil.
func NewService(txm domain.TxManager, logger *log.Entry, options ...Option) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "order-service")
	}
	s := &Service{
		txm:          txm,
		ledger:       stock.NewLedger(logger.WithField("component", "stock-ledger")),
		logger:       logger,
		shippingFee:  DefaultShippingFee,
		returnWindow: DefaultReturnWindow,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Reversal содержит заказ после отмены или возврата и выплаченный возврат.
type Reversal struct {
	Order  domain.Order
	Refund domain.Refund
}

// execute выполняет fn в транзакции, пишет метрики и логирует отказ.
func (s *Service) execute(ctx context.Context, operation string, fields log.Fields, fn func(ctx context.Context, tx domain.Tx) error) error {
	finish := s.metrics.Start(operation)
	err := s.txm.WithinTx(ctx, fn)
	code := ""
	if err != nil {
		code = string(domain.CodeOf(err))
	}
	finish(code)

	if err != nil {
		entry := s.logger.WithError(err).WithFields(fields).WithField("operation", operation).WithField("code", code)
		if code == string(domain.CodeInternal) {
			entry.Error("order operation failed")
		} else {
			entry.Info("order operation rejected")
		}
	}
	return err
}

// publishStockChanged отправляет событие после commit. Ошибка только логируется.
func (s *Service) publishStockChanged(ctx context.Context, productIDs []int64, reason string) {
	if s.events == nil || len(productIDs) == 0 {
		return
	}
	event := domain.ProductStockChanged{
		ProductIDs: stock.DistinctSorted(productIDs),
		Reason:     reason,
		OccurredAt: s.now(),
	}
	if err := s.events.PublishStockChanged(ctx, event); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"product_ids": event.ProductIDs,
			"reason":      reason,
		}).Warn("failed to publish stock changed event")
		return
	}
	s.metrics.RecordStockEvent()
}

// resolveTier пересчитывает уровень после изменения TotalSpent и пишет историю при смене.
func (s *Service) resolveTier(ctx context.Context, tx domain.Tx, user *domain.User, reason domain.TierChangeReason) error {
	from, to, changed := user.ResolveTier()
	if err := tx.Users().Save(ctx, *user); err != nil {
		return fmt.Errorf("save user %d: %w", user.ID, err)
	}
	if !changed {
		return nil
	}
	if err := tx.TierHistory().Append(ctx, domain.TierHistory{
		UserID:     user.ID,
		FromLevel:  from,
		ToLevel:    to,
		TotalSpent: user.TotalSpent,
		Reason:     reason,
		CreatedAt:  s.now(),
	}); err != nil {
		return fmt.Errorf("append tier history for user %d: %w", user.ID, err)
	}
	s.metrics.RecordTierChange(string(reason))
	return nil
}

func (s *Service) appendTimeline(ctx context.Context, tx domain.Tx, orderID int64, itemID *int64, eventType, reason string, at time.Time) error {
	if err := tx.Timeline().Append(ctx, domain.TimelineEvent{
		OrderID:  orderID,
		ItemID:   itemID,
		Type:     eventType,
		Reason:   reason,
		Occurred: at,
	}); err != nil {
		return fmt.Errorf("append timeline %s for order %d: %w", eventType, orderID, err)
	}
	return nil
}

// lockCoupons блокирует выданный купон заказа и его каталожную запись.
func lockCoupons(ctx context.Context, tx domain.Tx, userCouponID int64) (domain.UserCoupon, domain.Coupon, error) {
	userCoupon, err := tx.Coupons().LockUserCoupon(ctx, userCouponID)
	if err != nil {
		return domain.UserCoupon{}, domain.Coupon{}, err
	}
	coupon, err := tx.Coupons().LockCoupon(ctx, userCoupon.CouponID)
	if err != nil {
		return domain.UserCoupon{}, domain.Coupon{}, err
	}
	return userCoupon, coupon, nil
}

// releaseCoupon возвращает купон пользователю и уменьшает счётчик использований.
func releaseCoupon(ctx context.Context, tx domain.Tx, userCoupon domain.UserCoupon, coupon domain.Coupon) error {
	if !userCoupon.IsUsed {
		return nil
	}
	userCoupon.CancelUse()
	if err := tx.Coupons().SaveUserCoupon(ctx, userCoupon); err != nil {
		return fmt.Errorf("release user coupon %d: %w", userCoupon.ID, err)
	}
	coupon.UsedQuantity = max(coupon.UsedQuantity-1, 0)
	if err := tx.Coupons().SaveCouponUsage(ctx, coupon); err != nil {
		return fmt.Errorf("release coupon %d usage: %w", coupon.ID, err)
	}
	return nil
}

// checkOwner скрывает чужой заказ как несуществующий. userID == 0 означает администратора.
func checkOwner(order domain.Order, userID int64) error {
	if userID != 0 && order.UserID != userID {
		return fmt.Errorf("%w: id %d", domain.ErrOrderNotFound, order.ID)
	}
	return nil
}

// newOrderNumber формирует номер вида ORD-20260102-1A2B3C4D.
func newOrderNumber(at time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("ORD-%s-%s", at.UTC().Format("20060102"), suffix)
}

func ptr[T any](v T) *T {
	return &v
}
