package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/shoporder/internal/domain"
)

type timelineRepository struct {
	tx *sql.Tx
}

func (r timelineRepository) Append(ctx context.Context, event domain.TimelineEvent) error {
	if event.Occurred.IsZero() {
		event.Occurred = time.Now().UTC()
	}

	if _, err := r.tx.ExecContext(ctx, `
		INSERT INTO order_timeline (order_id, order_item_id, type, reason, occurred_at)
		VALUES ($1,$2,$3,$4,$5)
	`, event.OrderID, event.ItemID, event.Type, event.Reason, event.Occurred.UTC()); err != nil {
		return mapError(err, nil, "append timeline event of order %d", event.OrderID)
	}
	return nil
}

func (r timelineRepository) List(ctx context.Context, orderID int64) ([]domain.TimelineEvent, error) {
	rows, err := r.tx.QueryContext(ctx, `
		SELECT id, order_id, order_item_id, type, reason, occurred_at
		FROM order_timeline
		WHERE order_id = $1
		ORDER BY occurred_at ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, mapError(err, nil, "list timeline of order %d", orderID)
	}
	defer rows.Close()

	events := make([]domain.TimelineEvent, 0)
	for rows.Next() {
		var (
			event  domain.TimelineEvent
			itemID sql.NullInt64
		)
		if err := rows.Scan(&event.ID, &event.OrderID, &itemID, &event.Type, &event.Reason, &event.Occurred); err != nil {
			return nil, fmt.Errorf("scan timeline event: %w", err)
		}
		event.ItemID = nullInt64Ptr(itemID)
		event.Occurred = event.Occurred.UTC()
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timeline events: %w", err)
	}
	return events, nil
}

var _ domain.TimelineRepository = timelineRepository{}
