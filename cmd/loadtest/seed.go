package main

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// cartSeeder готовит покупателей и корзины напрямую в PostgreSQL:
// в gRPC-контракте нет операций с корзиной, а CreateOrder её опустошает.
type cartSeeder interface {
	Prepare(ctx context.Context, userIDs []int64, productID, price int64) error
	FillCart(ctx context.Context, userID, productID, quantity int64) error
	Close() error
}

type sqlSeeder struct {
	db *sql.DB
}

func newSQLSeeder(ctx context.Context, dsn string) (*sqlSeeder, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open seed database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping seed database: %w", err)
	}
	return &sqlSeeder{db: db}, nil
}

func (s *sqlSeeder) Prepare(ctx context.Context, userIDs []int64, productID, price int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO products (id, name, price, stock_quantity) VALUES ($1, $2, $3, 0)
		 ON CONFLICT (id) DO UPDATE SET price = EXCLUDED.price, active = TRUE`,
		productID, fmt.Sprintf("load-product-%d", productID), price,
	); err != nil {
		return fmt.Errorf("upsert product %d: %w", productID, err)
	}
	for _, userID := range userIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO users (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, userID,
		); err != nil {
			return fmt.Errorf("upsert user %d: %w", userID, err)
		}
	}
	for _, table := range []string{"users", "products"} {
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf(`SELECT setval(pg_get_serial_sequence('%[1]s', 'id'), GREATEST((SELECT MAX(id) FROM %[1]s), 1))`, table),
		); err != nil {
			return fmt.Errorf("bump %s sequence: %w", table, err)
		}
	}
	return tx.Commit()
}

func (s *sqlSeeder) FillCart(ctx context.Context, userID, productID, quantity int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cart_items (user_id, product_id, quantity) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, product_id) DO UPDATE SET quantity = EXCLUDED.quantity`,
		userID, productID, quantity,
	)
	if err != nil {
		return fmt.Errorf("fill cart of user %d: %w", userID, err)
	}
	return nil
}

func (s *sqlSeeder) Close() error {
	return s.db.Close()
}
