package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/shoporder/internal/domain"
)

// Коды SQLSTATE, которые переводятся в доменные ошибки.
const (
	pgUniqueViolation  = "23505"
	pgCheckViolation   = "23514"
	pgLockNotAvailable = "55P03"
	pgDeadlockDetected = "40P01"
	paymentMethodCheck = "orders_payment_method_check"
)

// mapError переводит ошибку драйвера в доменную. notFound подставляется для sql.ErrNoRows.
func mapError(err error, notFound error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	op := fmt.Sprintf(format, args...)
	if errors.Is(err, sql.ErrNoRows) {
		if notFound == nil {
			notFound = domain.ErrNotFound
		}
		return fmt.Errorf("%w: %s", notFound, op)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgLockNotAvailable, pgDeadlockDetected:
			return fmt.Errorf("%s: %w: %s", op, domain.ErrLockTimeout, pgErr.Message)
		case pgUniqueViolation:
			return fmt.Errorf("%s: %w: %s", op, domain.ErrDuplicate, pgErr.ConstraintName)
		case pgCheckViolation:
			if pgErr.ConstraintName == paymentMethodCheck {
				return fmt.Errorf("%s: %w", op, domain.ErrInvalidPaymentMethod)
			}
			return fmt.Errorf("%s: %w: constraint %s", op, domain.ErrValidation, pgErr.ConstraintName)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return false
}
