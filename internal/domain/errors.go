package domain

import (
	"errors"
	"fmt"
)

// Code содержит стабильный машинный код ошибки, который уходит клиенту вместе с сообщением.
type Code string

const (
	CodeInsufficientStock           Code = "INSUFFICIENT_STOCK"
	CodeInvalidCoupon               Code = "INVALID_COUPON"
	CodeInvalidPaymentMethod        Code = "INVALID_PAYMENT_METHOD"
	CodeInvalidStatus               Code = "INVALID_STATUS"
	CodeInvalidItemStatusTransition Code = "INVALID_ITEM_STATUS_TRANSITION"
	CodeOrderNotCancellable         Code = "ORDER_NOT_CANCELLABLE"
	CodeDuplicate                   Code = "DUPLICATE"
	CodeLockTimeout                 Code = "LOCK_TIMEOUT"
	CodeInsufficientPoints          Code = "INSUFFICIENT_POINTS"
	CodeNotFound                    Code = "NOT_FOUND"
	CodeValidation                  Code = "VALIDATION"
	CodeInternal                    Code = "INTERNAL"
)

var (
	// ErrInsufficientStock — на складе меньше единиц, чем требуется.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInvalidCoupon — купон нельзя применить (истёк, ещё не действует, исчерпан, уже использован, мала сумма).
	ErrInvalidCoupon = errors.New("invalid coupon")
	// ErrInvalidPaymentMethod — способ оплаты вне поддерживаемого набора.
	ErrInvalidPaymentMethod = errors.New("invalid payment method")
	// ErrInvalidStatus — переход статуса заказа запрещён.
	ErrInvalidStatus = errors.New("invalid order status")
	// ErrInvalidItemStatusTransition — переход статуса позиции запрещён.
	ErrInvalidItemStatusTransition = errors.New("invalid item status transition")
	// ErrOrderNotCancellable — заказ уже нельзя отменить.
	ErrOrderNotCancellable = errors.New("order is not cancellable")
	// ErrDuplicate — нарушение уникальности (например, купон уже выдан).
	ErrDuplicate = errors.New("duplicate")
	// ErrLockTimeout — не дождались блокировки строки. Единственная ошибка, которую можно повторять.
	ErrLockTimeout = errors.New("lock wait timeout")
	// ErrInsufficientPoints — у пользователя не хватает баллов для списания.
	ErrInsufficientPoints = errors.New("insufficient points")
	// ErrNotFound — сущность не найдена.
	ErrNotFound = errors.New("not found")
	// ErrValidation — некорректные входные данные запроса.
	ErrValidation = errors.New("validation failed")

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = fmt.Errorf("order %w", ErrNotFound)
	// ErrOrderItemNotFound возвращается, если позиция не найдена.
	ErrOrderItemNotFound = fmt.Errorf("order item %w", ErrNotFound)
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = fmt.Errorf("user %w", ErrNotFound)
	// ErrProductNotFound возвращается, если товар не найден.
	ErrProductNotFound = fmt.Errorf("product %w", ErrNotFound)
	// ErrCouponNotFound возвращается, если купон или выданный купон не найден.
	ErrCouponNotFound = fmt.Errorf("coupon %w", ErrNotFound)

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	// ErrIdempotencyKeyRequired — пустой ключ идемпотентности.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired — пустой хеш запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyAlreadyExists — ключ уже зарегистрирован.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch — ключ переиспользован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
	// ErrIdempotencyKeyNotFound — ключ не найден.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
)

var codeBySentinel = []struct {
	err  error
	code Code
}{
	{ErrInsufficientStock, CodeInsufficientStock},
	{ErrInvalidCoupon, CodeInvalidCoupon},
	{ErrInvalidPaymentMethod, CodeInvalidPaymentMethod},
	{ErrInvalidItemStatusTransition, CodeInvalidItemStatusTransition},
	{ErrOrderNotCancellable, CodeOrderNotCancellable},
	{ErrInvalidStatus, CodeInvalidStatus},
	{ErrDuplicate, CodeDuplicate},
	{ErrLockTimeout, CodeLockTimeout},
	{ErrInsufficientPoints, CodeInsufficientPoints},
	{ErrNotFound, CodeNotFound},
	{ErrValidation, CodeValidation},
}

// CodeOf возвращает стабильный код для ошибки. Неизвестные ошибки считаются внутренними.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	for _, entry := range codeBySentinel {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return CodeInternal
}

// IsRetryable сообщает, можно ли повторить операцию с теми же входными данными.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLockTimeout)
}

// IsIdempotencyConflict проверяет, что ошибка связана с повторным использованием ключа.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}

// Validationf оборачивает ErrValidation с описанием поля.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
