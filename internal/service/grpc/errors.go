package grpcsvc

import (
	"context"
	"errors"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	shoporderv1 "github.com/vladislavdragonenkov/shoporder/api/shoporder/v1"
	"github.com/vladislavdragonenkov/shoporder/internal/domain"
)

var grpcCodeByDomain = map[domain.Code]codes.Code{
	domain.CodeInsufficientStock:           codes.FailedPrecondition,
	domain.CodeInvalidCoupon:               codes.FailedPrecondition,
	domain.CodeInvalidPaymentMethod:        codes.InvalidArgument,
	domain.CodeInvalidStatus:               codes.FailedPrecondition,
	domain.CodeInvalidItemStatusTransition: codes.FailedPrecondition,
	domain.CodeOrderNotCancellable:         codes.FailedPrecondition,
	domain.CodeDuplicate:                   codes.AlreadyExists,
	domain.CodeLockTimeout:                 codes.Aborted,
	domain.CodeInsufficientPoints:          codes.FailedPrecondition,
	domain.CodeNotFound:                    codes.NotFound,
	domain.CodeValidation:                  codes.InvalidArgument,
	domain.CodeInternal:                    codes.Internal,
}

// grpcCodeFor возвращает gRPC-код для доменного кода.
func grpcCodeFor(code domain.Code) codes.Code {
	if c, ok := grpcCodeByDomain[code]; ok {
		return c
	}
	return codes.Internal
}

// toStatus переводит доменную ошибку в gRPC-статус с ErrorInfo{Reason: код}.
// Текст внутренних ошибок клиенту не отдаётся.
func (s *OrderService) toStatus(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "request deadline exceeded")
	}

	code := domain.CodeOf(err)
	message := err.Error()
	if code == domain.CodeInternal {
		s.logger.WithContext(ctx).WithError(err).Error("internal error in order service")
		message = "internal error"
	}
	return statusWithReason(grpcCodeFor(code), message, string(code))
}

func statusWithReason(code codes.Code, message, reason string) error {
	st := status.New(code, message)
	if reason == "" {
		return st.Err()
	}
	detailed, err := st.WithDetails(&errdetails.ErrorInfo{
		Reason: reason,
		Domain: shoporderv1.ErrorDomain,
	})
	if err != nil {
		return st.Err()
	}
	return detailed.Err()
}
