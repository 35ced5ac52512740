package grpcsvc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	shoporderv1 "github.com/vladislavdragonenkov/shoporder/api/shoporder/v1"
	"github.com/vladislavdragonenkov/shoporder/internal/domain"
)

const (
	idempotencyKeyHeader = "idempotency-key"
	idempotencyTTL       = 24 * time.Hour
)

type idempotencyErrorPayload struct {
	Code    int32  `json:"code"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

// withIdempotency выполняет handler один раз на ключ. Повтор с тем же телом получает
// сохранённый ответ или ошибку, с другим телом получает AlreadyExists.
// После LOCK_TIMEOUT ключ освобождается, и повтор выполняется заново.
func withIdempotency[T any](
	s *OrderService,
	ctx context.Context,
	method string,
	req any,
	handler func(context.Context) (*T, error),
) (*T, error) {
	if s.idemRepo == nil {
		return handler(ctx)
	}

	idemKey, err := readIdempotencyKey(ctx)
	if err != nil {
		return nil, err
	}

	reqHash, err := buildIdempotencyRequestHash(method, req)
	if err != nil {
		s.logger.WithError(err).WithField("method", method).Warn("failed to build idempotency request hash")
		return nil, status.Error(codes.Internal, "failed to initialize idempotency request")
	}

	record, err := s.idemRepo.CreateProcessing(ctx, idemKey, reqHash, s.now().Add(idempotencyTTL))
	if err != nil {
		return replayIdempotency[T](s, err, record)
	}

	resp, runErr := handler(ctx)
	if runErr != nil {
		if retryableFailure(runErr) {
			s.releaseIdempotency(ctx, idemKey)
		} else {
			s.cacheIdempotencyFailure(ctx, idemKey, runErr)
		}
		return nil, runErr
	}

	if cacheErr := s.cacheIdempotencySuccess(ctx, idemKey, resp); cacheErr != nil {
		s.logger.WithError(cacheErr).WithField("idempotency_key", idemKey).Warn("failed to store idempotent success response")
	}
	return resp, nil
}

func replayIdempotency[T any](s *OrderService, createErr error, record domain.IdempotencyRecord) (*T, error) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		return nil, status.Error(codes.AlreadyExists, "idempotency key is already used with different request payload")
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		switch record.Status {
		case domain.IdempotencyStatusDone:
			if len(record.ResponseBody) == 0 {
				return nil, status.Error(codes.Internal, "idempotency cache is empty")
			}
			resp := new(T)
			if err := json.Unmarshal(record.ResponseBody, resp); err != nil {
				s.logger.WithError(err).WithField("idempotency_key", record.Key).Warn("failed to decode cached idempotency response")
				return nil, status.Error(codes.Internal, "failed to decode cached idempotency response")
			}
			return resp, nil
		case domain.IdempotencyStatusProcessing:
			return nil, status.Error(codes.Aborted, "request with the same idempotency key is already processing")
		case domain.IdempotencyStatusFailed:
			return nil, decodeIdempotencyFailure(record)
		default:
			return nil, status.Error(codes.Internal, "unknown idempotency record status")
		}
	default:
		s.logger.WithError(createErr).Warn("failed to create idempotency record")
		return nil, status.Error(codes.Internal, "failed to initialize idempotency request")
	}
}

func (s *OrderService) cacheIdempotencySuccess(ctx context.Context, key string, resp any) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return s.idemRepo.MarkDone(ctx, key, data, int(codes.OK))
}

// retryableFailure отличает ошибки, после которых тот же ключ должен выполниться заново:
// LOCK_TIMEOUT и обрыв запроса клиентом.
func retryableFailure(err error) bool {
	if shoporderv1.ErrorReason(err) == string(domain.CodeLockTimeout) {
		return true
	}
	switch status.Code(err) {
	case codes.Canceled, codes.DeadlineExceeded:
		return true
	}
	return false
}

func (s *OrderService) releaseIdempotency(ctx context.Context, key string) {
	if err := s.idemRepo.Release(context.WithoutCancel(ctx), key); err != nil {
		s.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to release idempotency key")
	}
}

func (s *OrderService) cacheIdempotencyFailure(ctx context.Context, key string, runErr error) {
	st := status.Convert(runErr)
	code := st.Code()
	if code == codes.OK {
		code = codes.Internal
	}

	payload, err := json.Marshal(idempotencyErrorPayload{
		Code:    int32(code), //nolint:gosec // codes.Code is a bounded enum value.
		Message: st.Message(),
		Reason:  shoporderv1.ErrorReason(runErr),
	})
	if err != nil {
		s.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to encode idempotency failure payload")
		payload = nil
	}

	if err := s.idemRepo.MarkFailed(ctx, key, payload, int(code)); err != nil {
		s.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotency failure response")
	}
}

func decodeIdempotencyFailure(record domain.IdempotencyRecord) error {
	if len(record.ResponseBody) > 0 {
		var payload idempotencyErrorPayload
		if err := json.Unmarshal(record.ResponseBody, &payload); err == nil {
			if code, ok := grpcCodeFromInt(int(payload.Code)); ok {
				if code == codes.OK {
					code = codes.Internal
				}
				if payload.Message == "" {
					payload.Message = "previous request with the same idempotency key failed"
				}
				return statusWithReason(code, payload.Message, payload.Reason)
			}
		}
	}

	if record.StatusCode > 0 {
		if code, ok := grpcCodeFromInt(record.StatusCode); ok && code != codes.OK {
			return status.Error(code, "previous request with the same idempotency key failed")
		}
	}

	return status.Error(codes.Internal, "previous request with the same idempotency key failed")
}

func grpcCodeFromInt(value int) (codes.Code, bool) {
	if value < int(codes.OK) || value > int(codes.Unauthenticated) {
		return codes.Internal, false
	}
	return codes.Code(uint32(value)), true //nolint:gosec // range checked above.
}

func readIdempotencyKey(ctx context.Context) (string, error) {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		values := md.Get(idempotencyKeyHeader)
		if len(values) > 0 && strings.TrimSpace(values[0]) != "" {
			return strings.TrimSpace(values[0]), nil
		}
	}
	return "", status.Error(codes.InvalidArgument, "idempotency-key metadata is required")
}

func buildIdempotencyRequestHash(method string, req any) (string, error) {
	if req == nil {
		return "", fmt.Errorf("request is nil")
	}

	data, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	payload := make([]byte, 0, len(method)+1+len(data))
	payload = append(payload, method...)
	payload = append(payload, ':')
	payload = append(payload, data...)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}
