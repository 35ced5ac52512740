// Package grpcsvc реализует gRPC-транспорт ядра заказов.
package grpcsvc

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	shoporderv1 "github.com/vladislavdragonenkov/shoporder/api/shoporder/v1"
	"github.com/vladislavdragonenkov/shoporder/internal/domain"
	"github.com/vladislavdragonenkov/shoporder/internal/service/order"
	"github.com/vladislavdragonenkov/shoporder/internal/service/tier"
)

// Orders описывает операции ядра заказов, которые публикует транспорт.
type Orders interface {
	Create(ctx context.Context, req order.CreateRequest) (domain.Order, error)
	Get(ctx context.Context, orderID, userID int64) (order.OrderView, error)
	List(ctx context.Context, userID int64, limit int) ([]domain.Order, error)
	Cancel(ctx context.Context, orderID, userID int64) (order.Reversal, error)
	PartialCancel(ctx context.Context, req order.PartialCancelRequest) (order.Reversal, error)
	RequestReturn(ctx context.Context, req order.ReturnRequest) (domain.Order, error)
	ApproveReturn(ctx context.Context, orderItemID int64) (order.Reversal, error)
	RejectReturn(ctx context.Context, orderItemID int64, reason string) (domain.Order, error)
	Ship(ctx context.Context, orderID int64) (domain.Order, error)
	Deliver(ctx context.Context, orderID int64) (domain.Order, error)
	IssueCoupon(ctx context.Context, userID, couponID int64) (domain.UserCoupon, error)
	AdjustStock(ctx context.Context, productID, quantity int64, reason string) (domain.InventoryHistoryRecord, error)
	StockHistory(ctx context.Context, productID int64, limit int) ([]domain.InventoryHistoryRecord, error)
}

// TierRecalculator запускает пересчёт уровней вручную.
type TierRecalculator interface {
	RunOnce(ctx context.Context) (tier.Summary, error)
	RecalculateUser(ctx context.Context, userID int64) (bool, error)
}

// OrderService реализует shoporderv1.OrderServiceServer.
type OrderService struct {
	shoporderv1.UnimplementedOrderServiceServer

	orders   Orders
	tiers    TierRecalculator
	idemRepo domain.IdempotencyRepository
	logger   *log.Entry
	now      func() time.Time
}

// NewOrderService конструирует сервис. idemRepo и tiers могут быть nil.
func NewOrderService(orders Orders, tiers TierRecalculator, idemRepo domain.IdempotencyRepository, logger *log.Entry) *OrderService {
	if logger == nil {
		logger = log.New().WithField("component", "grpc-order-service")
	}
	return &OrderService{
		orders:   orders,
		tiers:    tiers,
		idemRepo: idemRepo,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateOrder оформляет заказ из корзины. Требует idempotency-key.
func (s *OrderService) CreateOrder(ctx context.Context, req *shoporderv1.CreateOrderRequest) (*shoporderv1.CreateOrderResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	return withIdempotency(s, ctx, shoporderv1.OrderService_CreateOrder_FullMethodName, req,
		func(ctx context.Context) (*shoporderv1.CreateOrderResponse, error) {
			created, err := s.orders.Create(ctx, order.CreateRequest{
				UserID:          req.UserID,
				ShippingAddress: req.ShippingAddress,
				RecipientName:   req.RecipientName,
				RecipientPhone:  req.RecipientPhone,
				PaymentMethod:   req.PaymentMethod,
				UserCouponID:    req.UserCouponID,
				UsePoints:       req.UsePoints,
				CartItemIDs:     req.CartItemIDs,
			})
			if err != nil {
				return nil, s.toStatus(ctx, err)
			}
			return &shoporderv1.CreateOrderResponse{Order: toAPIOrder(created)}, nil
		})
}

func (s *OrderService) GetOrder(ctx context.Context, req *shoporderv1.GetOrderRequest) (*shoporderv1.GetOrderResponse, error) {
	if req == nil || req.OrderID <= 0 {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}
	view, err := s.orders.Get(ctx, req.OrderID, req.UserID)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &shoporderv1.GetOrderResponse{Order: toAPIOrder(view.Order), Timeline: toAPITimeline(view.Timeline)}, nil
}

func (s *OrderService) ListOrders(ctx context.Context, req *shoporderv1.ListOrdersRequest) (*shoporderv1.ListOrdersResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	orders, err := s.orders.List(ctx, req.UserID, req.Limit)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	resp := &shoporderv1.ListOrdersResponse{Orders: make([]*shoporderv1.Order, 0, len(orders))}
	for _, o := range orders {
		resp.Orders = append(resp.Orders, toAPIOrder(o))
	}
	return resp, nil
}

// CancelOrder отменяет заказ целиком. Повтор даёт ORDER_NOT_CANCELLABLE.
func (s *OrderService) CancelOrder(ctx context.Context, req *shoporderv1.CancelOrderRequest) (*shoporderv1.ReversalResponse, error) {
	if req == nil || req.OrderID <= 0 {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}
	reversal, err := s.orders.Cancel(ctx, req.OrderID, req.UserID)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return toAPIReversal(reversal), nil
}

func (s *OrderService) PartialCancel(ctx context.Context, req *shoporderv1.PartialCancelRequest) (*shoporderv1.ReversalResponse, error) {
	if req == nil || req.OrderItemID <= 0 {
		return nil, status.Error(codes.InvalidArgument, "order_item_id is required")
	}
	return withIdempotency(s, ctx, shoporderv1.OrderService_PartialCancel_FullMethodName, req,
		func(ctx context.Context) (*shoporderv1.ReversalResponse, error) {
			reversal, err := s.orders.PartialCancel(ctx, order.PartialCancelRequest{
				UserID:      req.UserID,
				OrderItemID: req.OrderItemID,
				Quantity:    req.Quantity,
			})
			if err != nil {
				return nil, s.toStatus(ctx, err)
			}
			return toAPIReversal(reversal), nil
		})
}

func (s *OrderService) RequestReturn(ctx context.Context, req *shoporderv1.RequestReturnRequest) (*shoporderv1.OrderResponse, error) {
	if req == nil || req.OrderItemID <= 0 {
		return nil, status.Error(codes.InvalidArgument, "order_item_id is required")
	}
	return withIdempotency(s, ctx, shoporderv1.OrderService_RequestReturn_FullMethodName, req,
		func(ctx context.Context) (*shoporderv1.OrderResponse, error) {
			updated, err := s.orders.RequestReturn(ctx, order.ReturnRequest{
				UserID:      req.UserID,
				OrderItemID: req.OrderItemID,
				Quantity:    req.Quantity,
				Reason:      req.Reason,
			})
			if err != nil {
				return nil, s.toStatus(ctx, err)
			}
			return &shoporderv1.OrderResponse{Order: toAPIOrder(updated)}, nil
		})
}

func (s *OrderService) ApproveReturn(ctx context.Context, req *shoporderv1.ApproveReturnRequest) (*shoporderv1.ReversalResponse, error) {
	if req == nil || req.OrderItemID <= 0 {
		return nil, status.Error(codes.InvalidArgument, "order_item_id is required")
	}
	return withIdempotency(s, ctx, shoporderv1.OrderService_ApproveReturn_FullMethodName, req,
		func(ctx context.Context) (*shoporderv1.ReversalResponse, error) {
			reversal, err := s.orders.ApproveReturn(ctx, req.OrderItemID)
			if err != nil {
				return nil, s.toStatus(ctx, err)
			}
			return toAPIReversal(reversal), nil
		})
}

func (s *OrderService) RejectReturn(ctx context.Context, req *shoporderv1.RejectReturnRequest) (*shoporderv1.OrderResponse, error) {
	if req == nil || req.OrderItemID <= 0 {
		return nil, status.Error(codes.InvalidArgument, "order_item_id is required")
	}
	updated, err := s.orders.RejectReturn(ctx, req.OrderItemID, req.Reason)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &shoporderv1.OrderResponse{Order: toAPIOrder(updated)}, nil
}

func (s *OrderService) ShipOrder(ctx context.Context, req *shoporderv1.OrderIDRequest) (*shoporderv1.OrderResponse, error) {
	if req == nil || req.OrderID <= 0 {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}
	updated, err := s.orders.Ship(ctx, req.OrderID)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &shoporderv1.OrderResponse{Order: toAPIOrder(updated)}, nil
}

func (s *OrderService) DeliverOrder(ctx context.Context, req *shoporderv1.OrderIDRequest) (*shoporderv1.OrderResponse, error) {
	if req == nil || req.OrderID <= 0 {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}
	updated, err := s.orders.Deliver(ctx, req.OrderID)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &shoporderv1.OrderResponse{Order: toAPIOrder(updated)}, nil
}

func (s *OrderService) IssueCoupon(ctx context.Context, req *shoporderv1.IssueCouponRequest) (*shoporderv1.IssueCouponResponse, error) {
	if req == nil || req.UserID <= 0 || req.CouponID <= 0 {
		return nil, status.Error(codes.InvalidArgument, "user_id and coupon_id are required")
	}
	issued, err := s.orders.IssueCoupon(ctx, req.UserID, req.CouponID)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &shoporderv1.IssueCouponResponse{
		UserCouponID: issued.ID,
		UserID:       issued.UserID,
		CouponID:     issued.CouponID,
		IssuedAt:     issued.IssuedAt,
	}, nil
}

func (s *OrderService) AdjustStock(ctx context.Context, req *shoporderv1.AdjustStockRequest) (*shoporderv1.AdjustStockResponse, error) {
	if req == nil || req.ProductID <= 0 {
		return nil, status.Error(codes.InvalidArgument, "product_id is required")
	}
	record, err := s.orders.AdjustStock(ctx, req.ProductID, req.Quantity, req.Reason)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &shoporderv1.AdjustStockResponse{Record: toAPIInventory(record)}, nil
}

func (s *OrderService) StockHistory(ctx context.Context, req *shoporderv1.StockHistoryRequest) (*shoporderv1.StockHistoryResponse, error) {
	if req == nil || req.ProductID <= 0 {
		return nil, status.Error(codes.InvalidArgument, "product_id is required")
	}
	records, err := s.orders.StockHistory(ctx, req.ProductID, req.Limit)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	resp := &shoporderv1.StockHistoryResponse{Records: make([]shoporderv1.InventoryRecord, 0, len(records))}
	for _, record := range records {
		resp.Records = append(resp.Records, toAPIInventory(record))
	}
	return resp, nil
}

// RecalculateTier пересчитывает уровень одного пользователя или всех (UserID == 0).
func (s *OrderService) RecalculateTier(ctx context.Context, req *shoporderv1.RecalculateTierRequest) (*shoporderv1.RecalculateTierResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	if s.tiers == nil {
		return nil, status.Error(codes.Unimplemented, "tier recalculation is disabled")
	}

	if req.UserID > 0 {
		changed, err := s.tiers.RecalculateUser(ctx, req.UserID)
		if err != nil {
			return nil, s.toStatus(ctx, err)
		}
		resp := &shoporderv1.RecalculateTierResponse{Processed: 1}
		if changed {
			resp.Changed = 1
		}
		return resp, nil
	}

	summary, err := s.tiers.RunOnce(ctx)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &shoporderv1.RecalculateTierResponse{
		Processed: summary.Processed,
		Changed:   summary.Changed,
		Failed:    summary.Failed,
	}, nil
}

var _ shoporderv1.OrderServiceServer = (*OrderService)(nil)
