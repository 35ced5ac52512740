package shoporderv1

import (
	"context"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ServiceName содержит полное имя gRPC-сервиса.
const ServiceName = "shoporder.v1.OrderService"

// ErrorDomain попадает в ErrorInfo.Domain ошибок сервиса.
const ErrorDomain = "shoporder"

const (
	OrderService_CreateOrder_FullMethodName     = "/" + ServiceName + "/CreateOrder"
	OrderService_GetOrder_FullMethodName        = "/" + ServiceName + "/GetOrder"
	OrderService_ListOrders_FullMethodName      = "/" + ServiceName + "/ListOrders"
	OrderService_CancelOrder_FullMethodName     = "/" + ServiceName + "/CancelOrder"
	OrderService_PartialCancel_FullMethodName   = "/" + ServiceName + "/PartialCancel"
	OrderService_RequestReturn_FullMethodName   = "/" + ServiceName + "/RequestReturn"
	OrderService_ApproveReturn_FullMethodName   = "/" + ServiceName + "/ApproveReturn"
	OrderService_RejectReturn_FullMethodName    = "/" + ServiceName + "/RejectReturn"
	OrderService_ShipOrder_FullMethodName       = "/" + ServiceName + "/ShipOrder"
	OrderService_DeliverOrder_FullMethodName    = "/" + ServiceName + "/DeliverOrder"
	OrderService_IssueCoupon_FullMethodName     = "/" + ServiceName + "/IssueCoupon"
	OrderService_AdjustStock_FullMethodName     = "/" + ServiceName + "/AdjustStock"
	OrderService_StockHistory_FullMethodName    = "/" + ServiceName + "/StockHistory"
	OrderService_RecalculateTier_FullMethodName = "/" + ServiceName + "/RecalculateTier"
)

// OrderServiceServer описывает серверную часть контракта.
type OrderServiceServer interface {
	CreateOrder(context.Context, *CreateOrderRequest) (*CreateOrderResponse, error)
	GetOrder(context.Context, *GetOrderRequest) (*GetOrderResponse, error)
	ListOrders(context.Context, *ListOrdersRequest) (*ListOrdersResponse, error)
	CancelOrder(context.Context, *CancelOrderRequest) (*ReversalResponse, error)
	PartialCancel(context.Context, *PartialCancelRequest) (*ReversalResponse, error)
	RequestReturn(context.Context, *RequestReturnRequest) (*OrderResponse, error)
	ApproveReturn(context.Context, *ApproveReturnRequest) (*ReversalResponse, error)
	RejectReturn(context.Context, *RejectReturnRequest) (*OrderResponse, error)
	ShipOrder(context.Context, *OrderIDRequest) (*OrderResponse, error)
	DeliverOrder(context.Context, *OrderIDRequest) (*OrderResponse, error)
	IssueCoupon(context.Context, *IssueCouponRequest) (*IssueCouponResponse, error)
	AdjustStock(context.Context, *AdjustStockRequest) (*AdjustStockResponse, error)
	StockHistory(context.Context, *StockHistoryRequest) (*StockHistoryResponse, error)
	RecalculateTier(context.Context, *RecalculateTierRequest) (*RecalculateTierResponse, error)
}

// UnimplementedOrderServiceServer отвечает codes.Unimplemented на все методы.
type UnimplementedOrderServiceServer struct{}

func (UnimplementedOrderServiceServer) CreateOrder(context.Context, *CreateOrderRequest) (*CreateOrderResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method CreateOrder not implemented")
}
func (UnimplementedOrderServiceServer) GetOrder(context.Context, *GetOrderRequest) (*GetOrderResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetOrder not implemented")
}
func (UnimplementedOrderServiceServer) ListOrders(context.Context, *ListOrdersRequest) (*ListOrdersResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ListOrders not implemented")
}
func (UnimplementedOrderServiceServer) CancelOrder(context.Context, *CancelOrderRequest) (*ReversalResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method CancelOrder not implemented")
}
func (UnimplementedOrderServiceServer) PartialCancel(context.Context, *PartialCancelRequest) (*ReversalResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method PartialCancel not implemented")
}
func (UnimplementedOrderServiceServer) RequestReturn(context.Context, *RequestReturnRequest) (*OrderResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method RequestReturn not implemented")
}
func (UnimplementedOrderServiceServer) ApproveReturn(context.Context, *ApproveReturnRequest) (*ReversalResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ApproveReturn not implemented")
}
func (UnimplementedOrderServiceServer) RejectReturn(context.Context, *RejectReturnRequest) (*OrderResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method RejectReturn not implemented")
}
func (UnimplementedOrderServiceServer) ShipOrder(context.Context, *OrderIDRequest) (*OrderResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ShipOrder not implemented")
}
func (UnimplementedOrderServiceServer) DeliverOrder(context.Context, *OrderIDRequest) (*OrderResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method DeliverOrder not implemented")
}
func (UnimplementedOrderServiceServer) IssueCoupon(context.Context, *IssueCouponRequest) (*IssueCouponResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method IssueCoupon not implemented")
}
func (UnimplementedOrderServiceServer) AdjustStock(context.Context, *AdjustStockRequest) (*AdjustStockResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method AdjustStock not implemented")
}
func (UnimplementedOrderServiceServer) StockHistory(context.Context, *StockHistoryRequest) (*StockHistoryResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method StockHistory not implemented")
}
func (UnimplementedOrderServiceServer) RecalculateTier(context.Context, *RecalculateTierRequest) (*RecalculateTierResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method RecalculateTier not implemented")
}

// RegisterOrderServiceServer регистрирует реализацию на gRPC-сервере.
func RegisterOrderServiceServer(s grpc.ServiceRegistrar, srv OrderServiceServer) {
	s.RegisterService(&OrderService_ServiceDesc, srv)
}

func unaryHandler[Req, Resp any](fullMethod string, call func(OrderServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(OrderServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(OrderServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// OrderService_ServiceDesc описывает сервис для grpc.Server.
var OrderService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*OrderServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateOrder", Handler: unaryHandler(OrderService_CreateOrder_FullMethodName, OrderServiceServer.CreateOrder)},
		{MethodName: "GetOrder", Handler: unaryHandler(OrderService_GetOrder_FullMethodName, OrderServiceServer.GetOrder)},
		{MethodName: "ListOrders", Handler: unaryHandler(OrderService_ListOrders_FullMethodName, OrderServiceServer.ListOrders)},
		{MethodName: "CancelOrder", Handler: unaryHandler(OrderService_CancelOrder_FullMethodName, OrderServiceServer.CancelOrder)},
		{MethodName: "PartialCancel", Handler: unaryHandler(OrderService_PartialCancel_FullMethodName, OrderServiceServer.PartialCancel)},
		{MethodName: "RequestReturn", Handler: unaryHandler(OrderService_RequestReturn_FullMethodName, OrderServiceServer.RequestReturn)},
		{MethodName: "ApproveReturn", Handler: unaryHandler(OrderService_ApproveReturn_FullMethodName, OrderServiceServer.ApproveReturn)},
		{MethodName: "RejectReturn", Handler: unaryHandler(OrderService_RejectReturn_FullMethodName, OrderServiceServer.RejectReturn)},
		{MethodName: "ShipOrder", Handler: unaryHandler(OrderService_ShipOrder_FullMethodName, OrderServiceServer.ShipOrder)},
		{MethodName: "DeliverOrder", Handler: unaryHandler(OrderService_DeliverOrder_FullMethodName, OrderServiceServer.DeliverOrder)},
		{MethodName: "IssueCoupon", Handler: unaryHandler(OrderService_IssueCoupon_FullMethodName, OrderServiceServer.IssueCoupon)},
		{MethodName: "AdjustStock", Handler: unaryHandler(OrderService_AdjustStock_FullMethodName, OrderServiceServer.AdjustStock)},
		{MethodName: "StockHistory", Handler: unaryHandler(OrderService_StockHistory_FullMethodName, OrderServiceServer.StockHistory)},
		{MethodName: "RecalculateTier", Handler: unaryHandler(OrderService_RecalculateTier_FullMethodName, OrderServiceServer.RecalculateTier)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "shoporder/v1/order_service",
}

// OrderServiceClient описывает клиентскую часть контракта.
type OrderServiceClient interface {
	CreateOrder(ctx context.Context, in *CreateOrderRequest, opts ...grpc.CallOption) (*CreateOrderResponse, error)
	GetOrder(ctx context.Context, in *GetOrderRequest, opts ...grpc.CallOption) (*GetOrderResponse, error)
	ListOrders(ctx context.Context, in *ListOrdersRequest, opts ...grpc.CallOption) (*ListOrdersResponse, error)
	CancelOrder(ctx context.Context, in *CancelOrderRequest, opts ...grpc.CallOption) (*ReversalResponse, error)
	PartialCancel(ctx context.Context, in *PartialCancelRequest, opts ...grpc.CallOption) (*ReversalResponse, error)
	RequestReturn(ctx context.Context, in *RequestReturnRequest, opts ...grpc.CallOption) (*OrderResponse, error)
	ApproveReturn(ctx context.Context, in *ApproveReturnRequest, opts ...grpc.CallOption) (*ReversalResponse, error)
	RejectReturn(ctx context.Context, in *RejectReturnRequest, opts ...grpc.CallOption) (*OrderResponse, error)
	ShipOrder(ctx context.Context, in *OrderIDRequest, opts ...grpc.CallOption) (*OrderResponse, error)
	DeliverOrder(ctx context.Context, in *OrderIDRequest, opts ...grpc.CallOption) (*OrderResponse, error)
	IssueCoupon(ctx context.Context, in *IssueCouponRequest, opts ...grpc.CallOption) (*IssueCouponResponse, error)
	AdjustStock(ctx context.Context, in *AdjustStockRequest, opts ...grpc.CallOption) (*AdjustStockResponse, error)
	StockHistory(ctx context.Context, in *StockHistoryRequest, opts ...grpc.CallOption) (*StockHistoryResponse, error)
	RecalculateTier(ctx context.Context, in *RecalculateTierRequest, opts ...grpc.CallOption) (*RecalculateTierResponse, error)
}

type orderServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewOrderServiceClient создаёт клиента; все вызовы идут с content-subtype "json".
func NewOrderServiceClient(cc grpc.ClientConnInterface) OrderServiceClient {
	return &orderServiceClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	callOpts := append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, method, in, out, callOpts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *orderServiceClient) CreateOrder(ctx context.Context, in *CreateOrderRequest, opts ...grpc.CallOption) (*CreateOrderResponse, error) {
	return invoke[CreateOrderResponse](ctx, c.cc, OrderService_CreateOrder_FullMethodName, in, opts)
}

func (c *orderServiceClient) GetOrder(ctx context.Context, in *GetOrderRequest, opts ...grpc.CallOption) (*GetOrderResponse, error) {
	return invoke[GetOrderResponse](ctx, c.cc, OrderService_GetOrder_FullMethodName, in, opts)
}

func (c *orderServiceClient) ListOrders(ctx context.Context, in *ListOrdersRequest, opts ...grpc.CallOption) (*ListOrdersResponse, error) {
	return invoke[ListOrdersResponse](ctx, c.cc, OrderService_ListOrders_FullMethodName, in, opts)
}

func (c *orderServiceClient) CancelOrder(ctx context.Context, in *CancelOrderRequest, opts ...grpc.CallOption) (*ReversalResponse, error) {
	return invoke[ReversalResponse](ctx, c.cc, OrderService_CancelOrder_FullMethodName, in, opts)
}

func (c *orderServiceClient) PartialCancel(ctx context.Context, in *PartialCancelRequest, opts ...grpc.CallOption) (*ReversalResponse, error) {
	return invoke[ReversalResponse](ctx, c.cc, OrderService_PartialCancel_FullMethodName, in, opts)
}

func (c *orderServiceClient) RequestReturn(ctx context.Context, in *RequestReturnRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	return invoke[OrderResponse](ctx, c.cc, OrderService_RequestReturn_FullMethodName, in, opts)
}

func (c *orderServiceClient) ApproveReturn(ctx context.Context, in *ApproveReturnRequest, opts ...grpc.CallOption) (*ReversalResponse, error) {
	return invoke[ReversalResponse](ctx, c.cc, OrderService_ApproveReturn_FullMethodName, in, opts)
}

func (c *orderServiceClient) RejectReturn(ctx context.Context, in *RejectReturnRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	return invoke[OrderResponse](ctx, c.cc, OrderService_RejectReturn_FullMethodName, in, opts)
}

func (c *orderServiceClient) ShipOrder(ctx context.Context, in *OrderIDRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	return invoke[OrderResponse](ctx, c.cc, OrderService_ShipOrder_FullMethodName, in, opts)
}

func (c *orderServiceClient) DeliverOrder(ctx context.Context, in *OrderIDRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	return invoke[OrderResponse](ctx, c.cc, OrderService_DeliverOrder_FullMethodName, in, opts)
}

func (c *orderServiceClient) IssueCoupon(ctx context.Context, in *IssueCouponRequest, opts ...grpc.CallOption) (*IssueCouponResponse, error) {
	return invoke[IssueCouponResponse](ctx, c.cc, OrderService_IssueCoupon_FullMethodName, in, opts)
}

func (c *orderServiceClient) AdjustStock(ctx context.Context, in *AdjustStockRequest, opts ...grpc.CallOption) (*AdjustStockResponse, error) {
	return invoke[AdjustStockResponse](ctx, c.cc, OrderService_AdjustStock_FullMethodName, in, opts)
}

func (c *orderServiceClient) StockHistory(ctx context.Context, in *StockHistoryRequest, opts ...grpc.CallOption) (*StockHistoryResponse, error) {
	return invoke[StockHistoryResponse](ctx, c.cc, OrderService_StockHistory_FullMethodName, in, opts)
}

func (c *orderServiceClient) RecalculateTier(ctx context.Context, in *RecalculateTierRequest, opts ...grpc.CallOption) (*RecalculateTierResponse, error) {
	return invoke[RecalculateTierResponse](ctx, c.cc, OrderService_RecalculateTier_FullMethodName, in, opts)
}

// ErrorReason достаёт доменный код (ErrorInfo.Reason) из gRPC-ошибки. Пусто, если деталей нет.
func ErrorReason(err error) string {
	if err == nil {
		return ""
	}
	for _, detail := range status.Convert(err).Details() {
		if info, ok := detail.(*errdetails.ErrorInfo); ok && info.GetDomain() == ErrorDomain {
			return info.GetReason()
		}
	}
	return ""
}
