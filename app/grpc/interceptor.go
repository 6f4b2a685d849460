package grpc

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type requestIDKey struct{}

// RequestIDFromContext returns the id assigned by the logging interceptors.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func LoggingUnaryInterceptor() gogrpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *gogrpc.UnaryServerInfo, handler gogrpc.UnaryHandler) (any, error) {
		ctx, requestID := withRequestID(ctx)
		start := time.Now()

		resp, err := handler(ctx, req)
		logCall(info.FullMethod, requestID, start, err)
		return resp, err
	}
}

func LoggingStreamInterceptor() gogrpc.StreamServerInterceptor {
	return func(srv any, ss gogrpc.ServerStream, info *gogrpc.StreamServerInfo, handler gogrpc.StreamHandler) error {
		ctx, requestID := withRequestID(ss.Context())
		start := time.Now()

		err := handler(srv, &wrappedServerStream{ServerStream: ss, ctx: ctx})
		logCall(info.FullMethod, requestID, start, err)
		return err
	}
}

func withRequestID(ctx context.Context) (context.Context, string) {
	requestID := incomingRequestID(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	return context.WithValue(ctx, requestIDKey{}, requestID), requestID
}

func incomingRequestID(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get("x-request-id")
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func logCall(method, requestID string, start time.Time, err error) {
	entry := logrus.WithFields(logrus.Fields{
		"method":     method,
		"request_id": requestID,
		"code":       status.Code(err).String(),
		"latency_ms": time.Since(start).Milliseconds(),
	})
	if err != nil {
		entry.WithError(err).Warn("grpc_request")
		return
	}
	entry.Debug("grpc_request")
}

type wrappedServerStream struct {
	gogrpc.ServerStream
	ctx context.Context
}

func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}
