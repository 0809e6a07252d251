package middleware

import (
	"time"

	"github.com/sekKerfBang/agriBusiness/internal/infra/logger"
	"github.com/sekKerfBang/agriBusiness/internal/infra/metrics"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const HeaderRequestID = "X-Request-ID"

// リクエストIDを振り、リクエスト用のロガーを context に入れる。
// 終わったらアクセスログとメトリクスを記録する
func RequestLogger(base *zap.Logger, m *metrics.Metrics) echo.MiddlewareFunc {
	if base == nil {
		base = zap.NewNop()
	}
	prop := otel.GetTextMapPropagator()

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx := prop.Extract(req.Context(), propagation.HeaderCarrier(req.Header))

			rid := req.Header.Get(HeaderRequestID)
			if rid == "" {
				rid = uuid.NewString()
			}
			c.Response().Header().Set(HeaderRequestID, rid)

			fields := []zap.Field{zap.String("request_id", rid)}
			if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
				fields = append(fields, zap.String("trace_id", sc.TraceID().String()))
			}
			reqLog := base.With(fields...)
			c.SetRequest(req.WithContext(logger.IntoContext(ctx, reqLog)))

			start := time.Now()
			err := next(c)
			if err != nil {
				//echo の HTTPError などはここでレスポンスにする
				c.Error(err)
			}
			elapsed := time.Since(start)

			status := c.Response().Status
			route := c.Path()
			m.ObserveHTTP(req.Method, route, status, elapsed)

			logFields := []zap.Field{
				zap.String("method", req.Method),
				zap.String("route", route),
				zap.Int("status", status),
				zap.Duration("latency", elapsed),
			}
			if uid, ok := c.Get(CtxUserIDKey).(int64); ok {
				logFields = append(logFields, zap.Int64("user_id", uid))
			}
			switch {
			case status >= 500:
				reqLog.Error("request", logFields...)
			case status >= 400:
				reqLog.Warn("request", logFields...)
			default:
				reqLog.Info("request", logFields...)
			}
			return nil
		}
	}
}
