package tracing

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/deliveryscore/internal/observability/context"
	"github.com/smallbiznis/deliveryscore/pkg/telemetry/correlation"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const tenantHeader = "X-Tenant-Id"

// GinMiddleware opens a server span per request and tags it with the tenant,
// request and correlation ids so scoring spans started downstream share them.
func GinMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer("deliveryscore/http")
	return func(c *gin.Context) {
		ctx := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		if tenantID := strings.TrimSpace(c.GetHeader(tenantHeader)); tenantID != "" {
			ctx = obscontext.WithTenantID(ctx, tenantID)
		}

		ctx, span := tracer.Start(ctx, "HTTP "+strings.ToUpper(c.Request.Method), trace.WithSpanKind(trace.SpanKindServer))

		ids := requestIdentity(ctx)
		span.SetAttributes(SafeAttributes(ids...)...)
		ctx = withBaggage(ctx, ids)

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		status := c.Writer.Status()
		span.SetName("HTTP " + strings.ToUpper(c.Request.Method) + " " + route)
		span.SetAttributes(SafeAttributes(
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", route),
			attribute.Int("http.status_code", status),
		)...)

		if status >= http.StatusInternalServerError {
			if lastErr := c.Errors.Last(); lastErr != nil {
				span.RecordError(SafeError(lastErr.Err))
			}
			span.SetStatus(codes.Error, "request error")
		}
		span.End()
	}
}

func requestIdentity(ctx context.Context) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if id := obscontext.RequestIDFromContext(ctx); id != "" {
		attrs = append(attrs, attribute.String("request_id", id))
	}
	if id := correlation.ExtractCorrelationID(ctx); id != "" {
		attrs = append(attrs, attribute.String("correlation_id", id))
	}
	if id := obscontext.TenantIDFromContext(ctx); id != "" {
		attrs = append(attrs, attribute.String("tenant_id", id))
	}
	return attrs
}

func withBaggage(ctx context.Context, attrs []attribute.KeyValue) context.Context {
	bag := baggage.FromContext(ctx)
	for _, attr := range attrs {
		member, err := baggage.NewMember(string(attr.Key), attr.Value.AsString())
		if err != nil {
			continue
		}
		if next, err := bag.SetMember(member); err == nil {
			bag = next
		}
	}
	return baggage.ContextWithBaggage(ctx, bag)
}
