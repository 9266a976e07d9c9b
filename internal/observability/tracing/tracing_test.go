package tracing

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/deliveryscore/internal/observability/context"
	"github.com/smallbiznis/deliveryscore/pkg/telemetry/correlation"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSafeAttributesDropsContactData(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("shipment_id", "1"),
		attribute.String("customer.email", "a@example.com"),
		attribute.String("scoring.reason", "delivered"),
	)
	assert.Len(t, attrs, 2)
	for _, attr := range attrs {
		assert.NotEqual(t, attribute.Key("customer.email"), attr.Key)
	}
}

func TestSafeErrorTruncates(t *testing.T) {
	assert.Nil(t, SafeError(nil))
	err := SafeError(errors.New(strings.Repeat("x", 600)))
	assert.Len(t, err.Error(), 256)
}

func TestGinMiddlewareTagsTenantAndCorrelation(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	var seenTenant string
	var seenBaggage string
	r := gin.New()
	r.Use(func(c *gin.Context) {
		ctx := correlation.ContextWithCorrelationID(c.Request.Context(), c.GetHeader("X-Correlation-Id"))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	})
	r.Use(GinMiddleware())
	r.GET("/readyz", func(c *gin.Context) {
		seenTenant = obscontext.TenantIDFromContext(c.Request.Context())
		seenBaggage = baggage.FromContext(c.Request.Context()).Member("correlation_id").Value()
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	req.Header.Set("X-Tenant-Id", "7001")
	req.Header.Set("X-Correlation-Id", "corr-1")
	r.ServeHTTP(httptest.NewRecorder(), req)

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	attrs := map[attribute.Key]string{}
	for _, kv := range spans[0].Attributes() {
		attrs[kv.Key] = kv.Value.Emit()
	}
	assert.Equal(t, "HTTP GET /readyz", spans[0].Name())
	assert.Equal(t, "7001", attrs["tenant_id"])
	assert.Equal(t, "corr-1", attrs["correlation_id"])
	assert.Equal(t, "200", attrs["http.status_code"])
	assert.Equal(t, "7001", seenTenant)
	assert.Equal(t, "corr-1", seenBaggage)
}

func TestGinMiddlewareMarksServerErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	r := gin.New()
	r.Use(GinMiddleware())
	r.GET("/readyz", func(c *gin.Context) {
		_ = c.Error(errors.New("ping failed"))
		c.Status(http.StatusServiceUnavailable)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/readyz", nil))

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	_, hasTenant := spanAttr(spans[0].Attributes(), "tenant_id")
	assert.False(t, hasTenant)
}

func spanAttr(attrs []attribute.KeyValue, key attribute.Key) (string, bool) {
	for _, kv := range attrs {
		if kv.Key == key {
			return kv.Value.Emit(), true
		}
	}
	return "", false
}
