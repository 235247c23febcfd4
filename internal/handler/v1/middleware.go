package v1

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/med-core/patient-service/internal/domain"
	"github.com/med-core/patient-service/pkg/auth"
	"github.com/med-core/patient-service/pkg/metrics"
)

const (
	claimsKey    = "claims"
	requestIDKey = "request_id"
)

// RequestID attaches a unique id to every request for log and audit
// correlation, honoring one supplied by the gateway.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// AuthContext decodes the bearer token best-effort and attaches the caller
// context. An absent or invalid token leaves the request anonymous; routes
// that need a caller enforce it with RequireAuth.
func AuthContext(verifier *auth.Verifier, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.Next()
			return
		}

		claims, err := verifier.Verify(token)
		if err != nil {
			log.Debug("bearer token rejected", zap.Error(err))
			c.Next()
			return
		}

		c.Set(claimsKey, claims)
		c.Next()
	}
}

// RequireAuth aborts with 401 when no caller context was attached.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := claimsFrom(c); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Message: "invalid or missing token"})
			return
		}
		c.Next()
	}
}

// Metrics records request counts, latency and in-flight gauge.
func Metrics(m *metrics.Collector) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		m.InFlightGauge.Inc()

		c.Next()

		m.InFlightGauge.Dec()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		m.RequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		m.RequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
	}
}

// AccessLog emits one structured line per request.
func AccessLog(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Info("request handled",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

func claimsFrom(c *gin.Context) (*domain.Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*domain.Claims)
	return claims, ok
}
