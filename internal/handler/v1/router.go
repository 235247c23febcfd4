package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/med-core/patient-service/internal/config"
	"github.com/med-core/patient-service/pkg/auth"
	"github.com/med-core/patient-service/pkg/metrics"
)

// NewRouter wires the middleware chain and every route of the service.
func NewRouter(cfg *config.Config, verifier *auth.Verifier, m *metrics.Collector, patientH *PatientHandler, diagH *DiagnosticHandler, log *zap.Logger) *gin.Engine {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(
		gin.Recovery(),
		RequestID(),
		AccessLog(log),
		Metrics(m),
		AuthContext(verifier, log),
	)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics.MetricsHandler()))

	api := r.Group("/api/v1")

	patients := api.Group("/patients")
	{
		patients.POST("", patientH.Create)
		patients.GET("", patientH.List)
		patients.GET("/:id", patientH.GetByID)
		patients.PUT("/:id", patientH.Update)
		patients.PATCH("/state/:id", patientH.UpdateState)

		patients.POST("/:id/diagnostics", RequireAuth(), diagH.Submit)
		patients.GET("/:id/diagnostics", RequireAuth(), diagH.List)
	}

	api.GET("/diagnostics/search", RequireAuth(), diagH.Search)

	return r
}
