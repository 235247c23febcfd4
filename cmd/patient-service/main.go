package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/med-core/patient-service/internal/client"
	"github.com/med-core/patient-service/internal/config"
	v1 "github.com/med-core/patient-service/internal/handler/v1"
	"github.com/med-core/patient-service/internal/repository"
	"github.com/med-core/patient-service/internal/service"
	"github.com/med-core/patient-service/internal/upload"
	"github.com/med-core/patient-service/pkg/auth"
	"github.com/med-core/patient-service/pkg/database"
	"github.com/med-core/patient-service/pkg/logger"
	"github.com/med-core/patient-service/pkg/metrics"
	"github.com/med-core/patient-service/pkg/tracer"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	tp, err := tracer.Init(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

	db, err := database.Connect(cfg.Database)
	if err != nil {
		return err
	}
	if err := database.Migrate(db); err != nil {
		return err
	}

	collector := metrics.NewCollector("patient_service")
	verifier := auth.NewVerifier(cfg.JWT)
	stager := upload.NewStager(cfg.Upload.Dir, log, collector)

	diagClient := client.NewDiagnosticClient(cfg.Diagnostic, log, collector)
	identityClient := client.NewIdentityClient(cfg.Identity, log, collector)

	auditSvc := service.NewAuditService(repository.NewAuditRepository(db), log, collector)
	defer auditSvc.Shutdown()

	patientSvc := service.NewPatientService(repository.NewPatientRepository(db), auditSvc, log, collector)
	diagSvc := service.NewDiagnosticService(diagClient, identityClient, stager, cfg.Upload, auditSvc, log, collector)
	searchSvc := service.NewSearchService(diagClient, identityClient, auditSvc, log, collector)

	router := v1.NewRouter(cfg,
		verifier,
		collector,
		v1.NewPatientHandler(patientSvc, log),
		v1.NewDiagnosticHandler(diagSvc, searchSvc, log),
		log,
	)

	server := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("patient service listening",
			zap.String("addr", server.Addr),
			zap.String("environment", cfg.App.Environment),
			zap.String("version", cfg.App.Version),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		log.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
