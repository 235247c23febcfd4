package service

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/med-core/patient-service/internal/config"
	"github.com/med-core/patient-service/internal/domain"
	"github.com/med-core/patient-service/internal/domain/diagnostic"
	"github.com/med-core/patient-service/internal/upload"
	"github.com/med-core/patient-service/pkg/metrics"
)

// DiagnosticForwarder is the slice of the diagnostic service client the
// orchestrator needs.
type DiagnosticForwarder interface {
	CreateDiagnostic(ctx context.Context, patientID, doctorID string, fields map[string]string, files []*upload.StagedFile, authHeader string) (json.RawMessage, error)
	ListForPatient(ctx context.Context, patientID, authHeader string) (json.RawMessage, error)
}

// IdentityResolver resolves a caller's own identity for ownership checks.
type IdentityResolver interface {
	GetUser(ctx context.Context, id, authHeader string) (*diagnostic.Identity, error)
}

type SubmitDiagnosticCommand struct {
	PatientID  string
	DoctorID   string
	Fields     map[string]string
	Files      []diagnostic.FileUpload
	AuthHeader string
}

// DiagnosticService proxies diagnostic workflows to the diagnostic storage
// service: multipart submission with guaranteed temp-file cleanup, and
// role-gated retrieval.
type DiagnosticService struct {
	forwarder DiagnosticForwarder
	identity  IdentityResolver
	stager    *upload.Stager
	uploadCfg config.UploadConfig
	auditSvc  *AuditService
	log       *zap.Logger
	metrics   *metrics.Collector
}

func NewDiagnosticService(forwarder DiagnosticForwarder, identity IdentityResolver, stager *upload.Stager, uploadCfg config.UploadConfig, auditSvc *AuditService, log *zap.Logger, m *metrics.Collector) *DiagnosticService {
	return &DiagnosticService{
		forwarder: forwarder,
		identity:  identity,
		stager:    stager,
		uploadCfg: uploadCfg,
		auditSvc:  auditSvc,
		log:       log,
		metrics:   m,
	}
}

// Submit stages every uploaded file to disk, re-packages the submission as an
// outbound multipart call, and releases every staged file no matter how the
// downstream call ends. The downstream body is returned unmodified on success.
func (s *DiagnosticService) Submit(ctx context.Context, cmd *SubmitDiagnosticCommand, caller *domain.Claims, ip string) (json.RawMessage, error) {
	if err := s.validateFiles(cmd.Files); err != nil {
		return nil, err
	}

	staged, err := s.stageAll(cmd.Files)
	// Scoped acquisition: whatever was staged is released on every exit path
	// below, including downstream failure.
	defer s.stager.ReleaseAll(staged)
	if err != nil {
		return nil, err
	}

	body, err := s.forwarder.CreateDiagnostic(ctx, cmd.PatientID, cmd.DoctorID, cmd.Fields, staged, cmd.AuthHeader)
	if err != nil {
		if s.metrics != nil {
			s.metrics.DiagnosticsSubmittedTotal.WithLabelValues("failure").Inc()
		}
		s.log.Warn("diagnostic submission failed",
			zap.String("patient_id", cmd.PatientID),
			zap.Int("files", len(staged)),
			zap.Error(err),
		)
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.DiagnosticsSubmittedTotal.WithLabelValues("success").Inc()
	}

	s.auditSvc.LogAsync(ctx, AuditEntry{
		UserID:       cmd.DoctorID,
		UserRole:     callerRole(caller),
		Action:       "submit",
		ResourceType: "diagnostic",
		ResourceID:   cmd.PatientID,
		IPAddress:    ip,
	})

	s.log.Info("diagnostic submitted",
		zap.String("patient_id", cmd.PatientID),
		zap.String("doctor_id", cmd.DoctorID),
		zap.Int("files", len(staged)),
	)

	return body, nil
}

// GetForPatient enforces role-based visibility before proxying the read:
// nurses have no diagnostic visibility, and patients may only view their own
// records, verified against their identity as the identity service resolves it.
func (s *DiagnosticService) GetForPatient(ctx context.Context, patientID string, caller *domain.Claims, authHeader, ip string) (json.RawMessage, error) {
	switch caller.Role {
	case domain.RoleNurse:
		return nil, ErrForbidden
	case domain.RolePatient:
		identity, err := s.identity.GetUser(ctx, caller.UserID, authHeader)
		if err != nil {
			return nil, err
		}
		if identity.ID != patientID {
			return nil, ErrForbidden
		}
	}

	body, err := s.forwarder.ListForPatient(ctx, patientID, authHeader)
	if err != nil {
		return nil, err
	}

	s.auditSvc.LogAsync(ctx, AuditEntry{
		UserID:       caller.UserID,
		UserRole:     string(caller.Role),
		Action:       "read",
		ResourceType: "diagnostic",
		ResourceID:   patientID,
		IPAddress:    ip,
	})

	return body, nil
}

func (s *DiagnosticService) validateFiles(files []diagnostic.FileUpload) error {
	if len(files) == 0 {
		return diagnostic.ErrNoFiles
	}
	if len(files) > s.uploadCfg.MaxFiles {
		return diagnostic.ErrTooManyFiles
	}
	for _, f := range files {
		if f.Size > s.uploadCfg.MaxFileSize {
			return diagnostic.ErrFileTooLarge
		}
		if !s.typeAllowed(f.ContentType) {
			return diagnostic.ErrFileTypeNotAllowed
		}
	}
	return nil
}

func (s *DiagnosticService) typeAllowed(contentType string) bool {
	for _, t := range s.uploadCfg.AllowedTypes {
		if t == contentType {
			return true
		}
	}
	return false
}

func (s *DiagnosticService) stageAll(files []diagnostic.FileUpload) ([]*upload.StagedFile, error) {
	staged := make([]*upload.StagedFile, 0, len(files))
	for _, f := range files {
		src, err := f.Open()
		if err != nil {
			return staged, fmt.Errorf("opening upload %s: %w", f.Filename, err)
		}
		sf, err := s.stager.Stage(src, f.Filename, f.ContentType)
		src.Close()
		if err != nil {
			return staged, err
		}
		staged = append(staged, sf)
		if s.metrics != nil {
			s.metrics.FilesStagedTotal.Inc()
		}
	}
	return staged, nil
}

func callerRole(caller *domain.Claims) string {
	if caller == nil {
		return ""
	}
	return string(caller.Role)
}
