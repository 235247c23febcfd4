package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/med-core/patient-service/internal/domain"
	"github.com/med-core/patient-service/internal/domain/patient"
	"github.com/med-core/patient-service/pkg/metrics"
)

const verificationTTL = 24 * time.Hour

type PatientService struct {
	repo     patient.Repository
	auditSvc *AuditService
	log      *zap.Logger
	metrics  *metrics.Collector
}

func NewPatientService(repo patient.Repository, auditSvc *AuditService, log *zap.Logger, m *metrics.Collector) *PatientService {
	return &PatientService{
		repo:     repo,
		auditSvc: auditSvc,
		log:      log,
		metrics:  m,
	}
}

func (s *PatientService) CreatePatient(ctx context.Context, cmd *patient.CreatePatientCommand, caller *domain.Claims, ip string) (*patient.Patient, error) {
	if err := validateCreateCommand(cmd); err != nil {
		return nil, err
	}

	email := patient.NormalizedEmail(cmd.Email)

	exists, err := s.repo.ExistsByEmail(ctx, email, nil)
	if err != nil {
		s.log.Error("failed to check email uniqueness", zap.Error(err))
		return nil, fmt.Errorf("checking uniqueness: %w", err)
	}
	if exists {
		return nil, patient.ErrPatientAlreadyExists
	}

	code, err := verificationCode()
	if err != nil {
		return nil, fmt.Errorf("generating verification code: %w", err)
	}
	expires := time.Now().Add(verificationTTL)

	// The patient signs in once with a throwaway credential and must replace
	// it after confirming the verification code.
	tempHash, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing temporary credential: %w", err)
	}

	p := &patient.Patient{
		Fullname:            strings.TrimSpace(cmd.Fullname),
		Email:               email,
		Phone:               strings.TrimSpace(cmd.Phone),
		DateOfBirth:         cmd.DateOfBirth,
		Status:              patient.StatusPending,
		VerificationCode:    code,
		VerificationExpires: &expires,
		TempPasswordHash:    string(tempHash),
		CreatedBy:           cmd.CreatedBy,
	}

	if err := s.repo.Create(ctx, p); err != nil {
		s.log.Error("failed to create patient", zap.Error(err))
		return nil, fmt.Errorf("creating patient: %w", err)
	}

	if s.metrics != nil {
		s.metrics.PatientsCreatedTotal.Inc()
	}

	s.audit(ctx, caller, "create", p.ID.String(), ip)

	s.log.Info("patient created",
		zap.String("patient_id", p.ID.String()),
		zap.String("created_by", cmd.CreatedBy),
	)

	return p, nil
}

func (s *PatientService) GetPatient(ctx context.Context, id uuid.UUID, caller *domain.Claims, ip string) (*patient.Patient, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	s.audit(ctx, caller, "read", id.String(), ip)

	return p, nil
}

func (s *PatientService) UpdatePatient(ctx context.Context, id uuid.UUID, cmd *patient.UpdatePatientCommand, caller *domain.Claims, ip string) (*patient.Patient, error) {
	if err := validateUpdateCommand(cmd); err != nil {
		return nil, err
	}

	p, err := s.repo.Update(ctx, id, cmd)
	if err != nil {
		return nil, err
	}

	s.audit(ctx, caller, "update", id.String(), ip)

	return p, nil
}

func (s *PatientService) UpdatePatientState(ctx context.Context, id uuid.UUID, status patient.Status, caller *domain.Claims, ip string) (*patient.Patient, error) {
	if !status.IsValid() {
		return nil, patient.ErrInvalidStatus
	}

	p, err := s.repo.UpdateStatus(ctx, id, status)
	if err != nil {
		return nil, err
	}

	s.audit(ctx, caller, "update", id.String(), ip)

	s.log.Info("patient status changed",
		zap.String("patient_id", id.String()),
		zap.String("status", string(status)),
	)

	return p, nil
}

func (s *PatientService) ListPatients(ctx context.Context, q *patient.ListPatientsQuery) (*patient.PagedPatients, error) {
	if q.PageSize <= 0 || q.PageSize > 100 {
		q.PageSize = 10
	}
	if q.Page <= 0 {
		q.Page = 1
	}

	return s.repo.List(ctx, q)
}

func (s *PatientService) audit(ctx context.Context, caller *domain.Claims, action, resourceID, ip string) {
	entry := AuditEntry{
		Action:       action,
		ResourceType: "patient",
		ResourceID:   resourceID,
		IPAddress:    ip,
	}
	if caller != nil {
		entry.UserID = caller.UserID
		entry.UserRole = string(caller.Role)
	}
	s.auditSvc.LogAsync(ctx, entry)
}

func validateCreateCommand(cmd *patient.CreatePatientCommand) error {
	var errs []string

	if strings.TrimSpace(cmd.Fullname) == "" {
		errs = append(errs, "fullname is required")
	}
	if strings.TrimSpace(cmd.Email) == "" {
		errs = append(errs, "email is required")
	}
	if strings.TrimSpace(cmd.Phone) == "" {
		errs = append(errs, "phone is required")
	}
	if cmd.DateOfBirth.IsZero() {
		errs = append(errs, "date_of_birth is required")
	} else if err := validateAge(cmd.DateOfBirth); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

func validateUpdateCommand(cmd *patient.UpdatePatientCommand) error {
	var errs []string

	if cmd.Fullname != nil && strings.TrimSpace(*cmd.Fullname) == "" {
		errs = append(errs, "fullname cannot be empty")
	}
	if cmd.Phone != nil && strings.TrimSpace(*cmd.Phone) == "" {
		errs = append(errs, "phone cannot be empty")
	}
	if cmd.DateOfBirth != nil {
		if err := validateAge(*cmd.DateOfBirth); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

func validateAge(dob time.Time) error {
	now := time.Now().UTC()
	if dob.After(now) {
		return patient.ErrInvalidDateOfBirth
	}
	years := now.Year() - dob.Year()
	if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
		years--
	}
	if years < 0 || years > 120 {
		return patient.ErrInvalidDateOfBirth
	}
	return nil
}

func verificationCode() (string, error) {
	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(buf)), nil
}
