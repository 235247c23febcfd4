package patient

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a patient record.
// New records start pending until the patient confirms the verification code.
type Status string

const (
	StatusPending  Status = "pending"
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusActive, StatusInactive:
		return true
	}
	return false
}

type Patient struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	CreatedAt time.Time  `gorm:"autoCreateTime;index"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime"`
	DeletedAt *time.Time `gorm:"index"` // Soft Delete

	Fullname    string    `gorm:"column:fullname;type:varchar(100);not null"`
	Email       string    `gorm:"column:email;type:varchar(255);uniqueIndex;not null"`
	Phone       string    `gorm:"column:phone;type:varchar(20);not null"`
	DateOfBirth time.Time `gorm:"column:date_of_birth;not null"`

	Status Status `gorm:"column:status;type:varchar(20);default:'pending';index"`

	// Onboarding: one-time verification code with a 24h expiry, plus a
	// temporary credential hash the patient must replace on first login.
	VerificationCode    string     `gorm:"column:verification_code;type:varchar(10)"`
	VerificationExpires *time.Time `gorm:"column:verification_expires"`
	TempPasswordHash    string     `gorm:"column:temp_password_hash;type:varchar(255)"`

	// Audit: who registered this patient
	CreatedBy string `gorm:"column:created_by;type:varchar(64);not null"`
}

func (Patient) TableName() string {
	return "clinical.patients"
}

func (p *Patient) Age() int {
	now := time.Now().UTC()
	years := now.Year() - p.DateOfBirth.Year()
	if now.Month() < p.DateOfBirth.Month() ||
		(now.Month() == p.DateOfBirth.Month() && now.Day() < p.DateOfBirth.Day()) {
		years--
	}
	return years
}

func (p *Patient) IsActive() bool {
	return p.Status == StatusActive && p.DeletedAt == nil
}

// NormalizedEmail lowers and trims the email for uniqueness checks.
func NormalizedEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type CreatePatientCommand struct {
	Fullname    string
	Email       string
	Phone       string
	DateOfBirth time.Time
	CreatedBy   string
}

type UpdatePatientCommand struct {
	Fullname    *string
	Phone       *string
	DateOfBirth *time.Time
	UpdatedBy   string
}

// ListPatientsQuery defines pagination for patient list queries.
type ListPatientsQuery struct {
	Page     int
	PageSize int
}

type PagedPatients struct {
	Patients   []*Patient
	TotalCount int64
	Page       int
	PageSize   int
	TotalPages int
}
