package v1

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/med-core/patient-service/internal/domain/patient"
	"github.com/med-core/patient-service/internal/service"
)

const dateLayout = "2006-01-02"

type PatientHandler struct {
	svc *service.PatientService
	log *zap.Logger
}

func NewPatientHandler(svc *service.PatientService, log *zap.Logger) *PatientHandler {
	return &PatientHandler{svc: svc, log: log}
}

type createPatientRequest struct {
	Fullname    string `json:"fullname" binding:"required"`
	Email       string `json:"email" binding:"required,email"`
	Phone       string `json:"phone" binding:"required"`
	DateOfBirth string `json:"date_of_birth" binding:"required"`
}

type updatePatientRequest struct {
	Fullname    *string `json:"fullname"`
	Phone       *string `json:"phone"`
	DateOfBirth *string `json:"date_of_birth"`
}

type updateStateRequest struct {
	Status string `json:"status" binding:"required"`
}

// patientResponse is the outward projection of a patient record. Onboarding
// secrets (verification code, temporary credential hash) never leave the
// service.
type patientResponse struct {
	ID          string    `json:"id"`
	Fullname    string    `json:"fullname"`
	Email       string    `json:"email"`
	Phone       string    `json:"phone"`
	DateOfBirth string    `json:"date_of_birth"`
	Age         int       `json:"age"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toPatientResponse(p *patient.Patient) patientResponse {
	return patientResponse{
		ID:          p.ID.String(),
		Fullname:    p.Fullname,
		Email:       p.Email,
		Phone:       p.Phone,
		DateOfBirth: p.DateOfBirth.Format(dateLayout),
		Age:         p.Age(),
		Status:      string(p.Status),
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func (h *PatientHandler) Create(c *gin.Context) {
	var req createPatientRequest
	if !bindJSON(c, &req) {
		return
	}

	dob, err := time.ParseInLocation(dateLayout, req.DateOfBirth, time.UTC)
	if err != nil {
		respondError(c, http.StatusBadRequest, "date_of_birth must be a valid date (YYYY-MM-DD)")
		return
	}

	caller, _ := claimsFrom(c)
	cmd := &patient.CreatePatientCommand{
		Fullname:    req.Fullname,
		Email:       req.Email,
		Phone:       req.Phone,
		DateOfBirth: dob,
	}
	if caller != nil {
		cmd.CreatedBy = caller.UserID
	}

	p, err := h.svc.CreatePatient(c.Request.Context(), cmd, caller, c.ClientIP())
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondCreated(c, "patient created", toPatientResponse(p))
}

func (h *PatientHandler) GetByID(c *gin.Context) {
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	caller, _ := claimsFrom(c)
	p, err := h.svc.GetPatient(c.Request.Context(), id, caller, c.ClientIP())
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondOK(c, "", toPatientResponse(p))
}

func (h *PatientHandler) Update(c *gin.Context) {
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	var req updatePatientRequest
	if !bindJSON(c, &req) {
		return
	}

	cmd := &patient.UpdatePatientCommand{
		Fullname: req.Fullname,
		Phone:    req.Phone,
	}
	if req.DateOfBirth != nil {
		dob, err := time.ParseInLocation(dateLayout, *req.DateOfBirth, time.UTC)
		if err != nil {
			respondError(c, http.StatusBadRequest, "date_of_birth must be a valid date (YYYY-MM-DD)")
			return
		}
		cmd.DateOfBirth = &dob
	}

	caller, _ := claimsFrom(c)
	if caller != nil {
		cmd.UpdatedBy = caller.UserID
	}

	p, err := h.svc.UpdatePatient(c.Request.Context(), id, cmd, caller, c.ClientIP())
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondOK(c, "patient updated", toPatientResponse(p))
}

func (h *PatientHandler) UpdateState(c *gin.Context) {
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	var req updateStateRequest
	if !bindJSON(c, &req) {
		return
	}

	caller, _ := claimsFrom(c)
	p, err := h.svc.UpdatePatientState(c.Request.Context(), id, patient.Status(req.Status), caller, c.ClientIP())
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondOK(c, "patient status updated", toPatientResponse(p))
}

func (h *PatientHandler) List(c *gin.Context) {
	q := &patient.ListPatientsQuery{
		Page:     parseQueryInt(c, "page", 1),
		PageSize: parseQueryInt(c, "limit", 10),
	}

	paged, err := h.svc.ListPatients(c.Request.Context(), q)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	patients := make([]patientResponse, 0, len(paged.Patients))
	for _, p := range paged.Patients {
		patients = append(patients, toPatientResponse(p))
	}

	c.JSON(http.StatusOK, gin.H{
		"total":    paged.TotalCount,
		"page":     paged.Page,
		"pages":    paged.TotalPages,
		"patients": patients,
	})
}
