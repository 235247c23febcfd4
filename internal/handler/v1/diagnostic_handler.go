package v1

import (
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/med-core/patient-service/internal/domain/diagnostic"
	"github.com/med-core/patient-service/internal/service"
)

// Inbound multipart field names accepted for file parts.
var uploadFieldNames = []string{"documents", "files"}

type DiagnosticHandler struct {
	diagSvc   *service.DiagnosticService
	searchSvc *service.SearchService
	log       *zap.Logger
}

func NewDiagnosticHandler(diagSvc *service.DiagnosticService, searchSvc *service.SearchService, log *zap.Logger) *DiagnosticHandler {
	return &DiagnosticHandler{diagSvc: diagSvc, searchSvc: searchSvc, log: log}
}

// Submit proxies a multipart diagnostic submission downstream. The caller is
// the submitting doctor; their id travels as doctorId on the outbound form.
func (h *DiagnosticHandler) Submit(c *gin.Context) {
	patientID := c.Param("id")
	caller, _ := claimsFrom(c)

	form, err := c.MultipartForm()
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}

	fields := make(map[string]string, len(form.Value))
	for key, values := range form.Value {
		if len(values) > 0 {
			fields[key] = values[0]
		}
	}

	cmd := &service.SubmitDiagnosticCommand{
		PatientID:  patientID,
		DoctorID:   caller.UserID,
		Fields:     fields,
		Files:      fileUploads(form),
		AuthHeader: c.GetHeader("Authorization"),
	}

	body, err := h.diagSvc.Submit(c.Request.Context(), cmd, caller, c.ClientIP())
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondCreated(c, "diagnostic created", body)
}

// List proxies the read after the role gate; the downstream body passes
// through unmodified.
func (h *DiagnosticHandler) List(c *gin.Context) {
	patientID := c.Param("id")
	caller, _ := claimsFrom(c)

	body, err := h.diagSvc.GetForPatient(c.Request.Context(), patientID, caller, c.GetHeader("Authorization"), c.ClientIP())
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.Data(http.StatusOK, "application/json", body)
}

// Search runs the cross-service aggregation and returns the merged, sorted
// results. A degraded search (identity service down) still answers 200 with
// an empty data set.
func (h *DiagnosticHandler) Search(c *gin.Context) {
	caller, _ := claimsFrom(c)

	query := &service.SearchQuery{
		Diagnostic: c.Query("diagnostic"),
		DateFrom:   c.Query("dateFrom"),
		DateTo:     c.Query("dateTo"),
	}

	results, err := h.searchSvc.Search(c.Request.Context(), query, caller, c.GetHeader("Authorization"), c.ClientIP())
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondOK(c, "search completed", results)
}

func fileUploads(form *multipart.Form) []diagnostic.FileUpload {
	var uploads []diagnostic.FileUpload
	for _, field := range uploadFieldNames {
		for _, fh := range form.File[field] {
			header := fh
			uploads = append(uploads, diagnostic.FileUpload{
				Filename:    header.Filename,
				ContentType: header.Header.Get("Content-Type"),
				Size:        header.Size,
				Open: func() (io.ReadCloser, error) {
					return header.Open()
				},
			})
		}
	}
	return uploads
}
