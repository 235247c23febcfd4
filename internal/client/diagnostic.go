package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/med-core/patient-service/internal/config"
	"github.com/med-core/patient-service/internal/domain/diagnostic"
	"github.com/med-core/patient-service/internal/upload"
	"github.com/med-core/patient-service/pkg/metrics"
)

// fileFieldName is the shared multipart field every forwarded file goes under.
const fileFieldName = "files"

// DiagnosticClient talks to the diagnostic storage service. The caller's
// Authorization header is forwarded verbatim on every request; this client
// never issues credentials of its own.
type DiagnosticClient struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
	metrics    *metrics.Collector
}

func NewDiagnosticClient(cfg config.DownstreamConfig, log *zap.Logger, m *metrics.Collector) *DiagnosticClient {
	return NewDiagnosticClientWithHTTPClient(cfg.BaseURL, &http.Client{Timeout: cfg.Timeout}, log, m)
}

// NewDiagnosticClientWithHTTPClient allows passing an instrumented *http.Client.
func NewDiagnosticClientWithHTTPClient(baseURL string, httpClient *http.Client, log *zap.Logger, m *metrics.Collector) *DiagnosticClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &DiagnosticClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		log:        log,
		metrics:    m,
	}
}

// SearchParams carries the optional filters of a diagnostic search. Absent
// filters are omitted from the outbound query entirely.
type SearchParams struct {
	Diagnostic string
	DateFrom   *time.Time
	DateTo     *time.Time
}

// CreateDiagnostic re-packages the inbound submission as an outbound multipart
// request: every scalar field first, then patientId and doctorId (overriding
// any inbound value), then each staged file under the shared field name with
// its original filename. Returns the downstream body unmodified on any 2xx.
func (c *DiagnosticClient) CreateDiagnostic(ctx context.Context, patientID, doctorID string, fields map[string]string, files []*upload.StagedFile, authHeader string) (json.RawMessage, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for key, value := range fields {
		if key == "patientId" || key == "doctorId" {
			continue
		}
		if err := w.WriteField(key, value); err != nil {
			return nil, fmt.Errorf("writing form field %q: %w", key, err)
		}
	}
	if err := w.WriteField("patientId", patientID); err != nil {
		return nil, fmt.Errorf("writing patientId field: %w", err)
	}
	if err := w.WriteField("doctorId", doctorID); err != nil {
		return nil, fmt.Errorf("writing doctorId field: %w", err)
	}

	for _, f := range files {
		if err := c.writeFilePart(w, f); err != nil {
			return nil, err
		}
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing multipart body: %w", err)
	}

	targetURL := fmt.Sprintf("%s/patients/%s/diagnostics", c.baseURL, url.PathEscape(patientID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, &buf)
	if err != nil {
		return nil, fmt.Errorf("creating request to %s: %w", targetURL, err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	setAuth(req, authHeader)

	return c.do(req, "create_diagnostic")
}

// ListForPatient fetches every diagnostic for one patient and returns the
// body unmodified.
func (c *DiagnosticClient) ListForPatient(ctx context.Context, patientID, authHeader string) (json.RawMessage, error) {
	targetURL := fmt.Sprintf("%s/patients/%s/diagnostics", c.baseURL, url.PathEscape(patientID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request to %s: %w", targetURL, err)
	}
	setAuth(req, authHeader)

	return c.do(req, "list_diagnostics")
}

// Search queries the diagnostic search endpoint, carrying only the filters
// actually supplied, each date reduced to its calendar day.
func (c *DiagnosticClient) Search(ctx context.Context, params SearchParams, authHeader string) ([]diagnostic.Record, error) {
	query := url.Values{}
	if params.Diagnostic != "" {
		query.Set("diagnostic", params.Diagnostic)
	}
	if params.DateFrom != nil {
		query.Set("dateFrom", params.DateFrom.Format("2006-01-02"))
	}
	if params.DateTo != nil {
		query.Set("dateTo", params.DateTo.Format("2006-01-02"))
	}

	targetURL := c.baseURL + "/diagnostics/search"
	if encoded := query.Encode(); encoded != "" {
		targetURL += "?" + encoded
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request to %s: %w", targetURL, err)
	}
	setAuth(req, authHeader)

	body, err := c.do(req, "search_diagnostics")
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Data []diagnostic.Record `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}
	return envelope.Data, nil
}

func (c *DiagnosticClient) writeFilePart(w *multipart.Writer, staged *upload.StagedFile) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`,
		fileFieldName, escapeQuotes(staged.OriginalName)))
	contentType := staged.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)

	part, err := w.CreatePart(h)
	if err != nil {
		return fmt.Errorf("creating file part for %s: %w", staged.OriginalName, err)
	}

	f, err := os.Open(staged.Path)
	if err != nil {
		return fmt.Errorf("opening staged file %s: %w", staged.Path, err)
	}
	defer f.Close()

	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("copying staged file %s: %w", staged.Path, err)
	}
	return nil
}

func (c *DiagnosticClient) do(req *http.Request, operation string) (json.RawMessage, error) {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(operation, "transport_error", start)
		c.log.Warn("diagnostic service call failed",
			zap.String("operation", operation),
			zap.Error(err),
		)
		return nil, errorFromTransport("diagnostic service")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.observe(operation, "downstream_error", start)
		return nil, errorFromResponse(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.observe(operation, "transport_error", start)
		return nil, errorFromTransport("diagnostic service")
	}

	c.observe(operation, "success", start)
	return body, nil
}

func (c *DiagnosticClient) observe(operation, outcome string, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.DownstreamRequestsTotal.WithLabelValues("diagnostic", operation, outcome).Inc()
	c.metrics.DownstreamRequestDuration.WithLabelValues("diagnostic", operation).Observe(time.Since(start).Seconds())
}

func setAuth(req *http.Request, authHeader string) {
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
