package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/med-core/patient-service/internal/upload"
)

func newDiagnosticClient(t *testing.T, baseURL string) *DiagnosticClient {
	t.Helper()
	return NewDiagnosticClientWithHTTPClient(baseURL, &http.Client{Timeout: 5 * time.Second}, zap.NewNop(), nil)
}

func stageTestFile(t *testing.T, name, content string) *upload.StagedFile {
	t.Helper()
	path := filepath.Join(t.TempDir(), "staged-"+name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return &upload.StagedFile{
		Path:         path,
		OriginalName: name,
		ContentType:  "application/pdf",
		Size:         int64(len(content)),
	}
}

func TestCreateDiagnostic_ForwardsMultipartAndAuth(t *testing.T) {
	var (
		gotAuth     string
		gotPath     string
		gotFields   map[string]string
		gotFiles    []string
		gotContents []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path

		require.NoError(t, r.ParseMultipartForm(32<<20))
		gotFields = map[string]string{}
		for key, values := range r.MultipartForm.Value {
			gotFields[key] = values[0]
		}
		for _, fh := range r.MultipartForm.File["files"] {
			gotFiles = append(gotFiles, fh.Filename)
			f, err := fh.Open()
			require.NoError(t, err)
			content := make([]byte, fh.Size)
			_, err = f.Read(content)
			require.NoError(t, err)
			f.Close()
			gotContents = append(gotContents, string(content))
		}

		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"d1"}`))
	}))
	defer server.Close()

	c := newDiagnosticClient(t, server.URL)
	files := []*upload.StagedFile{
		stageTestFile(t, "blood-panel.pdf", "panel bytes"),
		stageTestFile(t, "x-ray.pdf", "xray bytes"),
	}

	body, err := c.CreateDiagnostic(context.Background(), "p1", "doc9",
		map[string]string{"diagnostic": "anemia", "patientId": "spoofed"},
		files, "Bearer tok123")
	require.NoError(t, err)

	assert.JSONEq(t, `{"id":"d1"}`, string(body))
	assert.Equal(t, "Bearer tok123", gotAuth)
	assert.Equal(t, "/patients/p1/diagnostics", gotPath)
	// patientId and doctorId always come from the orchestrator, never the
	// inbound form.
	assert.Equal(t, "p1", gotFields["patientId"])
	assert.Equal(t, "doc9", gotFields["doctorId"])
	assert.Equal(t, "anemia", gotFields["diagnostic"])
	assert.Equal(t, []string{"blood-panel.pdf", "x-ray.pdf"}, gotFiles)
	assert.Equal(t, []string{"panel bytes", "xray bytes"}, gotContents)
}

func TestCreateDiagnostic_PropagatesDownstreamStatusAndMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"message":"diagnostic name is required"}`))
	}))
	defer server.Close()

	c := newDiagnosticClient(t, server.URL)
	_, err := c.CreateDiagnostic(context.Background(), "p1", "doc9", nil,
		[]*upload.StagedFile{stageTestFile(t, "a.pdf", "x")}, "Bearer tok")
	require.Error(t, err)

	var downstreamErr *DownstreamError
	require.True(t, errors.As(err, &downstreamErr))
	assert.Equal(t, http.StatusUnprocessableEntity, downstreamErr.StatusCode)
	assert.Equal(t, "diagnostic name is required", downstreamErr.Message)
}

func TestCreateDiagnostic_TransportFailureIsBadGateway(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // connection refused from here on

	c := newDiagnosticClient(t, server.URL)
	_, err := c.CreateDiagnostic(context.Background(), "p1", "doc9", nil,
		[]*upload.StagedFile{stageTestFile(t, "a.pdf", "x")}, "")
	require.Error(t, err)

	var downstreamErr *DownstreamError
	require.True(t, errors.As(err, &downstreamErr))
	assert.Equal(t, http.StatusBadGateway, downstreamErr.StatusCode)
	// The transport error detail never leaks into the message.
	assert.NotContains(t, downstreamErr.Message, "connection refused")
}

func TestListForPatient_ReturnsBodyUnmodified(t *testing.T) {
	const payload = `{"data":[{"id":"d1","patientId":"p1","notes":"opaque"}]}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/patients/p1/diagnostics", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Write([]byte(payload))
	}))
	defer server.Close()

	c := newDiagnosticClient(t, server.URL)
	body, err := c.ListForPatient(context.Background(), "p1", "Bearer tok")
	require.NoError(t, err)
	assert.Equal(t, payload, string(body))
}

func TestSearch_SendsOnlySuppliedParams(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/diagnostics/search", r.URL.Path)
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{"data":[]}`))
	}))
	defer server.Close()

	c := newDiagnosticClient(t, server.URL)
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	_, err := c.Search(context.Background(), SearchParams{Diagnostic: "anemia", DateFrom: &from}, "Bearer tok")
	require.NoError(t, err)

	assert.Contains(t, gotQuery, "diagnostic=anemia")
	assert.Contains(t, gotQuery, "dateFrom=2024-03-01")
	assert.NotContains(t, gotQuery, "dateTo")
}

func TestSearch_OmitsAllParamsWhenNoneSupplied(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.RawQuery)
		w.Write([]byte(`{"data":[]}`))
	}))
	defer server.Close()

	c := newDiagnosticClient(t, server.URL)
	records, err := c.Search(context.Background(), SearchParams{}, "")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestSearch_DecodesRecordsAndNormalizesIDs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[
			{"id":17,"patientId":42,"diagnostic":"anemia"},
			{"id":"d2","patientId":"p7","diagnostic":"gripe"}
		]}`))
	}))
	defer server.Close()

	c := newDiagnosticClient(t, server.URL)
	records, err := c.Search(context.Background(), SearchParams{}, "")
	require.NoError(t, err)
	require.Len(t, records, 2)

	// Numeric ids are normalized to their literal string form.
	assert.Equal(t, "17", records[0].ID)
	assert.Equal(t, "42", records[0].PatientID)
	assert.Equal(t, "d2", records[1].ID)
	assert.Equal(t, "p7", records[1].PatientID)
	// The raw payload survives for re-emission.
	assert.Contains(t, string(records[0].Raw), `"diagnostic":"anemia"`)
}

func TestFilenameWithQuotesIsEscaped(t *testing.T) {
	assert.Equal(t, `evil\"name.pdf`, escapeQuotes(`evil"name.pdf`))
	assert.Equal(t, `a\\b`, escapeQuotes(`a\b`))
}
