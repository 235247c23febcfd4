package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/med-core/patient-service/internal/client"
	"github.com/med-core/patient-service/internal/config"
	"github.com/med-core/patient-service/internal/domain"
	"github.com/med-core/patient-service/internal/domain/diagnostic"
	"github.com/med-core/patient-service/internal/upload"
)

type stubForwarder struct {
	createBody   json.RawMessage
	createErr    error
	listBody     json.RawMessage
	listErr      error
	gotPatientID string
	gotDoctorID  string
	gotFields    map[string]string
	gotFiles     int
	listCalls    int
}

func (s *stubForwarder) CreateDiagnostic(ctx context.Context, patientID, doctorID string, fields map[string]string, files []*upload.StagedFile, authHeader string) (json.RawMessage, error) {
	s.gotPatientID = patientID
	s.gotDoctorID = doctorID
	s.gotFields = fields
	s.gotFiles = len(files)
	return s.createBody, s.createErr
}

func (s *stubForwarder) ListForPatient(ctx context.Context, patientID, authHeader string) (json.RawMessage, error) {
	s.listCalls++
	s.gotPatientID = patientID
	return s.listBody, s.listErr
}

type stubResolver struct {
	identity *diagnostic.Identity
	err      error
	gotID    string
}

func (s *stubResolver) GetUser(ctx context.Context, id, authHeader string) (*diagnostic.Identity, error) {
	s.gotID = id
	return s.identity, s.err
}

func testUploadConfig() config.UploadConfig {
	return config.UploadConfig{
		MaxFileSize:  10 << 20,
		MaxFiles:     5,
		AllowedTypes: []string{"application/pdf", "image/jpeg", "image/png"},
	}
}

func newDiagnosticService(t *testing.T, forwarder *stubForwarder, resolver *stubResolver) (*DiagnosticService, string) {
	t.Helper()
	dir := t.TempDir()
	stager := upload.NewStager(dir, zap.NewNop(), nil)
	svc := NewDiagnosticService(forwarder, resolver, stager, testUploadConfig(), newTestAuditService(), zap.NewNop(), nil)
	return svc, dir
}

func fileUpload(name, contentType, content string) diagnostic.FileUpload {
	return diagnostic.FileUpload{
		Filename:    name,
		ContentType: contentType,
		Size:        int64(len(content)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(content)), nil
		},
	}
}

func stagedFileCount(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	return len(entries)
}

func doctorClaims() *domain.Claims {
	return &domain.Claims{UserID: "doc-1", Email: "doc@clinic.test", Role: domain.RoleDoctor}
}

func TestSubmit_ForwardsAndReleasesStagedFiles(t *testing.T) {
	forwarder := &stubForwarder{createBody: json.RawMessage(`{"id":"d1"}`)}
	svc, dir := newDiagnosticService(t, forwarder, &stubResolver{})

	cmd := &SubmitDiagnosticCommand{
		PatientID: "p1",
		DoctorID:  "doc-1",
		Fields:    map[string]string{"diagnostic": "flu"},
		Files: []diagnostic.FileUpload{
			fileUpload("scan.pdf", "application/pdf", "pdf bytes"),
			fileUpload("xray.png", "image/png", "png bytes"),
		},
	}

	body, err := svc.Submit(context.Background(), cmd, doctorClaims(), "10.0.0.1")
	require.NoError(t, err)

	assert.JSONEq(t, `{"id":"d1"}`, string(body))
	assert.Equal(t, "p1", forwarder.gotPatientID)
	assert.Equal(t, "doc-1", forwarder.gotDoctorID)
	assert.Equal(t, 2, forwarder.gotFiles)
	assert.Zero(t, stagedFileCount(t, dir), "staged files must be released after a successful submission")
}

func TestSubmit_ReleasesStagedFilesOnDownstreamFailure(t *testing.T) {
	forwarder := &stubForwarder{createErr: &client.DownstreamError{StatusCode: 422, Message: "invalid diagnostic"}}
	svc, dir := newDiagnosticService(t, forwarder, &stubResolver{})

	cmd := &SubmitDiagnosticCommand{
		PatientID: "p1",
		DoctorID:  "doc-1",
		Files: []diagnostic.FileUpload{
			fileUpload("a.pdf", "application/pdf", "a"),
			fileUpload("b.jpg", "image/jpeg", "b"),
			fileUpload("c.png", "image/png", "c"),
		},
	}

	_, err := svc.Submit(context.Background(), cmd, doctorClaims(), "10.0.0.1")

	var downstreamErr *client.DownstreamError
	require.True(t, errors.As(err, &downstreamErr))
	assert.Equal(t, 422, downstreamErr.StatusCode)
	assert.Zero(t, stagedFileCount(t, dir), "staged files must be released even when the downstream call fails")
}

func TestSubmit_ReleasesPartialStagingOnOpenFailure(t *testing.T) {
	forwarder := &stubForwarder{}
	svc, dir := newDiagnosticService(t, forwarder, &stubResolver{})

	broken := diagnostic.FileUpload{
		Filename:    "broken.pdf",
		ContentType: "application/pdf",
		Size:        4,
		Open:        func() (io.ReadCloser, error) { return nil, os.ErrClosed },
	}
	cmd := &SubmitDiagnosticCommand{
		PatientID: "p1",
		DoctorID:  "doc-1",
		Files: []diagnostic.FileUpload{
			fileUpload("ok.pdf", "application/pdf", "fine"),
			broken,
		},
	}

	_, err := svc.Submit(context.Background(), cmd, doctorClaims(), "10.0.0.1")
	require.Error(t, err)

	assert.Zero(t, forwarder.gotFiles, "nothing forwards when staging fails")
	assert.Zero(t, stagedFileCount(t, dir), "already-staged files must be released when a later stage fails")
}

func TestSubmit_ValidatesUploads(t *testing.T) {
	tests := []struct {
		name    string
		files   []diagnostic.FileUpload
		wantErr error
	}{
		{
			name:    "no files",
			files:   nil,
			wantErr: diagnostic.ErrNoFiles,
		},
		{
			name: "too many files",
			files: []diagnostic.FileUpload{
				fileUpload("1.pdf", "application/pdf", "x"),
				fileUpload("2.pdf", "application/pdf", "x"),
				fileUpload("3.pdf", "application/pdf", "x"),
				fileUpload("4.pdf", "application/pdf", "x"),
				fileUpload("5.pdf", "application/pdf", "x"),
				fileUpload("6.pdf", "application/pdf", "x"),
			},
			wantErr: diagnostic.ErrTooManyFiles,
		},
		{
			name: "disallowed type",
			files: []diagnostic.FileUpload{
				fileUpload("report.exe", "application/octet-stream", "x"),
			},
			wantErr: diagnostic.ErrFileTypeNotAllowed,
		},
		{
			name: "file too large",
			files: []diagnostic.FileUpload{
				{Filename: "huge.pdf", ContentType: "application/pdf", Size: 11 << 20},
			},
			wantErr: diagnostic.ErrFileTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			forwarder := &stubForwarder{}
			svc, _ := newDiagnosticService(t, forwarder, &stubResolver{})

			_, err := svc.Submit(context.Background(), &SubmitDiagnosticCommand{
				PatientID: "p1",
				DoctorID:  "doc-1",
				Files:     tt.files,
			}, doctorClaims(), "")

			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, forwarder.gotPatientID, "validation failures must not reach the forwarder")
		})
	}
}

func TestGetForPatient_NurseIsRejected(t *testing.T) {
	forwarder := &stubForwarder{}
	svc, _ := newDiagnosticService(t, forwarder, &stubResolver{})

	caller := &domain.Claims{UserID: "n1", Role: domain.RoleNurse}
	_, err := svc.GetForPatient(context.Background(), "p1", caller, "Bearer tok", "")

	assert.ErrorIs(t, err, ErrForbidden)
	assert.Zero(t, forwarder.listCalls)
}

func TestGetForPatient_PatientMayOnlyReadOwnRecords(t *testing.T) {
	forwarder := &stubForwarder{listBody: json.RawMessage(`{"data":[]}`)}
	resolver := &stubResolver{identity: &diagnostic.Identity{ID: "p1", Fullname: "Ana"}}
	svc, _ := newDiagnosticService(t, forwarder, resolver)

	caller := &domain.Claims{UserID: "u9", Role: domain.RolePatient}

	_, err := svc.GetForPatient(context.Background(), "p2", caller, "Bearer tok", "")
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, "u9", resolver.gotID, "ownership resolves through the caller's own identity")
	assert.Zero(t, forwarder.listCalls)

	body, err := svc.GetForPatient(context.Background(), "p1", caller, "Bearer tok", "")
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":[]}`, string(body))
}

func TestGetForPatient_IdentityLookupFailurePropagates(t *testing.T) {
	forwarder := &stubForwarder{}
	resolver := &stubResolver{err: &client.DownstreamError{StatusCode: 502, Message: "identity service is unavailable"}}
	svc, _ := newDiagnosticService(t, forwarder, resolver)

	caller := &domain.Claims{UserID: "u9", Role: domain.RolePatient}
	_, err := svc.GetForPatient(context.Background(), "p1", caller, "Bearer tok", "")

	var downstreamErr *client.DownstreamError
	require.True(t, errors.As(err, &downstreamErr))
	assert.Zero(t, forwarder.listCalls)
}

func TestGetForPatient_ClinicalRolesPassThrough(t *testing.T) {
	for _, role := range []domain.Role{domain.RoleDoctor, domain.RoleAdmin} {
		t.Run(string(role), func(t *testing.T) {
			forwarder := &stubForwarder{listBody: json.RawMessage(`{"data":[{"id":"d1"}]}`)}
			resolver := &stubResolver{}
			svc, _ := newDiagnosticService(t, forwarder, resolver)

			caller := &domain.Claims{UserID: "u1", Role: role}
			body, err := svc.GetForPatient(context.Background(), "p1", caller, "Bearer tok", "")

			require.NoError(t, err)
			assert.JSONEq(t, `{"data":[{"id":"d1"}]}`, string(body))
			assert.Empty(t, resolver.gotID, "no identity lookup for clinical roles")
		})
	}
}
