package upload

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/med-core/patient-service/pkg/metrics"
)

// StagedFile is a handle to an uploaded file persisted under the staging
// directory. It never outlives the request that created it: every Stage call
// must be paired with Release on all exit paths.
type StagedFile struct {
	Path         string
	OriginalName string
	ContentType  string
	Size         int64
}

// Stager writes inbound upload streams to uniquely named files under a
// dedicated directory and deletes them once the request is done. Filenames
// carry a timestamp plus a random suffix so concurrent requests never contend
// for the same file; the original filename travels as form metadata instead.
type Stager struct {
	dir     string
	log     *zap.Logger
	metrics *metrics.Collector
}

func NewStager(dir string, log *zap.Logger, m *metrics.Collector) *Stager {
	return &Stager{dir: dir, log: log, metrics: m}
}

// Stage persists the stream to disk and returns a handle to the staged copy.
// The partial file is removed if the copy fails midway.
func (s *Stager) Stage(r io.Reader, originalName, contentType string) (*StagedFile, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating upload directory %s: %w", s.dir, err)
	}

	name := fmt.Sprintf("diagnostic-%d-%s%s",
		time.Now().UnixMilli(),
		uuid.NewString()[:8],
		filepath.Ext(originalName),
	)
	path := filepath.Join(s.dir, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("creating staged file: %w", err)
	}

	size, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		if rmErr := os.Remove(path); rmErr != nil {
			s.log.Warn("failed to remove partial staged file",
				zap.String("path", path),
				zap.Error(rmErr),
			)
		}
		return nil, fmt.Errorf("writing staged file: %w", err)
	}

	return &StagedFile{
		Path:         path,
		OriginalName: originalName,
		ContentType:  contentType,
		Size:         size,
	}, nil
}

// Release deletes the staged file. Deleting an already-absent file is not an
// error, and a failed delete is logged but never surfaced: cleanup must not
// abort the response.
func (s *Stager) Release(f *StagedFile) {
	if f == nil {
		return
	}
	if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
		if s.metrics != nil {
			s.metrics.FileCleanupFailures.Inc()
		}
		s.log.Warn("failed to remove staged file",
			zap.String("path", f.Path),
			zap.Error(err),
		)
	}
}

// ReleaseAll releases every staged file in the slice.
func (s *Stager) ReleaseAll(files []*StagedFile) {
	for _, f := range files {
		s.Release(f)
	}
}
