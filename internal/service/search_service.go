package service

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/med-core/patient-service/internal/client"
	"github.com/med-core/patient-service/internal/domain"
	"github.com/med-core/patient-service/internal/domain/diagnostic"
	"github.com/med-core/patient-service/pkg/metrics"
)

const searchDateLayout = "2006-01-02"

// DiagnosticSearcher is the slice of the diagnostic client the aggregation
// pipeline needs.
type DiagnosticSearcher interface {
	Search(ctx context.Context, params client.SearchParams, authHeader string) ([]diagnostic.Record, error)
}

// IdentityBulkFetcher fetches identities for a set of ids in one call.
type IdentityBulkFetcher interface {
	BulkUsers(ctx context.Context, ids []string, authHeader string) ([]diagnostic.Identity, error)
}

// SearchQuery carries the raw, optional filters as supplied by the caller.
type SearchQuery struct {
	Diagnostic string
	DateFrom   string
	DateTo     string
}

// SearchService implements the cross-service search-and-join: diagnostics
// from one service, identities from another, merged and ordered here.
type SearchService struct {
	searcher DiagnosticSearcher
	identity IdentityBulkFetcher
	auditSvc *AuditService
	log      *zap.Logger
	metrics  *metrics.Collector
}

func NewSearchService(searcher DiagnosticSearcher, identity IdentityBulkFetcher, auditSvc *AuditService, log *zap.Logger, m *metrics.Collector) *SearchService {
	return &SearchService{
		searcher: searcher,
		identity: identity,
		auditSvc: auditSvc,
		log:      log,
		metrics:  m,
	}
}

// Search runs the aggregation pipeline. A failed diagnostic search is fatal;
// a failed identity bulk-fetch degrades to an empty enrichment set. The
// output is sorted by patient fullname under Spanish collation rules, so
// repeating the same query over unchanged data yields identical results.
func (s *SearchService) Search(ctx context.Context, q *SearchQuery, caller *domain.Claims, authHeader, ip string) ([]diagnostic.EnrichedResult, error) {
	params, err := normalizeQuery(q)
	if err != nil {
		return nil, err
	}

	records, err := s.searcher.Search(ctx, params, authHeader)
	if err != nil {
		return nil, err
	}

	s.auditSvc.LogAsync(ctx, AuditEntry{
		UserID:       callerID(caller),
		UserRole:     callerRole(caller),
		Action:       "search",
		ResourceType: "diagnostic",
		IPAddress:    ip,
	})

	patientIDs := distinctPatientIDs(records)
	if len(patientIDs) == 0 {
		return []diagnostic.EnrichedResult{}, nil
	}

	identities, err := s.identity.BulkUsers(ctx, patientIDs, authHeader)
	if err != nil {
		// Enrichment is best-effort: a dead identity service degrades the
		// search to an empty result set instead of failing it.
		if s.metrics != nil {
			s.metrics.EnrichmentDegradedTotal.Inc()
		}
		s.log.Warn("identity enrichment failed, returning unenriched result",
			zap.Int("patient_ids", len(patientIDs)),
			zap.Error(err),
		)
		identities = nil
	}

	byID := make(map[string]diagnostic.Identity, len(identities))
	for _, identity := range identities {
		byID[identity.ID] = identity
	}

	results := make([]diagnostic.EnrichedResult, 0, len(patientIDs))
	for _, pid := range patientIDs {
		identity, ok := byID[pid]
		if !ok {
			// No resolved identity means no diagnostics surface for this
			// patient at all.
			continue
		}
		results = append(results, diagnostic.EnrichedResult{
			Patient:     identity,
			Diagnostics: recordsForPatient(records, pid),
		})
	}

	sortByFullname(results)

	return results, nil
}

func normalizeQuery(q *SearchQuery) (client.SearchParams, error) {
	params := client.SearchParams{Diagnostic: q.Diagnostic}
	var errs []string

	if q.DateFrom != "" {
		day, err := time.ParseInLocation(searchDateLayout, q.DateFrom, time.UTC)
		if err != nil {
			errs = append(errs, "dateFrom must be a valid date (YYYY-MM-DD)")
		} else {
			params.DateFrom = &day
		}
	}
	if q.DateTo != "" {
		day, err := time.ParseInLocation(searchDateLayout, q.DateTo, time.UTC)
		if err != nil {
			errs = append(errs, "dateTo must be a valid date (YYYY-MM-DD)")
		} else {
			endOfDay := day.Add(23*time.Hour + 59*time.Minute + 59*time.Second)
			params.DateTo = &endOfDay
		}
	}

	if len(errs) > 0 {
		return client.SearchParams{}, &ValidationError{Fields: errs}
	}
	return params, nil
}

// distinctPatientIDs collects patient ids in order of first appearance,
// without duplicates. Records with no patient id are skipped.
func distinctPatientIDs(records []diagnostic.Record) []string {
	seen := make(map[string]struct{}, len(records))
	ids := make([]string, 0, len(records))
	for _, r := range records {
		if r.PatientID == "" {
			continue
		}
		if _, ok := seen[r.PatientID]; ok {
			continue
		}
		seen[r.PatientID] = struct{}{}
		ids = append(ids, r.PatientID)
	}
	return ids
}

func recordsForPatient(records []diagnostic.Record, patientID string) []diagnostic.Record {
	matched := make([]diagnostic.Record, 0, len(records))
	for _, r := range records {
		if r.PatientID == patientID {
			matched = append(matched, r)
		}
	}
	return matched
}

// sortByFullname orders results by the patient's fullname using Spanish
// collation: case-insensitive, with accented characters comparing as their
// base letter. An absent fullname sorts as the empty string. The sort is
// stable so equal names keep their discovery order.
func sortByFullname(results []diagnostic.EnrichedResult) {
	collator := collate.New(language.Spanish, collate.Loose)
	sort.SliceStable(results, func(i, j int) bool {
		return collator.CompareString(results[i].Patient.Fullname, results[j].Patient.Fullname) < 0
	})
}

func callerID(caller *domain.Claims) string {
	if caller == nil {
		return ""
	}
	return caller.UserID
}
