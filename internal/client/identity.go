package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/med-core/patient-service/internal/config"
	"github.com/med-core/patient-service/internal/domain/diagnostic"
	"github.com/med-core/patient-service/pkg/metrics"
)

// IdentityClient talks to the user/identity service.
type IdentityClient struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
	metrics    *metrics.Collector
}

func NewIdentityClient(cfg config.DownstreamConfig, log *zap.Logger, m *metrics.Collector) *IdentityClient {
	return NewIdentityClientWithHTTPClient(cfg.BaseURL, &http.Client{Timeout: cfg.Timeout}, log, m)
}

// NewIdentityClientWithHTTPClient allows passing an instrumented *http.Client.
func NewIdentityClientWithHTTPClient(baseURL string, httpClient *http.Client, log *zap.Logger, m *metrics.Collector) *IdentityClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &IdentityClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		log:        log,
		metrics:    m,
	}
}

// GetUser fetches a single identity by id.
func (c *IdentityClient) GetUser(ctx context.Context, id, authHeader string) (*diagnostic.Identity, error) {
	targetURL := fmt.Sprintf("%s/users/%s", c.baseURL, url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request to %s: %w", targetURL, err)
	}
	setAuth(req, authHeader)

	body, err := c.do(req, "get_user")
	if err != nil {
		return nil, err
	}

	var identity diagnostic.Identity
	if err := json.Unmarshal(body, &identity); err != nil {
		return nil, fmt.Errorf("decoding user response: %w", err)
	}
	return &identity, nil
}

// BulkUsers fetches identities for a set of ids in a single call.
func (c *IdentityClient) BulkUsers(ctx context.Context, ids []string, authHeader string) ([]diagnostic.Identity, error) {
	payload, err := json.Marshal(map[string][]string{"userIds": ids})
	if err != nil {
		return nil, fmt.Errorf("encoding bulk request: %w", err)
	}

	targetURL := c.baseURL + "/users/bulk"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request to %s: %w", targetURL, err)
	}
	req.Header.Set("Content-Type", "application/json")
	setAuth(req, authHeader)

	body, err := c.do(req, "bulk_users")
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Data []diagnostic.Identity `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decoding bulk response: %w", err)
	}
	return envelope.Data, nil
}

func (c *IdentityClient) do(req *http.Request, operation string) (json.RawMessage, error) {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(operation, "transport_error", start)
		c.log.Warn("identity service call failed",
			zap.String("operation", operation),
			zap.Error(err),
		)
		return nil, errorFromTransport("identity service")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.observe(operation, "downstream_error", start)
		return nil, errorFromResponse(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.observe(operation, "transport_error", start)
		return nil, errorFromTransport("identity service")
	}

	c.observe(operation, "success", start)
	return body, nil
}

func (c *IdentityClient) observe(operation, outcome string, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.DownstreamRequestsTotal.WithLabelValues("identity", operation, outcome).Inc()
	c.metrics.DownstreamRequestDuration.WithLabelValues("identity", operation).Observe(time.Since(start).Seconds())
}
