package treeshap

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ZanzyTHEbar/onset-explainer/internal/attribution"
	"github.com/ZanzyTHEbar/onset-explainer/internal/errors"
	"github.com/ZanzyTHEbar/onset-explainer/internal/monitoring"
	"github.com/ZanzyTHEbar/onset-explainer/internal/resilience"
	"github.com/ZanzyTHEbar/onset-explainer/internal/schema"
)

const apiName = "treeshap"

// maxResponseBytes caps how much of an attribution response is read
const maxResponseBytes = 4 << 20

// Config holds the sidecar connection settings
type Config struct {
	BaseURL        string
	Token          string
	ModelVersion   string
	Timeout        time.Duration
	Retry          resilience.RetryConfig
	CircuitBreaker resilience.CircuitBreakerConfig
}

// Client talks JSON over HTTP to a Tree-SHAP sidecar that holds the trained
// model. It implements attribution.Explainer.
type Client struct {
	baseURL      string
	token        string
	modelVersion string
	schema       *schema.Schema
	httpClient   *http.Client
	breaker      *resilience.CircuitBreaker
	retry        resilience.RetryConfig
	logger       *monitoring.Logger
	metrics      *monitoring.Metrics
}

var _ attribution.Explainer = (*Client)(nil)

type explainRequest struct {
	ModelVersion string    `json:"model_version,omitempty"`
	Features     []string  `json:"features"`
	Values       []float64 `json:"values"`
}

// NewClient creates a client bound to one schema. logger and metrics may be nil.
func NewClient(config Config, s *schema.Schema, logger *monitoring.Logger, metrics *monitoring.Metrics) (*Client, error) {
	if config.BaseURL == "" {
		return nil, errors.NewConfigurationError("attribution service URL is not set", nil)
	}
	if s == nil {
		return nil, errors.NewConfigurationError("attribution client needs a schema", nil)
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = monitoring.NewLogger("info")
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          32,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: time.Second,
	}

	cbConfig := config.CircuitBreaker
	if metrics != nil {
		userHook := cbConfig.OnStateChange
		cbConfig.OnStateChange = func(from, to resilience.CircuitBreakerState) {
			metrics.SetCircuitState(int(to))
			logger.Warn("Attribution circuit breaker state changed", "from", from.String(), "to", to.String())
			if userHook != nil {
				userHook(from, to)
			}
		}
	}

	return &Client{
		baseURL:      strings.TrimRight(config.BaseURL, "/"),
		token:        config.Token,
		modelVersion: config.ModelVersion,
		schema:       s,
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: otelhttp.NewTransport(transport),
		},
		breaker: resilience.NewCircuitBreaker(cbConfig),
		retry:   config.Retry,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// Breaker exposes the circuit breaker for health reporting
func (c *Client) Breaker() *resilience.CircuitBreaker {
	return c.breaker
}

// Explain requests per-class attributions for one record
func (c *Client) Explain(ctx context.Context, record *schema.Record) (*attribution.Result, error) {
	body, err := json.Marshal(explainRequest{
		ModelVersion: c.modelVersion,
		Features:     c.schema.Columns(),
		Values:       record.Values(),
	})
	if err != nil {
		return nil, errors.NewInternalError("failed to encode attribution request", err)
	}

	var payload attribution.ExplainResponse
	if err := c.do(ctx, "explain", http.MethodPost, "/v1/explain", body, &payload); err != nil {
		return nil, err
	}

	return payload.ToResult()
}

// GlobalImportance fetches the model's global importance and rekeys it from
// model column names to schema feature names.
func (c *Client) GlobalImportance(ctx context.Context) (map[string]float64, error) {
	var payload attribution.ImportanceResponse
	if err := c.do(ctx, "importance", http.MethodGet, "/v1/importance", nil, &payload); err != nil {
		return nil, err
	}

	byColumn, err := payload.ToMap()
	if err != nil {
		return nil, err
	}

	columns := make(map[string]string, c.schema.Len())
	for _, f := range c.schema.Features() {
		columns[f.ModelColumn()] = f.Name
	}

	out := make(map[string]float64, len(byColumn))
	for col, v := range byColumn {
		name, ok := columns[col]
		if !ok {
			// left for the ranking step to reject as an unknown feature
			name = col
		}
		out[name] = v
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, operation, method, path string, body []byte, out any) error {
	url := c.baseURL + path
	start := time.Now()
	status := 0

	err := c.breaker.Call(func() error {
		resp, err := resilience.RetryHTTP(ctx, c.retry, func() (*http.Response, error) {
			var reader io.Reader
			if body != nil {
				reader = bytes.NewReader(body)
			}
			req, err := http.NewRequestWithContext(ctx, method, url, reader)
			if err != nil {
				return nil, err
			}
			req.Header.Set("Accept", "application/json")
			if body != nil {
				req.Header.Set("Content-Type", "application/json")
			}
			if c.token != "" {
				req.Header.Set("Authorization", "Bearer "+c.token)
			}
			return c.httpClient.Do(req)
		})
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		status = resp.StatusCode

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return errors.NewExternalAPIError(apiName, fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(snippet))))
		}

		if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
			return fmt.Errorf("%w: %v", attribution.ErrMalformedResponse, err)
		}
		return nil
	})

	success := err == nil
	c.logger.ExternalAPILogger(apiName, method, path, status, time.Since(start), success)
	if c.metrics != nil {
		c.metrics.RecordAttributionCall(operation, success)
	}

	if err == nil {
		return nil
	}

	var cbErr *resilience.CircuitBreakerError
	if stderrors.As(err, &cbErr) {
		return errors.NewExternalAPIError(apiName, err)
	}
	if ctx.Err() != nil {
		return errors.NewTimeoutError("attribution request cancelled", ctx.Err())
	}
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	if stderrors.Is(err, attribution.ErrMalformedResponse) {
		return err
	}
	return errors.NewExternalAPIError(apiName, err)
}
