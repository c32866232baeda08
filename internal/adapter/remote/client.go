package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/couchcryptid/relative-yield-service/internal/domain"
	"github.com/couchcryptid/relative-yield-service/internal/observability"
)

// EvaluatePath is the route that serves evaluation requests.
const EvaluatePath = "/v1/evaluate"

// Client implements domain.RasterPipeline against a remote evaluation service.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewClient creates a remote evaluation client.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
		metrics: metrics,
	}
}

// StatusError is a non-200 reply from the service. 5xx and 429 are temporary.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote engine error: status %d: %s", e.Status, e.Message)
}

func (e *StatusError) Temporary() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

// transportError is a failure to reach the service at all.
type transportError struct{ err error }

func (e *transportError) Error() string   { return e.err.Error() }
func (e *transportError) Unwrap() error   { return e.err }
func (e *transportError) Temporary() bool { return true }

// Evaluate posts the graph and region and decodes the raster reply.
func (c *Client) Evaluate(ctx context.Context, node domain.Node, region domain.Region) (domain.Raster, error) {
	body, err := MarshalRequest(node, region)
	if err != nil {
		return domain.Raster{}, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+EvaluatePath, bytes.NewReader(body))
	if err != nil {
		return domain.Raster{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.RemoteAPIDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.RemoteRequests.WithLabelValues("error").Inc()
		if ctx.Err() != nil {
			return domain.Raster{}, fmt.Errorf("%s evaluation request: %w", node.Op(), ctx.Err())
		}
		return domain.Raster{}, &transportError{err: fmt.Errorf("%s evaluation request: %w", node.Op(), err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.metrics.RemoteRequests.WithLabelValues("error").Inc()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(raw))
		var er ErrorResponse
		if json.Unmarshal(raw, &er) == nil && er.Error != "" {
			msg = er.Error
		}
		return domain.Raster{}, &StatusError{Status: resp.StatusCode, Message: msg}
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		c.metrics.RemoteRequests.WithLabelValues("error").Inc()
		var syntax *json.SyntaxError
		if errors.As(err, &syntax) || errors.Is(err, io.ErrUnexpectedEOF) {
			return domain.Raster{}, &transportError{err: fmt.Errorf("decode response: %w", err)}
		}
		return domain.Raster{}, fmt.Errorf("decode response: %w", err)
	}
	r, err := out.Raster.Decode()
	if err != nil {
		c.metrics.RemoteRequests.WithLabelValues("error").Inc()
		return domain.Raster{}, fmt.Errorf("decode raster: %w", err)
	}

	c.metrics.RemoteRequests.WithLabelValues("success").Inc()
	c.logger.Debug("remote evaluation complete", "op", node.Op(), "pixels", r.Grid.Pixels(), "duration", time.Since(start))
	return r, nil
}
