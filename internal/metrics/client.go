// Package metrics queries a Prometheus-compatible time-series backend and
// returns ordered series. Consumers must tolerate missing series and empty
// ranges.
package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/sentinelops/remedy-core/internal/config"
	"github.com/sentinelops/remedy-core/internal/models"
	"github.com/sentinelops/remedy-core/internal/monitoring"
	"github.com/sentinelops/remedy-core/pkg/logger"
)

// Client is the metric backend contract consumed by the pipeline.
type Client interface {
	// QueryRange runs a range query and returns one series per result,
	// points ordered by timestamp.
	QueryRange(ctx context.Context, query string, start, end time.Time, step time.Duration) ([]models.MetricSeries, error)
	// QueryInstant runs an instant query; each returned series carries a
	// single point.
	QueryInstant(ctx context.Context, query string, ts time.Time) ([]models.MetricSeries, error)
	// ServiceSeries returns the monitored series for a service over the
	// trailing window.
	ServiceSeries(ctx context.Context, service string, window time.Duration) ([]models.MetricSeries, error)
	// RequestRate returns the request volume (rps) over the last 5 minutes.
	RequestRate(ctx context.Context, service string) (float64, error)
	// HealthMetrics samples error_rate, latency_p95, latency_p99,
	// availability and request_rate for a service at the given instant.
	HealthMetrics(ctx context.Context, service string, at time.Time) (map[string]float64, error)
	HealthCheck(ctx context.Context) error
	Close()
}

// HTTPClient implements Client over the Prometheus HTTP query API with
// round-robin endpoint selection and bounded retries.
type HTTPClient struct {
	endpoints []string
	timeout   time.Duration
	client    *http.Client
	logger    logger.Logger
	username  string
	password  string

	retries   int
	backoffMS int

	mu      sync.Mutex
	current int
}

// NewHTTPClient builds a pooled client from configuration.
func NewHTTPClient(cfg config.MetricsBackendConfig, log logger.Logger) *HTTPClient {
	timeout := time.Duration(cfg.Timeout) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		endpoints: cfg.Endpoints,
		timeout:   timeout,
		client:    &http.Client{Timeout: timeout},
		logger:    log,
		username:  cfg.Username,
		password:  cfg.Password,
		retries:   3,
		backoffMS: 1000, // 1s, 2s, 4s
	}
}

type apiResponse struct {
	Status string `json:"status"`
	Data   struct {
		ResultType string `json:"resultType"`
		Result     []struct {
			Metric map[string]string `json:"metric"`
			Values [][2]interface{}  `json:"values"`
			Value  [2]interface{}    `json:"value"`
		} `json:"result"`
	} `json:"data"`
	Error string `json:"error"`
}

func (c *HTTPClient) QueryRange(ctx context.Context, query string, start, end time.Time, step time.Duration) ([]models.MetricSeries, error) {
	began := time.Now()
	params := url.Values{}
	params.Set("query", query)
	params.Set("start", formatTime(start))
	params.Set("end", formatTime(end))
	params.Set("step", strconv.FormatFloat(step.Seconds(), 'f', -1, 64))

	series, err := c.query(ctx, "/api/v1/query_range", params)
	monitoring.RecordMetricQuery("range", time.Since(began), err == nil)
	return series, err
}

func (c *HTTPClient) QueryInstant(ctx context.Context, query string, ts time.Time) ([]models.MetricSeries, error) {
	began := time.Now()
	params := url.Values{}
	params.Set("query", query)
	if !ts.IsZero() {
		params.Set("time", formatTime(ts))
	}

	series, err := c.query(ctx, "/api/v1/query", params)
	monitoring.RecordMetricQuery("instant", time.Since(began), err == nil)
	return series, err
}

// monitoredQueries are the per-service series the anomaly monitor watches.
var monitoredQueries = map[string]string{
	"error_rate":   `sum(rate(http_requests_total{service=%q,status=~"5.."}[1m]))`,
	"request_rate": `sum(rate(http_requests_total{service=%q}[1m]))`,
	"latency_p95":  `histogram_quantile(0.95, sum(rate(http_request_duration_seconds_bucket{service=%q}[1m])) by (le))`,
	"memory_usage": `sum(container_memory_working_set_bytes{service=%q})`,
	"cpu_usage":    `sum(rate(container_cpu_usage_seconds_total{service=%q}[1m]))`,
}

func (c *HTTPClient) ServiceSeries(ctx context.Context, service string, window time.Duration) ([]models.MetricSeries, error) {
	end := time.Now()
	start := end.Add(-window)

	names := make([]string, 0, len(monitoredQueries))
	for name := range monitoredQueries {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []models.MetricSeries
	for _, name := range names {
		q := fmt.Sprintf(monitoredQueries[name], service)
		series, err := c.QueryRange(ctx, q, start, end, 15*time.Second)
		if err != nil {
			c.logger.Warn("service series query failed", "service", service, "metric", name, "error", err)
			continue
		}
		for i := range series {
			series[i].MetricName = name
			if series[i].Labels == nil {
				series[i].Labels = map[string]string{}
			}
			series[i].Labels["service"] = service
			out = append(out, series[i])
		}
	}
	return out, nil
}

func (c *HTTPClient) RequestRate(ctx context.Context, service string) (float64, error) {
	q := fmt.Sprintf(`sum(rate(http_requests_total{service=%q}[5m]))`, service)
	series, err := c.QueryInstant(ctx, q, time.Now())
	if err != nil {
		return 0, err
	}
	if len(series) == 0 || len(series[0].Points) == 0 {
		return 0, nil
	}
	return series[0].Points[0].Value, nil
}

// healthQueries sample the verifier's health metric set. Availability is the
// `up` probe at query time.
var healthQueries = map[string]string{
	"error_rate":   `sum(rate(http_requests_total{service=%q,status=~"5.."}[5m]))`,
	"latency_p95":  `histogram_quantile(0.95, sum(rate(http_request_duration_seconds_bucket{service=%q}[5m])) by (le))`,
	"latency_p99":  `histogram_quantile(0.99, sum(rate(http_request_duration_seconds_bucket{service=%q}[5m])) by (le))`,
	"availability": `avg(up{service=%q})`,
	"request_rate": `sum(rate(http_requests_total{service=%q}[5m]))`,
}

func (c *HTTPClient) HealthMetrics(ctx context.Context, service string, at time.Time) (map[string]float64, error) {
	out := make(map[string]float64, len(healthQueries))
	var lastErr error
	for name, tmpl := range healthQueries {
		series, err := c.QueryInstant(ctx, fmt.Sprintf(tmpl, service), at)
		if err != nil {
			lastErr = err
			continue
		}
		if len(series) == 0 || len(series[0].Points) == 0 {
			continue
		}
		out[name] = series[0].Points[0].Value
	}
	if len(out) == 0 && lastErr != nil {
		return nil, fmt.Errorf("no health metrics for %s: %w", service, lastErr)
	}
	return out, nil
}

func (c *HTTPClient) HealthCheck(ctx context.Context) error {
	endpoint := c.selectEndpoint()
	if endpoint == "" {
		return errors.New("no metrics endpoint configured")
	}
	resp, err := c.doRequestWithRetry(ctx, endpoint+"/-/healthy")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("metrics backend health check failed: status %d", resp.StatusCode)
	}
	return nil
}

// Close releases idle connections in the pooled transport.
func (c *HTTPClient) Close() {
	c.client.CloseIdleConnections()
}

func (c *HTTPClient) query(ctx context.Context, path string, params url.Values) ([]models.MetricSeries, error) {
	endpoint := c.selectEndpoint()
	if endpoint == "" {
		return nil, errors.New("no metrics endpoint configured")
	}

	resp, err := c.doRequestWithRetry(ctx, fmt.Sprintf("%s%s?%s", endpoint, path, params.Encode()))
	if err != nil {
		return nil, fmt.Errorf("metrics backend request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("metrics backend returned status %d: %s", resp.StatusCode, readBodySnippet(resp.Body))
	}

	var api apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&api); err != nil {
		return nil, fmt.Errorf("failed to parse metrics response: %w", err)
	}
	if api.Status != "success" {
		return nil, fmt.Errorf("metrics backend error: %s", api.Error)
	}

	series := make([]models.MetricSeries, 0, len(api.Data.Result))
	for _, r := range api.Data.Result {
		s := models.MetricSeries{
			MetricName: r.Metric["__name__"],
			Labels:     r.Metric,
		}
		if len(r.Values) > 0 {
			for _, v := range r.Values {
				if p, ok := parsePoint(v); ok {
					s.Points = append(s.Points, p)
				}
			}
		} else if p, ok := parsePoint(r.Value); ok {
			s.Points = append(s.Points, p)
		}
		sort.Slice(s.Points, func(i, j int) bool { return s.Points[i].Timestamp < s.Points[j].Timestamp })
		series = append(series, s)
	}
	return series, nil
}

func parsePoint(pair [2]interface{}) (models.MetricPoint, bool) {
	ts, ok := pair[0].(float64)
	if !ok {
		return models.MetricPoint{}, false
	}
	raw, ok := pair[1].(string)
	if !ok {
		return models.MetricPoint{}, false
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return models.MetricPoint{}, false
	}
	return models.MetricPoint{Timestamp: ts, Value: value}, true
}

// selectEndpoint implements round-robin load balancing (safe for empty slice).
func (c *HTTPClient) selectEndpoint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.endpoints) == 0 {
		return ""
	}
	ep := c.endpoints[c.current%len(c.endpoints)]
	c.current++
	return ep
}

// doRequestWithRetry sends a GET and retries on 5xx or transport errors.
func (c *HTTPClient) doRequestWithRetry(ctx context.Context, urlStr string) (*http.Response, error) {
	var lastErr error
	backoff := time.Duration(c.backoffMS) * time.Millisecond

	for attempt := 1; attempt <= c.retries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if c.username != "" {
			req.SetBasicAuth(c.username, c.password)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			c.logger.Warn("metrics backend request failed (transport)",
				"attempt", attempt, "url", urlStr, "error", err)
		} else if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("status %d: %s", resp.StatusCode, readBodySnippet(resp.Body))
			_ = resp.Body.Close()
			c.logger.Warn("metrics backend 5xx response, retrying",
				"attempt", attempt, "url", urlStr, "status", resp.StatusCode)
		} else {
			return resp, nil
		}

		if attempt == c.retries || ctx.Err() != nil {
			break
		}
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c.logger.Error("metrics backend request exhausted retries",
		"url", urlStr, "retries", c.retries, "error", lastErr)
	return nil, lastErr
}

func formatTime(t time.Time) string {
	return strconv.FormatFloat(float64(t.UnixNano())/1e9, 'f', 3, 64)
}

// readBodySnippet returns a short text excerpt from an HTTP body for error messages.
func readBodySnippet(r io.Reader) string {
	const max = 8 << 10 // 8KB
	b, _ := io.ReadAll(io.LimitReader(r, max))
	return string(b)
}
