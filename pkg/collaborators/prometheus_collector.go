package collaborators

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pluginforge/orchestrator/pkg/domain"
	"github.com/pluginforge/orchestrator/pkg/shared/errors"
	sharedhttp "github.com/pluginforge/orchestrator/pkg/shared/http"
)

// PrometheusCollector is the production ObservabilityCollector,
// querying a Prometheus-compatible instant-query endpoint for the
// five metrics the Metric Sampler needs per deployment.
type PrometheusCollector struct {
	endpoint string
	client   *http.Client
	log      *logrus.Entry
}

// NewPrometheusCollector builds a collector against endpoint (the
// Prometheus base URL, e.g. "http://prometheus:9090") using the
// teacher's shared HTTP client configuration tuned for metrics
// backends.
func NewPrometheusCollector(endpoint string, timeout time.Duration, log *logrus.Entry) *PrometheusCollector {
	return &PrometheusCollector{
		endpoint: endpoint,
		client:   sharedhttp.NewClient(sharedhttp.PrometheusClientConfig(timeout)),
		log:      log,
	}
}

type promQueryResponse struct {
	Status string `json:"status"`
	Data   struct {
		Result []struct {
			Value [2]interface{} `json:"value"`
		} `json:"result"`
	} `json:"data"`
}

func (c *PrometheusCollector) instant(ctx context.Context, query string) (float64, error) {
	u := fmt.Sprintf("%s/api/v1/query?query=%s", c.endpoint, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, errors.Wrapf(err, "build prometheus query %s", query)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, errors.NetworkError("prometheus-query", c.endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, errors.NetworkError("prometheus-query", c.endpoint,
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var body promQueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, errors.ParseError("prometheus-response", "json", err)
	}
	if len(body.Data.Result) == 0 {
		return 0, nil
	}

	raw, ok := body.Data.Result[0].Value[1].(string)
	if !ok {
		return 0, errors.ParseError("prometheus-response", "json", fmt.Errorf("unexpected value shape"))
	}
	var f float64
	if _, err := fmt.Sscanf(raw, "%g", &f); err != nil {
		return 0, errors.ParseError("prometheus-response", "float", err)
	}
	return f, nil
}

// Sample implements ObservabilityCollector by issuing five PromQL
// instant queries scoped to the deployment id label.
func (c *PrometheusCollector) Sample(ctx context.Context, deploymentID string) (domain.MetricSnapshot, error) {
	errorRate, err := c.instant(ctx, fmt.Sprintf(`deployment_error_rate{deployment_id=%q}`, deploymentID))
	if err != nil {
		return domain.MetricSnapshot{}, err
	}
	p50, err := c.instant(ctx, fmt.Sprintf(`deployment_latency_seconds{deployment_id=%q,quantile="0.5"}`, deploymentID))
	if err != nil {
		return domain.MetricSnapshot{}, err
	}
	p95, err := c.instant(ctx, fmt.Sprintf(`deployment_latency_seconds{deployment_id=%q,quantile="0.95"}`, deploymentID))
	if err != nil {
		return domain.MetricSnapshot{}, err
	}
	p99, err := c.instant(ctx, fmt.Sprintf(`deployment_latency_seconds{deployment_id=%q,quantile="0.99"}`, deploymentID))
	if err != nil {
		return domain.MetricSnapshot{}, err
	}
	throughput, err := c.instant(ctx, fmt.Sprintf(`rate(deployment_requests_total{deployment_id=%q}[1m])`, deploymentID))
	if err != nil {
		return domain.MetricSnapshot{}, err
	}

	return domain.MetricSnapshot{
		ErrorRate:  errorRate,
		LatencyP50: time.Duration(p50 * float64(time.Second)),
		LatencyP95: time.Duration(p95 * float64(time.Second)),
		LatencyP99: time.Duration(p99 * float64(time.Second)),
		Throughput: throughput,
		ObservedAt: time.Now(),
	}, nil
}

// Status implements ObservabilityCollector.Status via the Prometheus
// "up" series.
func (c *PrometheusCollector) Status(ctx context.Context, plugin domain.PluginIdentity) (ProbeTargetStatus, error) {
	up, err := c.instant(ctx, fmt.Sprintf(`up{plugin=%q,version=%q}`, plugin.Name, plugin.Version))
	if err != nil {
		return ProbeTargetStatus{}, err
	}
	return ProbeTargetStatus{Up: up == 1}, nil
}
