package resourceadvisor

import (
	"context"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	metricsv1beta1 "k8s.io/metrics/pkg/client/clientset/versioned/typed/metrics/v1beta1"

	"github.com/pluginforge/orchestrator/pkg/domain"
	sharederrors "github.com/pluginforge/orchestrator/pkg/shared/errors"
)

// WorkloadLocator resolves a plugin identity to the namespace/name of
// its managed workload, so the metrics.k8s.io lookup knows where to
// look; pkg/k8s's naming convention (one Deployment per scope, scope
// named after the plugin) is the only implementation needed today.
type WorkloadLocator func(plugin domain.PluginIdentity) (namespace, name string)

// K8sUsageSource reads pod-level CPU/memory usage from the
// metrics.k8s.io API and pairs it with the workload's configured
// requests, read via the regular apps/v1 client.
type K8sUsageSource struct {
	metrics  metricsv1beta1.MetricsV1beta1Interface
	locate   WorkloadLocator
	requests RequestLookup
}

// RequestLookup reports the currently configured CPU core / memory
// byte requests and replica count for a namespaced workload, so usage
// samples can be expressed as a utilization fraction.
type RequestLookup func(ctx context.Context, namespace, name string) (cpuRequestCores, memoryRequestBytes float64, replicas int, err error)

// NewK8sUsageSource builds a K8sUsageSource.
func NewK8sUsageSource(metrics metricsv1beta1.MetricsV1beta1Interface, locate WorkloadLocator, requests RequestLookup) *K8sUsageSource {
	return &K8sUsageSource{metrics: metrics, locate: locate, requests: requests}
}

func (s *K8sUsageSource) Usage(ctx context.Context, plugin domain.PluginIdentity) ([]UsageSample, error) {
	namespace, name := s.locate(plugin)

	podMetrics, err := s.metrics.PodMetricses(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: "app=" + name,
	})
	if err != nil {
		return nil, sharederrors.NetworkError("list pod metrics", namespace+"/"+name, err)
	}

	cpuRequest, memRequest, replicas, err := s.requests(ctx, namespace, name)
	if err != nil {
		return nil, err
	}

	samples := make([]UsageSample, 0, len(podMetrics.Items))
	for _, pm := range podMetrics.Items {
		var cpuCores, memBytes float64
		for _, c := range pm.Containers {
			cpuCores += c.Usage.Cpu().AsApproximateFloat64()
			memBytes += c.Usage.Memory().AsApproximateFloat64()
		}
		samples = append(samples, UsageSample{
			ObservedAt:         pm.Timestamp.Time,
			CPUUsageCores:      cpuCores,
			CPURequestCores:    cpuRequest,
			MemoryUsageBytes:   memBytes,
			MemoryRequestBytes: memRequest,
			Replicas:           replicas,
		})
	}
	return samples, nil
}
