// Package logging provides a shared vocabulary of structured log
// fields so every component logs through the same key set instead of
// constructing ad hoc maps.
package logging

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Fields is a chainable builder over the standard field vocabulary.
// Every component in the orchestrator logs through Fields rather than
// building logrus.Fields by hand.
type Fields map[string]interface{}

// NewFields starts an empty field set.
func NewFields() Fields {
	return Fields{}
}

func (f Fields) Component(name string) Fields {
	f["component"] = name
	return f
}

func (f Fields) Operation(name string) Fields {
	f["operation"] = name
	return f
}

// Resource tags the resource a log line concerns. name is omitted
// when empty so "resource_name" never appears set to "".
func (f Fields) Resource(resourceType, name string) Fields {
	f["resource_type"] = resourceType
	if name != "" {
		f["resource_name"] = name
	}
	return f
}

func (f Fields) Duration(d time.Duration) Fields {
	f["duration_ms"] = d.Milliseconds()
	return f
}

// Error sets the error field, skipping entirely when err is nil so
// success log lines never carry a stray empty error key.
func (f Fields) Error(err error) Fields {
	if err != nil {
		f["error"] = err.Error()
	}
	return f
}

func (f Fields) DeploymentID(id string) Fields {
	if id != "" {
		f["deployment_id"] = id
	}
	return f
}

func (f Fields) Plugin(name, version string) Fields {
	f["plugin_name"] = name
	f["plugin_version"] = version
	return f
}

func (f Fields) TraceID(id string) Fields {
	f["trace_id"] = id
	return f
}

func (f Fields) StatusCode(code int) Fields {
	f["status_code"] = code
	return f
}

func (f Fields) Method(method string) Fields {
	f["method"] = method
	return f
}

func (f Fields) URL(url string) Fields {
	f["url"] = url
	return f
}

func (f Fields) Count(n int) Fields {
	f["count"] = n
	return f
}

func (f Fields) Percentage(p int) Fields {
	f["percentage"] = p
	return f
}

func (f Fields) Custom(key string, value interface{}) Fields {
	f[key] = value
	return f
}

// ToLogrus converts to logrus.Fields for passing to WithFields.
func (f Fields) ToLogrus() logrus.Fields {
	lf := make(logrus.Fields, len(f))
	for k, v := range f {
		lf[k] = v
	}
	return lf
}

// AuditFields describes an audit sink write.
func AuditFields(operation, resource string) Fields {
	return NewFields().
		Component("audit").
		Operation(operation).
		Resource("event", resource)
}

// HTTPFields describes an outbound or inbound HTTP call.
func HTTPFields(method, url string, statusCode int) Fields {
	return NewFields().
		Component("http").
		Method(method).
		URL(url).
		StatusCode(statusCode)
}

// PhaseFields describes a phase runner step against a deployment.
func PhaseFields(operation, deploymentID string) Fields {
	return NewFields().
		Component("phase").
		Operation(operation).
		Resource("deployment", deploymentID)
}

// KubernetesFields describes a Workload Orchestrator call against the
// cluster. namespace is omitted when empty.
func KubernetesFields(operation, resourceType, name, namespace string) Fields {
	f := NewFields().
		Component("kubernetes").
		Operation(operation).
		Resource(resourceType, name)
	if namespace != "" {
		f["namespace"] = namespace
	}
	return f
}

// ProbeFields describes a single probe execution round.
func ProbeFields(probeType, target string) Fields {
	return NewFields().
		Component("probe").
		Custom("probe_type", probeType).
		Custom("target", target)
}

// MetricsFields describes a metric sample recorded by the Metric
// Sampler or Resource Advisor.
func MetricsFields(operation, metricName string, value float64) Fields {
	return NewFields().
		Component("metrics").
		Operation(operation).
		Custom("metric_name", metricName).
		Custom("value", value)
}

// BreakerFields describes a circuit breaker state transition.
func BreakerFields(deploymentID, state string) Fields {
	return NewFields().
		Component("breaker").
		DeploymentID(deploymentID).
		Custom("state", state)
}

// PerformanceFields describes the outcome of a timed operation.
func PerformanceFields(operation string, duration time.Duration, success bool) Fields {
	return NewFields().
		Component("performance").
		Operation(operation).
		Duration(duration).
		Custom("success", success)
}
