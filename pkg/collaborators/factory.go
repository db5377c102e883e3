package collaborators

import (
	"time"

	"github.com/sirupsen/logrus"
)

// PrometheusConfig configures the production ObservabilityCollector.
type PrometheusConfig struct {
	Enabled  bool
	Endpoint string
	Timeout  time.Duration
}

// Config selects stub or production collaborator implementations,
// mirroring the teacher's MonitoringConfig/ClientFactory split:
// production clients are opt-in per collaborator and fall back to a
// stub when disabled or unconfigured, so a development binary never
// needs a full substrate wired up to boot.
type Config struct {
	UseProductionClients bool
	Prometheus           PrometheusConfig
}

// Set is the bundle of collaborators the Orchestrator wires into its
// components at startup.
type Set struct {
	Workload      WorkloadOrchestrator
	Traffic       TrafficRouter
	Observability ObservabilityCollector
	ResourceW     ResourceWriter
}

// Factory builds a Set from Config, following the teacher's
// ClientFactory.CreateClients shape: one constructor, one config
// struct, one place that knows how to fall back to stubs.
type Factory struct {
	config Config
	log    *logrus.Entry
}

// NewFactory builds a Factory. Workload orchestration has no stub-vs-
// production switch of its own yet (pkg/k8s is the only backend); the
// stub is used whenever the caller passes a nil WorkloadOrchestrator
// to CreateClients.
func NewFactory(config Config, log *logrus.Entry) *Factory {
	return &Factory{config: config, log: log}
}

// CreateClients builds the collaborator Set. When workload is nil the
// in-memory stub orchestrator is used instead.
func (f *Factory) CreateClients(workload WorkloadOrchestrator) Set {
	set := Set{
		Workload:  workload,
		Traffic:   NewStubTrafficRouter(),
		ResourceW: NewStubResourceWriter(),
	}
	if set.Workload == nil {
		set.Workload = NewStubWorkloadOrchestrator(f.log)
	}

	if f.config.UseProductionClients && f.config.Prometheus.Enabled {
		set.Observability = NewPrometheusCollector(f.config.Prometheus.Endpoint, f.config.Prometheus.Timeout, f.log)
	} else {
		set.Observability = NewStubObservabilityCollector()
	}

	return set
}

// HealthCheck reports whether the configured production endpoints are
// reachable, run once at startup the way the teacher's factory
// validates its monitoring config before serving traffic.
func (f *Factory) HealthCheck() error {
	if !f.config.UseProductionClients {
		return nil
	}
	if f.config.Prometheus.Enabled && f.config.Prometheus.Endpoint == "" {
		return errConfigMissingEndpoint("prometheus")
	}
	return nil
}

type configError struct {
	collaborator string
}

func (e configError) Error() string {
	return "collaborator " + e.collaborator + " is enabled but missing its endpoint"
}

func errConfigMissingEndpoint(collaborator string) error {
	return configError{collaborator: collaborator}
}
