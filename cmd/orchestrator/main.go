// Package main is the process entry point for the plugin deployment
// orchestrator: it loads configuration, wires the collaborator set,
// starts the Metric Sampler, Health Monitor, Resource Advisor, and
// metrics/healthz HTTP server as background workers, and drains
// in-flight deployments on SIGINT/SIGTERM before exiting.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pluginforge/orchestrator/internal/config"
	"github.com/pluginforge/orchestrator/pkg/audit"
	"github.com/pluginforge/orchestrator/pkg/collaborators"
	"github.com/pluginforge/orchestrator/pkg/domain"
	"github.com/pluginforge/orchestrator/pkg/health"
	"github.com/pluginforge/orchestrator/pkg/k8s"
	"github.com/pluginforge/orchestrator/pkg/metrics"
	"github.com/pluginforge/orchestrator/pkg/orchestrator"
	"github.com/pluginforge/orchestrator/pkg/probe"
	"github.com/pluginforge/orchestrator/pkg/resourceadvisor"
	"github.com/pluginforge/orchestrator/pkg/sampler"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "/etc/orchestrator/config.yaml", "path to configuration file")
	kubeconfig := flag.String("kubeconfig", "", "path to a kubeconfig file; empty uses in-cluster config")
	showVersion := flag.Bool("version", false, "show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("orchestrator %s\n", version)
		os.Exit(0)
	}

	if err := run(*configPath, *kubeconfig); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, kubeconfig string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := newLogger(cfg.Logging)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watcher, err := config.NewWatcher(configPath)
	if err != nil {
		log.WithError(err).Warn("config live-reload disabled")
	} else {
		reloadErrs, err := watcher.Watch(ctx, cfg, func(reloaded *config.Config) {
			log.Info("configuration reloaded")
			level, lvlErr := logrus.ParseLevel(reloaded.Logging.Level)
			if lvlErr == nil {
				log.Logger.SetLevel(level)
			}
		})
		if err != nil {
			log.WithError(err).Warn("config live-reload disabled")
		} else {
			go func() {
				for err := range reloadErrs {
					log.WithError(err).Warn("config reload failed, keeping previous configuration")
				}
			}()
			defer watcher.Close()
		}
	}

	workload, err := k8s.NewWorkloadOrchestrator(k8s.Config{Kubeconfig: kubeconfig}, log)
	if err != nil {
		log.WithError(err).Warn("no usable kubeconfig, falling back to the in-memory stub workload orchestrator")
		workload = nil
	}

	factory := collaborators.NewFactory(collaborators.Config{}, log)
	var collabs collaborators.Set
	if workload != nil {
		collabs = factory.CreateClients(workload)
	} else {
		collabs = factory.CreateClients(nil)
	}
	if err := factory.HealthCheck(); err != nil {
		return fmt.Errorf("collaborator health check failed: %w", err)
	}

	mon := health.New(probe.New(), log)
	smp := sampler.New(collabs.Observability, nil, mon, cfg.Breaker.MonitoringWindow, log)

	metricsServer := metrics.NewServer(cfg.Server.MetricsPort, log)
	metricsServer.StartAsync()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = metricsServer.Stop(shutdownCtx)
	}()

	auditSink := audit.NewBufferedSink(audit.NewLogStore(log), audit.DefaultConfig(), log, func(audit.Event) {
		metrics.RecordAuditEventDropped()
	})
	go auditSink.Run(ctx)

	thresholds := resourceadvisor.DefaultThresholds()
	thresholds.CPUHighUtilization = cfg.ResourceAdvisor.CPUThreshold
	thresholds.MemoryHighUtilization = cfg.ResourceAdvisor.MemoryThreshold

	advisor := resourceadvisor.New(
		resourceadvisor.NewStubUsageSource(),
		collabs.ResourceW,
		thresholds,
		cfg.ResourceAdvisor.TickInterval,
		log,
		func(r domain.Recommendation) { metrics.RecordResourceRecommendation(string(r.Kind)) },
	)
	go advisor.Run(ctx)
	go smp.Run(ctx)

	orch := orchestrator.New(collabs, smp, mon, advisor, auditSink, orchestrator.Defaults{
		Breaker: domain.CircuitBreakerConfig{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			SuccessThreshold: cfg.Breaker.SuccessThreshold,
			Timeout:          cfg.Breaker.Timeout,
			MonitoringWindow: cfg.Breaker.MonitoringWindow,
			HalfOpenMaxCalls: cfg.Breaker.HalfOpenMaxCalls,
		},
		Stabilization:    cfg.Strategies.DefaultStabilization,
		ObservePoll:      time.Second,
		RegionMode:       domain.RegionModeSequential,
		ProbeConfig:      health.Config{},
		RetryMaxAttempts: cfg.Strategies.RetryMaxAttempts,
		RetryBaseDelay:   cfg.Strategies.RetryBaseDelay,
	}, log)
	smp.SetDeploymentSink(orch)

	log.WithField("metrics_port", cfg.Server.MetricsPort).Info("orchestrator started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	<-sigCh
	log.Info("shutdown signal received, draining in-flight deployments")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Shutdown.GracefulTimeout)
	defer shutdownCancel()
	if err := orch.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("graceful shutdown deadline exceeded")
		return err
	}

	log.Info("orchestrator stopped cleanly")
	return nil
}

func newLogger(cfg config.LoggingConfig) *logrus.Entry {
	l := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	if cfg.Format == "text" {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{})
	}

	return logrus.NewEntry(l).WithField("component", "orchestrator")
}
