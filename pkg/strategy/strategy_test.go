package strategy_test

import (
	"context"
	"errors"
	"sync/atomic"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/pluginforge/orchestrator/pkg/collaborators"
	"github.com/pluginforge/orchestrator/pkg/domain"
	"github.com/pluginforge/orchestrator/pkg/phase"
	"github.com/pluginforge/orchestrator/pkg/strategy"
)

type alwaysHealthy struct{}

func (alwaysHealthy) IsHealthy(domain.PluginIdentity) bool { return true }

type gate struct{ open atomic.Bool }

func (g *gate) AllowsProgress() bool { return !g.open.Load() }

func testEntry() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(GinkgoWriter)
	return logrus.NewEntry(logger)
}

var _ = Describe("Expand", func() {
	It("builds the blue/green phase list", func() {
		req := domain.DeploymentRequest{Strategy: domain.StrategyBlueGreen}
		phases := strategy.Expand(req)
		names := namesOf(phases)
		Expect(names).To(Equal([]string{"prepare-green", "deploy-green", "validate-green", "switch-traffic", "cleanup-blue"}))
	})

	It("builds one canary phase per configured percentage, defaulting to 10/25/50/100", func() {
		req := domain.DeploymentRequest{Strategy: domain.StrategyCanary}
		phases := strategy.Expand(req)
		Expect(namesOf(phases)).To(Equal([]string{"canary-10%", "canary-25%", "canary-50%", "canary-100%"}))
	})

	It("honors explicit canary percentages", func() {
		req := domain.DeploymentRequest{Strategy: domain.StrategyCanary, RolloutPercentages: []int{10, 50, 100}}
		phases := strategy.Expand(req)
		Expect(namesOf(phases)).To(Equal([]string{"canary-10%", "canary-50%", "canary-100%"}))
	})

	It("builds the rolling phase list", func() {
		req := domain.DeploymentRequest{Strategy: domain.StrategyRolling}
		Expect(namesOf(strategy.Expand(req))).To(Equal([]string{"prepare-rolling", "execute-rolling", "verify"}))
	})

	It("builds the A/B phase list", func() {
		req := domain.DeploymentRequest{Strategy: domain.StrategyAB}
		Expect(namesOf(strategy.Expand(req))).To(Equal([]string{
			"deploy-A", "deploy-B", "split-traffic", "monitor", "analyze", "promote-winner",
		}))
	})
})

func namesOf(phases []*domain.Phase) []string {
	names := make([]string, len(phases))
	for i, p := range phases {
		names[i] = p.Name
	}
	return names
}

var _ = Describe("Engine.Drive", func() {
	var (
		traffic  *collaborators.StubTrafficRouter
		workload *collaborators.StubWorkloadOrchestrator
		set      collaborators.Set
		plugin   domain.PluginIdentity
	)

	BeforeEach(func() {
		traffic = collaborators.NewStubTrafficRouter()
		workload = collaborators.NewStubWorkloadOrchestrator(testEntry())
		set = collaborators.Set{
			Workload:  workload,
			Traffic:   traffic,
			ResourceW: collaborators.NewStubResourceWriter(),
		}
		plugin = domain.PluginIdentity{Name: "cache-warmer", Version: "1.2.3"}
	})

	It("completes every canary phase and ends at 100% on the happy path (S1)", func() {
		req := domain.DeploymentRequest{
			Plugin:     plugin,
			Strategy:   domain.StrategyCanary,
			Regions:    []string{"us-east"},
			RegionMode: domain.RegionModeSequential,
			RolloutPercentages: []int{10, 50, 100},
		}
		deployment := &domain.Deployment{
			ID:       "dep-1",
			Plugin:   plugin,
			Strategy: domain.StrategyCanary,
			Status:   domain.DeploymentDeploying,
			Phases:   strategy.Expand(req),
		}

		runner := phase.New(alwaysHealthy{}, &gate{})
		engine := strategy.New(set, runner, &gate{}, testEntry())

		err := engine.Drive(context.Background(), deployment, req, phase.Options{
			Regions:    req.Regions,
			RegionMode: req.RegionMode,
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(deployment.Status).To(Equal(domain.DeploymentCompleted))
		for _, p := range deployment.Phases {
			Expect(p.Status).To(Equal(domain.PhaseCompleted))
		}
		Expect(traffic.Split(plugin.Name, "canary")).To(Equal(100))
	})

	It("rolls back when the circuit breaker opens mid-rollout (S2)", func() {
		req := domain.DeploymentRequest{
			Plugin:             plugin,
			Strategy:           domain.StrategyCanary,
			RolloutPercentages: []int{10, 50, 100},
		}
		deployment := &domain.Deployment{
			ID:       "dep-2",
			Plugin:   plugin,
			Strategy: domain.StrategyCanary,
			Status:   domain.DeploymentDeploying,
			Phases:   strategy.Expand(req),
		}

		breakerGate := &gate{}
		// The breaker trips as soon as the first phase has shifted any
		// traffic, standing in for bad samples observed during that
		// phase's rollout.
		tripping := &trippingTraffic{StubTrafficRouter: traffic, gate: breakerGate, after: 2}
		set.Traffic = tripping

		runner := phase.New(alwaysHealthy{}, breakerGate)
		engine := strategy.New(set, runner, breakerGate, testEntry())

		err := engine.Drive(context.Background(), deployment, req, phase.Options{})

		Expect(err).To(HaveOccurred())
		Expect(deployment.Status).To(Equal(domain.DeploymentRolledBack))
		Expect(deployment.Phases[0].Status).To(Equal(domain.PhaseFailed))
		Expect(deployment.Phases[1].Status).To(Equal(domain.PhasePending))
		lastPhase := deployment.Phases[len(deployment.Phases)-1]
		Expect(lastPhase.Name).To(Equal("automatic-rollback"))
		Expect(lastPhase.Status).To(Equal(domain.PhaseCompleted))
		Expect(traffic.Split(plugin.Name, "canary")).To(Equal(0))
		Expect(traffic.Split(plugin.Name, "stable")).To(Equal(100))
	})

	It("rolls back a blue/green deployment when switch-traffic fails (S3)", func() {
		req := domain.DeploymentRequest{Plugin: plugin, Strategy: domain.StrategyBlueGreen}
		deployment := &domain.Deployment{
			ID:       "dep-3",
			Plugin:   plugin,
			Strategy: domain.StrategyBlueGreen,
			Status:   domain.DeploymentDeploying,
			Phases:   strategy.Expand(req),
		}

		failingTraffic := &failOnSetSplit{target: "green", router: traffic}
		set.Traffic = failingTraffic

		runner := phase.New(alwaysHealthy{}, &gate{})
		engine := strategy.New(set, runner, &gate{}, testEntry())

		err := engine.Drive(context.Background(), deployment, req, phase.Options{})

		Expect(err).To(HaveOccurred())
		Expect(deployment.Status).To(Equal(domain.DeploymentRolledBack))
		lastPhase := deployment.Phases[len(deployment.Phases)-1]
		Expect(lastPhase.Name).To(Equal("automatic-rollback"))
		Expect(lastPhase.Status).To(Equal(domain.PhaseCompleted))
	})

	It("is a no-op when re-driven after reaching a terminal status", func() {
		req := domain.DeploymentRequest{Plugin: plugin, Strategy: domain.StrategyRolling}
		deployment := &domain.Deployment{
			ID:       "dep-4",
			Plugin:   plugin,
			Strategy: domain.StrategyRolling,
			Status:   domain.DeploymentCompleted,
			Phases:   strategy.Expand(req),
		}
		runner := phase.New(alwaysHealthy{}, &gate{})
		engine := strategy.New(set, runner, &gate{}, testEntry())

		Expect(engine.Drive(context.Background(), deployment, req, phase.Options{})).To(Succeed())
		Expect(deployment.Status).To(Equal(domain.DeploymentCompleted))
	})
})

// trippingTraffic delegates to a StubTrafficRouter and opens gate once
// it has seen "after" SetSplit calls, simulating a circuit breaker
// reacting to bad samples observed during a phase's rollout.
type trippingTraffic struct {
	*collaborators.StubTrafficRouter
	gate  *gate
	after int
	calls int
}

func (t *trippingTraffic) SetSplit(ctx context.Context, service, variant string, percentage int) error {
	err := t.StubTrafficRouter.SetSplit(ctx, service, variant, percentage)
	t.calls++
	if t.calls >= t.after {
		t.gate.open.Store(true)
	}
	return err
}

// failOnSetSplit fails the first SetSplit call for the target variant,
// delegating everything else to the wrapped router.
type failOnSetSplit struct {
	target string
	router *collaborators.StubTrafficRouter
	failed bool
}

func (f *failOnSetSplit) SetSplit(ctx context.Context, service, variant string, percentage int) error {
	if !f.failed && variant == f.target {
		f.failed = true
		return errors.New("traffic router refused")
	}
	return f.router.SetSplit(ctx, service, variant, percentage)
}
