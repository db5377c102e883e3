package phase_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/pluginforge/orchestrator/pkg/domain"
	"github.com/pluginforge/orchestrator/pkg/phase"
)

type alwaysHealthy struct{}

func (alwaysHealthy) IsHealthy(domain.PluginIdentity) bool { return true }

type toggleHealth struct {
	healthy atomic.Bool
}

func (t *toggleHealth) IsHealthy(domain.PluginIdentity) bool { return t.healthy.Load() }

type alwaysOpen struct{ open atomic.Bool }

func (a *alwaysOpen) AllowsProgress() bool { return !a.open.Load() }

var plugin = domain.PluginIdentity{Name: "cache-warmer", Version: "1.0.0"}

var _ = Describe("Runner", func() {
	Describe("commit path", func() {
		It("runs prepare, act, observe and commits the phase", func() {
			runner := phase.New(alwaysHealthy{}, &alwaysOpen{})
			deployment := &domain.Deployment{}
			ph := &domain.Phase{Name: "canary-10%"}

			var prepared, acted []string
			var mu sync.Mutex
			exec := phase.RegionExecutor{
				Prepare: func(ctx context.Context, region string) error {
					mu.Lock()
					defer mu.Unlock()
					prepared = append(prepared, region)
					return nil
				},
				Act: func(ctx context.Context, region string) error {
					mu.Lock()
					defer mu.Unlock()
					acted = append(acted, region)
					return nil
				},
			}

			err := runner.Run(context.Background(), deployment, ph, plugin, phase.Options{
				Regions:       []string{"us-east"},
				RegionMode:    domain.RegionModeSequential,
				Stabilization: 20 * time.Millisecond,
				ObservePoll:   5 * time.Millisecond,
			}, exec)

			Expect(err).NotTo(HaveOccurred())
			Expect(ph.Status).To(Equal(domain.PhaseCompleted))
			Expect(prepared).To(ConsistOf("us-east"))
			Expect(acted).To(ConsistOf("us-east"))
		})
	})

	Describe("failure during act", func() {
		It("marks the phase failed and records the error", func() {
			runner := phase.New(alwaysHealthy{}, &alwaysOpen{})
			deployment := &domain.Deployment{}
			ph := &domain.Phase{Name: "deploy-green"}

			exec := phase.RegionExecutor{
				Act: func(ctx context.Context, region string) error {
					return errors.New("traffic router refused")
				},
			}

			err := runner.Run(context.Background(), deployment, ph, plugin, phase.Options{
				RegionMode:    domain.RegionModeSequential,
				Stabilization: 10 * time.Millisecond,
			}, exec)

			Expect(err).To(HaveOccurred())
			Expect(ph.Status).To(Equal(domain.PhaseFailed))
			Expect(deployment.ErrorLog).NotTo(BeEmpty())
		})
	})

	Describe("parallel regions", func() {
		It("runs prepare and act concurrently across all regions", func() {
			runner := phase.New(alwaysHealthy{}, &alwaysOpen{})
			deployment := &domain.Deployment{}
			ph := &domain.Phase{Name: "deploy-all"}

			var count atomic.Int32
			exec := phase.RegionExecutor{
				Prepare: func(ctx context.Context, region string) error {
					count.Add(1)
					return nil
				},
				Act: func(ctx context.Context, region string) error {
					count.Add(1)
					return nil
				},
			}

			err := runner.Run(context.Background(), deployment, ph, plugin, phase.Options{
				Regions:       []string{"us-east", "us-west", "eu-central"},
				RegionMode:    domain.RegionModeParallel,
				Stabilization: 10 * time.Millisecond,
			}, exec)

			Expect(err).NotTo(HaveOccurred())
			Expect(count.Load()).To(Equal(int32(6)))
		})

		It("surfaces one authoritative failure while recording the rest", func() {
			runner := phase.New(alwaysHealthy{}, &alwaysOpen{})
			deployment := &domain.Deployment{}
			ph := &domain.Phase{Name: "deploy-all"}

			exec := phase.RegionExecutor{
				Act: func(ctx context.Context, region string) error {
					return errors.New(region + " failed")
				},
			}

			err := runner.Run(context.Background(), deployment, ph, plugin, phase.Options{
				Regions:    []string{"us-east", "us-west"},
				RegionMode: domain.RegionModeParallel,
			}, exec)

			Expect(err).To(HaveOccurred())
			Expect(ph.Status).To(Equal(domain.PhaseFailed))
			Expect(deployment.ErrorLog).To(ContainElement(ContainSubstring("us-west failed")))
		})
	})

	Describe("observe", func() {
		It("fails the phase if health turns unhealthy mid-stabilization", func() {
			health := &toggleHealth{}
			health.healthy.Store(true)
			runner := phase.New(health, &alwaysOpen{})
			deployment := &domain.Deployment{}
			ph := &domain.Phase{Name: "canary-50%"}

			go func() {
				time.Sleep(15 * time.Millisecond)
				health.healthy.Store(false)
			}()

			err := runner.Run(context.Background(), deployment, ph, plugin, phase.Options{
				Stabilization: 100 * time.Millisecond,
				ObservePoll:   5 * time.Millisecond,
			}, phase.RegionExecutor{})

			Expect(err).To(HaveOccurred())
			Expect(ph.Status).To(Equal(domain.PhaseFailed))
		})

		It("fails the phase if the circuit breaker opens mid-stabilization", func() {
			breaker := &alwaysOpen{}
			runner := phase.New(alwaysHealthy{}, breaker)
			deployment := &domain.Deployment{}
			ph := &domain.Phase{Name: "canary-50%"}

			go func() {
				time.Sleep(15 * time.Millisecond)
				breaker.open.Store(true)
			}()

			err := runner.Run(context.Background(), deployment, ph, plugin, phase.Options{
				Stabilization: 100 * time.Millisecond,
				ObservePoll:   5 * time.Millisecond,
			}, phase.RegionExecutor{})

			Expect(err).To(HaveOccurred())
			Expect(ph.Status).To(Equal(domain.PhaseFailed))
		})
	})
})
