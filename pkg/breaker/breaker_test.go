package breaker_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/pluginforge/orchestrator/pkg/breaker"
	"github.com/pluginforge/orchestrator/pkg/domain"
)

func testConfig() domain.CircuitBreakerConfig {
	return domain.CircuitBreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
		MonitoringWindow: 10 * time.Second,
		HalfOpenMaxCalls: 3,
	}
}

var _ = Describe("Breaker", func() {
	var log *logrus.Entry

	BeforeEach(func() {
		logger := logrus.New()
		logger.SetOutput(GinkgoWriter)
		log = logrus.NewEntry(logger)
	})

	It("starts Closed", func() {
		b := breaker.New("dep-1", testConfig(), log)
		Expect(b.State().State).To(Equal(domain.BreakerClosed))
		Expect(b.AllowsProgress()).To(BeTrue())
	})

	It("opens after failureThreshold consecutive bad samples", func() {
		b := breaker.New("dep-1", testConfig(), log)

		for i := 0; i < 3; i++ {
			b.Sample(0.25, time.Now())
		}

		Expect(b.State().State).To(Equal(domain.BreakerOpen))
		Expect(b.AllowsProgress()).To(BeFalse())
	})

	It("decrements the failure count toward zero on good samples", func() {
		b := breaker.New("dep-1", testConfig(), log)

		b.Sample(0.25, time.Now())
		b.Sample(0.25, time.Now())
		b.Sample(0.01, time.Now())

		Expect(b.State().State).To(Equal(domain.BreakerClosed))
		Expect(b.State().FailureCount).To(Equal(1))
	})

	It("never transitions on a sample older than the monitoring window", func() {
		b := breaker.New("dep-1", testConfig(), log)

		stale := time.Now().Add(-time.Minute)
		for i := 0; i < 5; i++ {
			b.Sample(0.9, stale)
		}

		Expect(b.State().State).To(Equal(domain.BreakerClosed))
	})

	It("transitions Open to HalfOpen once the timeout elapses", func() {
		cfg := testConfig()
		cfg.Timeout = 10 * time.Millisecond
		b := breaker.New("dep-1", cfg, log)

		for i := 0; i < 3; i++ {
			b.Sample(0.25, time.Now())
		}
		Expect(b.State().State).To(Equal(domain.BreakerOpen))

		time.Sleep(20 * time.Millisecond)
		b.Sample(0.01, time.Now())

		Expect(b.State().State).To(BeElementOf(domain.BreakerHalfOpen, domain.BreakerClosed))
	})

	It("closes after successThreshold consecutive good samples in HalfOpen", func() {
		cfg := testConfig()
		cfg.Timeout = 5 * time.Millisecond
		b := breaker.New("dep-1", cfg, log)

		for i := 0; i < 3; i++ {
			b.Sample(0.25, time.Now())
		}
		time.Sleep(10 * time.Millisecond)

		b.Sample(0.01, time.Now())
		b.Sample(0.01, time.Now())

		Expect(b.State().State).To(Equal(domain.BreakerClosed))
	})

	It("never transitions Open directly to Closed", func() {
		b := breaker.New("dep-1", testConfig(), log)

		for i := 0; i < 3; i++ {
			b.Sample(0.25, time.Now())
		}
		Expect(b.State().State).To(Equal(domain.BreakerOpen))

		// Even a flood of good samples cannot close it before the
		// timeout admits a HalfOpen trial.
		for i := 0; i < 10; i++ {
			b.Sample(0.0, time.Now())
		}
		Expect(b.State().State).To(Equal(domain.BreakerOpen))
	})

	It("returns to Open on a bad sample during HalfOpen", func() {
		cfg := testConfig()
		cfg.Timeout = 5 * time.Millisecond
		b := breaker.New("dep-1", cfg, log)

		for i := 0; i < 3; i++ {
			b.Sample(0.25, time.Now())
		}
		time.Sleep(10 * time.Millisecond)

		b.Sample(0.9, time.Now())

		Expect(b.State().State).To(Equal(domain.BreakerOpen))
	})
})
