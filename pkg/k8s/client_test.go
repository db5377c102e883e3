package k8s

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	appsv1 "k8s.io/api/apps/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/sirupsen/logrus"

	"github.com/pluginforge/orchestrator/pkg/collaborators"
	"github.com/pluginforge/orchestrator/pkg/domain"
)

func testLogEntry() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(GinkgoWriter)
	return logrus.NewEntry(logger)
}

var _ = Describe("WorkloadOrchestrator", func() {
	var (
		clientset *fake.Clientset
		orch      *WorkloadOrchestrator
		ctx       context.Context
	)

	BeforeEach(func() {
		clientset = fake.NewSimpleClientset()
		orch = NewWorkloadOrchestratorFromClientset(clientset, testLogEntry())
		ctx = context.Background()
	})

	Describe("EnsureIsolatedScope", func() {
		It("creates the namespace if absent", func() {
			Expect(orch.EnsureIsolatedScope(ctx, "cache-warmer-green")).To(Succeed())
			_, err := clientset.CoreV1().Namespaces().Get(ctx, "cache-warmer-green", metav1.GetOptions{})
			Expect(err).NotTo(HaveOccurred())
		})

		It("is idempotent when the namespace already exists", func() {
			Expect(orch.EnsureIsolatedScope(ctx, "cache-warmer-green")).To(Succeed())
			Expect(orch.EnsureIsolatedScope(ctx, "cache-warmer-green")).To(Succeed())
		})
	})

	Describe("Apply", func() {
		It("creates a single-container deployment", func() {
			spec := collaborators.WorkloadSpec{Scope: "ns", Name: "cache-warmer", Image: "registry/cache-warmer:1.2.3", Replicas: 3}
			Expect(orch.Apply(ctx, spec)).To(Succeed())

			dep, err := clientset.AppsV1().Deployments("ns").Get(ctx, "cache-warmer", metav1.GetOptions{})
			Expect(err).NotTo(HaveOccurred())
			Expect(*dep.Spec.Replicas).To(Equal(int32(3)))
			Expect(dep.Spec.Template.Spec.Containers[0].Image).To(Equal("registry/cache-warmer:1.2.3"))
		})

		It("updates an existing deployment in place", func() {
			spec := collaborators.WorkloadSpec{Scope: "ns", Name: "cache-warmer", Image: "registry/cache-warmer:1.0.0", Replicas: 1}
			Expect(orch.Apply(ctx, spec)).To(Succeed())

			spec.Image = "registry/cache-warmer:2.0.0"
			spec.Replicas = 5
			Expect(orch.Apply(ctx, spec)).To(Succeed())

			dep, err := clientset.AppsV1().Deployments("ns").Get(ctx, "cache-warmer", metav1.GetOptions{})
			Expect(err).NotTo(HaveOccurred())
			Expect(*dep.Spec.Replicas).To(Equal(int32(5)))
			Expect(dep.Spec.Template.Spec.Containers[0].Image).To(Equal("registry/cache-warmer:2.0.0"))
		})
	})

	Describe("ReadHealth", func() {
		It("reports desired/ready from the deployment's spec and status", func() {
			dep := &appsv1.Deployment{
				ObjectMeta: metav1.ObjectMeta{Name: "cache-warmer", Namespace: "ns"},
				Spec:       appsv1.DeploymentSpec{Replicas: int32Ptr(4)},
				Status:     appsv1.DeploymentStatus{ReadyReplicas: 2},
			}
			_, err := clientset.AppsV1().Deployments("ns").Create(ctx, dep, metav1.CreateOptions{})
			Expect(err).NotTo(HaveOccurred())

			health, err := orch.ReadHealth(ctx, collaborators.WorkloadIdentity{Scope: "ns", Name: "cache-warmer"})
			Expect(err).NotTo(HaveOccurred())
			Expect(health.Desired).To(Equal(4))
			Expect(health.Ready).To(Equal(2))
			Expect(health.Healthy()).To(BeFalse())
		})

		It("returns a zero-value health for a workload that doesn't exist", func() {
			health, err := orch.ReadHealth(ctx, collaborators.WorkloadIdentity{Scope: "ns", Name: "missing"})
			Expect(err).NotTo(HaveOccurred())
			Expect(health.Desired).To(Equal(0))
		})
	})

	Describe("Rollout", func() {
		It("patches the deployment's pod template to trigger a restart", func() {
			spec := collaborators.WorkloadSpec{Scope: "ns", Name: "cache-warmer", Image: "registry/cache-warmer:1.0.0", Replicas: 1}
			Expect(orch.Apply(ctx, spec)).To(Succeed())

			err := orch.Rollout(ctx, collaborators.WorkloadIdentity{Scope: "ns", Name: "cache-warmer"}, domain.StrategyRolling)
			Expect(err).NotTo(HaveOccurred())

			dep, err := clientset.AppsV1().Deployments("ns").Get(ctx, "cache-warmer", metav1.GetOptions{})
			Expect(err).NotTo(HaveOccurred())
			Expect(dep.Spec.Template.Annotations).To(HaveKey("orchestrator.pluginforge.io/restartedAt"))
		})

		It("tolerates a rollout request against a workload that no longer exists", func() {
			err := orch.Rollout(ctx, collaborators.WorkloadIdentity{Scope: "ns", Name: "missing"}, domain.StrategyRolling)
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("DeleteScope", func() {
		It("deletes an existing namespace", func() {
			Expect(orch.EnsureIsolatedScope(ctx, "ns")).To(Succeed())
			Expect(orch.DeleteScope(ctx, "ns")).To(Succeed())
			_, err := clientset.CoreV1().Namespaces().Get(ctx, "ns", metav1.GetOptions{})
			Expect(err).To(HaveOccurred())
		})

		It("tolerates deleting a namespace that was never created", func() {
			Expect(orch.DeleteScope(ctx, "never-existed")).To(Succeed())
		})
	})
})

func int32Ptr(n int32) *int32 { return &n }
