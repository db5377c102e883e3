// Package k8s implements the production collaborators.WorkloadOrchestrator
// backed by client-go: namespaces stand in for the isolated scopes of
// spec.md §6, and a single-container Deployment is the managed
// workload per scope. The split between basicClient (direct clientset
// CRUD) and advancedClient (strategy-aware rollout) mirrors the
// teacher's pkg/k8s basic/advanced client layering.
package k8s

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/utils/ptr"

	"github.com/pluginforge/orchestrator/pkg/collaborators"
	"github.com/pluginforge/orchestrator/pkg/domain"
	sharederrors "github.com/pluginforge/orchestrator/pkg/shared/errors"
	"github.com/pluginforge/orchestrator/pkg/shared/logging"
)

// Config selects how the production client reaches the API server.
type Config struct {
	Kubeconfig string
	Context    string
}

func restConfig(cfg Config) (*rest.Config, error) {
	if cfg.Kubeconfig == "" && cfg.Context == "" {
		if rc, err := rest.InClusterConfig(); err == nil {
			return rc, nil
		}
	}
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if cfg.Kubeconfig != "" {
		rules.ExplicitPath = cfg.Kubeconfig
	}
	overrides := &clientcmd.ConfigOverrides{}
	if cfg.Context != "" {
		overrides.CurrentContext = cfg.Context
	}
	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides).ClientConfig()
}

// basicClient wraps direct CRUD against namespaces and deployments.
type basicClient struct {
	clientset kubernetes.Interface
	log       *logrus.Entry
}

func newBasicClient(clientset kubernetes.Interface, log *logrus.Entry) *basicClient {
	return &basicClient{clientset: clientset, log: log}
}

func (b *basicClient) ensureNamespace(ctx context.Context, name string) error {
	_, err := b.clientset.CoreV1().Namespaces().Get(ctx, name, metav1.GetOptions{})
	if err == nil {
		return nil
	}
	if !apierrors.IsNotFound(err) {
		return sharederrors.NetworkError("get namespace", name, err)
	}
	ns := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: name}}
	if _, err := b.clientset.CoreV1().Namespaces().Create(ctx, ns, metav1.CreateOptions{}); err != nil {
		if apierrors.IsAlreadyExists(err) {
			return nil
		}
		return sharederrors.NetworkError("create namespace", name, err)
	}
	b.log.WithFields(logging.KubernetesFields("create", "namespace", name, "").ToLogrus()).Info("scope created")
	return nil
}

func (b *basicClient) deleteNamespace(ctx context.Context, name string) error {
	err := b.clientset.CoreV1().Namespaces().Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return sharederrors.NetworkError("delete namespace", name, err)
	}
	return nil
}

func (b *basicClient) applyDeployment(ctx context.Context, spec collaborators.WorkloadSpec) error {
	replicas := int32(spec.Replicas)
	if replicas <= 0 {
		replicas = 1
	}
	labels := map[string]string{"app": spec.Name}
	dep := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: spec.Name, Namespace: spec.Scope, Labels: labels},
		Spec: appsv1.DeploymentSpec{
			Replicas: ptr.To(replicas),
			Selector: &metav1.LabelSelector{MatchLabels: labels},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{{
						Name:  spec.Name,
						Image: spec.Image,
					}},
				},
			},
		},
	}

	deployments := b.clientset.AppsV1().Deployments(spec.Scope)
	existing, err := deployments.Get(ctx, spec.Name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		if _, err := deployments.Create(ctx, dep, metav1.CreateOptions{}); err != nil {
			return sharederrors.NetworkError("create deployment", spec.Scope+"/"+spec.Name, err)
		}
		return nil
	}
	if err != nil {
		return sharederrors.NetworkError("get deployment", spec.Scope+"/"+spec.Name, err)
	}

	dep.ResourceVersion = existing.ResourceVersion
	if _, err := deployments.Update(ctx, dep, metav1.UpdateOptions{}); err != nil {
		return sharederrors.NetworkError("update deployment", spec.Scope+"/"+spec.Name, err)
	}
	return nil
}

func (b *basicClient) deploymentStatus(ctx context.Context, namespace, name string) (collaborators.WorkloadHealth, error) {
	dep, err := b.clientset.AppsV1().Deployments(namespace).Get(ctx, name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return collaborators.WorkloadHealth{}, nil
	}
	if err != nil {
		return collaborators.WorkloadHealth{}, sharederrors.NetworkError("get deployment", namespace+"/"+name, err)
	}
	desired := int32(1)
	if dep.Spec.Replicas != nil {
		desired = *dep.Spec.Replicas
	}
	return collaborators.WorkloadHealth{Desired: int(desired), Ready: int(dep.Status.ReadyReplicas)}, nil
}

func (b *basicClient) restartRollout(ctx context.Context, namespace, name string) error {
	patch := []byte(fmt.Sprintf(
		`{"spec":{"template":{"metadata":{"annotations":{"orchestrator.pluginforge.io/restartedAt":"%s"}}}}}`,
		metav1.Now().Format("2006-01-02T15:04:05Z07:00"),
	))
	_, err := b.clientset.AppsV1().Deployments(namespace).Patch(ctx, name, types.MergePatchType, patch, metav1.PatchOptions{})
	if apierrors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return sharederrors.NetworkError("patch deployment", namespace+"/"+name, err)
	}
	return nil
}

// advancedClient layers strategy-aware rollout on top of basicClient.
// Every strategy currently resolves to the same rolling-restart
// primitive; the split exists so a strategy-specific rollout mechanism
// (e.g. a dedicated rolling-update pacing) has a natural home without
// disturbing basicClient's plain CRUD.
type advancedClient struct {
	*basicClient
}

func (a *advancedClient) rolloutWithStrategy(ctx context.Context, workload collaborators.WorkloadIdentity, hint domain.Strategy) error {
	switch hint {
	case domain.StrategyRolling, domain.StrategyBlueGreen, domain.StrategyCanary, domain.StrategyAB:
		return a.restartRollout(ctx, workload.Scope, workload.Name)
	default:
		return a.restartRollout(ctx, workload.Scope, workload.Name)
	}
}

// WorkloadOrchestrator is the production collaborators.WorkloadOrchestrator.
type WorkloadOrchestrator struct {
	basic    *basicClient
	advanced *advancedClient
	log      *logrus.Entry
}

// NewWorkloadOrchestrator builds a WorkloadOrchestrator from cfg,
// resolving in-cluster config first and falling back to kubeconfig.
func NewWorkloadOrchestrator(cfg Config, log *logrus.Entry) (*WorkloadOrchestrator, error) {
	rc, err := restConfig(cfg)
	if err != nil {
		return nil, sharederrors.FailedToWithDetails("build kubernetes config", "kubernetes", cfg.Context, err)
	}
	clientset, err := kubernetes.NewForConfig(rc)
	if err != nil {
		return nil, sharederrors.FailedToWithDetails("create kubernetes clientset", "kubernetes", "", err)
	}
	return NewWorkloadOrchestratorFromClientset(clientset, log), nil
}

// NewWorkloadOrchestratorFromClientset builds a WorkloadOrchestrator
// around an already-constructed clientset, used in tests with
// k8s.io/client-go/kubernetes/fake.
func NewWorkloadOrchestratorFromClientset(clientset kubernetes.Interface, log *logrus.Entry) *WorkloadOrchestrator {
	basic := newBasicClient(clientset, log)
	return &WorkloadOrchestrator{basic: basic, advanced: &advancedClient{basic}, log: log}
}

func (w *WorkloadOrchestrator) EnsureIsolatedScope(ctx context.Context, name string) error {
	return w.basic.ensureNamespace(ctx, name)
}

func (w *WorkloadOrchestrator) Apply(ctx context.Context, spec collaborators.WorkloadSpec) error {
	return w.basic.applyDeployment(ctx, spec)
}

func (w *WorkloadOrchestrator) Rollout(ctx context.Context, workload collaborators.WorkloadIdentity, strategyHint domain.Strategy) error {
	return w.advanced.rolloutWithStrategy(ctx, workload, strategyHint)
}

func (w *WorkloadOrchestrator) ReadHealth(ctx context.Context, workload collaborators.WorkloadIdentity) (collaborators.WorkloadHealth, error) {
	return w.basic.deploymentStatus(ctx, workload.Scope, workload.Name)
}

func (w *WorkloadOrchestrator) DeleteScope(ctx context.Context, name string) error {
	return w.basic.deleteNamespace(ctx, name)
}
