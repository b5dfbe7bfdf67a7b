// Package kubernetes provisions one scan engine per task as a single-replica
// Deployment fronted by a LoadBalancer Service.
package kubernetes

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/client-go/kubernetes"

	"github.com/ahrav/vulnscan-armada/internal/domain/deployment"
	"github.com/ahrav/vulnscan-armada/pkg/common/logger"
)

var _ deployment.Provider = (*Provider)(nil)

const (
	nameLabel       = "app.kubernetes.io/name"
	managedByLabel  = "app.kubernetes.io/managed-by"
	managedByValue  = "vulnscan-armada"
	scannersTaint   = "Scanners"
	controlPortName = "omp"
)

// Config describes the engine workload and where it is created.
type Config struct {
	Namespace   string
	Image       string
	ControlPort int32
	ServicePort int32
	CPULimit    string
	MemoryLimit string
	// IDPrefix is prepended to generated deployment identifiers.
	IDPrefix string
}

// DefaultConfig returns the engine workload defaults.
func DefaultConfig() Config {
	return Config{
		Namespace:   "default",
		Image:       "mikesplain/openvas:9",
		ControlPort: 9390,
		ServicePort: 443,
		CPULimit:    "400m",
		MemoryLimit: "800Mi",
		IDPrefix:    "pre",
	}
}

// Provider implements deployment.Provider on a Kubernetes cluster.
type Provider struct {
	client kubernetes.Interface
	cfg    Config

	logger *logger.Logger
	tracer trace.Tracer
}

// NewProvider creates a Provider. The resource quantities in cfg are
// validated up front so that Create never fails on them.
func NewProvider(client kubernetes.Interface, cfg Config, logger *logger.Logger, tracer trace.Tracer) (*Provider, error) {
	if client == nil {
		return nil, errors.New("kubernetes client is required")
	}
	if cfg.Namespace == "" {
		return nil, errors.New("namespace is required")
	}
	if _, err := resource.ParseQuantity(cfg.CPULimit); err != nil {
		return nil, fmt.Errorf("invalid cpu limit %q: %w", cfg.CPULimit, err)
	}
	if _, err := resource.ParseQuantity(cfg.MemoryLimit); err != nil {
		return nil, fmt.Errorf("invalid memory limit %q: %w", cfg.MemoryLimit, err)
	}

	return &Provider{
		client: client,
		cfg:    cfg,
		logger: logger.With("component", "kubernetes_provider", "namespace", cfg.Namespace),
		tracer: tracer,
	}, nil
}

// Create ensures the Deployment and Service for id exist and reports their
// state. An empty id allocates a new one. The returned Info carries the id
// even on error so the caller can record it and clean up later.
func (p *Provider) Create(ctx context.Context, id string) (deployment.Info, error) {
	if id == "" {
		id = p.cfg.IDPrefix + uuid.NewString()
	}
	pending := deployment.Info{ID: id, Status: deployment.StatusWaiting}

	ctx, span := p.tracer.Start(ctx, "kubernetes_provider.create",
		trace.WithAttributes(attribute.String("deployment_id", id)))
	defer span.End()

	info, err := p.describe(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read deployment")
		return pending, err
	}
	if info.Status != deployment.StatusNotExist {
		return info, nil
	}

	if err := p.ensureDeployment(ctx, id); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create deployment")
		return pending, err
	}
	if err := p.ensureService(ctx, id); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create service")
		if derr := p.deleteDeployment(ctx, id); derr != nil {
			p.logger.Warn(ctx, "Failed to roll back deployment", "deployment_id", id, "error", derr)
		}
		return pending, err
	}
	span.AddEvent("resources_created")
	p.logger.Info(ctx, "Scanner deployment created", "deployment_id", id, "image", p.cfg.Image)

	info, err = p.describe(ctx, id)
	if err != nil {
		return pending, err
	}
	if info.Status == deployment.StatusNotExist {
		info.Status = deployment.StatusWaiting
	}
	return info, nil
}

// Delete removes the Service and Deployment of id. Missing resources are ignored.
func (p *Provider) Delete(ctx context.Context, id string) error {
	ctx, span := p.tracer.Start(ctx, "kubernetes_provider.delete",
		trace.WithAttributes(attribute.String("deployment_id", id)))
	defer span.End()

	svcErr := p.client.CoreV1().Services(p.cfg.Namespace).Delete(ctx, id, metav1.DeleteOptions{})
	if svcErr != nil && !apierrors.IsNotFound(svcErr) {
		svcErr = fmt.Errorf("delete service %s: %w", id, svcErr)
	} else {
		svcErr = nil
	}

	depErr := p.deleteDeployment(ctx, id)

	if err := errors.Join(svcErr, depErr); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to delete deployment")
		return err
	}
	return nil
}

// IsReady reports whether the engine behind id is reachable.
func (p *Provider) IsReady(ctx context.Context, id string) (bool, error) {
	info, err := p.describe(ctx, id)
	if err != nil {
		return false, err
	}
	return info.Ready(), nil
}

// describe derives the deployment status from the Deployment's available
// replicas and the Service's load balancer ingress.
func (p *Provider) describe(ctx context.Context, id string) (deployment.Info, error) {
	info := deployment.Info{ID: id, Status: deployment.StatusNotExist}

	dep, err := p.client.AppsV1().Deployments(p.cfg.Namespace).Get(ctx, id, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return info, nil
		}
		return deployment.Info{}, fmt.Errorf("get deployment %s: %w", id, err)
	}

	svc, err := p.client.CoreV1().Services(p.cfg.Namespace).Get(ctx, id, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return info, nil
		}
		return deployment.Info{}, fmt.Errorf("get service %s: %w", id, err)
	}

	info.Status = deployment.StatusWaiting
	if ingress := svc.Status.LoadBalancer.Ingress; len(ingress) > 0 {
		info.Host = ingress[0].IP
		if info.Host == "" {
			info.Host = ingress[0].Hostname
		}
	}
	if len(svc.Spec.Ports) > 0 {
		info.Port = int(svc.Spec.Ports[0].Port)
	}
	if dep.Status.AvailableReplicas > 0 && info.Host != "" && info.Port > 0 {
		info.Status = deployment.StatusRunning
	}
	return info, nil
}

func (p *Provider) ensureDeployment(ctx context.Context, id string) error {
	_, err := p.client.AppsV1().Deployments(p.cfg.Namespace).Create(ctx, p.deploymentSpec(id), metav1.CreateOptions{})
	if err != nil && !apierrors.IsAlreadyExists(err) {
		return fmt.Errorf("create deployment %s: %w", id, err)
	}
	return nil
}

func (p *Provider) ensureService(ctx context.Context, id string) error {
	_, err := p.client.CoreV1().Services(p.cfg.Namespace).Create(ctx, p.serviceSpec(id), metav1.CreateOptions{})
	if err != nil && !apierrors.IsAlreadyExists(err) {
		return fmt.Errorf("create service %s: %w", id, err)
	}
	return nil
}

func (p *Provider) deleteDeployment(ctx context.Context, id string) error {
	err := p.client.AppsV1().Deployments(p.cfg.Namespace).Delete(ctx, id, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("delete deployment %s: %w", id, err)
	}
	return nil
}

func (p *Provider) labels(id string) map[string]string {
	return map[string]string{nameLabel: id, managedByLabel: managedByValue}
}

func (p *Provider) deploymentSpec(id string) *appsv1.Deployment {
	replicas := int32(1)
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: id, Namespace: p.cfg.Namespace, Labels: p.labels(id)},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{MatchLabels: map[string]string{nameLabel: id}},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: p.labels(id)},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{{
						Name:            "engine",
						Image:           p.cfg.Image,
						ImagePullPolicy: corev1.PullIfNotPresent,
						Ports: []corev1.ContainerPort{{
							Name:          controlPortName,
							ContainerPort: p.cfg.ControlPort,
							Protocol:      corev1.ProtocolTCP,
						}},
						Resources: corev1.ResourceRequirements{
							Limits: corev1.ResourceList{
								corev1.ResourceCPU:    resource.MustParse(p.cfg.CPULimit),
								corev1.ResourceMemory: resource.MustParse(p.cfg.MemoryLimit),
							},
						},
					}},
					Tolerations: []corev1.Toleration{{
						Key:      scannersTaint,
						Operator: corev1.TolerationOpExists,
						Effect:   corev1.TaintEffectNoSchedule,
					}},
				},
			},
		},
	}
}

func (p *Provider) serviceSpec(id string) *corev1.Service {
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{Name: id, Namespace: p.cfg.Namespace, Labels: p.labels(id)},
		Spec: corev1.ServiceSpec{
			Type:     corev1.ServiceTypeLoadBalancer,
			Selector: map[string]string{nameLabel: id},
			Ports: []corev1.ServicePort{{
				Name:       controlPortName,
				Port:       p.cfg.ServicePort,
				TargetPort: intstr.FromInt32(p.cfg.ControlPort),
				Protocol:   corev1.ProtocolTCP,
			}},
		},
	}
}
