// Package kube builds Kubernetes API clients for the controller.
package kube

import (
	"fmt"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// NewClient returns a clientset for the cluster the process runs in. Outside
// a cluster it falls back to kubeconfigPath, or the default kubeconfig when
// the path is empty.
func NewClient(kubeconfigPath string) (kubernetes.Interface, error) {
	// First try in-cluster config (when running in k8s).
	config, err := rest.InClusterConfig()
	if err == nil {
		return kubernetes.NewForConfig(config)
	}

	if kubeconfigPath == "" {
		kubeconfigPath = clientcmd.RecommendedHomeFile
	}
	config, err = clientcmd.BuildConfigFromFlags("", kubeconfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get kubeconfig: %w", err)
	}

	return kubernetes.NewForConfig(config)
}
