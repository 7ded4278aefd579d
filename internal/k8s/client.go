// Package k8s provides the Kubernetes side of the tool: reading configuration,
// port-forwarding to the Elasticsearch service and pausing writer deployments
// while an index is copied.
package k8s

import (
	"fmt"
	"os"
	"path/filepath"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// Client wraps a clientset and, when built from a kubeconfig, the rest config
// needed for port-forwarding
type Client struct {
	clientset  kubernetes.Interface
	restConfig *rest.Config
	debug      bool
}

// NewClient builds a client from kubeconfigPath, or from ~/.kube/config when
// the path is empty
func NewClient(kubeconfigPath string, debug bool) (*Client, error) {
	if kubeconfigPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to locate kubeconfig: %w", err)
		}
		kubeconfigPath = filepath.Join(home, ".kube", "config")
	}

	restConfig, err := clientcmd.BuildConfigFromFlags("", kubeconfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load kubeconfig %s: %w", kubeconfigPath, err)
	}
	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create clientset: %w", err)
	}
	return &Client{clientset: clientset, restConfig: restConfig, debug: debug}, nil
}

// NewFromClientset wraps an existing clientset. Port-forwarding needs a rest
// config and is unavailable on such a client.
func NewFromClientset(clientset kubernetes.Interface) *Client {
	return &Client{clientset: clientset}
}

// Clientset returns the underlying clientset
func (c *Client) Clientset() kubernetes.Interface {
	return c.clientset
}
