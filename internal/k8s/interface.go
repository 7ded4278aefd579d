package k8s

import (
	"context"

	"k8s.io/client-go/kubernetes"
)

// Interface is the Kubernetes surface the commands depend on
type Interface interface {
	Clientset() kubernetes.Interface
	PortForwardService(ctx context.Context, namespace, serviceName string, localPort, remotePort int) (stopChan chan struct{}, readyChan chan struct{}, err error)
	Scaler
}

var _ Interface = (*Client)(nil)
