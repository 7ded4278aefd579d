package portforward

import (
	"context"
	"fmt"

	"github.com/stackvista/stackstate-index-cli/internal/k8s"
	"github.com/stackvista/stackstate-index-cli/internal/logger"
)

// Forwarder opens a port-forward to a service; *k8s.Client implements it.
type Forwarder interface {
	PortForwardService(ctx context.Context, namespace, serviceName string, localPort, remotePort int) (chan struct{}, chan struct{}, error)
}

var _ Forwarder = (*k8s.Client)(nil)

// Conn is an established port-forward
type Conn struct {
	stopChan  chan struct{}
	LocalPort int
}

// URL returns the address of the forwarded cluster
func (c *Conn) URL() string {
	return fmt.Sprintf("http://localhost:%d", c.LocalPort)
}

// Close stops the port-forward. It is safe to call more than once.
func (c *Conn) Close() {
	if c.stopChan == nil {
		return
	}
	close(c.stopChan)
	c.stopChan = nil
}

// SetupPortForward establishes a port-forward to the cluster service and waits
// until it is ready or ctx is done. The caller closes the returned Conn.
func SetupPortForward(
	ctx context.Context,
	forwarder Forwarder,
	namespace string,
	serviceName string,
	localPort int,
	remotePort int,
	log *logger.Logger,
) (*Conn, error) {
	log.Infof("Setting up port-forward to %s:%d in namespace %s...", serviceName, remotePort, namespace)

	stopChan, readyChan, err := forwarder.PortForwardService(ctx, namespace, serviceName, localPort, remotePort)
	if err != nil {
		return nil, fmt.Errorf("failed to setup port-forward: %w", err)
	}

	select {
	case <-readyChan:
	case <-ctx.Done():
		close(stopChan)
		return nil, fmt.Errorf("port-forward to %s not ready: %w", serviceName, ctx.Err())
	}

	log.Successf("Port-forward established successfully")

	return &Conn{
		stopChan:  stopChan,
		LocalPort: localPort,
	}, nil
}
