package k8s

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/client-go/tools/portforward"
	"k8s.io/client-go/transport/spdy"
)

// PortForwardService forwards localPort to remotePort on a running pod backing
// serviceName
func (c *Client) PortForwardService(ctx context.Context, namespace, serviceName string, localPort, remotePort int) (chan struct{}, chan struct{}, error) {
	pod, err := c.servicePod(ctx, namespace, serviceName)
	if err != nil {
		return nil, nil, err
	}
	return c.PortForwardPod(namespace, pod, localPort, remotePort)
}

// servicePod picks a pod selected by the service, preferring ready pods over
// pods that are merely running
func (c *Client) servicePod(ctx context.Context, namespace, serviceName string) (string, error) {
	svc, err := c.clientset.CoreV1().Services(namespace).Get(ctx, serviceName, metav1.GetOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to get service %s: %w", serviceName, err)
	}

	pods, err := c.clientset.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: labels.SelectorFromSet(svc.Spec.Selector).String(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to list pods of service %s: %w", serviceName, err)
	}
	if len(pods.Items) == 0 {
		return "", fmt.Errorf("no pods found for service %s", serviceName)
	}

	running := ""
	for _, pod := range pods.Items {
		if pod.Status.Phase != corev1.PodRunning {
			continue
		}
		if podReady(pod) {
			return pod.Name, nil
		}
		if running == "" {
			running = pod.Name
		}
	}
	if running == "" {
		return "", fmt.Errorf("no running pods found for service %s", serviceName)
	}
	return running, nil
}

func podReady(pod corev1.Pod) bool {
	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.PodReady {
			return cond.Status == corev1.ConditionTrue
		}
	}
	return false
}

// PortForwardPod forwards localPort to remotePort on podName. Closing the
// returned stop channel ends the forward; the ready channel closes once it
// accepts connections.
func (c *Client) PortForwardPod(namespace, podName string, localPort, remotePort int) (chan struct{}, chan struct{}, error) {
	if c.restConfig == nil {
		return nil, nil, fmt.Errorf("port-forward to %s/%s needs a kubeconfig", namespace, podName)
	}

	target, err := url.Parse(c.restConfig.Host)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid API server host %q: %w", c.restConfig.Host, err)
	}
	target.Path = fmt.Sprintf("/api/v1/namespaces/%s/pods/%s/portforward", namespace, podName)

	transport, upgrader, err := spdy.RoundTripperFor(c.restConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create round tripper: %w", err)
	}
	dialer := spdy.NewDialer(upgrader, &http.Client{Transport: transport}, http.MethodPost, target)

	var out, errOut io.Writer = io.Discard, io.Discard
	if c.debug {
		out, errOut = os.Stdout, os.Stderr
	}

	stop := make(chan struct{}, 1)
	ready := make(chan struct{})
	fw, err := portforward.New(dialer, []string{fmt.Sprintf("%d:%d", localPort, remotePort)}, stop, ready, out, errOut)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create port forwarder: %w", err)
	}

	go func() {
		if err := fw.ForwardPorts(); err != nil && c.debug {
			fmt.Fprintf(os.Stderr, "port-forward to %s/%s ended: %v\n", namespace, podName, err)
		}
	}()
	return stop, ready, nil
}
