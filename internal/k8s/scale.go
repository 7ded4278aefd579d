package k8s

import (
	"context"
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
)

// DeploymentScale records the replica count a deployment had before it was paused
type DeploymentScale struct {
	Name     string
	Replicas int32
}

// ScaleDownDeployments scales every deployment matching labelSelector to zero
// and returns the replica counts they had. On error the returned slice holds the
// deployments handled so far.
func (c *Client) ScaleDownDeployments(ctx context.Context, namespace, labelSelector string) ([]DeploymentScale, error) {
	list, err := c.clientset.AppsV1().Deployments(namespace).List(ctx, metav1.ListOptions{LabelSelector: labelSelector})
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments matching %s: %w", labelSelector, err)
	}

	scales := make([]DeploymentScale, 0, len(list.Items))
	for _, d := range list.Items {
		var replicas int32
		if d.Spec.Replicas != nil {
			replicas = *d.Spec.Replicas
		}
		scales = append(scales, DeploymentScale{Name: d.Name, Replicas: replicas})
		if replicas == 0 {
			continue
		}
		if err := c.setReplicas(ctx, namespace, d.Name, 0); err != nil {
			return scales, fmt.Errorf("failed to scale down deployment %s: %w", d.Name, err)
		}
	}
	return scales, nil
}

// ScaleUpDeployments restores the recorded replica counts
func (c *Client) ScaleUpDeployments(ctx context.Context, namespace string, scales []DeploymentScale) error {
	for _, s := range scales {
		if err := c.setReplicas(ctx, namespace, s.Name, s.Replicas); err != nil {
			return fmt.Errorf("failed to scale up deployment %s: %w", s.Name, err)
		}
	}
	return nil
}

func (c *Client) setReplicas(ctx context.Context, namespace, name string, replicas int32) error {
	patch := fmt.Sprintf(`{"spec":{"replicas":%d}}`, replicas)
	_, err := c.clientset.AppsV1().Deployments(namespace).Patch(ctx, name, types.MergePatchType, []byte(patch), metav1.PatchOptions{})
	return err
}
