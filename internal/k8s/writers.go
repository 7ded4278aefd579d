package k8s

import (
	"context"
	"fmt"

	"github.com/stackvista/stackstate-index-cli/internal/logger"
)

// Scaler scales deployments down and back up.
type Scaler interface {
	ScaleDownDeployments(ctx context.Context, namespace, labelSelector string) ([]DeploymentScale, error)
	ScaleUpDeployments(ctx context.Context, namespace string, deployments []DeploymentScale) error
}

// PauseWriters scales the deployments writing to an index down to zero and
// returns the function restoring their replica counts. Deployments already
// scaled down when an error occurs are restored before returning.
func PauseWriters(ctx context.Context, scaler Scaler, namespace, labelSelector string, log *logger.Logger) (func() error, error) {
	if labelSelector == "" {
		return nil, fmt.Errorf("no writer label selector configured (reindex.writersLabelSelector)")
	}

	log.Infof("Pausing writers matching %s in namespace %s...", labelSelector, namespace)
	scales, err := scaler.ScaleDownDeployments(ctx, namespace, labelSelector)
	if err != nil {
		if len(scales) > 0 {
			if restoreErr := scaler.ScaleUpDeployments(context.WithoutCancel(ctx), namespace, scales); restoreErr != nil {
				log.Errorf("Failed to restore writers: %v", restoreErr)
			}
		}
		return nil, fmt.Errorf("failed to pause writers: %w", err)
	}

	if len(scales) == 0 {
		log.Warningf("No deployments match %s", labelSelector)
	}
	for _, s := range scales {
		log.Debugf("Paused %s (was %d replicas)", s.Name, s.Replicas)
	}
	log.Successf("Paused %d writer deployment(s)", len(scales))

	return func() error {
		log.Infof("Resuming %d writer deployment(s)...", len(scales))
		if err := scaler.ScaleUpDeployments(context.WithoutCancel(ctx), namespace, scales); err != nil {
			return fmt.Errorf("failed to resume writers: %w", err)
		}
		log.Successf("Writers resumed")
		return nil
	}, nil
}
