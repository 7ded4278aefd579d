package portforward

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/stackvista/stackstate-index-cli/internal/k8s"
	"github.com/stackvista/stackstate-index-cli/internal/logger"
)

type fakeForwarder struct {
	stop  chan struct{}
	ready chan struct{}
	err   error
}

func (f *fakeForwarder) PortForwardService(_ context.Context, _, _ string, _, _ int) (chan struct{}, chan struct{}, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.stop, f.ready, nil
}

func testService() *corev1.Service {
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{Name: "es-master", Namespace: "default"},
		Spec:       corev1.ServiceSpec{Selector: map[string]string{"app": "es"}},
	}
}

func TestSetupPortForward_ClusterErrors(t *testing.T) {
	tests := []struct {
		name    string
		objects []runtime.Object
		wantErr string
	}{
		{name: "service not found", wantErr: "failed to get service"},
		{name: "no pods", objects: []runtime.Object{testService()}, wantErr: "no pods found for service es-master"},
		{
			name: "no running pods",
			objects: []runtime.Object{
				testService(),
				&corev1.Pod{
					ObjectMeta: metav1.ObjectMeta{Name: "es-0", Namespace: "default", Labels: map[string]string{"app": "es"}},
					Status:     corev1.PodStatus{Phase: corev1.PodPending},
				},
			},
			wantErr: "no running pods found for service es-master",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := k8s.NewFromClientset(fake.NewSimpleClientset(tt.objects...))

			_, err := SetupPortForward(context.Background(), client, "default", "es-master", 9201, 9200, logger.Discard())
			require.Error(t, err)
			assert.Contains(t, err.Error(), "failed to setup port-forward")
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSetupPortForward_Ready(t *testing.T) {
	ready := make(chan struct{})
	close(ready)
	fwd := &fakeForwarder{stop: make(chan struct{}), ready: ready}

	conn, err := SetupPortForward(context.Background(), fwd, "default", "es-master", 9201, 9200, logger.Discard())
	require.NoError(t, err)
	assert.Equal(t, 9201, conn.LocalPort)
	assert.Equal(t, "http://localhost:9201", conn.URL())

	conn.Close()
	conn.Close()
	select {
	case <-fwd.stop:
	default:
		t.Fatal("expected stop channel to be closed")
	}
}

func TestSetupPortForward_CancelledBeforeReady(t *testing.T) {
	fwd := &fakeForwarder{stop: make(chan struct{}), ready: make(chan struct{})}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := SetupPortForward(ctx, fwd, "default", "es-master", 9201, 9200, logger.Discard())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	select {
	case <-fwd.stop:
	default:
		t.Fatal("expected stop channel to be closed")
	}
}

func TestSetupPortForward_ForwarderError(t *testing.T) {
	fwd := &fakeForwarder{err: fmt.Errorf("boom")}

	_, err := SetupPortForward(context.Background(), fwd, "default", "es-master", 9201, 9200, logger.Discard())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}
