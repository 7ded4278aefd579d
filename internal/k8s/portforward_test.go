package k8s

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
)

func esService() *corev1.Service {
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{Name: "es-master", Namespace: "obs"},
		Spec:       corev1.ServiceSpec{Selector: map[string]string{"app": "es"}},
	}
}

func esPod(name string, phase corev1.PodPhase, ready bool) *corev1.Pod {
	status := corev1.ConditionFalse
	if ready {
		status = corev1.ConditionTrue
	}
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "obs", Labels: map[string]string{"app": "es"}},
		Status: corev1.PodStatus{
			Phase:      phase,
			Conditions: []corev1.PodCondition{{Type: corev1.PodReady, Status: status}},
		},
	}
}

func TestClient_ServicePod(t *testing.T) {
	tests := []struct {
		name    string
		objects []runtime.Object
		want    string
		wantErr string
	}{
		{name: "missing service", wantErr: "failed to get service es-master"},
		{name: "no pods", objects: []runtime.Object{esService()}, wantErr: "no pods found for service es-master"},
		{
			name:    "nothing running",
			objects: []runtime.Object{esService(), esPod("es-0", corev1.PodPending, false)},
			wantErr: "no running pods found for service es-master",
		},
		{
			name:    "running but not ready",
			objects: []runtime.Object{esService(), esPod("es-0", corev1.PodPending, false), esPod("es-1", corev1.PodRunning, false)},
			want:    "es-1",
		},
		{
			name: "ready preferred",
			objects: []runtime.Object{
				esService(),
				esPod("es-0", corev1.PodRunning, false),
				esPod("es-1", corev1.PodRunning, true),
			},
			want: "es-1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewFromClientset(fake.NewSimpleClientset(tt.objects...))

			pod, err := client.servicePod(context.Background(), "obs", "es-master")
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, pod)
		})
	}
}

func TestClient_PortForwardService_WithoutRestConfig(t *testing.T) {
	client := NewFromClientset(fake.NewSimpleClientset(esService(), esPod("es-0", corev1.PodRunning, true)))

	_, _, err := client.PortForwardService(context.Background(), "obs", "es-master", 9201, 9200)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "obs/es-0 needs a kubeconfig")
}
