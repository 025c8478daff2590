package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"operatorkit/internal/resource"
	"operatorkit/internal/retry"
)

func TestUpdateControl(t *testing.T) {
	tests := []struct {
		name           string
		control        UpdateControl
		wantResource   bool
		wantStatus     bool
		wantReschedule time.Duration
	}{
		{name: "no update", control: NoUpdate()},
		{name: "resource", control: UpdateResource(), wantResource: true},
		{name: "status", control: UpdateStatus(), wantStatus: true},
		{name: "both", control: UpdateResourceAndStatus(), wantResource: true, wantStatus: true},
		{name: "reschedule", control: UpdateStatus().RescheduleAfter(time.Minute), wantStatus: true, wantReschedule: time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantResource, tt.control.IsUpdateResource())
			assert.Equal(t, tt.wantStatus, tt.control.IsUpdateStatus())
			d, ok := tt.control.ScheduleDelay()
			assert.Equal(t, tt.wantReschedule > 0, ok)
			assert.Equal(t, tt.wantReschedule, d)
		})
	}
}

func TestDeleteControl(t *testing.T) {
	assert.True(t, DefaultDelete().IsRemoveFinalizer())

	keep := NoFinalizerRemoval().RescheduleAfter(5 * time.Second)
	assert.False(t, keep.IsRemoveFinalizer())
	d, ok := keep.ScheduleDelay()
	assert.True(t, ok)
	assert.Equal(t, 5*time.Second, d)
}

func TestFunc(t *testing.T) {
	var called bool
	var r Reconciler = Func(func(ctx context.Context, primary client.Object, rc *Context) (UpdateControl, error) {
		called = true
		return UpdateStatus(), nil
	})

	uc, err := r.Reconcile(context.Background(), &corev1.ConfigMap{}, NewContext(resource.New("a", "ns"), "x", nil, nil, nil))
	require.NoError(t, err)
	assert.True(t, called)
	assert.True(t, uc.IsUpdateStatus())
}

type stubSource struct{ name string }

func (s stubSource) GetSecondaryResource(_ context.Context, primary client.Object, into client.Object) (bool, error) {
	into.SetName(primary.GetName() + "-" + s.name)
	return true, nil
}

func TestContext(t *testing.T) {
	exec := retry.Default().InitExecution()
	_, _ = exec.NextDelay()

	rc := NewContext(resource.New("web", "default"), "exec-1", nil, exec, map[string]SecondarySource{
		"html": stubSource{name: "html"},
	})

	assert.Equal(t, resource.New("web", "default"), rc.ID())
	assert.Equal(t, "exec-1", rc.ExecutionID())

	info, ok := rc.RetryInfo()
	require.True(t, ok)
	assert.Equal(t, 1, info.Attempt())
	assert.False(t, info.IsLastAttempt())

	primary := &corev1.ConfigMap{ObjectMeta: metav1.ObjectMeta{Name: "web", Namespace: "default"}}
	into := &corev1.ConfigMap{}
	found, err := rc.SecondaryResource(context.Background(), "html", primary, into)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "web-html", into.Name)

	found, err = rc.SecondaryResource(context.Background(), "htlm", primary, into)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"htlm"`)
	assert.False(t, found)
}

func TestContext_NoRetryInfoOnFirstAttempt(t *testing.T) {
	rc := NewContext(resource.New("a", "ns"), "x", nil, nil, nil)
	_, ok := rc.RetryInfo()
	assert.False(t, ok)
}

func TestContext_ConcurrentValues(t *testing.T) {
	rc := NewContext(resource.New("a", "ns"), "x", nil, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rc.Put(i, i*i)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 50; i++ {
		v, ok := rc.Get(i)
		require.True(t, ok)
		assert.Equal(t, i*i, v)
	}
}
