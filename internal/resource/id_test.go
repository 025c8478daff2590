package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
)

func TestID_String(t *testing.T) {
	tests := []struct {
		name     string
		id       ID
		expected string
	}{
		{name: "namespaced", id: New("web", "default"), expected: "default/web"},
		{name: "cluster scoped", id: ClusterScoped("node-1"), expected: "node-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.id.String())
		})
	}
}

func TestID_Equality(t *testing.T) {
	m := map[ID]int{}
	m[New("a", "ns")] = 1
	m[New("a", "ns")]++
	m[ClusterScoped("a")] = 10

	assert.Equal(t, 2, m[New("a", "ns")])
	assert.Equal(t, 10, m[ClusterScoped("a")])
	assert.Len(t, m, 2)
}

func TestFromObject(t *testing.T) {
	cm := &corev1.ConfigMap{ObjectMeta: metav1.ObjectMeta{Name: "page", Namespace: "web"}}

	id := FromObject(cm)
	assert.Equal(t, New("page", "web"), id)
	assert.False(t, id.IsClusterScoped())
	assert.Equal(t, types.NamespacedName{Name: "page", Namespace: "web"}, id.NamespacedName())
	assert.Equal(t, id, FromNamespacedName(id.NamespacedName()))
}
