package webpage

import (
	"embed"
	"fmt"
	"strconv"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/yaml"
)

//go:embed manifests/*.yaml
var manifests embed.FS

const indexHTML = "index.html"

func decode[T any](file string) (*T, error) {
	data, err := manifests.ReadFile("manifests/" + file)
	if err != nil {
		return nil, err
	}
	var obj T
	if err := yaml.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", file, err)
	}
	return &obj, nil
}

func selectorLabels(page *corev1.ConfigMap) map[string]string {
	return map[string]string{"app": page.Name}
}

// HTMLConfigMap is the ConfigMap served by nginx.
func HTMLConfigMap(page *corev1.ConfigMap) *corev1.ConfigMap {
	return &corev1.ConfigMap{
		ObjectMeta: objectMeta(page, page.Name+"-html"),
		Data:       map[string]string{indexHTML: page.Data[KeyHTML]},
	}
}

// Deployment runs nginx with the page's HTML mounted.
func Deployment(page *corev1.ConfigMap) (*appsv1.Deployment, error) {
	d, err := decode[appsv1.Deployment]("deployment.yaml")
	if err != nil {
		return nil, err
	}

	replicas, err := Replicas(page)
	if err != nil {
		return nil, err
	}

	d.ObjectMeta = objectMeta(page, page.Name)
	d.Spec.Replicas = ptr.To(replicas)
	d.Spec.Selector.MatchLabels = selectorLabels(page)
	d.Spec.Template.Labels = selectorLabels(page)
	d.Spec.Template.Spec.Volumes[0].ConfigMap.Name = page.Name + "-html"
	return d, nil
}

// Service exposes the Deployment inside the cluster.
func Service(page *corev1.ConfigMap) (*corev1.Service, error) {
	s, err := decode[corev1.Service]("service.yaml")
	if err != nil {
		return nil, err
	}
	s.ObjectMeta = objectMeta(page, page.Name)
	s.Spec.Selector = selectorLabels(page)
	return s, nil
}

// Ingress routes the page's host to the Service.
func Ingress(page *corev1.ConfigMap) (*networkingv1.Ingress, error) {
	ing, err := decode[networkingv1.Ingress]("ingress.yaml")
	if err != nil {
		return nil, err
	}
	ing.ObjectMeta = objectMeta(page, page.Name)

	host := page.Data[KeyHost]
	if host == "" {
		host = page.Name + ".local"
	}
	rule := &ing.Spec.Rules[0]
	rule.Host = host
	rule.HTTP.Paths[0].Backend.Service.Name = page.Name
	return ing, nil
}

// Replicas returns the replica count requested by the page, 1 by default.
func Replicas(page *corev1.ConfigMap) (int32, error) {
	raw, ok := page.Data[KeyReplicas]
	if !ok || raw == "" {
		return 1, nil
	}
	n, err := strconv.ParseInt(raw, 10, 32)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q: must be a non-negative integer", KeyReplicas, raw)
	}
	return int32(n), nil
}
