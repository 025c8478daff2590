package source

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/rest"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/cache"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"operatorkit/pkg/logging"
)

// Cluster owns the controller-runtime cache whose informers back the
// Informer sources of an operator, and a client that reads from it.
//
// Informers are created lazily by Informer and start delivering events once
// Start has synced the cache.
type Cluster struct {
	mu sync.RWMutex

	// restConfig is the Kubernetes REST configuration
	restConfig *rest.Config

	// namespaces restricts the cache; empty watches all namespaces
	namespaces []string

	scheme *runtime.Scheme
	cache  cache.Cache
	client client.Client

	cancel  context.CancelFunc
	running bool
}

// NewCluster creates the cache and client for restConfig.
func NewCluster(restConfig *rest.Config, scheme *runtime.Scheme, namespaces ...string) (*Cluster, error) {
	if restConfig == nil {
		return nil, errors.New("rest config is required")
	}
	if scheme == nil {
		return nil, errors.New("scheme is required")
	}

	cacheOpts := cache.Options{Scheme: scheme}
	if len(namespaces) > 0 {
		cacheOpts.DefaultNamespaces = make(map[string]cache.Config, len(namespaces))
		for _, ns := range namespaces {
			cacheOpts.DefaultNamespaces[ns] = cache.Config{}
		}
	}

	c, err := cache.New(restConfig, cacheOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}

	cl, err := client.New(restConfig, client.Options{
		Scheme: scheme,
		Cache:  &client.CacheOptions{Reader: c},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	return &Cluster{
		restConfig: restConfig,
		namespaces: namespaces,
		scheme:     scheme,
		cache:      c,
		client:     cl,
	}, nil
}

// Informer returns the shared informer for the kind of obj.
func (c *Cluster) Informer(ctx context.Context, obj client.Object) (Registrar, error) {
	inf, err := c.cache.GetInformer(ctx, obj)
	if err != nil {
		return nil, fmt.Errorf("failed to get informer for %T: %w", obj, err)
	}
	return inf, nil
}

// Client returns a client whose reads are served from the cache.
func (c *Cluster) Client() client.Client { return c.client }

// Reader returns the cache as a reader.
func (c *Cluster) Reader() client.Reader { return c.cache }

// Scheme returns the scheme the cache was built with.
func (c *Cluster) Scheme() *runtime.Scheme { return c.scheme }

// Start runs the cache and waits for every informer to sync.
func (c *Cluster) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.running = true
	c.mu.Unlock()

	go func() {
		if err := c.cache.Start(ctx); err != nil {
			logging.Error("Source", err, "Cache stopped with error")
		}
	}()

	if !c.cache.WaitForCacheSync(ctx) {
		c.Stop()
		return errors.New("failed to sync cache")
	}

	logging.Info("Source", "Cache synced, watching %s", c.namespaceDisplay())
	return nil
}

// Stop stops the cache and its informers.
func (c *Cluster) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return
	}
	c.running = false
	c.cancel()
	logging.Info("Source", "Stopped cache")
}

func (c *Cluster) namespaceDisplay() string {
	if len(c.namespaces) == 0 {
		return "all namespaces"
	}
	return fmt.Sprintf("namespaces %v", c.namespaces)
}

// RestConfig resolves the Kubernetes REST configuration from the
// environment, kubeconfig or in-cluster service account.
func RestConfig() (*rest.Config, error) {
	return ctrl.GetConfig()
}
