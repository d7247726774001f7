package metrics

import (
	"context"
	"time"

	"github.com/cuemby/burrow/pkg/storage"
)

const collectPageSize = 500

// Collector periodically refreshes entity gauges from the store
type Collector struct {
	store  storage.Store
	stopCh chan struct{}
}

// NewCollector creates a metrics collector backed by the given store
func NewCollector(store storage.Store) *Collector {
	return &Collector{
		store:  store,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics every 15 seconds
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c.collectEntityMetrics(ctx)
	c.collectHostnameMetrics(ctx)
}

func (c *Collector) collectEntityMetrics(ctx context.Context) {
	tenants := 0
	workers := 0

	cursor := ""
	for {
		page, next, err := c.store.ListTenants(ctx, storage.ListOptions{Limit: collectPageSize, Cursor: cursor})
		if err != nil {
			return
		}
		tenants += len(page)

		for _, tenant := range page {
			n, err := c.countWorkers(ctx, tenant.ID)
			if err != nil {
				return
			}
			workers += n
		}

		if next == "" {
			break
		}
		cursor = next
	}

	TenantsTotal.Set(float64(tenants))
	WorkersTotal.Set(float64(workers))

	templates := 0
	cursor = ""
	for {
		page, next, err := c.store.ListTemplates(ctx, storage.ListOptions{Limit: collectPageSize, Cursor: cursor})
		if err != nil {
			return
		}
		templates += len(page)
		if next == "" {
			break
		}
		cursor = next
	}
	TemplatesTotal.Set(float64(templates))
}

func (c *Collector) countWorkers(ctx context.Context, tenantID string) (int, error) {
	count := 0
	cursor := ""
	for {
		page, next, err := c.store.ListWorkers(ctx, tenantID, storage.ListOptions{Limit: collectPageSize, Cursor: cursor})
		if err != nil {
			return 0, err
		}
		count += len(page)
		if next == "" {
			return count, nil
		}
		cursor = next
	}
}

func (c *Collector) collectHostnameMetrics(ctx context.Context) {
	routes, err := c.store.ListRoutes(ctx)
	if err != nil {
		return
	}
	HostnamesTotal.Set(float64(len(routes)))
}
