package collector

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"orbit-metrics/config"
	"orbit-metrics/metrics"
	"orbit-metrics/rpc"
)

// ClientFactory creates the API client of one node.
type ClientFactory func(ctx context.Context, node config.Node) APIClient

// NewClientFactory returns a factory building rpc clients with the fetch
// settings of cfg and request metrics recorded in m.
func NewClientFactory(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) ClientFactory {
	return func(ctx context.Context, node config.Node) APIClient {
		return rpc.NewClient(ctx, node.Name, node.URLs(), rpc.Options{
			Timeout:     cfg.RequestTimeoutDuration(),
			MaxAttempts: cfg.MaxRetries,
			Backoff:     cfg.RetryBackoffDuration(),
			Observer:    m.RequestObserver(node.Name),
			Logger:      logger,
		})
	}
}

// Driver runs collection cycles across every configured node.
type Driver struct {
	nodes          []config.Node
	newClient      ClientFactory
	metrics        *metrics.Metrics
	logger         *slog.Logger
	maxConcurrency int
	perCycle       bool

	mu      sync.Mutex
	clients map[string]APIClient
}

func NewDriver(cfg *config.Config, newClient ClientFactory, m *metrics.Metrics, logger *slog.Logger) *Driver {
	return &Driver{
		nodes:          cfg.Nodes,
		newClient:      newClient,
		metrics:        m,
		logger:         logger.With("component", "driver"),
		maxConcurrency: cfg.MaxConcurrency,
		perCycle:       cfg.ClientLifecycle == config.LifecyclePerCycle,
		clients:        make(map[string]APIClient, len(cfg.Nodes)),
	}
}

// client returns the node's long-lived client, creating it on first use. In
// per-cycle mode every call creates a new one.
func (d *Driver) client(ctx context.Context, node config.Node) APIClient {
	if d.perCycle {
		return d.newClient(ctx, node)
	}

	d.mu.Lock()
	c, ok := d.clients[node.Name]
	d.mu.Unlock()
	if ok {
		return c
	}

	c = d.newClient(ctx, node)

	d.mu.Lock()
	d.clients[node.Name] = c
	d.mu.Unlock()
	return c
}

// RunCycle collects every node once, at most maxConcurrency at a time, and
// returns the per-node results in configuration order.
func (d *Driver) RunCycle(ctx context.Context) []Result {
	start := time.Now()
	d.logger.Info("Starting metrics collection cycle", "nodes", len(d.nodes))

	results := make([]Result, len(d.nodes))
	var g errgroup.Group
	g.SetLimit(d.maxConcurrency)
	for i, node := range d.nodes {
		i, node := i, node
		g.Go(func() error {
			results[i] = d.collectNode(ctx, node)
			return nil
		})
	}
	_ = g.Wait()

	duration := time.Since(start)
	d.metrics.LastScrapeDuration.Set(duration.Seconds())

	up := 0
	for _, r := range results {
		if r.Up() {
			up++
		}
	}
	d.logger.Info("Metrics collection cycle completed",
		"duration", duration.String(),
		"nodes", len(d.nodes),
		"nodes_up", up,
	)
	return results
}

func (d *Driver) collectNode(ctx context.Context, node config.Node) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Panic while collecting node", "chain", node.Name, "panic", r)
			d.metrics.ScrapeFailures.WithLabelValues(node.Name).Inc()
			d.metrics.Up.WithLabelValues(node.Name).Set(0)
			res = Result{Node: node.Name, Failed: []string{"node"}}
		}
	}()

	client := d.client(ctx, node)
	res = New(client, node, d.metrics, d.logger).CollectAll(ctx)

	stats := client.Stats()
	d.logger.Debug("API client stats",
		"chain", node.Name,
		"api_calls", stats.Calls,
		"api_errors", stats.Errors,
		"error_rate", stats.ErrorRate,
		"cache_size", stats.CacheSize,
		"failed_operations", res.Failed,
	)
	return res
}

// Run collects immediately and then on every tick until ctx is done. Cycles
// run on a context detached from ctx so that shutdown lets the current cycle
// finish.
func (d *Driver) Run(ctx context.Context, interval time.Duration) {
	cycleCtx := context.WithoutCancel(ctx)

	d.RunCycle(cycleCtx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Collection loop stopped")
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				continue
			}
			d.RunCycle(cycleCtx)
		}
	}
}
