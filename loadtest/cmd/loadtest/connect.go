package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/strangertalk/relay/loadtest/client"
	"github.com/strangertalk/relay/loadtest/stats"
)

// rampConfig controls how connectAll opens connections.
type rampConfig struct {
	url         string
	prefix      string // user IDs are prefix + index
	count       int
	ramp        time.Duration
	concurrency int
}

// connectAll opens cfg.count identified connections spread over cfg.ramp,
// printing progress every second. It returns the clients that completed the
// handshake and whether ctx was cancelled before all were launched.
func connectAll(ctx context.Context, cfg rampConfig, collector *stats.Collector) ([]*client.Client, bool) {
	interval := cfg.ramp / time.Duration(cfg.count)
	if interval <= 0 {
		interval = time.Millisecond
	}

	var (
		mu      sync.Mutex
		clients = make([]*client.Client, 0, cfg.count)
		wg      sync.WaitGroup
		sem     = make(chan struct{}, cfg.concurrency)
	)

	progressStop := make(chan struct{})
	var progressWg sync.WaitGroup
	progressWg.Add(1)
	go func() {
		defer progressWg.Done()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fmt.Printf("  [connect] connections: %d/%d  errors: %d\n",
					collector.ConnectionCount(), cfg.count, collector.ErrorCount())
			case <-progressStop:
				return
			}
		}
	}()

	ticker := time.NewTicker(interval)
	interrupted := false

launch:
	for i := 0; i < cfg.count; i++ {
		select {
		case <-ctx.Done():
			interrupted = true
			break launch
		case <-ticker.C:
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()

			connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()

			c, err := client.New(connCtx, cfg.url, fmt.Sprintf("%s%d", cfg.prefix, i))
			if err != nil {
				collector.AddError()
				return
			}
			if err := c.WaitIdentified(connCtx); err != nil {
				collector.AddError()
				c.Close()
				return
			}

			m := c.GetMetrics()
			collector.AddConnect(m.ConnectLatency, m.IdentifyLatency)

			mu.Lock()
			clients = append(clients, c)
			mu.Unlock()
		}(i)
	}

	ticker.Stop()
	wg.Wait()
	close(progressStop)
	progressWg.Wait()
	return clients, interrupted
}

func closeAll(clients []*client.Client) {
	fmt.Printf("Closing %d connections...\n", len(clients))
	for _, c := range clients {
		c.Close()
	}
}

// runID distinguishes user IDs between runs against the same server.
func runID() string {
	return fmt.Sprintf("lt%d-", time.Now().Unix())
}
