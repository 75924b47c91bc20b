package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/strangertalk/relay/loadtest/client"
	"github.com/strangertalk/relay/loadtest/stats"
)

// runSaturate opens identified idle connections to find how many the relay
// holds, then watches for drops.
func runSaturate(args []string) {
	fs := flag.NewFlagSet("saturate", flag.ExitOnError)
	url := fs.String("url", "ws://localhost:8080/ws", "relay WebSocket URL")
	n := fs.Int("connections", 1000, "connections to open")
	ramp := fs.Duration("ramp", 10*time.Second, "spread connection attempts over this long")
	holdFor := fs.Duration("hold", 30*time.Second, "keep connections open this long")
	concurrency := fs.Int("concurrency", 50, "simultaneous connection attempts")
	metricsURL := fs.String("metrics-url", "http://localhost:8080/metrics", "relay metrics endpoint")
	_ = fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()
	scraper := stats.NewScraper(*metricsURL, 2*time.Second)
	collector.SetScraper(scraper)
	scraper.Start(ctx)

	fmt.Printf("saturate: %d connections to %s (ramp=%s hold=%s concurrency=%d)\n",
		*n, *url, *ramp, *holdFor, *concurrency)

	start := time.Now()
	clients, interrupted := connectAll(ctx, rampConfig{
		url:         *url,
		prefix:      runID(),
		count:       *n,
		ramp:        *ramp,
		concurrency: *concurrency,
	}, collector)
	fmt.Printf("connected %d/%d in %s (%d errors)\n",
		len(clients), *n, time.Since(start).Round(time.Millisecond), collector.ErrorCount())

	if !interrupted {
		hold(ctx, clients, *holdFor)
	}

	closeAll(clients)
	scraper.Stop()
	collector.Report()
}

// hold keeps clients open for d, reporting every five seconds how many the
// server has dropped.
func hold(ctx context.Context, clients []*client.Client, d time.Duration) {
	deadline := time.NewTimer(d)
	defer deadline.Stop()
	status := time.NewTicker(5 * time.Second)
	defer status.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Println("interrupted while holding")
			return
		case <-deadline.C:
			fmt.Printf("held for %s, %d/%d still open\n", d, countOpen(clients), len(clients))
			return
		case <-status.C:
			alive := countOpen(clients)
			fmt.Printf("  [hold] open=%d dropped=%d\n", alive, len(clients)-alive)
		}
	}
}

func countOpen(clients []*client.Client) int {
	n := 0
	for _, c := range clients {
		select {
		case <-c.Done():
		default:
			n++
		}
	}
	return n
}
