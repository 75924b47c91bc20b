package stats

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// series is one server metric the scraper follows. Labelled samples of the
// same name are summed.
type series struct {
	label string
	name  string
}

// gauges are reported as initial, final, delta and peak.
var gauges = []series{
	{"Connections", "relay_connections_total"},
	{"Sessions", "relay_active_sessions"},
	{"Queue Size", "relay_match_queue_size"},
	{"Messages Total", "relay_messages_total"},
	{"Rate Limited", "relay_rate_limited_total"},
}

// histograms are reported as the average over the scrape window.
var histograms = []series{
	{"Msg Latency", "relay_message_latency_seconds"},
	{"Queue Wait", "relay_match_wait_seconds"},
}

type snapshot struct {
	at     time.Time
	values map[string]float64
}

// Scraper polls the server's /metrics endpoint during a run and summarizes
// how the followed metrics moved.
type Scraper struct {
	url      string
	interval time.Duration
	client   *http.Client
	wanted   map[string]bool

	mu        sync.Mutex
	snapshots []snapshot

	cancel context.CancelFunc
	done   chan struct{}
}

// NewScraper creates a Scraper for metricsURL.
func NewScraper(metricsURL string, interval time.Duration) *Scraper {
	wanted := make(map[string]bool)
	for _, g := range gauges {
		wanted[g.name] = true
	}
	for _, h := range histograms {
		wanted[h.name+"_sum"] = true
		wanted[h.name+"_count"] = true
	}
	return &Scraper{
		url:      metricsURL,
		interval: interval,
		client:   &http.Client{Timeout: 5 * time.Second},
		wanted:   wanted,
		done:     make(chan struct{}),
	}
}

// Start scrapes once immediately and then every interval until ctx ends or
// Stop is called.
func (s *Scraper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.scrapeOnce()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.scrapeOnce()
				return
			case <-ticker.C:
				s.scrapeOnce()
			}
		}
	}()
}

// Stop ends scraping and waits for the final snapshot.
func (s *Scraper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
}

func (s *Scraper) scrapeOnce() {
	values, err := s.fetch()
	if err != nil {
		// The server may not be up yet.
		return
	}
	s.mu.Lock()
	s.snapshots = append(s.snapshots, snapshot{at: time.Now(), values: values})
	s.mu.Unlock()
}

func (s *Scraper) fetch() (map[string]float64, error) {
	resp, err := s.client.Get(s.url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("metrics: status %d", resp.StatusCode)
	}

	values := make(map[string]float64)
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || line[0] == '#' {
			continue
		}
		name, v, ok := parseMetricLine(line)
		if ok && s.wanted[name] {
			values[name] += v
		}
	}
	return values, scanner.Err()
}

// parseMetricLine splits one exposition line, metric_name 1.23 or
// metric_name{label="value"} 1.23, into its name and value.
func parseMetricLine(line string) (string, float64, bool) {
	name, rest := line, ""
	if i := strings.IndexByte(line, '{'); i >= 0 {
		j := strings.IndexByte(line[i:], '}')
		if j < 0 {
			return "", 0, false
		}
		name, rest = line[:i], line[i+j+1:]
	} else {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return "", 0, false
		}
		name, rest = fields[0], strings.Join(fields[1:], " ")
	}

	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return "", 0, false
	}
	// An optional timestamp may follow the value.
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return "", 0, false
	}
	return name, v, true
}

// Report prints how each followed metric moved between the first and last
// snapshot.
func (s *Scraper) Report() {
	s.mu.Lock()
	snaps := append([]snapshot(nil), s.snapshots...)
	s.mu.Unlock()

	if len(snaps) == 0 {
		fmt.Println("\n--- Server Metrics (no data collected) ---")
		return
	}
	first, last := snaps[0], snaps[len(snaps)-1]

	fmt.Println("\n--- Server Metrics (Prometheus) ---")
	fmt.Printf("  Scrape count:  %d snapshots over %s\n",
		len(snaps), last.at.Sub(first.at).Round(time.Second))

	fmt.Println()
	fmt.Printf("  %-16s %10s %10s %10s %10s\n", "Metric", "Initial", "Final", "Delta", "Peak")
	fmt.Printf("  %-16s %10s %10s %10s %10s\n", "------", "-------", "-----", "-----", "----")
	for _, g := range gauges {
		peak := math.Inf(-1)
		for _, snap := range snaps {
			peak = math.Max(peak, snap.values[g.name])
		}
		initial, final := first.values[g.name], last.values[g.name]
		fmt.Printf("  %-16s %10.0f %10.0f %10.0f %10.0f\n", g.label, initial, final, final-initial, peak)
	}

	fmt.Println()
	for _, h := range histograms {
		sum := last.values[h.name+"_sum"] - first.values[h.name+"_sum"]
		count := last.values[h.name+"_count"] - first.values[h.name+"_count"]
		if count > 0 {
			fmt.Printf("  %-16s avg: %.4fs  (%.0f observations)\n", h.label, sum/count, count)
		} else {
			fmt.Printf("  %-16s avg: N/A  (no observations)\n", h.label)
		}
	}
}
