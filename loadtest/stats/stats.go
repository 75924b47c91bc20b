// Package stats aggregates performance data from many load test clients and
// prints a summary with percentile distributions.
package stats

import (
	"fmt"
	"io"
	"math"
	"os"
	"slices"
	"sync"
	"time"
)

// Collector aggregates metrics from many clients. All methods are
// goroutine-safe.
type Collector struct {
	mu                sync.Mutex
	connectLatencies  []time.Duration
	identifyLatencies []time.Duration
	matchLatencies    []time.Duration
	msgLatencies      []time.Duration
	errors            int
	connections       int
	sessions          int
	startTime         time.Time
	scraper           *Scraper
}

// NewCollector creates a Collector with the start time set to now.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// SetScraper attaches a server metrics scraper whose summary Report prints.
func (c *Collector) SetScraper(s *Scraper) {
	c.mu.Lock()
	c.scraper = s
	c.mu.Unlock()
}

// AddConnect records a successful connection with its dial and identify
// latencies.
func (c *Collector) AddConnect(dial, identify time.Duration) {
	c.mu.Lock()
	c.connectLatencies = append(c.connectLatencies, dial)
	if identify > 0 {
		c.identifyLatencies = append(c.identifyLatencies, identify)
	}
	c.connections++
	c.mu.Unlock()
}

// AddMatch records the time from start to partner_found.
func (c *Collector) AddMatch(d time.Duration) {
	c.mu.Lock()
	c.matchLatencies = append(c.matchLatencies, d)
	c.sessions++
	c.mu.Unlock()
}

// AddMsgLatency records one sender-to-partner delivery latency.
func (c *Collector) AddMsgLatency(d time.Duration) {
	c.mu.Lock()
	c.msgLatencies = append(c.msgLatencies, d)
	c.mu.Unlock()
}

// AddError increments the error counter.
func (c *Collector) AddError() {
	c.mu.Lock()
	c.errors++
	c.mu.Unlock()
}

// ConnectionCount returns the number of recorded connections.
func (c *Collector) ConnectionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connections
}

// ErrorCount returns the number of recorded errors.
func (c *Collector) ErrorCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errors
}

// Report prints the summary to stdout.
func (c *Collector) Report() {
	c.WriteReport(os.Stdout)
}

// WriteReport writes run totals, a percentile line per latency series, and
// the scraper's server-side view when one is attached.
func (c *Collector) WriteReport(w io.Writer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintln(w, "\n=== results ===")
	fmt.Fprintf(w, "%-12s %s\n", "duration", time.Since(c.startTime).Round(time.Second))
	fmt.Fprintf(w, "%-12s %d\n", "connections", c.connections)
	fmt.Fprintf(w, "%-12s %d\n", "sessions", c.sessions)
	fmt.Fprintf(w, "%-12s %d\n", "errors", c.errors)
	if attempts := c.connections + c.errors; attempts > 0 {
		fmt.Fprintf(w, "%-12s %.2f%%\n", "error rate", float64(c.errors)/float64(attempts)*100)
	}

	series := []struct {
		label string
		data  []time.Duration
	}{
		{"connect", c.connectLatencies},
		{"identify", c.identifyLatencies},
		{"match", c.matchLatencies},
		{"message", c.msgLatencies},
	}
	for _, ser := range series {
		if sum, ok := Summarize(ser.data); ok {
			fmt.Fprintf(w, "%-12s %s\n", ser.label, sum)
		}
	}

	if c.scraper != nil {
		c.scraper.Report()
	}
}

// Summary is the distribution of one latency series.
type Summary struct {
	N                       int
	Avg, P50, P95, P99, Max time.Duration
}

func (s Summary) String() string {
	r := func(d time.Duration) time.Duration { return d.Round(time.Microsecond) }
	return fmt.Sprintf("avg=%v p50=%v p95=%v p99=%v max=%v n=%d",
		r(s.Avg), r(s.P50), r(s.P95), r(s.P99), r(s.Max), s.N)
}

// Summarize computes nearest-rank percentiles over a sorted copy of d. It
// reports false for an empty series.
func Summarize(d []time.Duration) (Summary, bool) {
	n := len(d)
	if n == 0 {
		return Summary{}, false
	}
	sorted := slices.Clone(d)
	slices.Sort(sorted)

	var total time.Duration
	for _, v := range sorted {
		total += v
	}
	rank := func(p float64) time.Duration {
		i := int(math.Ceil(p*float64(n))) - 1
		return sorted[max(i, 0)]
	}
	return Summary{
		N:   n,
		Avg: total / time.Duration(n),
		P50: rank(0.50),
		P95: rank(0.95),
		P99: rank(0.99),
		Max: sorted[n-1],
	}, true
}
