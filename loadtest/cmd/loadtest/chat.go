package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/strangertalk/relay/loadtest/client"
	"github.com/strangertalk/relay/loadtest/stats"
)

// stampPrefix marks load test messages. The rest of the text is the send
// time in Unix nanoseconds followed by padding.
const stampPrefix = "lt "

// runChat connects 2*pairs users, has each request a partner, exchanges
// timestamped messages for the chat duration and then stops every session.
func runChat(args []string) {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	url := fs.String("url", "ws://localhost:8080/ws", "WebSocket server URL")
	pairs := fs.Int("pairs", 100, "Number of user pairs")
	rampUp := fs.Duration("ramp", 10*time.Second, "Ramp-up duration for connection creation")
	chatDuration := fs.Duration("chat-duration", 30*time.Second, "How long each pair chats")
	msgInterval := fs.Duration("msg-interval", 2*time.Second, "Interval between messages per user")
	msgSize := fs.Int("msg-size", 128, "Size of each message payload in bytes")
	concurrency := fs.Int("concurrency", 50, "Maximum simultaneous connection attempts during ramp-up")
	matchTimeout := fs.Duration("match-timeout", 30*time.Second, "Timeout waiting for a partner")
	metricsURL := fs.String("metrics-url", "http://localhost:8080/metrics", "Prometheus metrics endpoint URL")
	scrapeInterval := fs.Duration("scrape-interval", 2*time.Second, "Interval between metrics scrapes")
	fs.Parse(args)

	total := *pairs * 2
	fmt.Printf("Chat test: %d pairs (%d clients) to %s (ramp=%s, chat=%s, interval=%s, msg-size=%d)\n",
		*pairs, total, *url, *rampUp, *chatDuration, *msgInterval, *msgSize)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()
	scraper := stats.NewScraper(*metricsURL, *scrapeInterval)
	collector.SetScraper(scraper)
	scraper.Start(ctx)

	fmt.Println("\n--- Phase 1: Connect ---")
	clients, interrupted := connectAll(ctx, rampConfig{
		url:         *url,
		prefix:      runID(),
		count:       total,
		ramp:        *rampUp,
		concurrency: *concurrency,
	}, collector)
	defer func() {
		closeAll(clients)
		scraper.Stop()
		collector.Report()
	}()
	if interrupted {
		return
	}

	var sent, received, limited atomic.Int64
	for _, c := range clients {
		c.On(client.TypeMessage, func(data json.RawMessage) {
			if d, ok := stampLatency(data); ok {
				collector.AddMsgLatency(d)
				received.Add(1)
			}
		})
		c.On(client.TypeRateLimited, func(json.RawMessage) { limited.Add(1) })
	}

	fmt.Println("\n--- Phase 2: Match ---")
	matched := make([]*client.Client, 0, len(clients))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *client.Client) {
			defer wg.Done()
			mctx, cancel := context.WithTimeout(ctx, *matchTimeout)
			defer cancel()

			start := time.Now()
			if err := c.SendType(client.TypeStart); err != nil {
				collector.AddError()
				return
			}
			if _, err := c.Await(mctx, client.TypePartnerFound); err != nil {
				collector.AddError()
				return
			}
			collector.AddMatch(time.Since(start))
			mu.Lock()
			matched = append(matched, c)
			mu.Unlock()
		}(c)
	}
	wg.Wait()
	fmt.Printf("Matched %d/%d users\n", len(matched), len(clients))

	fmt.Println("\n--- Phase 3: Chat ---")
	padding := strings.Repeat("a", max(0, *msgSize-len(stampPrefix)-20))
	chatCtx, cancel := context.WithTimeout(ctx, *chatDuration)
	defer cancel()
	for _, c := range matched {
		wg.Add(1)
		go func(c *client.Client) {
			defer wg.Done()
			ticker := time.NewTicker(*msgInterval)
			defer ticker.Stop()
			for {
				select {
				case <-chatCtx.Done():
					return
				case <-ticker.C:
					text := stampPrefix + strconv.FormatInt(time.Now().UnixNano(), 10) + " " + padding
					if err := c.SendText(text); err != nil {
						collector.AddError()
						return
					}
					sent.Add(1)
				}
			}
		}(c)
	}
	wg.Wait()
	fmt.Printf("Sent %d, received %d, rate limited %d\n", sent.Load(), received.Load(), limited.Load())

	fmt.Println("\n--- Phase 4: Stop ---")
	for _, c := range matched {
		// The partner's stop may already have ended this session.
		_ = c.SendType(client.TypeStop)
	}
	time.Sleep(time.Second)
}

// stampLatency extracts the send time from a load test message frame.
func stampLatency(data json.RawMessage) (time.Duration, bool) {
	var msg struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &msg); err != nil || !strings.HasPrefix(msg.Text, stampPrefix) {
		return 0, false
	}
	rest := strings.TrimPrefix(msg.Text, stampPrefix)
	if i := strings.IndexByte(rest, ' '); i >= 0 {
		rest = rest[:i]
	}
	ns, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return time.Since(time.Unix(0, ns)), true
}
