// Command e2etest runs the user journey against a live relay: health,
// identify, pairing, relaying, masking, safe mode, reporting, next and stop.
//
// Usage:
//
//	go run ./cmd/e2etest/ [-url ws://localhost:8080/ws] [-api http://localhost:8080] [-timeout 60s]
//
// Exit code 0 if all required scenarios pass, 1 if any fail.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/strangertalk/relay/loadtest/client"
)

type resultKind int

const (
	resultPass resultKind = iota
	resultFail
	resultInfo // optional, non-fatal
)

type scenarioResult struct {
	name   string
	kind   resultKind
	detail string
}

func (r scenarioResult) tag() string {
	switch r.kind {
	case resultPass:
		return "PASS"
	case resultFail:
		return "FAIL"
	default:
		return "INFO"
	}
}

// env is what every scenario gets.
type env struct {
	wsURL   string
	apiBase string
	prefix  string
	seq     int
}

// user connects a fresh identity and waits for the handshake.
func (e *env) user(ctx context.Context) (*client.Client, error) {
	e.seq++
	c, err := client.New(ctx, e.wsURL, fmt.Sprintf("%s%d", e.prefix, e.seq))
	if err != nil {
		return nil, err
	}
	if err := c.WaitIdentified(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// pair connects two users and pairs them.
func (e *env) pair(ctx context.Context) (*client.Client, *client.Client, error) {
	a, err := e.user(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("connect A: %w", err)
	}
	b, err := e.user(ctx)
	if err != nil {
		a.Close()
		return nil, nil, fmt.Errorf("connect B: %w", err)
	}
	if err := a.SendType(client.TypeStart); err != nil {
		return a, b, err
	}
	if _, err := a.Await(ctx, client.TypeQueued); err != nil {
		return a, b, err
	}
	if err := b.SendType(client.TypeStart); err != nil {
		return a, b, err
	}
	for _, c := range []*client.Client{a, b} {
		if _, err := c.Await(ctx, client.TypePartnerFound); err != nil {
			return a, b, err
		}
	}
	return a, b, nil
}

type scenario struct {
	name     string
	optional bool
	run      func(ctx context.Context, e *env) error
}

var scenarios = []scenario{
	{"health check", false, scenarioHealth},
	{"identify handshake", false, scenarioIdentify},
	{"commands require identify", false, scenarioNotIdentified},
	{"pair and relay text", false, scenarioRelay},
	{"denylist masking", false, scenarioMasking},
	{"safe mode blocks media", false, scenarioSafeMode},
	{"report partner", false, scenarioReport},
	{"next ends and requeues", false, scenarioNext},
	{"stats endpoint", false, scenarioStats},
	{"message rate limiting", true, scenarioRateLimit},
}

func main() {
	wsURL := flag.String("url", "ws://localhost:8080/ws", "WebSocket server URL")
	apiBase := flag.String("api", "http://localhost:8080", "HTTP API base URL")
	timeout := flag.Duration("timeout", 60*time.Second, "Global test timeout")
	flag.Parse()

	fmt.Println("=== Relay E2E Test ===")
	fmt.Printf("Server: %s\n\n", *wsURL)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	e := &env{wsURL: *wsURL, apiBase: *apiBase, prefix: fmt.Sprintf("e2e%d-", time.Now().Unix())}

	var results []scenarioResult
	for _, s := range scenarios {
		fmt.Printf("--- %s ---\n", s.name)
		sctx, scancel := context.WithTimeout(ctx, 10*time.Second)
		err := s.run(sctx, e)
		scancel()

		r := scenarioResult{name: s.name, kind: resultPass}
		if err != nil {
			r.detail = err.Error()
			r.kind = resultFail
			if s.optional {
				r.kind = resultInfo
			}
		}
		results = append(results, r)
	}

	fmt.Println()
	passed, failed, info := 0, 0, 0
	for _, r := range results {
		fmt.Printf("[%s] %s", r.tag(), r.name)
		if r.detail != "" {
			fmt.Printf(" (%s)", r.detail)
		}
		fmt.Println()

		switch r.kind {
		case resultPass:
			passed++
		case resultFail:
			failed++
		case resultInfo:
			info++
		}
	}

	fmt.Printf("\n=== Results: %d/%d passed", passed, passed+failed)
	if info > 0 {
		fmt.Printf(", %d info", info)
	}
	fmt.Println(" ===")

	if failed > 0 {
		os.Exit(1)
	}
}

func scenarioHealth(ctx context.Context, e *env) error {
	body, err := httpGetBody(ctx, e.apiBase+"/health")
	if err != nil {
		return err
	}
	if !strings.Contains(string(body), "ok") {
		return fmt.Errorf("unexpected body %q", body)
	}
	return nil
}

func scenarioIdentify(ctx context.Context, e *env) error {
	e.seq++
	c, err := client.New(ctx, e.wsURL, fmt.Sprintf("%s%d", e.prefix, e.seq))
	if err != nil {
		return err
	}
	defer c.Close()

	data, err := c.Await(ctx, client.TypeIdentified)
	if err != nil {
		return err
	}
	var msg struct {
		UserID   string `json:"user_id"`
		New      bool   `json:"new"`
		SafeMode bool   `json:"safe_mode"`
		Tier     string `json:"tier"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	if msg.UserID != c.UserID() || !msg.New || !msg.SafeMode {
		return fmt.Errorf("unexpected identified frame %s", data)
	}
	return nil
}

func scenarioNotIdentified(ctx context.Context, e *env) error {
	// An empty identity is refused and the connection stays anonymous.
	c, err := client.New(ctx, e.wsURL, "")
	if err != nil {
		return err
	}
	defer c.Close()

	if _, err := c.Await(ctx, client.TypeError); err != nil {
		return fmt.Errorf("empty identify accepted: %w", err)
	}
	if err := c.SendType(client.TypeStart); err != nil {
		return err
	}
	data, err := c.Await(ctx, client.TypeError)
	if err != nil {
		return err
	}
	if !strings.Contains(string(data), "not_identified") {
		return fmt.Errorf("unexpected error frame %s", data)
	}
	return nil
}

func scenarioRelay(ctx context.Context, e *env) error {
	a, b, err := e.pair(ctx)
	if a != nil {
		defer a.Close()
	}
	if b != nil {
		defer b.Close()
	}
	if err != nil {
		return err
	}

	if err := a.SendText("hello from A"); err != nil {
		return err
	}
	if err := expectText(ctx, b, "hello from A"); err != nil {
		return err
	}

	if err := a.SendType(client.TypeStop); err != nil {
		return err
	}
	if _, err := a.Await(ctx, client.TypeSessionEnded); err != nil {
		return err
	}
	_, err = b.Await(ctx, client.TypePartnerLeft)
	return err
}

func scenarioMasking(ctx context.Context, e *env) error {
	a, b, err := e.pair(ctx)
	if a != nil {
		defer a.Close()
	}
	if b != nil {
		defer b.Close()
	}
	if err != nil {
		return err
	}

	if err := a.SendText("no spam here"); err != nil {
		return err
	}
	if err := expectText(ctx, b, "no **** here"); err != nil {
		return err
	}
	data, err := a.Await(ctx, client.TypeNotice)
	if err != nil {
		return err
	}
	if !strings.Contains(string(data), "filtered") {
		return fmt.Errorf("unexpected notice %s", data)
	}
	return nil
}

func scenarioSafeMode(ctx context.Context, e *env) error {
	a, b, err := e.pair(ctx)
	if a != nil {
		defer a.Close()
	}
	if b != nil {
		defer b.Close()
	}
	if err != nil {
		return err
	}

	// New users start with safe mode on.
	if err := a.Send(map[string]string{"type": client.TypeMessage, "kind": "photo", "media_ref": "file-1"}); err != nil {
		return err
	}
	data, err := b.Await(ctx, client.TypeMessage)
	if err != nil {
		return err
	}
	var msg struct {
		MediaRef    string `json:"media_ref"`
		Placeholder bool   `json:"placeholder"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	if !msg.Placeholder || msg.MediaRef != "" {
		return fmt.Errorf("media leaked through safe mode: %s", data)
	}

	off := false
	if err := b.Send(map[string]any{"type": client.TypeSafeMode, "enabled": &off}); err != nil {
		return err
	}
	if _, err := b.Await(ctx, client.TypeSafeModeState); err != nil {
		return err
	}
	if err := a.Send(map[string]string{"type": client.TypeMessage, "kind": "photo", "media_ref": "file-2"}); err != nil {
		return err
	}
	data, err = b.Await(ctx, client.TypeMessage)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	if msg.MediaRef != "file-2" {
		return fmt.Errorf("media not delivered with safe mode off: %s", data)
	}
	return nil
}

func scenarioReport(ctx context.Context, e *env) error {
	a, b, err := e.pair(ctx)
	if a != nil {
		defer a.Close()
	}
	if b != nil {
		defer b.Close()
	}
	if err != nil {
		return err
	}

	if err := a.SendType(client.TypeReport); err != nil {
		return err
	}
	_, err = a.Await(ctx, client.TypeReportAccepted)
	return err
}

func scenarioNext(ctx context.Context, e *env) error {
	a, b, err := e.pair(ctx)
	if a != nil {
		defer a.Close()
	}
	if b != nil {
		defer b.Close()
	}
	if err != nil {
		return err
	}

	if err := a.SendType(client.TypeNext); err != nil {
		return err
	}
	if _, err := b.Await(ctx, client.TypePartnerLeft); err != nil {
		return err
	}
	if _, err := a.Await(ctx, client.TypeQueued); err != nil {
		return err
	}
	if err := a.SendType(client.TypeStop); err != nil {
		return err
	}
	_, err = a.Await(ctx, client.TypeNotice)
	return err
}

func scenarioStats(ctx context.Context, e *env) error {
	body, err := httpGetBody(ctx, e.apiBase+"/stats")
	if err != nil {
		return err
	}
	var stats map[string]any
	if err := json.Unmarshal(body, &stats); err != nil {
		return fmt.Errorf("decode stats: %w", err)
	}
	fmt.Printf("  stats: %s\n", body)
	return nil
}

func scenarioRateLimit(ctx context.Context, e *env) error {
	a, b, err := e.pair(ctx)
	if a != nil {
		defer a.Close()
	}
	if b != nil {
		defer b.Close()
	}
	if err != nil {
		return err
	}

	for i := 0; i < 30; i++ {
		if err := a.SendText(fmt.Sprintf("burst %d", i)); err != nil {
			return err
		}
	}
	if _, err := a.Await(ctx, client.TypeRateLimited); err != nil {
		return errors.New("no rate_limited frame (is Redis configured?)")
	}
	return nil
}

func expectText(ctx context.Context, c *client.Client, want string) error {
	data, err := c.Await(ctx, client.TypeMessage)
	if err != nil {
		return err
	}
	var msg struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	if msg.Text != want {
		return fmt.Errorf("got text %q, want %q", msg.Text, want)
	}
	return nil
}

func httpGetBody(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
