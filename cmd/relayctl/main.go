// Command relayctl sends operator commands to a running relay over NATS.
//
//	relayctl -admin 100 ban <user_id>
//	relayctl -admin 100 unban <user_id>
//	relayctl -admin 100 broadcast <text...>
//	relayctl -admin 100 stats
//	relayctl -admin 100 list users|reports|supporters|banned [limit]
//	relayctl pay <user_id> <amount> [transaction_id]
//	relayctl watch
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/strangertalk/relay/internal/events"
	"github.com/strangertalk/relay/internal/messaging"
	"github.com/strangertalk/relay/internal/support"
)

func main() {
	natsURL := flag.String("nats", envOr("RELAY_NATS_URL", "nats://localhost:4222"), "NATS server URL")
	adminID := flag.String("admin", os.Getenv("RELAY_ADMIN_ID"), "admin user ID sent with admin commands")
	timeout := flag.Duration("timeout", 5*time.Second, "request timeout")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	if args[0] == "watch" {
		watch(*natsURL)
		return
	}

	subject, body, err := build(*adminID, args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		usage()
		os.Exit(2)
	}

	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = *natsURL
	natsConfig.Name = "relayctl"
	natsConfig.MaxReconnects = 0
	client, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	resp, err := client.Request(ctx, subject, body)
	if err != nil {
		log.Fatalf("request %s failed: %v", subject, err)
	}

	var reply events.Reply
	if err := json.Unmarshal(resp, &reply); err != nil {
		log.Fatalf("bad reply: %v", err)
	}
	if !reply.OK {
		fmt.Fprintf(os.Stderr, "error: %s\n", reply.Error)
		os.Exit(1)
	}
	if len(reply.Result) == 0 {
		fmt.Println("ok")
		return
	}
	var pretty any
	_ = json.Unmarshal(reply.Result, &pretty)
	out, _ := json.MarshalIndent(pretty, "", "  ")
	fmt.Println(string(out))
}

// build turns command-line arguments into a subject and request body.
func build(adminID string, args []string) (string, []byte, error) {
	cmd, rest := args[0], args[1:]

	if cmd == "pay" {
		if len(rest) < 2 {
			return "", nil, fmt.Errorf("pay needs <user_id> <amount>")
		}
		amount, err := strconv.ParseInt(rest[1], 10, 64)
		if err != nil {
			return "", nil, fmt.Errorf("bad amount %q: %w", rest[1], err)
		}
		tx := uuid.New().String()
		if len(rest) > 2 {
			tx = rest[2]
		}
		body, err := json.Marshal(support.Payment{UserID: rest[0], Amount: amount, TransactionID: tx})
		return messaging.SubjectPaymentConfirmed, body, err
	}

	if adminID == "" {
		return "", nil, fmt.Errorf("%s needs -admin or RELAY_ADMIN_ID", cmd)
	}
	req := events.AdminRequest{AdminID: adminID}
	var subject string
	switch cmd {
	case "ban", "unban":
		if len(rest) != 1 {
			return "", nil, fmt.Errorf("%s needs <user_id>", cmd)
		}
		req.UserID = rest[0]
		subject = messaging.SubjectAdminBan
		if cmd == "unban" {
			subject = messaging.SubjectAdminUnban
		}
	case "broadcast":
		req.Text = strings.Join(rest, " ")
		if req.Text == "" {
			return "", nil, fmt.Errorf("broadcast needs a message")
		}
		subject = messaging.SubjectAdminBroadcast
	case "stats":
		subject = messaging.SubjectAdminStats
	case "list":
		if len(rest) == 0 {
			return "", nil, fmt.Errorf("list needs users, reports, supporters or banned")
		}
		req.List = rest[0]
		if len(rest) > 1 {
			n, err := strconv.Atoi(rest[1])
			if err != nil {
				return "", nil, fmt.Errorf("bad limit %q: %w", rest[1], err)
			}
			req.Limit = n
		}
		subject = messaging.SubjectAdminList
	default:
		return "", nil, fmt.Errorf("unknown command %q", cmd)
	}

	body, err := json.Marshal(req)
	return subject, body, err
}

// watch prints admin notifications (payments, auto-bans) until interrupted.
func watch(natsURL string) {
	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = natsURL
	natsConfig.Name = "relayctl-watch"
	client, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}
	defer client.Close()

	err = client.SubscribeAdminNotify(func(data []byte) {
		fmt.Printf("%s %s\n", time.Now().Format(time.RFC3339), data)
	})
	if err != nil {
		log.Fatalf("subscribe: %v", err)
	}
	fmt.Fprintf(os.Stderr, "watching %s (Ctrl-C to stop)\n", messaging.SubjectAdminNotify)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: relayctl [flags] <command> [args]

commands:
  ban <user_id>
  unban <user_id>
  broadcast <text...>
  stats
  list users|reports|supporters|banned [limit]
  pay <user_id> <amount> [transaction_id]
  watch

flags:
`)
	flag.PrintDefaults()
}
