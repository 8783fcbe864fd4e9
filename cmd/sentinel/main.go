// The sentinel CLI: send a failsafe alert through the configured backend.
//
// Usage:
//
//	sentinel "Alert message"
//	sentinel --cooldown-key my_key --cooldown 3600 "Message"
//
// Exits 0 when the alert was delivered, 1 when it was suppressed by a
// cooldown, no backend was configured, or delivery failed.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/reevehq/reeve/internal/common/config"
	"github.com/reevehq/reeve/internal/sentinel"
)

func main() {
	cooldownKey := flag.String("cooldown-key", "", "deduplication key (alerts with same key are rate-limited)")
	cooldownSecs := flag.Int("cooldown", 1800, "cooldown period in seconds")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: sentinel [--cooldown-key KEY] [--cooldown SECONDS] MESSAGE")
		os.Exit(1)
	}
	message := flag.Arg(0)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	backend, err := sentinel.ResolveBackend(cfg.Sentinel.Backend, cfg.Telegram.BotToken, cfg.Telegram.ChatID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sentinel backend error: %v\n", err)
		os.Exit(1)
	}

	service := sentinel.New(backend, cfg.SentinelStateDir())
	sent := service.Alert(context.Background(), message, *cooldownKey,
		time.Duration(*cooldownSecs)*time.Second)

	if sent {
		fmt.Fprintln(os.Stderr, "Alert sent.")
		os.Exit(0)
	}
	fmt.Fprintln(os.Stderr, "Alert not sent (no backend, cooldown, or error).")
	os.Exit(1)
}
