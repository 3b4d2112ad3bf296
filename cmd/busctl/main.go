// Command busctl is an in-process CLI over the Multi-Bus Manager: it
// constructs a Manager directly from the configured storage backend and
// operates on it in the same process, rather than speaking to a remote
// JSON-RPC/REST surface. A one-shot command against durable storage is
// visible to the next invocation, while an in-memory bus only round-trips
// within one run of "serve".
//
// Usage:
//
//	busctl serve                                  - start every configured bus and block until SIGINT/SIGTERM
//	busctl emit <bus> <topic> <payload-json>      - construct and emit one envelope
//	busctl poll <bus> <topic-pattern> [limit]     - query recent envelopes
//	busctl topics <bus>                           - list known topics
//	busctl stats <bus>                            - print storage aggregates
//	busctl rules list <bus>                       - list registered rules
//	busctl rules add <bus> <rule-json>            - register one rule
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/R3E-Network/eventbus/internal/config"
	"github.com/R3E-Network/eventbus/pkg/event"
	"github.com/R3E-Network/eventbus/pkg/manager"
	"github.com/R3E-Network/eventbus/pkg/rules"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx := context.Background()

	settings, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: load config: %v\n", err)
		os.Exit(1)
	}
	mgr, err := buildManager(ctx, settings)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: build manager: %v\n", err)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "serve":
		cmdServe(ctx, mgr, settings)
	case "emit":
		cmdEmit(ctx, mgr, args)
	case "poll":
		cmdPoll(ctx, mgr, args)
	case "topics":
		cmdTopics(ctx, mgr, args)
	case "stats":
		cmdStats(ctx, mgr, args)
	case "rules":
		cmdRules(ctx, mgr, args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func buildManager(ctx context.Context, settings *config.Settings) (*manager.Manager, error) {
	specs := make(map[string]manager.BusSpec, len(settings.Buses))
	for name, busCfg := range settings.Buses {
		spec, err := manager.BuildBusSpec(ctx, busCfg)
		if err != nil {
			return nil, fmt.Errorf("bus %s: %w", name, err)
		}
		specs[name] = spec
	}
	return manager.New(manager.Config{
		Buses:                 specs,
		DefaultBus:            settings.DefaultBus,
		GlobalShutdownTimeout: settings.GlobalShutdownTimeout,
	}, settings.NewLogger("manager"))
}

func printUsage() {
	fmt.Println(`busctl - in-process multi-tenant event bus CLI

Usage:
  busctl serve
  busctl emit <bus> <topic> <payload-json>
  busctl poll <bus> <topic-pattern> [limit]
  busctl topics <bus>
  busctl stats <bus>
  busctl rules list <bus>
  busctl rules add <bus> <rule-json>

Environment:
  EVENTBUS_CONFIG_FILE   path to the bus manager's YAML config (default configs/eventbus.yaml)

Examples:
  busctl emit orders order.created '{"user_id":"123"}'
  busctl poll orders "order.*" 20
  busctl stats orders`)
}

func cmdServe(ctx context.Context, mgr *manager.Manager, settings *config.Settings) {
	if err := mgr.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: start manager: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("buses running: %v\n", mgr.Names())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutCtx, cancel := context.WithTimeout(context.Background(), settings.GlobalShutdownTimeout)
	defer cancel()
	if errs := mgr.Shutdown(shutCtx); len(errs) > 0 {
		for name, err := range errs {
			fmt.Fprintf(os.Stderr, "Error: shutdown %s: %v\n", name, err)
		}
		os.Exit(1)
	}
}

func cmdEmit(ctx context.Context, mgr *manager.Manager, args []string) {
	if len(args) < 3 {
		fmt.Fprintln(os.Stderr, "Usage: busctl emit <bus> <topic> <payload-json>")
		os.Exit(1)
	}
	b, err := mgr.Bus(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := b.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: start bus: %v\n", err)
		os.Exit(1)
	}

	var payload interface{}
	if err := json.Unmarshal([]byte(args[2]), &payload); err != nil {
		fmt.Fprintf(os.Stderr, "Error: payload is not valid JSON: %v\n", err)
		os.Exit(1)
	}

	e, err := event.New(event.Params{
		Topic:     args[1],
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := b.Emit(ctx, e); err != nil {
		fmt.Fprintf(os.Stderr, "Error: emit: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("emitted event_id=%s topic=%s\n", e.EventID, e.Topic)
}

func cmdPoll(ctx context.Context, mgr *manager.Manager, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: busctl poll <bus> <topic-pattern> [limit]")
		os.Exit(1)
	}
	b, err := mgr.Bus(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := b.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: start bus: %v\n", err)
		os.Exit(1)
	}

	q := event.Query{TopicPattern: args[1]}
	if len(args) > 2 {
		limit, parseErr := strconv.Atoi(args[2])
		if parseErr != nil {
			fmt.Fprintf(os.Stderr, "Error: limit must be an integer: %v\n", parseErr)
			os.Exit(1)
		}
		q.Limit = limit
	}

	results, err := b.Poll(ctx, q)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: poll: %v\n", err)
		os.Exit(1)
	}
	for _, e := range results {
		fmt.Printf("%d %s %s %v\n", e.Timestamp, e.EventID, e.Topic, e.Payload)
	}
	fmt.Printf("%d event(s)\n", len(results))
}

func cmdTopics(ctx context.Context, mgr *manager.Manager, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: busctl topics <bus>")
		os.Exit(1)
	}
	b, err := mgr.Bus(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := b.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: start bus: %v\n", err)
		os.Exit(1)
	}
	for _, topic := range b.ListTopics() {
		fmt.Println(topic)
	}
}

func cmdStats(ctx context.Context, mgr *manager.Manager, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: busctl stats <bus>")
		os.Exit(1)
	}
	b, err := mgr.Bus(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := b.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: start bus: %v\n", err)
		os.Exit(1)
	}
	stats, err := b.GetStats(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: stats: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("count=%d topics=%d oldest=%d newest=%d\n",
		stats.Count, stats.TopicCount, stats.OldestTimestamp, stats.NewestTimestamp)
}

func cmdRules(ctx context.Context, mgr *manager.Manager, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: busctl rules <list|add> <bus> [rule-json]")
		os.Exit(1)
	}
	fs := flag.NewFlagSet("rules", flag.ExitOnError)
	fs.Parse(args[1:])

	switch args[0] {
	case "list":
		rest := fs.Args()
		if len(rest) < 1 {
			fmt.Fprintln(os.Stderr, "Usage: busctl rules list <bus>")
			os.Exit(1)
		}
		b, err := mgr.Bus(rest[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := b.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: start bus: %v\n", err)
			os.Exit(1)
		}
		engine := b.RuleEngine()
		if engine == nil {
			fmt.Fprintln(os.Stderr, "Error: rules are disabled for this bus")
			os.Exit(1)
		}
		list, err := engine.ListRules(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: list rules: %v\n", err)
			os.Exit(1)
		}
		for _, r := range list {
			fmt.Printf("%s priority=%d enabled=%t pattern=%s action=%s\n", r.ID, r.Priority, r.Enabled, r.TopicPattern, r.Action.Type)
		}
	case "add":
		rest := fs.Args()
		if len(rest) < 2 {
			fmt.Fprintln(os.Stderr, `Usage: busctl rules add <bus> <rule-json>`)
			os.Exit(1)
		}
		b, err := mgr.Bus(rest[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := b.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: start bus: %v\n", err)
			os.Exit(1)
		}
		engine := b.RuleEngine()
		if engine == nil {
			fmt.Fprintln(os.Stderr, "Error: rules are disabled for this bus")
			os.Exit(1)
		}
		var rule rules.Rule
		if err := json.Unmarshal([]byte(rest[1]), &rule); err != nil {
			fmt.Fprintf(os.Stderr, "Error: rule is not valid JSON: %v\n", err)
			os.Exit(1)
		}
		if rule.ID == "" {
			fmt.Fprintln(os.Stderr, "Error: rule JSON must set \"id\"")
			os.Exit(1)
		}
		if err := engine.RegisterRule(ctx, rule); err != nil {
			fmt.Fprintf(os.Stderr, "Error: register rule: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("registered rule %s\n", rule.ID)
	default:
		fmt.Fprintf(os.Stderr, "Unknown rules subcommand: %s\n", args[0])
		os.Exit(1)
	}
}
