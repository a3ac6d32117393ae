// state-gc - expire stale strategy state rows and reconcile open orders
// against the broker's view of the world.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/rkhandelwal/futures-exec-engine/internal/breaker"
	"github.com/rkhandelwal/futures-exec-engine/internal/broker"
	"github.com/rkhandelwal/futures-exec-engine/internal/config"
	"github.com/rkhandelwal/futures-exec-engine/internal/orders"
	"github.com/rkhandelwal/futures-exec-engine/internal/state"
	"github.com/rkhandelwal/futures-exec-engine/internal/storage"
)

const (
	Reset = "\033[0m"
	Red   = "\033[0;31m"
	Green = "\033[0;32m"
	Cyan  = "\033[0;36m"
)

func main() {
	configPath := flag.String("config", "config/config.json", "path to configuration file")
	confirmFlag := flag.Bool("confirm", false, "confirm running the maintenance pass")
	flag.Parse()

	if !*confirmFlag {
		fmt.Println("SAFETY CHECK - must confirm before running")
		fmt.Println("")
		fmt.Println("This will:")
		fmt.Println("  - delete expired strategy state rows (opening_range/session_stats/last_entry/cooldown)")
		fmt.Println("  - reconcile every open position's stop/target order against the broker")
		fmt.Println("")
		fmt.Println("To proceed, run:")
		fmt.Println("  go run ./cmd/state-gc --confirm")
		fmt.Println("")
		os.Exit(0)
	}

	ctx := context.Background()
	logger := log.New(os.Stdout, "[state-gc] ", log.LstdFlags)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	store, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer store.Close()

	stateStore := state.NewStore(store)
	removed, err := stateStore.CleanupExpiredStates(ctx)
	if err != nil {
		log.Fatalf("cleanup expired states: %v", err)
	}
	fmt.Printf("%s✓%s removed %d expired strategy state row(s)\n", Green, Reset, removed)

	var activeBroker broker.Client
	if cfg.TradingMode == config.ModePaper {
		activeBroker = broker.NewPaperClient(cfg.Capital)
	} else {
		brokerCfg := broker.Config{
			AccountType: broker.AccountType(cfg.Broker.AccountType),
			APIBaseLive: cfg.Broker.APIBaseLive,
			APIBaseDemo: cfg.Broker.APIBaseDemo,
			Username:    cfg.Broker.Username,
			Password:    cfg.Broker.Password,
			AppID:       cfg.Broker.AppID,
			AppSecret:   cfg.Broker.AppSecret,
			DeviceID:    cfg.Broker.DeviceID,
		}
		activeBroker = broker.NewHTTPClient(brokerCfg, breaker.NewRegistry(logger), logger)
	}

	orderMgr := orders.NewManager(store, activeBroker)
	openPositions, err := store.ListOpenPositions(ctx, cfg.AccountID)
	if err != nil {
		log.Fatalf("list open positions: %v", err)
	}

	candidates := make([]storage.Order, 0, len(openPositions)*2)
	for _, p := range openPositions {
		if p.StopOrderID != "" {
			candidates = append(candidates, storage.Order{ID: p.StopOrderID, BrokerOrderID: p.StopOrderID, Status: storage.OrderStatusWorking})
		}
		if p.TargetOrderID != "" {
			candidates = append(candidates, storage.Order{ID: p.TargetOrderID, BrokerOrderID: p.TargetOrderID, Status: storage.OrderStatusWorking})
		}
	}

	if err := orderMgr.ReconcileOrders(ctx, candidates); err != nil {
		fmt.Printf("%s✗%s reconcile orders: %v\n", Red, Reset, err)
		os.Exit(1)
	}
	fmt.Printf("%s✓%s reconciled %d order(s) against the broker\n", Green, Reset, len(candidates))
	fmt.Println("")
	fmt.Printf("%sdone%s\n", Cyan, Reset)
}
