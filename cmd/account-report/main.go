// Package main - Account Performance Report CLI
//
// Summarizes closed-position P&L for a date range plus current open-position
// risk exposure, for an account running the futures execution engine.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"github.com/rkhandelwal/futures-exec-engine/internal/analytics"
	"github.com/rkhandelwal/futures-exec-engine/internal/config"
	"github.com/rkhandelwal/futures-exec-engine/internal/positions"
	"github.com/rkhandelwal/futures-exec-engine/internal/storage"
)

const (
	Reset   = "\033[0m"
	Red     = "\033[0;31m"
	Green   = "\033[0;32m"
	Yellow  = "\033[1;33m"
	Blue    = "\033[0;34m"
	Cyan    = "\033[0;36m"
)

func main() {
	configPath := flag.String("config", "config/config.json", "path to configuration file")
	fromFlag := flag.String("from", "", "start date in YYYY-MM-DD format (defaults to 30 days ago)")
	toFlag := flag.String("to", "", "end date in YYYY-MM-DD format, exclusive (defaults to tomorrow)")
	flag.Parse()

	to := time.Now().AddDate(0, 0, 1).Truncate(24 * time.Hour)
	if *toFlag != "" {
		parsed, err := time.Parse("2006-01-02", *toFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid -to date: %v\n", err)
			os.Exit(1)
		}
		to = parsed
	}

	from := to.AddDate(0, 0, -30)
	if *fromFlag != "" {
		parsed, err := time.Parse("2006-01-02", *fromFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid -from date: %v\n", err)
			os.Exit(1)
		}
		from = parsed
	}

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	store, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer store.Close()

	closedPositions, err := store.ListClosedPositions(ctx, cfg.AccountID, from, to)
	if err != nil {
		log.Fatalf("failed to list closed positions: %v", err)
	}

	report := analytics.Analyze(closedPositions, cfg.Capital)

	fmt.Printf("%s====================================================%s\n", Cyan, Reset)
	fmt.Printf("%s   ACCOUNT REPORT: %s%s\n", Cyan, cfg.AccountID, Reset)
	fmt.Printf("%s   %s -> %s%s\n", Cyan, from.Format("2006-01-02"), to.Format("2006-01-02"), Reset)
	fmt.Printf("%s====================================================%s\n\n", Cyan, Reset)

	fmt.Print(analytics.FormatReport(report))
	fmt.Println()

	positionMgr := positions.NewManager(store)
	risk, err := positionMgr.GetAccountRisk(ctx, cfg.AccountID)
	if err != nil {
		log.Fatalf("failed to compute account risk: %v", err)
	}

	printOpenRisk(risk, cfg.Capital)
}

func printOpenRisk(risk *positions.AccountRisk, capital float64) {
	fmt.Printf("%s-- OPEN POSITION RISK --%s\n", Blue, Reset)

	if risk.TotalRisk == 0 {
		fmt.Printf("  %sno open stop-protected exposure%s\n\n", Green, Reset)
		return
	}

	pct := 0.0
	if capital > 0 {
		pct = (risk.TotalRisk / capital) * 100
	}

	riskColor := Green
	if pct > 2 {
		riskColor = Yellow
	}
	if pct > 5 {
		riskColor = Red
	}

	fmt.Printf("  %stotal risk:%s       %s$%.2f (%.2f%% of capital)%s\n", Yellow, Reset, riskColor, risk.TotalRisk, pct, Reset)
	fmt.Println()

	strategyIDs := make([]string, 0, len(risk.ByStrategy))
	for id := range risk.ByStrategy {
		strategyIDs = append(strategyIDs, id)
	}
	sort.Strings(strategyIDs)

	for _, id := range strategyIDs {
		fmt.Printf("    %-24s $%.2f\n", id, risk.ByStrategy[id])
	}
	fmt.Println()
}
