package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/vitos/crypto_rebalancer/internal/infrastructure/storage"
)

func main() {
	dbPath := flag.String("db", "rebalancer.db", "path to the journal database")
	limit := flag.Int("limit", 10, "number of recent cycles to dump")
	cycleID := flag.String("cycle", "", "dump only this cycle")
	flag.Parse()

	store, err := storage.NewSQLiteStore(*dbPath)
	if err != nil {
		fmt.Printf("Failed to init sqlite: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()
	var ids []string
	if *cycleID != "" {
		ids = []string{*cycleID}
	} else {
		cycles, err := store.ListCycles(ctx, *limit)
		if err != nil {
			fmt.Printf("Failed to list cycles: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Found %d cycles:\n", len(cycles))
		for _, c := range cycles {
			ids = append(ids, c.ID)
		}
	}

	for _, id := range ids {
		c, err := store.GetCycle(ctx, id)
		if err != nil {
			fmt.Printf("❌ Failed to get cycle %s: %v\n", id, err)
			continue
		}
		if c == nil {
			fmt.Printf("⚠️ Cycle %s not found\n", id)
			continue
		}
		finished := "-"
		if c.FinishedAt != nil {
			finished = c.FinishedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Printf("- Cycle %s [%s] started %s finished %s nominal %s trades %d %s\n",
			c.ID, c.Status, c.StartedAt.Format("2006-01-02 15:04:05"), finished, c.Nominal, c.TradeCount, c.Message)

		trades, err := store.ListTrades(ctx, id)
		if err != nil {
			fmt.Printf("  ❌ Failed to list trades: %v\n", err)
		}
		for _, t := range trades {
			px := "market"
			if t.LimitPrice.Valid {
				px = t.LimitPrice.Decimal.String()
			}
			fmt.Printf("  trade  %-12s %-6s %s @ %s\n", t.Symbol, t.AssetType, t.Amount, px)
		}

		updates, err := store.ListOrderUpdates(ctx, id)
		if err != nil {
			fmt.Printf("  ❌ Failed to list order updates: %v\n", err)
		}
		for _, u := range updates {
			fmt.Printf("  update %s %-12s %-19s order=%s filled=%s/%s %s\n",
				u.CreatedAt.Format("15:04:05.000"), u.Symbol, u.Type, u.OrderID, u.Filled, u.Amount, u.Message)
		}
	}
}
