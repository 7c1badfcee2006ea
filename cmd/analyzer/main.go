package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/vitos/crypto_rebalancer/internal/infrastructure/storage"
	"github.com/vitos/crypto_rebalancer/internal/usecase"
	"go.uber.org/zap"
)

func main() {
	dbPath := flag.String("db", "rebalancer.db", "path to the journal database")
	limit := flag.Int("limit", 5, "number of recent cycles to analyze")
	flag.Parse()

	store, err := storage.NewSQLiteStore(*dbPath)
	if err != nil {
		fmt.Printf("Error opening journal: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	analyzer := usecase.NewCycleAnalyzer(store, zap.NewNop())
	summaries, err := analyzer.AnalyzeRecent(context.Background(), *limit)
	if err != nil {
		fmt.Printf("Error analyzing cycles: %v\n", err)
		os.Exit(1)
	}
	if len(summaries) == 0 {
		fmt.Println("No cycles found.")
		return
	}

	for _, s := range summaries {
		fmt.Printf("\nCycle %s [%s] %s\n", s.Cycle.ID, s.Cycle.Status, s.Cycle.StartedAt.Format("2006-01-02 15:04"))
		fmt.Printf("Filled %s of %s (%s)\n", s.Filled, s.Requested, s.FillRatio)
		if len(s.TimedOut) > 0 {
			fmt.Printf("Timed out: %s\n", strings.Join(s.TimedOut, ", "))
		}
		if len(s.Escalated) > 0 {
			fmt.Printf("Escalated to market: %s\n", strings.Join(s.Escalated, ", "))
		}

		fmt.Printf("%-14s | %-12s | %-12s | %-8s | %s\n", "Symbol", "Requested", "Filled", "Ratio", "Updates")
		fmt.Println(strings.Repeat("-", 72))
		for _, sym := range s.Symbols {
			fmt.Printf("%-14s | %-12s | %-12s | %-8s | %v\n", sym.Symbol, sym.Requested, sym.Filled, sym.FillRatio, sym.Updates)
			for _, e := range sym.Errors {
				fmt.Printf("%-14s   error: %s\n", "", e)
			}
		}
	}
}
