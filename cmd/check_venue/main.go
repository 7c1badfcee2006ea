package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vitos/crypto_rebalancer/internal/config"
	"github.com/vitos/crypto_rebalancer/internal/infrastructure/exchange"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config")
	tokens := flag.String("tokens", "", "comma-separated tokens to list, empty for all")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	signer, err := cfg.Signer()
	if err != nil {
		fmt.Printf("Failed to init signer: %v\n", err)
		os.Exit(1)
	}
	venue := exchange.NewHyperliquidAdapter(cfg.VenueConfig(), signer, cfg.TickerAliases(), zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	risk := cfg.ToRiskConfig()
	fmt.Printf("Checking Hyperliquid (mainnet=%t)...\n", cfg.Venue.Mainnet)

	// 1. Markets
	markets, err := venue.GetMarkets(ctx, splitTokens(*tokens), risk.BaseCurrency, risk.AssetPermissions)
	if err != nil {
		fmt.Printf("❌ Failed to get markets: %v\n", err)
	} else {
		fmt.Printf("✅ Markets for %d tokens\n", len(markets))
		for _, token := range sortedKeys(markets) {
			for _, m := range markets[token] {
				fmt.Printf("   %-6s %-12s %-6s bid=%s ask=%s tick=%s lot=%s\n",
					token, m.Name, m.AssetType, price(m.Bid), price(m.Ask), m.PriceStep, m.QuantityStep)
			}
		}
	}

	// 2. Positions
	positions, err := venue.GetPositions(ctx)
	if err != nil {
		fmt.Printf("❌ Failed to get positions: %v\n", err)
	} else {
		fmt.Printf("✅ Positions for %d assets\n", len(positions))
		for _, token := range sortedKeys(positions) {
			for _, p := range positions[token] {
				fmt.Printf("   %-6s %-10s %-6s %s\n", token, p.AssetName, p.AssetType, p.Amount)
			}
		}
	}

	// 3. Open orders
	orders, err := venue.GetOpenOrders(ctx)
	if err != nil {
		fmt.Printf("❌ Failed to get open orders: %v\n", err)
	} else {
		fmt.Printf("✅ Open orders: %d\n", len(orders))
		for _, o := range orders {
			fmt.Printf("   %s %-12s %-4s %s/%s @ %s\n", o.ID, o.Symbol, o.Side, o.Filled, o.Amount, price(o.LimitPrice))
		}
	}
}

func splitTokens(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func price(p decimal.NullDecimal) string {
	if !p.Valid {
		return "-"
	}
	return p.Decimal.String()
}
