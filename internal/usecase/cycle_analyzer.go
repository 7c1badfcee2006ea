package usecase

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/vitos/crypto_rebalancer/internal/domain"
	"go.uber.org/zap"
)

type SymbolSummary struct {
	Symbol    string                         `json:"symbol"`
	Updates   map[domain.OrderUpdateType]int `json:"updates"`
	Requested decimal.Decimal                `json:"requested"`
	Filled    decimal.Decimal                `json:"filled"`
	FillRatio decimal.Decimal                `json:"fill_ratio"`
	TimedOut  bool                           `json:"timed_out"`
	Escalated bool                           `json:"escalated"`
	Errors    []string                       `json:"errors,omitempty"`
}

type CycleSummary struct {
	Cycle     domain.CycleRecord             `json:"cycle"`
	Counts    map[domain.OrderUpdateType]int `json:"counts"`
	Requested decimal.Decimal                `json:"requested"`
	Filled    decimal.Decimal                `json:"filled"`
	FillRatio decimal.Decimal                `json:"fill_ratio"`
	TimedOut  []string                       `json:"timed_out"`
	Escalated []string                       `json:"escalated"`
	Symbols   []SymbolSummary                `json:"symbols"`
}

// CycleAnalyzer summarises journalled cycles.
type CycleAnalyzer struct {
	journal domain.RebalanceJournal
	logger  *zap.Logger
}

func NewCycleAnalyzer(journal domain.RebalanceJournal, logger *zap.Logger) *CycleAnalyzer {
	return &CycleAnalyzer{
		journal: journal,
		logger:  logger,
	}
}

func (a *CycleAnalyzer) Analyze(ctx context.Context, cycleID string) (*CycleSummary, error) {
	cycle, err := a.journal.GetCycle(ctx, cycleID)
	if err != nil {
		return nil, fmt.Errorf("get cycle: %w", err)
	}
	if cycle == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrCycleNotFound, cycleID)
	}
	trades, err := a.journal.ListTrades(ctx, cycleID)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	updates, err := a.journal.ListOrderUpdates(ctx, cycleID)
	if err != nil {
		return nil, fmt.Errorf("list order updates: %w", err)
	}

	summary := Summarize(*cycle, trades, updates)
	a.logger.Debug("Cycle analyzed",
		zap.String("cycle_id", cycleID),
		zap.Int("updates", len(updates)),
		zap.String("fill_ratio", summary.FillRatio.String()))
	return summary, nil
}

// AnalyzeRecent summarises up to limit cycles in journal order.
func (a *CycleAnalyzer) AnalyzeRecent(ctx context.Context, limit int) ([]*CycleSummary, error) {
	cycles, err := a.journal.ListCycles(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list cycles: %w", err)
	}
	out := make([]*CycleSummary, 0, len(cycles))
	for _, c := range cycles {
		s, err := a.Analyze(ctx, c.ID)
		if err != nil {
			a.logger.Error("Failed to analyze cycle", zap.String("cycle_id", c.ID), zap.Error(err))
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// Summarize works out counts and fills from the stored trades and updates.
// The fill of an order is the largest fill reported for its id.
func Summarize(cycle domain.CycleRecord, trades []domain.Trade, updates []domain.OrderUpdateRecord) *CycleSummary {
	summary := &CycleSummary{
		Cycle:     cycle,
		Counts:    make(map[domain.OrderUpdateType]int),
		Requested: decimal.Zero,
		Filled:    decimal.Zero,
		FillRatio: decimal.Zero,
	}

	symbols := make(map[string]*SymbolSummary)
	get := func(symbol string) *SymbolSummary {
		s, ok := symbols[symbol]
		if !ok {
			s = &SymbolSummary{
				Symbol:    symbol,
				Updates:   make(map[domain.OrderUpdateType]int),
				Requested: decimal.Zero,
				Filled:    decimal.Zero,
				FillRatio: decimal.Zero,
			}
			symbols[symbol] = s
		}
		return s
	}

	for _, t := range trades {
		s := get(t.Symbol)
		s.Requested = s.Requested.Add(t.Amount.Abs())
	}

	fills := make(map[string]decimal.Decimal)
	fillSymbol := make(map[string]string)
	for _, u := range updates {
		summary.Counts[u.Type]++
		s := get(u.Symbol)
		s.Updates[u.Type]++

		switch u.Type {
		case domain.OrderUpdateTimedOut:
			s.TimedOut = true
		case domain.OrderUpdateMarketOrderPlaced:
			s.Escalated = true
		case domain.OrderUpdateError:
			s.Errors = append(s.Errors, u.Message)
		}

		if u.OrderID == "" {
			continue
		}
		if prev, ok := fills[u.OrderID]; !ok || u.Filled.GreaterThan(prev) {
			fills[u.OrderID] = u.Filled
		}
		fillSymbol[u.OrderID] = u.Symbol
	}
	for id, filled := range fills {
		s := get(fillSymbol[id])
		s.Filled = s.Filled.Add(filled)
	}

	names := make([]string, 0, len(symbols))
	for name := range symbols {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		s := symbols[name]
		s.FillRatio = ratio(s.Filled, s.Requested)
		summary.Requested = summary.Requested.Add(s.Requested)
		summary.Filled = summary.Filled.Add(s.Filled)
		if s.TimedOut {
			summary.TimedOut = append(summary.TimedOut, name)
		}
		if s.Escalated {
			summary.Escalated = append(summary.Escalated, name)
		}
		summary.Symbols = append(summary.Symbols, *s)
	}
	summary.FillRatio = ratio(summary.Filled, summary.Requested)
	return summary
}

func ratio(filled, requested decimal.Decimal) decimal.Decimal {
	if !requested.IsPositive() {
		return decimal.Zero
	}
	return filled.Div(requested).Round(4)
}
