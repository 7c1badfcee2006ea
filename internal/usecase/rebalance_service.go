package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vitos/crypto_rebalancer/internal/domain"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type RebalanceConfig struct {
	Risk           domain.RiskConfig
	Orders         domain.OrderManagementSettings
	KillOpenOrders bool
	DryRun         bool
}

// CycleReport is the outcome of one rebalance run.
type CycleReport struct {
	CycleID     string                         `json:"cycle_id"`
	Status      domain.CycleStatus             `json:"status"`
	StartedAt   time.Time                      `json:"started_at"`
	FinishedAt  time.Time                      `json:"finished_at"`
	Nominal     decimal.Decimal                `json:"nominal"`
	Trades      []domain.Trade                 `json:"trades"`
	Diagnostics []Diagnostic                   `json:"-"`
	Updates     map[domain.OrderUpdateType]int `json:"updates"`
	Message     string                         `json:"message,omitempty"`
	// Err is set when the cycle was skipped, e.g. ErrOpenOrders.
	Err error `json:"-"`
}

func (r CycleReport) Record() domain.CycleRecord {
	rec := domain.CycleRecord{
		ID:         r.CycleID,
		StartedAt:  r.StartedAt,
		Status:     r.Status,
		Nominal:    r.Nominal,
		TradeCount: len(r.Trades),
		Message:    r.Message,
	}
	if !r.FinishedAt.IsZero() {
		finished := r.FinishedAt
		rec.FinishedAt = &finished
	}
	return rec
}

// RebalanceService runs rebalance cycles: read the account, size trades
// against the target weights and work the orders on the venue.
type RebalanceService struct {
	venue       domain.Venue
	weights     domain.WeightSource
	journal     domain.RebalanceJournal
	sizer       *TradeSizer
	coordinator *OrderCoordinator
	aliases     *domain.TickerAliases
	cfg         RebalanceConfig
	logger      *zap.Logger
	now         func() time.Time

	running atomic.Bool
	mu      sync.RWMutex
	last    *CycleReport
}

func NewRebalanceService(
	venue domain.Venue,
	weights domain.WeightSource,
	journal domain.RebalanceJournal,
	aliases *domain.TickerAliases,
	cfg RebalanceConfig,
	minOrderValue decimal.Decimal,
	logger *zap.Logger,
) *RebalanceService {
	if journal == nil {
		journal = domain.NopJournal{}
	}
	executor := NewTradeExecutor(venue, minOrderValue, logger)
	return &RebalanceService{
		venue:       venue,
		weights:     weights,
		journal:     journal,
		sizer:       NewTradeSizer(cfg.Risk, aliases, logger),
		coordinator: NewOrderCoordinator(venue, executor, logger),
		aliases:     aliases,
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
	}
}

// Running reports whether a cycle is in progress.
func (s *RebalanceService) Running() bool {
	return s.running.Load()
}

// LastReport returns the report of the most recent finished cycle.
func (s *RebalanceService) LastReport() (CycleReport, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return CycleReport{}, false
	}
	return *s.last, true
}

// Run executes one rebalance cycle. Only one cycle runs at a time; a
// concurrent call returns ErrCycleInProgress.
func (s *RebalanceService) Run(ctx context.Context) (CycleReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		return CycleReport{}, domain.ErrCycleInProgress
	}
	defer s.running.Store(false)

	report := &CycleReport{
		CycleID:   uuid.NewString(),
		Status:    domain.CycleRunning,
		StartedAt: s.now(),
		Nominal:   decimal.Zero,
		Updates:   make(map[domain.OrderUpdateType]int),
	}
	log := s.logger.With(zap.String("cycle_id", report.CycleID))
	log.Info("Rebalance cycle started", zap.Bool("dry_run", s.cfg.DryRun))

	if err := s.journal.StartCycle(ctx, report.Record()); err != nil {
		log.Warn("Failed to journal cycle start", zap.Error(err))
	}

	err := s.run(ctx, report, log)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		report.Status = domain.CycleCancelled
		report.Message = ctx.Err().Error()
	default:
		report.Status = domain.CycleFailed
		report.Message = err.Error()
	}
	report.FinishedAt = s.now()

	// The cycle is recorded even when ctx was cancelled.
	if jerr := s.journal.FinishCycle(context.WithoutCancel(ctx), report.Record()); jerr != nil {
		log.Warn("Failed to journal cycle finish", zap.Error(jerr))
	}

	s.mu.Lock()
	last := *report
	s.last = &last
	s.mu.Unlock()

	log.Info("Rebalance cycle finished",
		zap.String("status", string(report.Status)),
		zap.Int("trades", len(report.Trades)),
		zap.Duration("took", report.FinishedAt.Sub(report.StartedAt)),
		zap.Error(err),
	)
	return *report, err
}

func (s *RebalanceService) run(ctx context.Context, report *CycleReport, log *zap.Logger) error {
	open, err := s.venue.GetOpenOrders(ctx)
	if err != nil {
		return fmt.Errorf("get open orders: %w", err)
	}
	if len(open) > 0 {
		if !s.cfg.KillOpenOrders {
			log.Warn("Open orders present, skipping cycle", zap.Int("open_orders", len(open)))
			report.Status = domain.CycleSkipped
			report.Err = domain.ErrOpenOrders
			report.Message = fmt.Sprintf("%s: %d", domain.ErrOpenOrders, len(open))
			return nil
		}
		s.cancelOpenOrders(ctx, open, log)
	}

	positions, err := s.venue.GetPositions(ctx)
	if err != nil {
		return fmt.Errorf("get positions: %w", err)
	}
	weights, err := s.weights.GetWeights(ctx)
	if err != nil {
		return fmt.Errorf("get weights: %w", err)
	}
	filter := baseAssetFilter(positions, weights, s.aliases, s.cfg.Risk.BaseCurrency)
	markets, err := s.venue.GetMarkets(ctx, filter, s.cfg.Risk.BaseCurrency, s.cfg.Risk.AssetPermissions)
	if err != nil {
		return fmt.Errorf("get markets: %w", err)
	}

	res := s.sizer.CalculateTrades(weights, positions, markets)
	report.Nominal = res.Nominal
	report.Diagnostics = res.Diagnostics
	logDiagnostics(log, res.Diagnostics)

	trades := domain.MergeTrades(res.Trades)
	report.Trades = trades
	if len(trades) == 0 {
		log.Info("Nothing to do")
		report.Status = domain.CycleCompleted
		report.Message = "nothing to do"
		return nil
	}

	for _, t := range trades {
		log.Info("Planned trade", zap.String("trade", t.String()))
	}
	if err := s.journal.SaveTrades(ctx, report.CycleID, trades); err != nil {
		log.Warn("Failed to journal trades", zap.Error(err))
	}

	if s.cfg.DryRun {
		log.Info("Dry run, not placing orders", zap.Int("trades", len(trades)))
		report.Status = domain.CycleDryRun
		return nil
	}

	updates, err := s.coordinator.ManageOrders(ctx, trades, s.cfg.Orders)
	if err != nil {
		return fmt.Errorf("manage orders: %w", err)
	}
	for u := range updates {
		s.recordUpdate(ctx, report, u, log)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	report.Status = domain.CycleCompleted
	return nil
}

func (s *RebalanceService) cancelOpenOrders(ctx context.Context, open []domain.Order, log *zap.Logger) {
	log.Info("Cancelling open orders", zap.Int("count", len(open)))
	var errs error
	for _, o := range open {
		if err := s.venue.CancelOrder(ctx, o.AssetType, o.Symbol, o.ID); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("cancel %s %s: %w", o.Symbol, o.ID, err))
		}
	}
	if errs != nil {
		log.Warn("Failed to cancel some open orders", zap.Error(errs))
	}
}

func (s *RebalanceService) recordUpdate(ctx context.Context, report *CycleReport, u domain.OrderUpdate, log *zap.Logger) {
	report.Updates[u.Type]++

	fields := []zap.Field{zap.String("symbol", u.Symbol), zap.String("type", string(u.Type))}
	if u.Order != nil {
		fields = append(fields,
			zap.String("order_id", u.Order.ID),
			zap.String("filled", u.Order.Filled.String()),
			zap.String("amount", u.Order.Amount.String()))
	}
	if u.Message != "" {
		fields = append(fields, zap.String("message", u.Message))
	}
	if u.Type == domain.OrderUpdateError {
		log.Error("Order error", fields...)
	} else {
		log.Info("Order update", fields...)
	}

	if err := s.journal.SaveOrderUpdate(context.WithoutCancel(ctx), report.CycleID, u); err != nil {
		log.Warn("Failed to journal order update", zap.Error(err))
	}
}

func logDiagnostics(log *zap.Logger, diags []Diagnostic) {
	for _, d := range diags {
		fields := []zap.Field{zap.String("ticker", d.Ticker), zap.String("symbol", d.Symbol), zap.Error(d.Err)}
		if d.IsPricingError() {
			log.Warn("Ticker not priced", fields...)
			continue
		}
		log.Info("Ticker skipped", fields...)
	}
}

// baseAssetFilter is every canonical token either held or weighted,
// excluding the base currency.
func baseAssetFilter(positions map[string][]domain.Position, weights map[string]domain.Weight, aliases *domain.TickerAliases, baseCurrency string) []string {
	set := make(map[string]struct{}, len(positions)+len(weights))
	for base := range positions {
		set[aliases.Canonical(base)] = struct{}{}
	}
	for ticker := range weights {
		token, _ := domain.SplitTicker(ticker)
		set[aliases.Canonical(token)] = struct{}{}
	}
	delete(set, baseCurrency)
	delete(set, "")

	out := make([]string, 0, len(set))
	for token := range set {
		out = append(out, token)
	}
	sort.Strings(out)
	return out
}
