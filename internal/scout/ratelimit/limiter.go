// Package ratelimit paces outbound store requests with an adaptive
// per-store token rate. Sustained success slowly raises the rate; errors
// drop it multiplicatively with exponential escalation.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/adscout/engine/internal/common/config"
	"github.com/adscout/engine/pkg/types"
)

// Built-in initial rates in requests per second. Amazon, Roku and Samsung
// throttle aggressively, so their defaults are spread over longer windows
// (8 per 1.5s, 10 per 1.2s, 8 per 1.5s).
var defaultRates = map[types.StoreKind]float64{
	types.StoreGooglePlay: 10,
	types.StoreAppStore:   12,
	types.StoreAmazon:     8.0 / 1.5,
	types.StoreRoku:       10.0 / 1.2,
	types.StoreSamsung:    8.0 / 1.5,
}

const (
	// successesPerIncrease is how many consecutive successes earn a raise.
	successesPerIncrease = 5
	// rateIncreaseStep is the additive raise in requests per second.
	rateIncreaseStep = 0.1
	// maxBackoffMultiplier caps the exponential error escalation.
	maxBackoffMultiplier = 5.0
)

// StateStore persists per-store limiter state so rates survive restarts.
// Implementations must be safe for concurrent use.
type StateStore interface {
	Load(ctx context.Context, kind types.StoreKind) (*PersistedState, error)
	Save(ctx context.Context, kind types.StoreKind, state *PersistedState) error
}

// PersistedState is the serializable slice of limiter state.
type PersistedState struct {
	CurrentRate          float64   `json:"currentRate"`
	ConsecutiveSuccesses int       `json:"consecutiveSuccesses"`
	ConsecutiveErrors    int       `json:"consecutiveErrors"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

type storeState struct {
	mu                   sync.Mutex
	currentRate          float64
	nextAllowedAt        time.Time
	consecutiveSuccesses int
	consecutiveErrors    int
	loaded               bool
}

// Limiter is the process-wide adaptive rate limiter. One instance is
// shared by all requests; per-store state is mutated under its own lock.
type Limiter struct {
	mu     sync.Mutex
	states map[types.StoreKind]*storeState

	minRate   float64
	maxRate   float64
	overrides map[string]float64

	store  StateStore // nil when persistence is disabled
	logger *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewLimiter creates a limiter from configuration. store may be nil, in
// which case state is in-memory only.
func NewLimiter(cfg config.RateLimitConfig, store StateStore, logger *zap.Logger) *Limiter {
	return &Limiter{
		states:    make(map[types.StoreKind]*storeState),
		minRate:   cfg.MinRate,
		maxRate:   cfg.MaxRate,
		overrides: cfg.Overrides,
		store:     store,
		logger:    logger,
		now:       time.Now,
		sleep:     sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Acquire blocks until a request to the given store is allowed, then
// returns the current rate. Returns the context error if cancelled while
// waiting.
func (l *Limiter) Acquire(ctx context.Context, kind types.StoreKind) (float64, error) {
	state := l.stateFor(ctx, kind)

	state.mu.Lock()
	now := l.now()
	interval := time.Duration(float64(time.Second) / state.currentRate)

	// Reserve the next slot before sleeping so concurrent acquirers on the
	// same store space out instead of waking together.
	var wakeAt time.Time
	if state.nextAllowedAt.Before(now) {
		wakeAt = now
		state.nextAllowedAt = now.Add(interval)
	} else {
		wakeAt = state.nextAllowedAt
		state.nextAllowedAt = state.nextAllowedAt.Add(interval)
	}
	rate := state.currentRate
	state.mu.Unlock()

	if err := l.sleep(ctx, wakeAt.Sub(now)); err != nil {
		return 0, err
	}
	return rate, nil
}

// ReportSuccess records a successful request. Five consecutive successes
// raise the rate by a small step up to the configured ceiling.
func (l *Limiter) ReportSuccess(ctx context.Context, kind types.StoreKind) {
	state := l.stateFor(ctx, kind)

	state.mu.Lock()
	state.consecutiveErrors = 0
	state.consecutiveSuccesses++
	if state.consecutiveSuccesses >= successesPerIncrease {
		state.consecutiveSuccesses = 0
		newRate := math.Min(l.maxRate, state.currentRate+rateIncreaseStep)
		if newRate != state.currentRate {
			l.logger.Debug("Rate limit increased",
				zap.String("store", string(kind)),
				zap.Float64("old_rate", state.currentRate),
				zap.Float64("new_rate", newRate))
			state.currentRate = newRate
		}
	}
	snapshot := l.snapshotLocked(state)
	state.mu.Unlock()

	l.persist(ctx, kind, snapshot)
}

// ReportError records a failed request and decreases the rate. The
// decrease factor depends on the HTTP status: 429/403 back off hardest,
// everything else halves. Consecutive errors escalate exponentially.
func (l *Limiter) ReportError(ctx context.Context, kind types.StoreKind, httpStatus int) {
	state := l.stateFor(ctx, kind)

	factor := 0.5
	if httpStatus == 429 || httpStatus == 403 {
		factor = 0.8
	}

	state.mu.Lock()
	state.consecutiveSuccesses = 0
	state.consecutiveErrors++

	multiplier := math.Min(maxBackoffMultiplier, math.Pow(2, float64(state.consecutiveErrors-1)))
	newRate := math.Max(l.minRate, state.currentRate*(1-factor*multiplier))

	if newRate != state.currentRate {
		l.logger.Debug("Rate limit decreased",
			zap.String("store", string(kind)),
			zap.Int("http_status", httpStatus),
			zap.Int("consecutive_errors", state.consecutiveErrors),
			zap.Float64("old_rate", state.currentRate),
			zap.Float64("new_rate", newRate))
		state.currentRate = newRate
	}
	snapshot := l.snapshotLocked(state)
	state.mu.Unlock()

	l.persist(ctx, kind, snapshot)
}

// CurrentRate returns the current rate for a store without pacing.
func (l *Limiter) CurrentRate(ctx context.Context, kind types.StoreKind) float64 {
	state := l.stateFor(ctx, kind)
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.currentRate
}

// Rates returns a snapshot of every initialized store rate, for metrics.
func (l *Limiter) Rates() map[types.StoreKind]float64 {
	l.mu.Lock()
	kinds := make([]types.StoreKind, 0, len(l.states))
	states := make([]*storeState, 0, len(l.states))
	for kind, state := range l.states {
		kinds = append(kinds, kind)
		states = append(states, state)
	}
	l.mu.Unlock()

	rates := make(map[types.StoreKind]float64, len(kinds))
	for i, state := range states {
		state.mu.Lock()
		rates[kinds[i]] = state.currentRate
		state.mu.Unlock()
	}
	return rates
}

// stateFor returns the state record for a store, creating and optionally
// hydrating it from the state store on first use.
func (l *Limiter) stateFor(ctx context.Context, kind types.StoreKind) *storeState {
	l.mu.Lock()
	state, ok := l.states[kind]
	if !ok {
		state = &storeState{currentRate: l.initialRate(kind)}
		l.states[kind] = state
	}
	l.mu.Unlock()

	if ok || l.store == nil {
		return state
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	if state.loaded {
		return state
	}
	state.loaded = true

	persisted, err := l.store.Load(ctx, kind)
	if err != nil {
		l.logger.Warn("Failed to load persisted rate limiter state",
			zap.String("store", string(kind)),
			zap.Error(err))
		return state
	}
	if persisted != nil && persisted.CurrentRate > 0 {
		state.currentRate = clamp(persisted.CurrentRate, l.minRate, l.maxRate)
		state.consecutiveSuccesses = persisted.ConsecutiveSuccesses
		state.consecutiveErrors = persisted.ConsecutiveErrors
		l.logger.Debug("Restored rate limiter state",
			zap.String("store", string(kind)),
			zap.Float64("rate", state.currentRate))
	}
	return state
}

func (l *Limiter) initialRate(kind types.StoreKind) float64 {
	if l.overrides != nil {
		if rate, ok := l.overrides[string(kind)]; ok {
			return clamp(rate, l.minRate, l.maxRate)
		}
	}
	if rate, ok := defaultRates[kind]; ok {
		return clamp(rate, l.minRate, l.maxRate)
	}
	return l.minRate
}

func (l *Limiter) snapshotLocked(state *storeState) *PersistedState {
	if l.store == nil {
		return nil
	}
	return &PersistedState{
		CurrentRate:          state.currentRate,
		ConsecutiveSuccesses: state.consecutiveSuccesses,
		ConsecutiveErrors:    state.consecutiveErrors,
		UpdatedAt:            l.now().UTC(),
	}
}

// persist mirrors state to the shared store. Failures only log; pacing
// continues from in-memory state.
func (l *Limiter) persist(ctx context.Context, kind types.StoreKind, snapshot *PersistedState) {
	if l.store == nil || snapshot == nil {
		return
	}
	if err := l.store.Save(ctx, kind, snapshot); err != nil {
		l.logger.Warn("Failed to persist rate limiter state",
			zap.String("store", string(kind)),
			zap.Error(err))
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
