package services

import (
	"context"
	"sync"
	"time"

	"safekitchen/engine"

	"go.uber.org/zap"
)

// Watcher runs the streaming evaluator for every tracked user on a fixed
// interval. Ticks are serialized so each user's edge state has one writer.
type Watcher struct {
	automation *Automation
	interval   time.Duration
	logger     *zap.Logger

	mu    sync.Mutex
	edges map[string]*engine.EdgeState

	tickMu sync.Mutex
}

// NewWatcher creates a watcher
func NewWatcher(automation *Automation, interval time.Duration, logger *zap.Logger) *Watcher {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Watcher{
		automation: automation,
		interval:   interval,
		logger:     logger,
		edges:      make(map[string]*engine.EdgeState),
	}
}

// Track adds users to the watch set. Already tracked users keep their latches.
func (w *Watcher) Track(userIDs ...string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, id := range userIDs {
		if id == "" {
			continue
		}
		if _, ok := w.edges[id]; !ok {
			w.edges[id] = engine.NewEdgeState()
			w.logger.Info("Watching user", zap.String("user_id", id))
		}
	}
}

// Untrack drops a user and forgets its latches.
func (w *Watcher) Untrack(userID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.edges, userID)
}

// EdgeState returns the state of a tracked user.
func (w *Watcher) EdgeState(userID string) (*engine.EdgeState, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.edges[userID]
	return s, ok
}

func (w *Watcher) users() map[string]*engine.EdgeState {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]*engine.EdgeState, len(w.edges))
	for id, s := range w.edges {
		out[id] = s
	}
	return out
}

// Start ticks until ctx is done
func (w *Watcher) Start(ctx context.Context) {
	w.logger.Info("Starting automation watcher", zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Automation watcher stopped")
			return
		case <-ticker.C:
			w.TickAll(ctx)
		}
	}
}

// TickAll evaluates every tracked user once.
func (w *Watcher) TickAll(ctx context.Context) {
	for userID := range w.users() {
		w.TickUser(ctx, userID)
	}
}

// TickUser evaluates one user, tracking it first if needed.
func (w *Watcher) TickUser(ctx context.Context, userID string) {
	w.Track(userID)
	edges, ok := w.EdgeState(userID)
	if !ok {
		return
	}

	w.tickMu.Lock()
	defer w.tickMu.Unlock()

	res, err := w.automation.Tick(ctx, userID, edges)
	if err != nil {
		w.logger.Error("Streaming evaluation failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	if !res.Empty() {
		w.logger.Info("Streaming evaluation applied transitions",
			zap.String("user_id", userID),
			zap.Int("device_writes", len(res.DeviceWrites)),
			zap.Int("alerts", len(res.Alerts)))
	}
}
