package ledger

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/sharepool/internal/store"
)

// ExpireDue moves every active grant whose end time has passed to expired,
// whether or not anyone reads it again. It returns the number of grants changed.
func (s *Service) ExpireDue(ctx context.Context) (int, error) {
	grants, err := store.NewGrantStore(s.db).ExpireDue(ctx, s.now())
	if err != nil {
		return 0, classify(err)
	}
	for i := range grants {
		s.observer.Observe(Event{Kind: EventGrantExpired, AccountID: grants[i].BuyerID, Grant: &grants[i], Reason: TriggerSweep})
	}
	if len(grants) > 0 {
		s.logger.Info("expired grants", "count", len(grants))
	}
	return len(grants), nil
}

// Sweeper runs ExpireDue on a fixed interval.
type Sweeper struct {
	mu       sync.RWMutex
	service  *Service
	logger   *slog.Logger
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewSweeper(svc *Service, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		service:  svc,
		logger:   logger,
		interval: interval,
	}
}

// Start sweeps once immediately and then on every tick until ctx is
// cancelled or Stop is called.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		s.sweep(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep(ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.RLock()
	cancel := s.cancel
	done := s.done
	s.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	if _, err := s.service.ExpireDue(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("grant sweep failed", "error", err)
	}
}
