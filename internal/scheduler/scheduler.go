package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/stayspot/booking-engine/internal/domain"
	"github.com/stayspot/booking-engine/internal/observability"
)

// Settler is the slice of the escrow service the sweeps drive. Both
// operations are idempotent, which is what makes overlapping or restarted
// sweeps safe.
type Settler interface {
	Release(ctx context.Context, b *domain.Booking) (uuid.UUID, error)
	Refund(ctx context.Context, b *domain.Booking, by, reason string) (uuid.UUID, error)
}

// Clock abstracts time.Now so sweep conditions can be tested without
// wall-clock waits.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

type Config struct {
	// ExpiryWindow is how long a Pending booking may wait for a host
	// response before it is refunded.
	ExpiryWindow time.Duration
	// ExpiryInterval and ReleaseInterval are the tick periods of the two
	// sweeps.
	ExpiryInterval  time.Duration
	ReleaseInterval time.Duration
}

// Scheduler owns the two recurring sweeps of the booking lifecycle: the
// expiry sweep refunds Pending bookings the host never answered, the
// auto-release sweep pays out Confirmed bookings whose release date has
// passed. One instance per process; Start while running is a no-op and Stop
// lets an in-flight tick finish naturally.
type Scheduler struct {
	ledger   domain.Ledger
	escrow   Settler
	notifier domain.Notifier
	logger   observability.Logger
	clock    Clock
	cfg      Config

	mu        sync.Mutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	running   bool
	onRelease func(bookingID string, amount float64)

	listenerMu sync.Mutex
	listeners  []func()

	expiryBusy  atomic.Bool
	releaseBusy atomic.Bool
}

func New(ledger domain.Ledger, escrow Settler, notifier domain.Notifier, logger observability.Logger, clock Clock, cfg Config) *Scheduler {
	if clock == nil {
		clock = SystemClock
	}
	return &Scheduler{
		ledger:   ledger,
		escrow:   escrow,
		notifier: notifier,
		logger:   logger,
		clock:    clock,
		cfg:      cfg,
	}
}

// OnChange registers a listener fired after any sweep mutates booking data.
// Best-effort broadcast for cached presentation views.
func (s *Scheduler) OnChange(fn func()) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Start launches both sweep loops. onRelease is invoked with the booking id
// and credited amount after each successful auto-release; it may be nil.
// Calling Start while the scheduler is already running does nothing, so
// timers are never double-registered.
func (s *Scheduler) Start(onRelease func(bookingID string, amount float64)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.logger.Warn("scheduler already running, ignoring Start")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.onRelease = onRelease
	s.running = true

	s.wg.Add(2)
	go s.loop(ctx, s.cfg.ExpiryInterval, s.SweepExpired)
	go s.loop(ctx, s.cfg.ReleaseInterval, s.SweepReleases)

	s.logger.WithField("expiry_interval", s.cfg.ExpiryInterval.String()).
		WithField("release_interval", s.cfg.ReleaseInterval.String()).
		Info("lifecycle scheduler started")
}

// Stop cancels future ticks and waits for any in-flight tick to finish. A
// half-applied settlement is never hard-aborted.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.logger.Info("lifecycle scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, sweep func(context.Context) (int, error)) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// The sweep body runs on a detached context so Stop cancels
			// future ticks without aborting a settlement in progress.
			if _, err := sweep(context.WithoutCancel(ctx)); err != nil {
				s.logger.Error("sweep failed: ", err)
			}
		}
	}
}

// SweepExpired refunds every Pending booking whose request has gone
// unanswered past the expiry window. Returns the number of bookings
// settled. A tick that finds the previous expiry tick still in flight is
// dropped, not queued.
func (s *Scheduler) SweepExpired(ctx context.Context) (int, error) {
	if !s.expiryBusy.CompareAndSwap(false, true) {
		return 0, nil
	}
	defer s.expiryBusy.Store(false)

	start := s.clock.Now()
	defer func() {
		observability.SweepDuration.WithLabelValues("expiry").Observe(time.Since(start).Seconds())
	}()

	pending, err := s.ledger.ListBookingsByStatus(ctx, domain.StatusPending)
	if err != nil {
		return 0, errors.Wrap(err, "listing pending bookings")
	}

	cutoff := s.clock.Now().Add(-s.cfg.ExpiryWindow)
	changed := 0
	for i := range pending {
		b := &pending[i]
		if !b.CreatedAt.Before(cutoff) {
			continue
		}

		_, err := s.escrow.Refund(ctx, b, "system", "Automatic expiry refund: host did not respond")
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			// A single bad record must not block the sweep.
			s.logger.WithField("booking_id", b.ID).Error("expiry refund failed: ", err)
			continue
		}

		changed++
		observability.BookingsExpired.Inc()
		s.notifyGuest(ctx, b)
	}

	if changed > 0 {
		s.fireListeners()
	}
	return changed, nil
}

// SweepReleases settles every Confirmed booking whose escrow release date
// has passed, crediting the host wallet. Same drop-overlapping-tick and
// continue-on-error policy as the expiry sweep.
func (s *Scheduler) SweepReleases(ctx context.Context) (int, error) {
	if !s.releaseBusy.CompareAndSwap(false, true) {
		return 0, nil
	}
	defer s.releaseBusy.Store(false)

	start := s.clock.Now()
	defer func() {
		observability.SweepDuration.WithLabelValues("release").Observe(time.Since(start).Seconds())
	}()

	confirmed, err := s.ledger.ListBookingsByStatus(ctx, domain.StatusConfirmed)
	if err != nil {
		return 0, errors.Wrap(err, "listing confirmed bookings")
	}

	now := s.clock.Now()
	changed := 0
	for i := range confirmed {
		b := &confirmed[i]
		if b.EscrowReleaseDate.After(now) {
			continue
		}

		_, err := s.escrow.Release(ctx, b)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			s.logger.WithField("booking_id", b.ID).Error("auto-release failed: ", err)
			continue
		}

		changed++
		observability.EscrowReleased.Inc()
		amount := b.TotalPrice - b.ServiceFee
		if s.onRelease != nil {
			s.onRelease(b.ID, amount)
		}
	}

	if changed > 0 {
		s.fireListeners()
	}
	return changed, nil
}

func (s *Scheduler) notifyGuest(ctx context.Context, b *domain.Booking) {
	if s.notifier == nil {
		return
	}
	n := domain.Notification{
		Type:    "booking_refunded",
		Title:   "Booking request expired",
		Message: fmt.Sprintf("The host did not respond to your request in time. %.2f has been refunded to your wallet.", b.TotalPrice),
		Metadata: map[string]interface{}{
			"booking_id": b.ID,
			"amount":     b.TotalPrice,
		},
	}
	if err := s.notifier.Notify(ctx, b.UserID, n); err != nil {
		s.logger.WithField("booking_id", b.ID).Warn("notification failed: ", err)
	}
}

func (s *Scheduler) fireListeners() {
	s.listenerMu.Lock()
	listeners := make([]func(), len(s.listeners))
	copy(listeners, s.listeners)
	s.listenerMu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}
