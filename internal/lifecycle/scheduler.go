// Package lifecycle expires rooms when their TTL runs out and prunes old
// room messages.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/mstfsonmez/ghostly-backend/internal/models"
	"github.com/mstfsonmez/ghostly-backend/internal/notifications"
	"github.com/mstfsonmez/ghostly-backend/internal/observability"
)

const (
	defaultInterval      = 10 * time.Second
	defaultPruneInterval = 10 * time.Minute
	defaultRetention     = 24 * time.Hour
	defaultRoomTTL       = 12 * time.Hour
)

// RoomStore is the part of the room repository the scheduler needs.
type RoomStore interface {
	Get(ctx context.Context, id string) (*models.Room, error)
	Delete(ctx context.Context, id string) (bool, error)
	ListAll(ctx context.Context) ([]*models.Room, error)
	BackfillExpiry(ctx context.Context, id string, expiresAt time.Time) error
}

// MessagePruner removes messages past retention.
type MessagePruner interface {
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Broadcaster delivers lifecycle events to connected clients.
type Broadcaster interface {
	ToRoom(roomID string, ev notifications.Event, exceptUserID string)
	ToAll(ev notifications.Event)
	DropRoom(roomID string)
}

// Config tunes the scheduler. Zero values fall back to the defaults.
type Config struct {
	RoomTTL       time.Duration
	Interval      time.Duration
	PruneInterval time.Duration
	Retention     time.Duration
	Now           func() time.Time
}

type timerEntry struct {
	timer *time.Timer
	gen   uint64
}

// Scheduler owns one expiry timer per live room plus the periodic sweep.
type Scheduler struct {
	rooms    RoomStore
	messages MessagePruner
	bc       Broadcaster
	cfg      Config

	mu      sync.Mutex
	timers  map[string]timerEntry
	gen     uint64
	stopped bool

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewScheduler creates a scheduler. Nothing runs until Reconcile and Start.
func NewScheduler(rooms RoomStore, messages MessagePruner, bc Broadcaster, cfg Config) *Scheduler {
	if cfg.RoomTTL <= 0 {
		cfg.RoomTTL = defaultRoomTTL
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = defaultPruneInterval
	}
	if cfg.Retention <= 0 {
		cfg.Retention = defaultRetention
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Scheduler{
		rooms:    rooms,
		messages: messages,
		bc:       bc,
		cfg:      cfg,
		timers:   make(map[string]timerEntry),
		stopCh:   make(chan struct{}),
	}
}

// Reconcile runs once at startup: missing expiries are backfilled from
// created_at, rooms already past expiry are deleted, and every other room
// gets a timer. Per-room failures are logged and skipped.
func (s *Scheduler) Reconcile(ctx context.Context) error {
	ctx = observability.WithCorrelationID(ctx, observability.GenerateCorrelationID())
	observability.LogAsyncOperationStart(ctx, "room_reconcile", nil)

	rooms, err := s.rooms.ListAll(ctx)
	if err != nil {
		observability.LogAsyncOperationError(ctx, "room_reconcile", err, nil)
		return err
	}

	now := s.cfg.Now()
	var armed, expired, backfilled int
	for _, room := range rooms {
		if room.ExpiresAt == nil {
			at := room.CreatedAt.UTC().Add(s.cfg.RoomTTL)
			if err := s.rooms.BackfillExpiry(ctx, room.ID, at); err != nil {
				s.roomFailed(ctx, "backfill", room.ID, err)
				continue
			}
			room.ExpiresAt = &at
			backfilled++
		}

		if room.IsExpired(now) {
			if _, err := s.Expire(ctx, room.ID); err != nil {
				s.roomFailed(ctx, "expire", room.ID, err)
				continue
			}
			expired++
			continue
		}
		s.Arm(room.ID, *room.ExpiresAt)
		armed++
	}

	observability.LogAsyncOperationEnd(ctx, "room_reconcile", map[string]interface{}{
		"rooms":      len(rooms),
		"armed":      armed,
		"expired":    expired,
		"backfilled": backfilled,
	})
	return nil
}

// Arm schedules expiry of roomID at expiresAt, replacing any earlier timer.
func (s *Scheduler) Arm(roomID string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}

	if old, ok := s.timers[roomID]; ok {
		old.timer.Stop()
	} else {
		observability.RoomTimersArmed.Inc()
	}

	s.gen++
	gen := s.gen
	delay := expiresAt.Sub(s.cfg.Now())
	if delay < 0 {
		delay = 0
	}
	s.timers[roomID] = timerEntry{
		gen:   gen,
		timer: time.AfterFunc(delay, func() { s.fire(roomID, gen) }),
	}
}

// Cancel stops the timer for roomID if one is armed. A timer that already
// fired still finds the room gone and does nothing.
func (s *Scheduler) Cancel(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.timers[roomID]; ok {
		entry.timer.Stop()
		delete(s.timers, roomID)
		observability.RoomTimersArmed.Dec()
	}
}

// Armed reports whether a timer is pending for roomID.
func (s *Scheduler) Armed(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[roomID]
	return ok
}

func (s *Scheduler) fire(roomID string, gen uint64) {
	s.mu.Lock()
	entry, ok := s.timers[roomID]
	if !ok || entry.gen != gen {
		s.mu.Unlock()
		return
	}
	delete(s.timers, roomID)
	observability.RoomTimersArmed.Dec()
	s.mu.Unlock()

	ctx := observability.WithCorrelationID(context.Background(), observability.GenerateCorrelationID())
	room, err := s.rooms.Get(ctx, roomID)
	if models.IsCode(err, models.CodeNotFound) {
		return
	}
	if err != nil {
		// the interval sweep picks it up
		s.roomFailed(ctx, "fire", roomID, err)
		return
	}
	if room.ExpiresAt != nil && !room.IsExpired(s.cfg.Now()) {
		s.Arm(roomID, *room.ExpiresAt)
		return
	}
	if _, err := s.Expire(ctx, roomID); err != nil {
		s.roomFailed(ctx, "fire", roomID, err)
	}
}

// Expire deletes roomID and, only when this call removed it, announces the
// expiry. It reports whether this call removed the room.
func (s *Scheduler) Expire(ctx context.Context, roomID string) (bool, error) {
	s.Cancel(roomID)

	deleted, err := s.rooms.Delete(ctx, roomID)
	if err != nil {
		return false, err
	}
	if !deleted {
		return false, nil
	}

	observability.RoomsDeleted.WithLabelValues("expired").Inc()
	s.bc.ToRoom(roomID, notifications.RoomExpired(roomID), "")
	s.bc.ToAll(notifications.RoomListUpdated(notifications.ListExpired, roomID))
	s.bc.DropRoom(roomID)
	observability.GlobalLogger.InfoContext(ctx, "room expired", "room_id", roomID)
	return true, nil
}

// Start runs the interval and retention loops until ctx is done or Stop is
// called.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		tick := time.NewTicker(s.cfg.Interval)
		prune := time.NewTicker(s.cfg.PruneInterval)
		defer tick.Stop()
		defer prune.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-tick.C:
				s.Sweep(ctx)
			case <-prune.C:
				s.Prune(ctx)
			}
		}
	}()
}

// Sweep expires every room past its expiry and sends live rooms their
// countdown. One room failing never stops the rest.
func (s *Scheduler) Sweep(ctx context.Context) {
	rooms, err := s.rooms.ListAll(ctx)
	if err != nil {
		observability.SchedulerErrors.WithLabelValues("list").Inc()
		observability.LogAsyncOperationError(ctx, "room_sweep", err, nil)
		return
	}

	now := s.cfg.Now()
	for _, room := range rooms {
		if room.ExpiresAt == nil {
			continue
		}
		if room.IsExpired(now) {
			if _, err := s.Expire(ctx, room.ID); err != nil {
				s.roomFailed(ctx, "expire", room.ID, err)
			}
			continue
		}
		s.bc.ToRoom(room.ID, notifications.RoomTimeUpdate(room.ID, room.TimeRemaining(now)), "")
	}
}

// Prune deletes room messages older than the retention window.
func (s *Scheduler) Prune(ctx context.Context) {
	cutoff := s.cfg.Now().Add(-s.cfg.Retention)
	n, err := s.messages.PruneOlderThan(ctx, cutoff)
	if err != nil {
		observability.SchedulerErrors.WithLabelValues("prune").Inc()
		observability.LogAsyncOperationError(ctx, "message_prune", err, nil)
		return
	}
	if n > 0 {
		observability.MessagesPruned.Add(float64(n))
		observability.LogAsyncOperationEnd(ctx, "message_prune", map[string]interface{}{"deleted": n, "cutoff": cutoff})
	}
}

// Stop halts the loops and every pending timer. It is idempotent.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)

		s.mu.Lock()
		s.stopped = true
		for id, entry := range s.timers {
			entry.timer.Stop()
			delete(s.timers, id)
		}
		s.mu.Unlock()
		observability.RoomTimersArmed.Set(0)

		s.wg.Wait()
	})
}

func (s *Scheduler) roomFailed(ctx context.Context, stage, roomID string, err error) {
	observability.SchedulerErrors.WithLabelValues(stage).Inc()
	observability.LogAsyncOperationError(ctx, "room_"+stage, err, map[string]interface{}{"room_id": roomID})
}
