package mailbox

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/mixelka/tempmailbot/pkg/models"
)

// ErrRegistryClosed is returned by Start after Close
var ErrRegistryClosed = errors.New("registry closed")

const (
	eventBuffer     = 64
	deliveryTimeout = 15 * time.Second
	restoreWorkers  = 8
)

type eventKind int

const (
	eventMessage eventKind = iota
	eventTerminated
)

type event struct {
	kind         eventKind
	entry        *entry
	notification models.Notification
	reason       TerminationReason
}

// entry is the registry's handle on one running poller
type entry struct {
	userID  int64
	address string
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool // guarded by Registry.mu
}

// Registry owns every running poller, at most one per user
type Registry struct {
	pollers map[int64]*entry
	mu      sync.RWMutex
	deps    Deps
	sink    Sink
	logger  *slog.Logger

	events         chan event
	quit           chan struct{}
	dispatcherDone chan struct{}
	closeOnce      sync.Once
}

// NewRegistry creates a registry and starts its sink dispatcher
func NewRegistry(deps Deps, sink Sink) *Registry {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}

	r := &Registry{
		pollers:        make(map[int64]*entry),
		deps:           deps,
		sink:           sink,
		logger:         deps.Logger.With("component", "session_registry"),
		events:         make(chan event, eventBuffer),
		quit:           make(chan struct{}),
		dispatcherDone: make(chan struct{}),
	}
	go r.dispatch()
	return r
}

// Start runs a poller for the session, replacing any poller the user
// already has. The previous poller is fully stopped before the new one
// starts.
func (r *Registry) Start(userID int64, session models.MailboxSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	select {
	case <-r.quit:
		return ErrRegistryClosed
	default:
	}

	if old, exists := r.pollers[userID]; exists {
		r.stopEntry(old)
		delete(r.pollers, userID)
		r.logger.Info("replaced poller", "user_id", userID, "old_address", old.address)
	}

	session.UserID = userID
	ctx, cancel := context.WithCancel(context.Background())
	e := &entry{
		userID:  userID,
		address: session.Address,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	poller, err := NewPoller(session, r.deps, r.emitter(e))
	if err != nil {
		cancel()
		return err
	}

	r.pollers[userID] = e
	go r.run(ctx, e, poller)

	r.logger.Info("started poller", "user_id", userID, "address", session.Address)
	return nil
}

// Stop stops the user's poller. It is a no-op without one.
func (r *Registry) Stop(userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.pollers[userID]
	if !exists {
		return
	}

	r.stopEntry(e)
	delete(r.pollers, userID)

	r.logger.Info("stopped poller", "user_id", userID, "address", e.address)
}

// IsActive reports whether the user has a running poller
func (r *Registry) IsActive(userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.pollers[userID]
	return exists
}

// Count returns the number of running pollers
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.pollers)
}

// RestoreAll starts pollers for persisted sessions. Sessions without a
// token are re-authenticated first.
func (r *Registry) RestoreAll(ctx context.Context, sessions []*models.MailboxSession) int {
	r.logger.Info("restoring sessions", "count", len(sessions))

	var (
		g       errgroup.Group
		mu      sync.Mutex
		started int
	)
	g.SetLimit(restoreWorkers)

	for _, session := range sessions {
		g.Go(func() error {
			s := *session
			if s.Token == "" {
				token, err := r.deps.Authority.Refresh(ctx, s.Address, s.Secret)
				if err != nil {
					r.logger.Error("failed to restore session", "user_id", s.UserID, "address", s.Address, "error", err)
					return nil
				}
				s.Token = token
				s.LastAccess = r.deps.Clock.Now()
				if r.deps.Saver != nil {
					if err := r.deps.Saver.UpdateSessionToken(ctx, s.UserID, s.Token, s.LastAccess); err != nil {
						r.logger.Error("failed to persist token", "user_id", s.UserID, "error", err)
					}
				}
			}

			if err := r.Start(s.UserID, s); err != nil {
				r.logger.Error("failed to start poller", "user_id", s.UserID, "error", err)
				return nil
			}

			mu.Lock()
			started++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	r.logger.Info("finished restoring sessions", "started", started)
	return started
}

// StopAll stops every poller
func (r *Registry) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.Info("stopping all pollers", "count", len(r.pollers))

	for _, e := range r.pollers {
		e.stopped = true
		e.cancel()
	}
	for id, e := range r.pollers {
		<-e.done
		delete(r.pollers, id)
	}

	r.logger.Info("all pollers stopped")
}

// Close stops every poller and the dispatcher
func (r *Registry) Close() {
	r.closeOnce.Do(func() {
		r.StopAll()
		close(r.quit)
		<-r.dispatcherDone
	})
}

// stopEntry cancels a poller and waits for its goroutine. Caller holds mu.
func (r *Registry) stopEntry(e *entry) {
	e.stopped = true
	e.cancel()
	<-e.done
}

func (r *Registry) run(ctx context.Context, e *entry, poller *Poller) {
	err := poller.Run(ctx)
	e.cancel()
	close(e.done)

	var sessErr *SessionError
	if !errors.As(err, &sessErr) {
		return
	}

	r.logger.Warn("session terminated", "user_id", e.userID, "address", e.address, "reason", sessErr.Reason, "error", err)

	r.mu.Lock()
	if r.pollers[e.userID] == e {
		delete(r.pollers, e.userID)
	}
	stopped := e.stopped
	r.mu.Unlock()

	if stopped {
		return
	}

	select {
	case r.events <- event{kind: eventTerminated, entry: e, reason: sessErr.Reason}:
	case <-r.quit:
	}
}

func (r *Registry) emitter(e *entry) emitFunc {
	return func(ctx context.Context, n models.Notification) bool {
		select {
		case r.events <- event{kind: eventMessage, entry: e, notification: n}:
			return true
		case <-ctx.Done():
			return false
		}
	}
}

func (r *Registry) dispatch() {
	defer close(r.dispatcherDone)

	for {
		select {
		case <-r.quit:
			return
		case ev := <-r.events:
			r.deliver(ev)
		}
	}
}

// deliver hands an event to the sink if its poller is still current. The
// read lock is held across delivery so Stop and Start cannot interleave.
func (r *Registry) deliver(ev event) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	current := r.pollers[ev.entry.userID]

	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()

	switch ev.kind {
	case eventMessage:
		if current != ev.entry {
			r.logger.Debug("dropping event from stale poller", "user_id", ev.entry.userID, "message_id", ev.notification.MessageID)
			return
		}
		r.sink.OnNewMessage(ctx, ev.entry.userID, ev.notification)
	case eventTerminated:
		if current != nil || ev.entry.stopped {
			return
		}
		r.sink.OnSessionTerminated(ctx, ev.entry.userID, ev.reason)
	}
}
