package update

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mehrguard/mehrguard/internal/tables"
)

// ErrBusy is returned when an attempt is already in progress.
var ErrBusy = errors.New("update already in progress")

// Persister records accepted manifests. It is optional.
type Persister interface {
	Save(ctx context.Context, snap *tables.Snapshot, raw []byte) error
}

// Status is a point-in-time view of the updater.
type Status struct {
	State          State     `json:"state"`
	Source         string    `json:"source"`
	AttemptID      string    `json:"attempt_id,omitempty"`
	ActiveVersion  int       `json:"active_version"`
	OfferedVersion int       `json:"offered_version,omitempty"`
	LastCheck      time.Time `json:"last_check,omitempty"`
	LastSuccess    time.Time `json:"last_success,omitempty"`
	LastError      string    `json:"last_error,omitempty"`
	Checks         int64     `json:"checks"`
	Updates        int64     `json:"updates"`
	Failures       int64     `json:"failures"`
}

// Options configures an Updater.
type Options struct {
	Interval time.Duration
	// AllowDowngrade accepts manifests whose version is not newer than the
	// active one.
	AllowDowngrade bool
	Persister      Persister
	Logger         *slog.Logger
	// OnTransition, when set, is called after every state change.
	OnTransition func(from, to State)
}

// Updater drives update attempts against one source.
type Updater struct {
	store    *tables.Store
	source   Source
	opts     Options
	logger   *slog.Logger
	interval time.Duration

	run    sync.Mutex
	mu     sync.RWMutex
	status Status
}

// New returns an idle updater.
func New(store *tables.Store, source Source, opts Options) *Updater {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	return &Updater{
		store:    store,
		source:   source,
		opts:     opts,
		logger:   logger,
		interval: interval,
		status: Status{
			State:         StateIdle,
			Source:        source.Name(),
			ActiveVersion: store.Current().Version,
		},
	}
}

// Status returns the current status.
func (u *Updater) Status() Status {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.status
}

// Run checks once immediately and then on every interval until ctx is
// cancelled.
func (u *Updater) Run(ctx context.Context) {
	u.attempt(ctx)
	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			u.attempt(ctx)
		}
	}
}

func (u *Updater) attempt(ctx context.Context) {
	if _, err := u.CheckNow(ctx); err != nil && !errors.Is(err, ErrBusy) {
		u.logger.Warn("table update failed", "source", u.source.Name(), "error", err)
	}
}

// CheckNow runs one attempt to completion and returns the final status.
// It returns ErrBusy without waiting when another attempt is running.
func (u *Updater) CheckNow(ctx context.Context) (Status, error) {
	if !u.run.TryLock() {
		return u.Status(), ErrBusy
	}
	defer u.run.Unlock()

	id := uuid.NewString()
	log := u.logger.With("attempt", id, "source", u.source.Name())
	u.mu.Lock()
	u.status.AttemptID = id
	u.status.OfferedVersion = 0
	u.status.Checks++
	u.status.LastCheck = time.Now().UTC()
	u.mu.Unlock()

	if err := u.moveTo(StateChecking); err != nil {
		return u.Status(), err
	}
	offer, err := u.source.Check(ctx)
	if err != nil {
		return u.fail(log, fmt.Errorf("check: %w", err))
	}
	active := u.store.Current()
	if !offer.Available {
		log.Debug("tables not modified")
		return u.finish(StateNoUpdateNeeded)
	}
	if offer.Version > 0 {
		u.setOffered(offer.Version)
		if !u.opts.AllowDowngrade && offer.Version <= active.Version {
			log.Debug("offered tables not newer", "offered", offer.Version, "active", active.Version)
			return u.finish(StateNoUpdateNeeded)
		}
	}

	if err := u.moveTo(StateDownloading); err != nil {
		return u.Status(), err
	}
	raw, err := u.source.Download(ctx, offer)
	if errors.Is(err, ErrNotModified) {
		return u.finish(StateNoUpdateNeeded)
	}
	if err != nil {
		return u.fail(log, fmt.Errorf("download: %w", err))
	}
	next, err := tables.Load(raw, u.source.Name())
	if err != nil {
		return u.fail(log, err)
	}
	u.setOffered(next.Version)
	// Other writers share the store; re-check against whatever is active
	// at swap time so a concurrent upgrade is never rolled back.
	for {
		active = u.store.Current()
		if !u.opts.AllowDowngrade && next.Version <= active.Version {
			log.Debug("downloaded tables not newer", "offered", next.Version, "active", active.Version)
			return u.finish(StateNoUpdateNeeded)
		}
		if next.Digest == active.Digest {
			return u.finish(StateNoUpdateNeeded)
		}
		swapped, err := u.store.CompareAndSwap(active, next)
		if err != nil {
			return u.fail(log, err)
		}
		if swapped {
			break
		}
		log.Debug("active tables changed during update, re-checking")
	}
	if u.opts.Persister != nil {
		if err := u.opts.Persister.Save(ctx, next, raw); err != nil {
			log.Warn("accepted tables not persisted", "error", err)
		}
	}
	log.Info("tables updated", "version", next.Version, "previous", active.Version, "digest", next.Digest[:12])

	u.mu.Lock()
	u.status.ActiveVersion = next.Version
	u.status.LastSuccess = time.Now().UTC()
	u.status.LastError = ""
	u.status.Updates++
	u.mu.Unlock()
	return u.finish(StateSuccess)
}

func (u *Updater) setOffered(v int) {
	u.mu.Lock()
	u.status.OfferedVersion = v
	u.mu.Unlock()
}

func (u *Updater) fail(log *slog.Logger, err error) (Status, error) {
	log.Warn("table update attempt failed", "error", err)
	u.mu.Lock()
	u.status.LastError = err.Error()
	u.status.Failures++
	u.mu.Unlock()
	if terr := u.moveTo(StateError); terr != nil {
		return u.Status(), terr
	}
	return u.Status(), err
}

func (u *Updater) finish(s State) (Status, error) {
	if err := u.moveTo(s); err != nil {
		return u.Status(), err
	}
	return u.Status(), nil
}

func (u *Updater) moveTo(next State) error {
	u.mu.Lock()
	from := u.status.State
	if !from.CanTransition(next) {
		u.mu.Unlock()
		return &TransitionError{From: from, To: next}
	}
	u.status.State = next
	if next == StateSuccess || next == StateNoUpdateNeeded {
		u.status.ActiveVersion = u.store.Current().Version
	}
	u.mu.Unlock()
	if u.opts.OnTransition != nil {
		u.opts.OnTransition(from, next)
	}
	return nil
}
