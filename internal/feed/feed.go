// Package feed owns one published timetable calendar: its record set, its
// last encoded document and the lifecycle of reconciliation passes.
package feed

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"ttcal/internal/calendar"
	appLog "ttcal/internal/log"
	"ttcal/internal/model"
	"ttcal/internal/reconcile"
	"ttcal/internal/state"
)

// ErrNoCalendar is returned when no pass has ever succeeded.
var ErrNoCalendar = errors.New("feed: no calendar available")

const DefaultPassTimeout = 2 * time.Minute

// Source yields a fresh timetable snapshot.
type Source interface {
	Fetch(ctx context.Context) (model.Snapshot, error)
}

// Store persists the record set between process runs.
type Store interface {
	Load() state.RecordSet
	Save(state.RecordSet) error
}

// Options configures a Service.
type Options struct {
	ID   string
	Name string

	Source Source
	Store  Store
	Engine *reconcile.Engine

	// Retention > 0 prunes records that ended longer ago than this.
	Retention time.Duration

	// PassTimeout bounds one pass. Zero means DefaultPassTimeout.
	PassTimeout time.Duration

	// Now defaults to time.Now.
	Now func() time.Time
}

// Calendar is the published result of a successful pass.
type Calendar struct {
	ICS         []byte
	ETag        string
	Events      []reconcile.Event
	Stats       reconcile.Stats
	GeneratedAt time.Time
}

// Service runs passes for one feed. Passes are serialized; concurrent
// Refresh calls share the pass already in flight.
type Service struct {
	id        string
	name      string
	src       Source
	store     Store
	engine    *reconcile.Engine
	retention time.Duration
	timeout   time.Duration
	now       func() time.Time

	flight singleflight.Group

	passMu  sync.Mutex
	records state.RecordSet // guarded by passMu

	mu      sync.RWMutex
	current *Calendar
}

// New builds a Service and loads its record set once.
func New(opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.PassTimeout <= 0 {
		opts.PassTimeout = DefaultPassTimeout
	}
	if opts.Engine == nil {
		opts.Engine = reconcile.NewEngine(reconcile.Options{})
	}
	records := opts.Store.Load()
	if records == nil {
		records = state.RecordSet{}
	}
	return &Service{
		id:        opts.ID,
		name:      opts.Name,
		src:       opts.Source,
		store:     opts.Store,
		engine:    opts.Engine,
		retention: opts.Retention,
		timeout:   opts.PassTimeout,
		now:       opts.Now,
		records:   records,
	}
}

func (s *Service) ID() string   { return s.id }
func (s *Service) Name() string { return s.name }

// Current returns the last published calendar, or nil.
func (s *Service) Current() *Calendar {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Ensure returns the published calendar, running a pass first when none
// exists or force is set.
func (s *Service) Ensure(ctx context.Context, force bool) (*Calendar, error) {
	if !force {
		if c := s.Current(); c != nil {
			return c, nil
		}
	}
	c, err := s.Refresh(ctx)
	if err != nil {
		if prev := s.Current(); prev != nil && !force {
			return prev, nil
		}
		return nil, err
	}
	return c, nil
}

// Refresh runs one pass: fetch, reconcile against a copy of the records,
// save, then commit and publish. Nothing is committed or published unless
// every step succeeds.
//
// The pass is shared by every concurrent caller, so it runs detached from
// ctx under the service's own timeout. Cancelling ctx only stops this
// caller from waiting.
func (s *Service) Refresh(ctx context.Context) (*Calendar, error) {
	ch := s.flight.DoChan("refresh", func() (any, error) {
		passCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		return s.runPass(passCtx)
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("feed %s: %w", s.id, ctx.Err())
	case res := <-ch:
		if res.Shared {
			appLog.Debug("refresh joined in-flight pass", "feed", s.id)
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Calendar), nil
	}
}

func (s *Service) runPass(ctx context.Context) (*Calendar, error) {
	s.passMu.Lock()
	defer s.passMu.Unlock()

	passID := uuid.NewString()
	began := time.Now()
	appLog.Info("pass start", "feed", s.id, "pass", passID)

	snap, err := s.src.Fetch(ctx)
	if err != nil {
		appLog.Error("pass fetch failed", err, "feed", s.id, "pass", passID)
		return nil, fmt.Errorf("feed %s: %w", s.id, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("feed %s: %w", s.id, err)
	}

	now := s.now()
	next := s.records.Clone()
	pass := s.engine.Run(snap, next, now)
	if err := pass.Err(); err != nil {
		appLog.Error("pass flagged identifier collisions", err, "feed", s.id, "pass", passID, "count", len(pass.Collisions))
	}

	if s.retention > 0 {
		keep := make(map[string]struct{}, len(pass.Events))
		for _, ev := range pass.Events {
			keep[ev.ID] = struct{}{}
		}
		if n := next.Prune(now.Add(-s.retention), keep); n > 0 {
			appLog.Info("pruned expired records", "feed", s.id, "pass", passID, "count", n)
		}
	}

	ics := []byte(calendar.Encode(s.name, pass.Events))

	if err := s.store.Save(next); err != nil {
		appLog.Error("pass save failed; previous state kept", err, "feed", s.id, "pass", passID)
		return nil, fmt.Errorf("feed %s: save state: %w", s.id, err)
	}
	s.records = next

	cal := &Calendar{
		ICS:         ics,
		ETag:        etag(ics),
		Events:      pass.Events,
		Stats:       pass.Stats,
		GeneratedAt: now,
	}
	s.mu.Lock()
	s.current = cal
	s.mu.Unlock()

	appLog.Info("pass complete",
		"feed", s.id,
		"pass", passID,
		"entries", pass.Stats.Entries,
		"matched", pass.Stats.Matched,
		"minted", pass.Stats.Minted,
		"created", pass.Stats.Created,
		"modified", pass.Stats.Modified,
		"unchanged", pass.Stats.Unchanged,
		"records", len(next),
		"took", time.Since(began).String(),
	)
	return cal, nil
}

// RecordCount reports how many records the feed currently holds.
func (s *Service) RecordCount() int {
	s.passMu.Lock()
	defer s.passMu.Unlock()
	return len(s.records)
}

func etag(b []byte) string {
	sum := sha1.Sum(b)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}
