package web

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/briangreenhill/mapty/internal/app"
	"github.com/briangreenhill/mapty/internal/config"
	"github.com/briangreenhill/mapty/internal/observability"
	"github.com/briangreenhill/mapty/internal/workout"
)

var errRegistryClosed = errors.New("session registry closed")

// StoreFactory returns the workout collection for a new session.
type StoreFactory func(sessionID string) workout.Store

type dropper interface {
	Drop(ctx context.Context) error
}

// session is one page load: a controller, its views and its workouts.
type session struct {
	id         string
	mu         sync.Mutex
	controller *app.Controller
	view       *browserView
	geo        *browserGeolocator
	store      workout.Store
	limiter    *rate.Limiter
	cancel     context.CancelFunc
	done       chan struct{}
	lastSeen   atomic.Int64
}

func (s *session) touch(now time.Time) {
	s.lastSeen.Store(now.UnixNano())
}

func (s *session) idleSince() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

type Registry struct {
	logger   *slog.Logger
	cfg      config.Config
	newStore StoreFactory
	now      func() time.Time

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	sessions map[string]*session
}

func NewRegistry(logger *slog.Logger, cfg config.Config, newStore StoreFactory) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		logger:   logger,
		cfg:      cfg,
		newStore: newStore,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*session),
	}
}

// Create starts a new session with its own controller goroutine.
func (r *Registry) Create() (*session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ctx.Err() != nil {
		return nil, errRegistryClosed
	}

	id := uuid.NewString()
	view := newBrowserView(id)
	geo := newBrowserGeolocator()
	store := r.newStore(id)
	logger := r.logger.With(slog.String("session", id))

	ctx, cancel := context.WithCancel(r.ctx)
	s := &session{
		id:         id,
		controller: app.New(logger, app.Views{Map: view, Form: view, List: view, Alerts: view}, geo, store, r.cfg.Map.Zoom),
		view:       view,
		geo:        geo,
		store:      store,
		limiter:    newLimiter(r.cfg.Sessions),
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	s.touch(r.now())

	go func() {
		defer close(s.done)
		if err := s.controller.Run(ctx); err != nil {
			logger.Error("Controller stopped", slog.Any("error", err))
		}
	}()

	r.sessions[id] = s
	observability.SessionsActive.Inc()
	logger.Info("Session started")
	return s, nil
}

// Get looks up a live session and marks it as used.
func (r *Registry) Get(id string) (*session, bool) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if ok {
		s.touch(r.now())
	}
	return s, ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Reap ends sessions idle for longer than the configured TTL.
func (r *Registry) Reap() int {
	cutoff := r.now().Add(-r.cfg.Sessions.TTL)

	r.mu.Lock()
	var expired []*session
	for id, s := range r.sessions {
		if s.idleSince().Before(cutoff) {
			expired = append(expired, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, s := range expired {
		r.stop(s)
		r.logger.Info("Session expired", slog.String("session", s.id))
	}
	return len(expired)
}

// Run reaps idle sessions until ctx is done, then stops every session.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Sessions.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.Close()
			return
		case <-ticker.C:
			r.Reap()
		}
	}
}

func (r *Registry) Close() {
	r.mu.Lock()
	r.cancel()
	sessions := r.sessions
	r.sessions = make(map[string]*session)
	r.mu.Unlock()

	for _, s := range sessions {
		r.stop(s)
	}
}

func (r *Registry) stop(s *session) {
	s.cancel()
	<-s.done
	observability.SessionsActive.Dec()

	if d, ok := s.store.(dropper); ok {
		if err := d.Drop(context.Background()); err != nil {
			r.logger.Error("Error dropping session workouts", slog.String("session", s.id), slog.Any("error", err))
		}
	}
}

func newLimiter(cfg config.Sessions) *rate.Limiter {
	if cfg.EventsPerSecond <= 0 || math.IsInf(cfg.EventsPerSecond, 1) {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := cfg.EventBurst
	if burst <= 0 {
		burst = int(math.Ceil(cfg.EventsPerSecond))
	}
	return rate.NewLimiter(rate.Limit(cfg.EventsPerSecond), burst)
}
