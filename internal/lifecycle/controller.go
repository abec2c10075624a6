// Package lifecycle owns the gateway's single live engine instance:
// at-most-one running engine, exactly-once stop, and restart that no
// request handler can observe half-done.
package lifecycle

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"assistd/internal/bus"
	"assistd/internal/engine"
	"assistd/pkg/types"
)

// Config wires a Controller.
type Config struct {
	// Factory builds a fresh engine for each start/restart generation.
	Factory engine.Factory
	// Bus receives intent and log events via the observer adapter.
	Bus *bus.Bus
	// Profile is the active profile name, reported in status.
	Profile string
	// PreStart, when set, runs after the engine is constructed and before
	// its start sequence (used to apply command-line profile overrides).
	PreStart func() error

	Logger zerolog.Logger
}

// liveEngine pairs one engine generation with its exactly-once stop.
type liveEngine struct {
	engine.Engine
	stopOnce sync.Once
}

func (h *liveEngine) stop(log zerolog.Logger) {
	h.stopOnce.Do(func() {
		if err := h.Engine.Stop(); err != nil {
			// Never let a stop failure keep a dead engine looking alive.
			log.Error().Err(err).Msg("engine stop failed")
		}
	})
}

// Controller serializes engine lifecycle transitions behind one mutex,
// distinct from any bus channel lock. Handle reads take only the
// read side so request handlers stay cheap.
type Controller struct {
	cfg Config
	log zerolog.Logger

	// lifecycleMu serializes Start/Shutdown/Restart against each other.
	lifecycleMu sync.Mutex
	// handleMu guards the handle pointer for readers.
	handleMu sync.RWMutex
	handle   *liveEngine

	restarts  atomic.Uint64
	startTime time.Time
}

// New creates a Controller. No engine is started yet.
func New(cfg Config) *Controller {
	return &Controller{
		cfg:       cfg,
		log:       cfg.Logger.With().Str("component", "lifecycle").Logger(),
		startTime: time.Now(),
	}
}

// Start constructs and starts a fresh engine. It fails with
// ErrAlreadyRunning when one is live. The handle only becomes visible
// to request handlers after the engine's start sequence has completed.
func (c *Controller) Start(ctx context.Context) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	return c.startLocked(ctx)
}

func (c *Controller) startLocked(ctx context.Context) error {
	c.handleMu.RLock()
	running := c.handle != nil
	c.handleMu.RUnlock()
	if running {
		return engine.ErrAlreadyRunning
	}

	eng := c.cfg.Factory()
	if c.cfg.PreStart != nil {
		if err := c.cfg.PreStart(); err != nil {
			return err
		}
	}
	obs := newObserver(c.cfg.Bus, c.log)
	if err := eng.Start(ctx, obs); err != nil {
		return err
	}

	c.handleMu.Lock()
	c.handle = &liveEngine{Engine: eng}
	c.handleMu.Unlock()
	c.log.Info().Str("profile", c.cfg.Profile).Msg("engine started")
	return nil
}

// Shutdown stops the live engine, if any, exactly once, and clears the
// handle. It never returns an error: stop failures are logged, the
// handle is cleared regardless. Safe to call concurrently and on every
// termination path.
func (c *Controller) Shutdown() {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	c.shutdownLocked()
}

func (c *Controller) shutdownLocked() {
	c.handleMu.Lock()
	h := c.handle
	c.handle = nil
	c.handleMu.Unlock()
	if h == nil {
		return
	}
	h.stop(c.log)
	c.log.Info().Msg("engine stopped")
}

// Restart stops the current engine and starts a fresh one under the
// lifecycle lock, so no other lifecycle operation interleaves.
// In-flight requests holding the old engine are not drained: they run
// to completion against it and may fail when its process exits.
func (c *Controller) Restart(ctx context.Context) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	c.shutdownLocked()
	if err := c.startLocked(ctx); err != nil {
		return err
	}
	c.restarts.Add(1)
	return nil
}

// Handle returns the live engine, or ErrNotReady when none is live
// (not started yet, or mid-restart).
func (c *Controller) Handle() (engine.Engine, error) {
	c.handleMu.RLock()
	h := c.handle
	c.handleMu.RUnlock()
	if h == nil {
		return nil, engine.ErrNotReady
	}
	return h, nil
}

// Running reports whether an engine is live.
func (c *Controller) Running() bool {
	_, err := c.Handle()
	return err == nil
}

// Train dispatches the engine's training job and waits for it. A
// pipeline failure reason travels back verbatim as a TrainingError.
func (c *Controller) Train(ctx context.Context) (time.Duration, error) {
	h, err := c.Handle()
	if err != nil {
		return 0, err
	}
	start := time.Now()
	errCh := make(chan error, 1)
	go func() { errCh <- h.Train(ctx) }()
	select {
	case err := <-errCh:
		return time.Since(start), err
	case <-ctx.Done():
		return time.Since(start), ctx.Err()
	}
}

// Status builds the /api/status payload.
func (c *Controller) Status() types.StatusResponse {
	state := "stopped"
	profile := ""
	if c.Running() {
		state = "running"
		profile = c.cfg.Profile
	}
	resp := types.StatusResponse{
		State:         state,
		Profile:       profile,
		UptimeSeconds: int64(time.Since(c.startTime).Seconds()),
		Restarts:      c.restarts.Load(),
	}
	if c.cfg.Bus != nil {
		resp.Subscribers = c.cfg.Bus.Subscribers()
	}
	return resp
}
