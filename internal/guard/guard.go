// Package guard decides whether the current process is the live game client
// that packets should be relayed from.
package guard

import (
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"firestige.xyz/packeteater/internal/config"
	"firestige.xyz/packeteater/internal/metrics"
)

const defaultRefresh = time.Second

// Guard reports whether packets from this process should be relayed.
// Implementations must be cheap and safe for concurrent use.
type Guard interface {
	IsTargetEnvironment() bool
}

// Static is a Guard with a fixed answer.
type Static bool

// IsTargetEnvironment returns s.
func (s Static) IsTargetEnvironment() bool { return bool(s) }

// Func adapts a function to Guard.
type Func func() bool

// IsTargetEnvironment calls f.
func (f Func) IsTargetEnvironment() bool { return f() }

// New returns the guard described by cfg. A disabled guard always passes.
func New(cfg config.GuardConfig) Guard {
	if !cfg.Enabled {
		return Static(true)
	}
	return NewModuleGuard(cfg.Module, cfg.Refresh)
}

// ModuleGuard passes when a shared module with the given file name is loaded
// in the current process. Lookups run on a background goroutine, so callers
// only ever read the last result. A hook module stays loaded for the life of
// the process, so a positive result is kept for good; a negative one is
// looked up again once it is older than the refresh interval. Until the first
// lookup completes the guard reports false.
type ModuleGuard struct {
	module  string
	refresh time.Duration
	lookup  func(module string) (bool, error)
	now     func() time.Time

	loaded     atomic.Bool
	checkedAt  atomic.Int64 // unix nanos of the last completed lookup, 0 before
	refreshing atomic.Bool
	warned     atomic.Bool
}

// NewModuleGuard returns a guard for module (e.g. "polhook.dll") and starts
// the first lookup.
func NewModuleGuard(module string, refresh time.Duration) *ModuleGuard {
	return newModuleGuard(module, refresh, moduleLoaded, time.Now)
}

func newModuleGuard(module string, refresh time.Duration, lookup func(string) (bool, error), now func() time.Time) *ModuleGuard {
	if refresh <= 0 {
		refresh = defaultRefresh
	}
	g := &ModuleGuard{
		module:  module,
		refresh: refresh,
		lookup:  lookup,
		now:     now,
	}
	g.startRefresh()
	return g
}

// Module returns the module file name the guard looks for.
func (g *ModuleGuard) Module() string { return g.module }

// IsTargetEnvironment implements Guard. It never waits for a lookup.
func (g *ModuleGuard) IsTargetEnvironment() bool {
	if g.loaded.Load() {
		return true
	}
	if at := g.checkedAt.Load(); at != 0 && g.now().UnixNano()-at >= int64(g.refresh) {
		g.startRefresh()
	}
	return false
}

// startRefresh runs one lookup in the background unless one is in flight.
func (g *ModuleGuard) startRefresh() {
	if !g.refreshing.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer g.refreshing.Store(false)
		g.refreshNow()
	}()
}

func (g *ModuleGuard) refreshNow() {
	loaded, err := g.lookup(g.module)
	switch {
	case err != nil:
		metrics.GuardChecksTotal.WithLabelValues("error").Inc()
		if g.warned.CompareAndSwap(false, true) {
			slog.Warn("module lookup failed, treating process as not the game client",
				"module", g.module, "error", err)
		}
	case loaded:
		metrics.GuardChecksTotal.WithLabelValues("present").Inc()
		g.loaded.Store(true)
		slog.Info("game client detected", "module", g.module)
	default:
		metrics.GuardChecksTotal.WithLabelValues("absent").Inc()
	}
	g.checkedAt.Store(g.now().UnixNano())
}

// ModuleDir returns the directory the named module was loaded from, or an
// error wrapping core.ErrModuleNotLoaded.
func ModuleDir(module string) (string, error) { return moduleDir(module) }

// sameModule compares a loaded module path with a module file name the way
// the Windows loader does: by base name, case-insensitively.
func sameModule(path, module string) bool {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		path = path[i+1:]
	}
	return path != "" && strings.EqualFold(path, module)
}
