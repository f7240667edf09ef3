package repl

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"rlm/internal/config"
	"rlm/internal/rlmerr"
	"rlm/internal/sandbox"
	"rlm/internal/trajectory"
)

// Pool manages a bounded set of REPL subprocess handles. Size is bounded by
// cfg.MaxHandles; a spawn must first take a slot of a semaphore of that
// size, so at most MaxHandles spawns run at once and fork storms are
// avoided (spec.md §4.2 "Pool invariants"), grounded on
// intelligencedev-manifold/internal/mcpclient/pool.go's
// checkout/idle-reaper shape (NewMCPServerPool/reapIdleSessions), adapted
// from a per-user session map to a free-list of interchangeable handles.
type Pool struct {
	cfg config.ReplPoolConfig
	bus *trajectory.Bus

	sem  chan struct{} // one slot per handle that may exist, idle or checked out
	idle chan *Handle

	mu     sync.Mutex
	total  int
	closed bool
	nextID atomic.Int64
}

// New creates a Pool bounded by cfg.MaxHandles. Each new handle's workdir is
// resolved at Checkout from the context via sandbox.ResolveBaseDir.
func New(cfg config.ReplPoolConfig, bus *trajectory.Bus) *Pool {
	if cfg.MaxHandles <= 0 {
		cfg.MaxHandles = 1
	}
	return &Pool{
		cfg:  cfg,
		bus:  bus,
		sem:  make(chan struct{}, cfg.MaxHandles),
		idle: make(chan *Handle, cfg.MaxHandles),
	}
}

// Checkout returns an idle handle if one is available, otherwise spawns a
// new one up to MaxHandles, blocking (respecting ctx) if the pool is
// already at capacity and every handle is checked out.
func (p *Pool) Checkout(ctx context.Context) (*Handle, error) {
	select {
	case h := <-p.idle:
		return h, nil
	default:
	}

	select {
	case p.sem <- struct{}{}:
		workdir := sandbox.ResolveBaseDir(ctx, "")
		h, err := spawnHandle(ctx, p.nextID.Add(1), spawnConfig{
			interpreter:  p.cfg.Interpreter,
			workdir:      workdir,
			spawnTimeout: p.cfg.SpawnTimeout,
		}, p.bus)
		if err != nil {
			<-p.sem
			return nil, err
		}
		p.mu.Lock()
		p.total++
		p.mu.Unlock()
		return h, nil
	case h := <-p.idle:
		return h, nil
	case <-ctx.Done():
		return nil, rlmerr.New(rlmerr.KindTimeout, "repl.checkout", "waiting for a free handle", ctx.Err())
	}
}

// Return releases h back to the pool if healthy, otherwise kills it and
// frees its slot for a future spawn (spec.md §4.2 "Health").
func (p *Pool) Return(h *Handle) {
	if h == nil {
		return
	}
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed || !h.Healthy() {
		p.Kill(h)
		return
	}
	select {
	case p.idle <- h:
	default:
		// Pool shrank (Close) or idle channel unexpectedly full; fail safe
		// by killing rather than leaking the subprocess.
		p.Kill(h)
	}
}

// Kill terminates h unconditionally and frees its slot.
func (p *Pool) Kill(h *Handle) {
	if h == nil {
		return
	}
	_ = h.Close()
	p.mu.Lock()
	p.total--
	p.mu.Unlock()
	<-p.sem
}

// StartReaper periodically kills idle handles that have exceeded
// cfg.IdleTTL, grounded on mcpclient/pool.go's StartReaper/reapIdleSessions
// ticker pattern.
func (p *Pool) StartReaper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.reapIdle()
			}
		}
	}()
}

func (p *Pool) reapIdle() {
	if p.cfg.IdleTTL <= 0 {
		return
	}
	var keep []*Handle
	for {
		select {
		case h := <-p.idle:
			h.mu.Lock()
			stale := time.Since(h.lastUsed) > p.cfg.IdleTTL
			h.mu.Unlock()
			if stale {
				p.Kill(h)
			} else {
				keep = append(keep, h)
			}
		default:
			for _, h := range keep {
				p.idle <- h
			}
			return
		}
	}
}

// Close drains and kills every idle handle. Checked-out handles are killed
// as their callers return them (Return sees p.closed and kills instead of
// reusing).
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	for {
		select {
		case h := <-p.idle:
			p.Kill(h)
		default:
			return
		}
	}
}

// Stats reports the pool's current occupancy.
type Stats struct {
	Total int
	Idle  int
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Total: p.total, Idle: len(p.idle)}
}
