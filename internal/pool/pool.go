// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package pool implements a bounded, blocking pool of reusable
// resources — the connection contexts the replicawire client core
// borrows one of per request.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Resource is anything the pool can create, hand out, and dispose of.
// Alive reports whether the resource is still usable; Close disposes
// it permanently.
type Resource interface {
	Alive() bool
	Close() error
}

// Factory creates a new Resource, dialing out as needed. It should
// honor ctx's deadline/cancellation.
type Factory func(ctx context.Context) (Resource, error)

// ErrClosed is returned by Acquire once the pool has been closed.
var ErrClosed = errors.New("pool: closed")

// Options configures a Pool.
type Options struct {
	MaxActive int // total live resources (idle + in-flight), must be > 0
	MaxIdle   int // idle resources kept for reuse, 0 disables idle reuse

	// DampenDelay is slept after a failed Factory call, before ConnLost
	// is invoked and the error is returned — it damps reconnect
	// storms. Defaults to 5s. It is never applied while an Acquire is
	// merely waiting for capacity; only on an actual failed create.
	DampenDelay time.Duration

	// ConnLost, if set, is invoked with the Factory's error whenever a
	// new resource fails to be created.
	ConnLost func(error)

	Logger *slog.Logger
}

// Pool is a bounded pool of Resources, parameterized by a Factory
// callback supplied at construction so the pool never needs to know
// about whatever owns it. The free-list and counters are the pool's
// only shared mutable state and are always mutated under mu, so
// Acquire/Release are linearizable; blocked acquirers wake via a
// close-and-replace broadcast channel rather than busy-polling.
type Pool struct {
	factory Factory
	logger  *slog.Logger

	mu        sync.Mutex
	maxActive int
	maxIdle   int
	dampen    time.Duration
	connLost  func(error)

	active int
	idle   []Resource
	closed bool
	wake   chan struct{}
}

// New creates a Pool. MaxActive must be > 0.
func New(factory Factory, opts Options) (*Pool, error) {
	if opts.MaxActive <= 0 {
		return nil, fmt.Errorf("pool: MaxActive must be > 0")
	}
	if opts.DampenDelay <= 0 {
		opts.DampenDelay = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Pool{
		factory:   factory,
		logger:    opts.Logger.With("component", "pool"),
		maxActive: opts.MaxActive,
		maxIdle:   opts.MaxIdle,
		dampen:    opts.DampenDelay,
		connLost:  opts.ConnLost,
		wake:      make(chan struct{}),
	}, nil
}

// notifyLocked wakes every goroutine currently blocked in Acquire. mu
// must be held.
func (p *Pool) notifyLocked() {
	close(p.wake)
	p.wake = make(chan struct{})
}

// Acquire returns an idle, live resource if one is available; else
// creates a new one if the pool has spare capacity; else blocks until
// either becomes possible or ctx is done.
func (p *Pool) Acquire(ctx context.Context) (Resource, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrClosed
		}
		if n := len(p.idle); n > 0 {
			r := p.idle[n-1]
			p.idle = p.idle[:n-1]
			p.mu.Unlock()
			if r.Alive() {
				return r, nil
			}
			// Dead idle resource: dispose it and free its slot, then
			// retry — the freed slot may let us create a fresh one.
			_ = r.Close()
			p.mu.Lock()
			p.active--
			p.notifyLocked()
			p.mu.Unlock()
			continue
		}
		if p.active < p.maxActive {
			p.active++
			p.mu.Unlock()
			r, err := p.factory(ctx)
			if err != nil {
				p.mu.Lock()
				p.active--
				p.notifyLocked()
				p.mu.Unlock()
				time.Sleep(p.dampen)
				if p.connLost != nil {
					p.connLost(err)
				}
				return nil, fmt.Errorf("pool: creating resource: %w", err)
			}
			return r, nil
		}
		wake := p.wake
		p.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Release returns r to the idle set if it is still alive and the idle
// set has room; otherwise it disposes r, freeing its slot. Safe to
// call concurrently with Acquire.
func (p *Pool) Release(r Resource) {
	p.mu.Lock()
	if p.closed || !r.Alive() || len(p.idle) >= p.maxIdle {
		p.active--
		p.notifyLocked()
		p.mu.Unlock()
		_ = r.Close()
		return
	}
	p.idle = append(p.idle, r)
	p.notifyLocked()
	p.mu.Unlock()
}

// Dispose closes r and frees its slot without ever considering it for
// idle reuse. Used on any error path where r must not be handed to
// another caller.
func (p *Pool) Dispose(r Resource) {
	p.mu.Lock()
	p.active--
	p.notifyLocked()
	p.mu.Unlock()
	_ = r.Close()
}

// Close disposes all idle resources. If rejectNew is true, further
// Acquire calls return ErrClosed; otherwise the pool keeps accepting
// new acquires (it simply starts empty of idle resources).
func (p *Pool) Close(rejectNew bool) {
	p.mu.Lock()
	if rejectNew {
		p.closed = true
	}
	toClose := p.idle
	p.idle = nil
	p.active -= len(toClose)
	p.notifyLocked()
	p.mu.Unlock()

	for _, r := range toClose {
		_ = r.Close()
	}
}

// Stats reports a point-in-time snapshot of pool occupancy, useful for
// autoscaling decisions.
type Stats struct {
	Active int
	Idle   int
	Max    int
}

// Stats returns a snapshot of pool occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Active: p.active, Idle: len(p.idle), Max: p.maxActive}
}

// Resize adjusts MaxActive at runtime. Resources already in flight
// beyond the new limit are allowed to finish and simply aren't
// replaced until usage drops back under the new ceiling — Resize never
// forcibly disposes a live resource.
func (p *Pool) Resize(maxActive int) error {
	if maxActive <= 0 {
		return fmt.Errorf("pool: MaxActive must be > 0")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.maxActive = maxActive
	p.notifyLocked()
	p.logger.Info("pool resized", "max_active", maxActive, "active", p.active, "idle", len(p.idle))
	return nil
}
