package ratelimit

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Pacer draws a uniformly distributed delay from [min, max] before each
// navigation. Each draw is seeded from the run seed and a monotonic counter,
// so a run with a fixed seed is reproducible.
type Pacer struct {
	minDelay time.Duration
	maxDelay time.Duration
	seed     uint64
	counter  uint64
	sleep    Sleeper
	mu       sync.Mutex
}

type Option func(*Pacer)

func WithSleeper(s Sleeper) Option {
	return func(p *Pacer) {
		p.sleep = s
	}
}

func NewPacer(minDelay, maxDelay time.Duration, seed uint64, opts ...Option) *Pacer {
	p := &Pacer{
		minDelay: minDelay,
		maxDelay: maxDelay,
		seed:     seed,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Next returns the next delay and advances the counter.
func (p *Pacer) Next() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.counter++
	if p.maxDelay <= p.minDelay {
		return p.minDelay
	}

	r := rand.New(rand.NewPCG(p.seed, p.counter))
	delta := int64(p.maxDelay - p.minDelay)
	return p.minDelay + time.Duration(r.Int64N(delta+1))
}

func (p *Pacer) Wait(ctx context.Context) error {
	_, err := p.WaitNext(ctx)
	return err
}

// WaitNext sleeps for the next delay and returns it.
func (p *Pacer) WaitNext(ctx context.Context) (time.Duration, error) {
	d := p.Next()
	return d, p.sleep(ctx, d)
}

// Sleep pauses for a fixed duration through the pacer's sleeper.
func (p *Pacer) Sleep(ctx context.Context, d time.Duration) error {
	return p.sleep(ctx, d)
}

// Count is the number of delays drawn so far.
func (p *Pacer) Count() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counter
}
