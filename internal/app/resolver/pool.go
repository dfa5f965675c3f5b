package resolver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/playdeck/internal/domain/playlist"
	"github.com/osa030/playdeck/internal/domain/track"
)

const (
	DefaultWorkers     = 4
	DefaultMaxAttempts = 3
	defaultBacklog     = 64
)

// Config holds pool configuration.
type Config struct {
	Workers        int           // Number of worker goroutines
	MaxAttempts    int           // Attempts per job for transient failures
	AttemptTimeout time.Duration // Per-attempt deadline, zero for none
	PlaylistLimit  int           // Max entries kept from an expansion, zero for all
}

// Result is the outcome of one submitted reference.
type Result struct {
	Ref      track.Reference
	Track    track.Resolved
	Playlist *playlist.Playlist // set instead of Track for playlist references
	Attempts int
	Err      *Error
}

// OK reports whether resolution succeeded.
func (r Result) OK() bool {
	return r.Err == nil
}

// Future is the pending result of a submission.
type Future struct {
	done   chan struct{}
	once   sync.Once
	result Result
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) complete(r Result) {
	f.once.Do(func() {
		f.result = r
		close(f.done)
	})
}

// Done is closed once the result is available.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Result blocks until the result is available and returns it.
func (f *Future) Result() Result {
	<-f.done
	return f.result
}

// Wait returns the result, or ctx's error if ctx ends first.
func (f *Future) Wait(ctx context.Context) (Result, error) {
	select {
	case <-f.done:
		return f.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

type job struct {
	ctx    context.Context
	ref    track.Reference
	future *Future
}

// Pool runs resolution jobs on a fixed number of workers.
type Pool struct {
	resolver Resolver
	config   Config

	jobs chan *job

	mu     sync.Mutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool starts config.Workers workers running resolver.
func NewPool(resolver Resolver, config Config) *Pool {
	if config.Workers <= 0 {
		config.Workers = DefaultWorkers
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultMaxAttempts
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		resolver: resolver,
		config:   config,
		jobs:     make(chan *job, defaultBacklog),
		ctx:      ctx,
		cancel:   cancel,
	}

	for i := 0; i < config.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i + 1)
	}
	zlog.Debug().Msgf("resolver: pool started: workers=%d max_attempts=%d", config.Workers, config.MaxAttempts)
	return p
}

// Submit schedules ref for resolution and returns immediately. The
// returned future always completes, even when the pool closes first.
func (p *Pool) Submit(ctx context.Context, ref track.Reference) *Future {
	f := newFuture()
	j := &job{ctx: ctx, ref: ref, future: f}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		f.complete(closedResult(ref))
		return f
	}

	select {
	case p.jobs <- j:
	default:
		// backlog full: hand off without blocking the caller
		go p.handoff(j)
	}
	return f
}

// handoff waits for backlog room. A job that lands after Close drained the
// backlog is failed here, since no worker will take it.
func (p *Pool) handoff(j *job) {
	if p.ctx.Err() != nil {
		j.future.complete(closedResult(j.ref))
		return
	}
	select {
	case p.jobs <- j:
		if p.ctx.Err() != nil {
			p.drain()
		}
	case <-p.ctx.Done():
		j.future.complete(closedResult(j.ref))
	}
}

// Close stops accepting work and fails jobs that have not started.
// Jobs already running finish on their own.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.cancel()
	p.mu.Unlock()

	p.drain()
}

// drain fails every job left in the backlog.
func (p *Pool) drain() {
	for {
		select {
		case j := <-p.jobs:
			j.future.complete(closedResult(j.ref))
		default:
			return
		}
	}
}

func closedResult(ref track.Reference) Result {
	return Result{Ref: ref, Err: Permanent(ErrPoolClosed)}
}

// Wait blocks until every worker has exited. Call after Close.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case j := <-p.jobs:
			j.future.complete(p.run(id, j))
		}
	}
}

// run executes one job with bounded retries on transient failures.
func (p *Pool) run(worker int, j *job) Result {
	res := Result{Ref: j.ref}

	for attempt := 1; attempt <= p.config.MaxAttempts; attempt++ {
		res.Attempts = attempt

		if err := j.ctx.Err(); err != nil {
			res.Err = Permanent(errors.Wrap(err, "resolution cancelled"))
			return res
		}

		err := p.attempt(j, &res)
		if err == nil {
			res.Err = nil
			return res
		}

		res.Err = Classify(err)
		if res.Err.Kind != KindTransient {
			zlog.Debug().Msgf("resolver: permanent failure: worker=%d ref=%q error=%v", worker, j.ref.Raw, err)
			return res
		}
		if attempt < p.config.MaxAttempts {
			zlog.Warn().Msgf("resolver: transient failure, retrying: worker=%d attempt=%d/%d ref=%q error=%v",
				worker, attempt, p.config.MaxAttempts, j.ref.Raw, err)
		}
	}

	zlog.Warn().Msgf("resolver: giving up: ref=%q attempts=%d error=%v", j.ref.Raw, res.Attempts, res.Err)
	return res
}

// attempt performs one resolution call, converting panics into errors.
func (p *Pool) attempt(j *job, res *Result) (err error) {
	ctx := j.ctx
	if p.config.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.AttemptTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = Permanent(fmt.Errorf("resolver panic: %v", r))
		}
	}()

	if j.ref.IsPlaylist() {
		pl, err := p.resolver.Expand(ctx, j.ref)
		if err != nil {
			return err
		}
		if pl == nil {
			pl = &playlist.Playlist{URL: j.ref.Raw}
		}
		if dropped := pl.Truncate(p.config.PlaylistLimit); dropped > 0 {
			zlog.Info().Msgf("resolver: playlist truncated: ref=%q kept=%d dropped=%d", j.ref.Raw, pl.Len(), dropped)
		}
		res.Playlist = pl
		return nil
	}

	t, err := p.resolver.Resolve(ctx, j.ref)
	if err != nil {
		return err
	}
	res.Track = t
	return nil
}
