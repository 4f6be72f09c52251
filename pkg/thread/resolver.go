package thread

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/adrianliechti/wingman-gateway/pkg/agent"
)

// ResolutionError reports a thread store failure. The resolver logs it and
// degrades to a thread-less conversation instead of failing the request.
type ResolutionError struct {
	Thread string
	Op     string
	Err    error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("thread %s: %s: %v", e.Thread, e.Op, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// Resolver maps thread ids to their prior messages. It serializes turns per
// thread: at most one turn per id is in flight, later arrivals wait in order,
// and distinct ids never wait on each other.
type Resolver struct {
	store  Store
	logger *slog.Logger

	maxTokens int64

	mu    sync.Mutex
	locks map[string]*threadLock
}

type threadLock struct {
	ch   chan struct{}
	refs int
}

type Option func(*Resolver)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// WithMaxHistoryTokens trims loaded history to roughly the given number of
// tokens, keeping the most recent messages.
func WithMaxHistoryTokens(tokens int64) Option {
	return func(r *Resolver) {
		r.maxTokens = tokens
	}
}

func NewResolver(store Store, options ...Option) *Resolver {
	r := &Resolver{
		store:  store,
		logger: slog.New(slog.DiscardHandler),

		locks: make(map[string]*threadLock),
	}

	for _, option := range options {
		option(r)
	}

	return r
}

// Acquire blocks until the caller owns the turn slot of the thread. The
// returned release function must be called exactly once.
func (r *Resolver) Acquire(ctx context.Context, id string) (func(), error) {
	if id == "" {
		return func() {}, nil
	}

	r.mu.Lock()

	l, ok := r.locks[id]

	if !ok {
		l = &threadLock{ch: make(chan struct{}, 1)}
		r.locks[id] = l
	}

	l.refs++

	r.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		r.unref(id, l)
		return nil, ctx.Err()
	}

	var once sync.Once

	return func() {
		once.Do(func() {
			<-l.ch
			r.unref(id, l)
		})
	}, nil
}

func (r *Resolver) unref(id string, l *threadLock) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l.refs--

	if l.refs == 0 {
		delete(r.locks, id)
	}
}

// Load returns the prior messages of a thread, or nothing for an empty or
// unknown id. Store failures degrade to an empty history.
func (r *Resolver) Load(ctx context.Context, id string) []agent.Message {
	if id == "" || r.store == nil {
		return nil
	}

	messages, err := r.store.Load(ctx, id)

	if err != nil {
		r.logger.Warn("failed to load thread, continuing without history",
			slog.String("thread_id", id),
			slog.Any("error", &ResolutionError{Thread: id, Op: "load", Err: err}),
		)

		return nil
	}

	if r.maxTokens > 0 {
		messages = Window(messages, r.maxTokens)
	}

	return messages
}

// Append stores a completed turn. A failure is logged and returned; callers
// are expected to carry on.
func (r *Resolver) Append(ctx context.Context, id string, messages []agent.Message) error {
	if id == "" || r.store == nil || len(messages) == 0 {
		return nil
	}

	if err := r.store.Append(ctx, id, messages); err != nil {
		err = &ResolutionError{Thread: id, Op: "append", Err: err}

		r.logger.Warn("failed to append to thread", slog.String("thread_id", id), slog.Any("error", err))

		return err
	}

	r.logger.Debug("thread updated", slog.String("thread_id", id), slog.Int("messages", len(messages)))

	return nil
}
