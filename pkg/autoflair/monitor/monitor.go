// Package monitor watches the submission stream and flairs new posts.
//
// The monitor is a single sequential loop over three states. A post younger
// than the wait threshold holds up the stream until its debounce wait ends;
// a feed error sends the loop into backoff, after which the stream is
// reopened.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/cognicore/autoflair/pkg/autoflair/ingest"
	"github.com/cognicore/autoflair/pkg/autoflair/internalerr"
)

// Defaults applied by New.
const (
	DefaultBackoffDelay  = 30 * time.Second
	DefaultSeenCacheSize = 4096
)

// Stream yields new submissions as they appear.
type Stream interface {
	Next(ctx context.Context) (ingest.Post, error)
}

// Feed is the live submission feed.
type Feed interface {
	FlairSetter
	Stream(ctx context.Context) (Stream, error)
	Refresh(ctx context.Context, postID string) (ingest.Post, error)
}

// State is the monitor's position in its loop.
type State int32

const (
	Streaming State = iota
	DebounceWait
	Backoff
)

func (s State) String() string {
	switch s {
	case Streaming:
		return "STREAMING"
	case DebounceWait:
		return "DEBOUNCE_WAIT"
	case Backoff:
		return "BACKOFF"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Options configures a Monitor.
type Options struct {
	// WaitThreshold is the minimum post age before a post may be tagged.
	WaitThreshold time.Duration
	// BackoffDelay is the pause after a feed error. Zero means DefaultBackoffDelay.
	BackoffDelay time.Duration
	// SeenCacheSize bounds the set of post ids already handled.
	SeenCacheSize int
	Clock         Clock
	Logger        *zap.Logger
	Metrics       *Metrics
}

// Monitor runs the stream, debounce and backoff loop.
type Monitor struct {
	feed    Feed
	tagger  *Tagger
	wait    time.Duration
	backoff time.Duration
	clock   Clock
	logger  *zap.Logger
	metrics *Metrics
	seen    *lru.Cache[string, struct{}]
	state   atomic.Int32
}

// New creates a monitor in the Streaming state.
func New(feed Feed, tagger *Tagger, opts Options) (*Monitor, error) {
	if feed == nil || tagger == nil {
		return nil, fmt.Errorf("monitor: feed and tagger are required: %w", internalerr.ErrInvalidInput)
	}
	if opts.WaitThreshold < 0 {
		return nil, fmt.Errorf("monitor: negative wait threshold %s: %w", opts.WaitThreshold, internalerr.ErrInvalidConfig)
	}
	if opts.BackoffDelay <= 0 {
		opts.BackoffDelay = DefaultBackoffDelay
	}
	if opts.SeenCacheSize <= 0 {
		opts.SeenCacheSize = DefaultSeenCacheSize
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}

	seen, err := lru.New[string, struct{}](opts.SeenCacheSize)
	if err != nil {
		return nil, fmt.Errorf("monitor: seen cache: %w", err)
	}

	return &Monitor{
		feed:    feed,
		tagger:  tagger,
		wait:    opts.WaitThreshold,
		backoff: opts.BackoffDelay,
		clock:   opts.Clock,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		seen:    seen,
	}, nil
}

// State returns the current state.
func (m *Monitor) State() State {
	return State(m.state.Load())
}

func (m *Monitor) setState(s State) {
	m.state.Store(int32(s))
	m.metrics.State.Set(float64(s))
}

// Run processes the stream until ctx is cancelled. It only returns ctx.Err().
func (m *Monitor) Run(ctx context.Context) error {
	m.setState(Streaming)
	m.logger.Info("monitor started",
		zap.Duration("wait_threshold", m.wait),
		zap.Duration("backoff_delay", m.backoff))

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := m.stream(ctx)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		m.setState(Backoff)
		m.metrics.Backoffs.Inc()
		m.logger.Warn("feed error, backing off",
			zap.Duration("delay", m.backoff),
			zap.Bool("transient", errors.Is(err, internalerr.ErrTransientFeed)),
			zap.Error(err))
		if err := m.clock.Sleep(ctx, m.backoff); err != nil {
			return err
		}
		m.setState(Streaming)
	}
}

// stream opens the feed and handles posts until an error occurs.
func (m *Monitor) stream(ctx context.Context) error {
	s, err := m.feed.Stream(ctx)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	if c, ok := s.(io.Closer); ok {
		defer c.Close()
	}

	for {
		post, err := s.Next(ctx)
		if err != nil {
			return fmt.Errorf("next post: %w", err)
		}
		if err := m.handle(ctx, post); err != nil {
			return err
		}
	}
}

// handle applies the per-post transitions. Returned errors are feed errors.
func (m *Monitor) handle(ctx context.Context, post ingest.Post) error {
	if m.seen.Contains(post.ID) {
		m.metrics.Posts.WithLabelValues(OutcomeDuplicate).Inc()
		return nil
	}
	if post.Labeled() {
		m.markSeen(post.ID, OutcomeLabeled)
		return nil
	}

	if age := post.Age(m.clock.Now()); age < m.wait {
		wait := m.wait - age
		m.setState(DebounceWait)
		m.logger.Debug("debouncing post", zap.String("post", post.ID), zap.Duration("wait", wait))
		if err := m.clock.Sleep(ctx, wait); err != nil {
			return err
		}

		fresh, err := m.feed.Refresh(ctx, post.ID)
		if err != nil {
			return fmt.Errorf("refresh %s: %w", post.ID, err)
		}
		if fresh.Labeled() {
			m.setState(Streaming)
			m.logger.Info("post labeled during wait", zap.String("post", post.ID), zap.String("flair", fresh.Flair))
			m.markSeen(post.ID, OutcomeLabeledLate)
			return nil
		}
		post = fresh
	}

	tagged, err := m.tagger.PredictAndTag(ctx, post)
	m.setState(Streaming)
	switch {
	case errors.Is(err, internalerr.ErrEncoding):
		m.logger.Warn("skipping post", zap.String("post", post.ID), zap.Error(err))
		m.markSeen(post.ID, OutcomeSkipped)
		return nil
	case errors.Is(err, errSetFlair) && !errors.Is(err, internalerr.ErrTransientFeed):
		// The feed refused this post; redelivery would fail the same way.
		m.logger.Warn("flair rejected, skipping post", zap.String("post", post.ID), zap.Error(err))
		m.markSeen(post.ID, OutcomeRejected)
		return nil
	case err != nil:
		return err
	}

	m.metrics.Confidence.Observe(tagged.Confidence)
	m.markSeen(post.ID, OutcomeTagged)
	return nil
}

func (m *Monitor) markSeen(id, outcome string) {
	m.seen.Add(id, struct{}{})
	m.metrics.Posts.WithLabelValues(outcome).Inc()
}
