package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/cognicore/autoflair/pkg/autoflair/catalog"
	"github.com/cognicore/autoflair/pkg/autoflair/classifier"
	"github.com/cognicore/autoflair/pkg/autoflair/ingest"
	"github.com/cognicore/autoflair/pkg/autoflair/internalerr"
	"github.com/cognicore/autoflair/pkg/autoflair/store/memstore"
	"github.com/cognicore/autoflair/pkg/autoflair/vocab"
)

var epoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

type flairCall struct {
	postID   string
	template string
	at       time.Time
}

// fakeFeed replays posts on every stream it opens. When a stream runs dry the
// test context is cancelled so Run returns.
type fakeFeed struct {
	clock       *fakeClock
	cancel      context.CancelFunc
	posts       []ingest.Post
	refreshed   map[string]ingest.Post
	streamErrs  []error
	refreshErrs []error
	setErrs     []error
	calls       []flairCall
	opened      int
}

func (f *fakeFeed) Stream(ctx context.Context) (Stream, error) {
	f.opened++
	if len(f.streamErrs) > 0 {
		err := f.streamErrs[0]
		f.streamErrs = f.streamErrs[1:]
		return nil, err
	}
	return &fakeStream{posts: append([]ingest.Post(nil), f.posts...), cancel: f.cancel}, nil
}

func (f *fakeFeed) Refresh(ctx context.Context, id string) (ingest.Post, error) {
	if len(f.refreshErrs) > 0 {
		err := f.refreshErrs[0]
		f.refreshErrs = f.refreshErrs[1:]
		return ingest.Post{}, err
	}
	if p, ok := f.refreshed[id]; ok {
		return p, nil
	}
	for _, p := range f.posts {
		if p.ID == id {
			return p, nil
		}
	}
	return ingest.Post{}, internalerr.ErrNotFound
}

func (f *fakeFeed) SetFlair(ctx context.Context, postID, templateID string) error {
	if len(f.setErrs) > 0 {
		err := f.setErrs[0]
		f.setErrs = f.setErrs[1:]
		return err
	}
	f.calls = append(f.calls, flairCall{postID: postID, template: templateID, at: f.clock.Now()})
	return nil
}

type fakeStream struct {
	posts  []ingest.Post
	cancel context.CancelFunc
}

func (s *fakeStream) Next(ctx context.Context) (ingest.Post, error) {
	if len(s.posts) == 0 {
		s.cancel()
		return ingest.Post{}, ctx.Err()
	}
	p := s.posts[0]
	s.posts = s.posts[1:]
	return p, nil
}

type stubModel struct {
	binding classifier.Binding
	label   int
}

func (m stubModel) Kind() string                { return "stub" }
func (m stubModel) Binding() classifier.Binding { return m.binding }
func (m stubModel) Predict(vocab.Encoded) (classifier.Prediction, error) {
	probs := make([]float64, m.binding.Classes)
	for i := range probs {
		probs[i] = 0.1 / float64(len(probs)-1)
	}
	probs[m.label] = 0.9
	return classifier.Prediction{Label: m.label, Probabilities: probs}, nil
}

type fixture struct {
	ctx     context.Context
	clock   *fakeClock
	feed    *fakeFeed
	store   *memstore.Store
	logs    *observer.ObservedLogs
	monitor *Monitor
}

func newFixture(t *testing.T, wait time.Duration, posts ...ingest.Post) *fixture {
	t.Helper()

	cat, err := catalog.New([]catalog.Choice{
		{Text: "News", TemplateID: "tmpl-news"},
		{Text: "Question", TemplateID: "tmpl-question"},
	})
	if err != nil {
		t.Fatal(err)
	}
	enc, err := vocab.FitEncoder([]ingest.Fields{
		{Title: "hello world", Body: "some body", Domain: "example.com"},
	}, vocab.Lengths{Title: 4, Body: 4, Domain: 1}, cat.Fingerprint())
	if err != nil {
		t.Fatal(err)
	}
	model := stubModel{binding: classifier.BindingFor(enc, cat), label: 1}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	clock := &fakeClock{now: epoch}
	feed := &fakeFeed{clock: clock, cancel: cancel, posts: posts, refreshed: map[string]ingest.Post{}}
	st := memstore.New()
	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)

	tagger, err := NewTagger(enc, model, cat, feed, TaggerOptions{Store: st, ModelID: "m1", Clock: clock, Logger: logger})
	if err != nil {
		t.Fatalf("NewTagger: %v", err)
	}
	mon, err := New(feed, tagger, Options{WaitThreshold: wait, Clock: clock, Logger: logger})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &fixture{ctx: ctx, clock: clock, feed: feed, store: st, logs: logs, monitor: mon}
}

func (f *fixture) run(t *testing.T) {
	t.Helper()
	if err := f.monitor.Run(f.ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}
}

func post(id string, age time.Duration) ingest.Post {
	return ingest.Post{ID: id, Title: "hello there", Body: "body", Domain: "example.com", CreatedAt: epoch.Add(-age)}
}

func TestMonitorDebouncesYoungPost(t *testing.T) {
	f := newFixture(t, 30*time.Minute, post("young", 10*time.Minute))
	f.run(t)

	if len(f.clock.sleeps) != 1 || f.clock.sleeps[0] != 20*time.Minute {
		t.Fatalf("sleeps = %v, want [20m]", f.clock.sleeps)
	}
	if len(f.feed.calls) != 1 {
		t.Fatalf("SetFlair called %d times, want 1", len(f.feed.calls))
	}
	call := f.feed.calls[0]
	if call.postID != "young" || call.template != "tmpl-question" {
		t.Errorf("SetFlair(%s, %s), want (young, tmpl-question)", call.postID, call.template)
	}
	if age := call.at.Sub(epoch.Add(-10 * time.Minute)); age < 30*time.Minute {
		t.Errorf("tagged at age %s, before the wait threshold", age)
	}
	if f.monitor.State() != Streaming {
		t.Errorf("state = %s, want STREAMING", f.monitor.State())
	}
}

func TestMonitorTagsOldPostImmediately(t *testing.T) {
	f := newFixture(t, 30*time.Minute, post("old", 45*time.Minute))
	f.run(t)

	if len(f.clock.sleeps) != 0 {
		t.Errorf("sleeps = %v, want none", f.clock.sleeps)
	}
	if len(f.feed.calls) != 1 || f.feed.calls[0].postID != "old" {
		t.Fatalf("calls = %+v", f.feed.calls)
	}

	preds, _ := f.store.RecentPredictions(context.Background(), 10)
	if len(preds) != 1 {
		t.Fatalf("got %d logged predictions, want 1", len(preds))
	}
	if preds[0].Flair != "Question" || preds[0].ModelID != "m1" || preds[0].Confidence != 0.9 {
		t.Errorf("prediction = %+v", preds[0])
	}
}

func TestMonitorSkipsLabeledPosts(t *testing.T) {
	labeled := post("labeled", time.Hour)
	labeled.Flair = "News"
	f := newFixture(t, 30*time.Minute, labeled)
	f.run(t)

	if len(f.feed.calls) != 0 {
		t.Errorf("labeled post was tagged: %+v", f.feed.calls)
	}
}

func TestMonitorSkipsPostLabeledDuringWait(t *testing.T) {
	p := post("raced", 5*time.Minute)
	f := newFixture(t, 30*time.Minute, p)
	p.Flair = "News"
	p.FlairTemplateID = "tmpl-news"
	f.feed.refreshed["raced"] = p
	f.run(t)

	if len(f.feed.calls) != 0 {
		t.Errorf("post labeled by a human was overwritten: %+v", f.feed.calls)
	}
	if f.logs.FilterMessage("post labeled during wait").Len() != 1 {
		t.Error("expected a log entry for the raced post")
	}
}

func TestMonitorBacksOffOnFeedErrors(t *testing.T) {
	f := newFixture(t, 0, post("p1", time.Hour))
	transient := fmt.Errorf("status 503: %w", internalerr.ErrTransientFeed)
	f.feed.streamErrs = []error{transient, transient, transient}
	f.run(t)

	if got := f.logs.FilterMessage("feed error, backing off").Len(); got != 3 {
		t.Errorf("got %d backoff warnings, want 3", got)
	}
	if len(f.clock.sleeps) != 3 {
		t.Fatalf("sleeps = %v, want 3 backoffs", f.clock.sleeps)
	}
	for _, d := range f.clock.sleeps {
		if d != DefaultBackoffDelay {
			t.Errorf("backoff sleep %s, want %s", d, DefaultBackoffDelay)
		}
	}
	if f.feed.opened != 4 {
		t.Errorf("stream opened %d times, want 4", f.feed.opened)
	}
	if len(f.feed.calls) != 1 {
		t.Errorf("post tagged %d times after recovery, want 1", len(f.feed.calls))
	}
}

func TestMonitorRetriesPostAfterSetFlairError(t *testing.T) {
	f := newFixture(t, 0, post("p1", time.Hour), post("p2", time.Hour))
	f.feed.setErrs = []error{internalerr.ErrTransientFeed}
	f.run(t)

	if len(f.clock.sleeps) != 1 {
		t.Fatalf("sleeps = %v, want one backoff", f.clock.sleeps)
	}
	// p1 failed on the first stream and is re-delivered; p2 is tagged once.
	got := map[string]int{}
	for _, c := range f.feed.calls {
		got[c.postID]++
	}
	if got["p1"] != 1 || got["p2"] != 1 {
		t.Errorf("tag counts = %v, want p1:1 p2:1", got)
	}
}

func TestMonitorSkipsPostWhenFlairRejected(t *testing.T) {
	f := newFixture(t, 0, post("p1", time.Hour), post("p2", time.Hour))
	f.feed.setErrs = []error{errors.New("post is locked")}
	f.run(t)

	if len(f.clock.sleeps) != 0 {
		t.Errorf("sleeps = %v, want no backoff", f.clock.sleeps)
	}
	if len(f.feed.calls) != 1 || f.feed.calls[0].postID != "p2" {
		t.Errorf("calls = %+v, want only p2 tagged", f.feed.calls)
	}
	if n := f.logs.FilterMessage("flair rejected, skipping post").Len(); n != 1 {
		t.Errorf("rejection warnings = %d, want 1", n)
	}
}

func TestMonitorRefreshErrorBacksOff(t *testing.T) {
	f := newFixture(t, 30*time.Minute, post("young", 29*time.Minute))
	f.feed.refreshErrs = []error{internalerr.ErrTransientFeed}
	f.run(t)

	// debounce, then backoff; on redelivery the post is old enough to tag at once
	if len(f.clock.sleeps) != 2 {
		t.Fatalf("sleeps = %v", f.clock.sleeps)
	}
	if f.clock.sleeps[0] != time.Minute || f.clock.sleeps[1] != DefaultBackoffDelay {
		t.Errorf("sleeps = %v, want [1m 30s]", f.clock.sleeps)
	}
	if len(f.feed.calls) != 1 {
		t.Errorf("post tagged %d times, want 1", len(f.feed.calls))
	}
}

func TestMonitorDeduplicatesRedeliveredPosts(t *testing.T) {
	p := post("dup", time.Hour)
	f := newFixture(t, 0, p, p)
	f.run(t)

	if len(f.feed.calls) != 1 {
		t.Errorf("post tagged %d times, want 1", len(f.feed.calls))
	}
}

func TestMonitorSkipsUncleanablePost(t *testing.T) {
	bad := post("bad", time.Hour)
	bad.Title = "broken \xff title"
	f := newFixture(t, 0, bad, post("good", time.Hour))
	f.run(t)

	if len(f.clock.sleeps) != 0 {
		t.Errorf("encoding error should not back off, sleeps = %v", f.clock.sleeps)
	}
	if len(f.feed.calls) != 1 || f.feed.calls[0].postID != "good" {
		t.Errorf("calls = %+v", f.feed.calls)
	}
	if f.logs.FilterMessage("skipping post").Len() != 1 {
		t.Error("expected a warning for the skipped post")
	}
}

func TestNewTaggerRejectsMismatchedModel(t *testing.T) {
	cat, _ := catalog.New([]catalog.Choice{{Text: "A", TemplateID: "a"}, {Text: "B", TemplateID: "b"}})
	enc, err := vocab.FitEncoder([]ingest.Fields{{Title: "t", Domain: "d"}}, vocab.Lengths{Title: 2, Body: 2, Domain: 1}, cat.Fingerprint())
	if err != nil {
		t.Fatal(err)
	}
	b := classifier.BindingFor(enc, cat)
	b.Classes = 3

	_, err = NewTagger(enc, stubModel{binding: b}, cat, &fakeFeed{}, TaggerOptions{})
	if !errors.Is(err, internalerr.ErrModelBinding) {
		t.Errorf("NewTagger error = %v, want ErrModelBinding", err)
	}
}

func TestNewRejectsNegativeWait(t *testing.T) {
	_, err := New(&fakeFeed{}, &Tagger{}, Options{WaitThreshold: -time.Second})
	if !errors.Is(err, internalerr.ErrInvalidConfig) {
		t.Errorf("New error = %v, want ErrInvalidConfig", err)
	}
}

type staticChoices []catalog.Choice

func (s staticChoices) FlairChoices(context.Context) ([]catalog.Choice, error) { return s, nil }

func TestCheckDrift(t *testing.T) {
	choices := []catalog.Choice{{Text: "A", TemplateID: "a"}, {Text: "B", TemplateID: "b"}}
	trained, _ := catalog.New(choices)
	core, logs := observer.New(zap.WarnLevel)
	logger := zap.New(core)

	drift, err := CheckDrift(context.Background(), staticChoices(choices), trained, logger)
	if err != nil || drift {
		t.Fatalf("same catalog: drift=%v err=%v", drift, err)
	}

	changed := []catalog.Choice{{Text: "A", TemplateID: "a"}, {Text: "B", TemplateID: "b2"}, {Text: "C", TemplateID: "c"}}
	drift, err = CheckDrift(context.Background(), staticChoices(changed), trained, logger)
	if err != nil || !drift {
		t.Fatalf("changed catalog: drift=%v err=%v", drift, err)
	}
	if logs.Len() != 1 {
		t.Errorf("got %d warnings, want 1", logs.Len())
	}
}
