package reddit

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/cognicore/autoflair/pkg/autoflair/ingest"
	"github.com/cognicore/autoflair/pkg/autoflair/monitor"
)

// streamMemory bounds the post ids a stream remembers to suppress repeats.
const streamMemory = 1024

// Poller streams new submissions by polling the new listing.
// The first page is delivered on open, oldest first, like a fresh
// subreddit stream; later polls deliver only posts not seen before.
type Poller struct {
	client   *Client
	interval time.Duration
	seen     *lru.Cache[string, struct{}]
	queue    []ingest.Post
}

// Stream opens a poller and fetches its first page, so connection errors
// surface here rather than on the first Next.
func (c *Client) Stream(ctx context.Context) (monitor.Stream, error) {
	seen, err := lru.New[string, struct{}](streamMemory)
	if err != nil {
		return nil, err
	}
	p := &Poller{client: c, interval: c.cfg.PollInterval, seen: seen}
	if err := p.poll(ctx); err != nil {
		return nil, err
	}
	c.logger.Debug("stream opened", zap.String("subreddit", c.cfg.Subreddit), zap.Int("backlog", len(p.queue)))
	return p, nil
}

// poll fetches the newest page and queues unseen posts oldest first.
func (p *Poller) poll(ctx context.Context) error {
	posts, _, err := p.client.newest(ctx, "", PageSize)
	if err != nil {
		return err
	}
	for i := len(posts) - 1; i >= 0; i-- {
		if p.seen.Contains(posts[i].ID) {
			continue
		}
		p.seen.Add(posts[i].ID, struct{}{})
		p.queue = append(p.queue, posts[i])
	}
	return nil
}

// Next blocks until a new post is available or ctx is done.
func (p *Poller) Next(ctx context.Context) (ingest.Post, error) {
	for len(p.queue) == 0 {
		t := time.NewTimer(p.interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return ingest.Post{}, ctx.Err()
		case <-t.C:
		}
		if err := p.poll(ctx); err != nil {
			return ingest.Post{}, err
		}
	}
	post := p.queue[0]
	p.queue = p.queue[1:]
	return post, nil
}
