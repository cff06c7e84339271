package reddit

import (
	"context"
	"io"

	"github.com/cognicore/autoflair/pkg/autoflair/ingest"
)

// History pages backwards through the subreddit's new listing. It implements
// ingest.Source and returns io.EOF once Reddit stops handing out pages.
type History struct {
	client *Client
	buf    []ingest.Post
	after  string
	done   bool
}

// History starts at the newest post.
func (c *Client) History() *History {
	return &History{client: c}
}

// Next returns the next older post.
func (h *History) Next(ctx context.Context) (ingest.Post, error) {
	for len(h.buf) == 0 {
		if h.done {
			return ingest.Post{}, io.EOF
		}
		posts, after, err := h.client.newest(ctx, h.after, PageSize)
		if err != nil {
			return ingest.Post{}, err
		}
		h.buf = posts
		h.after = after
		h.done = after == "" || len(posts) == 0
	}
	p := h.buf[0]
	h.buf = h.buf[1:]
	return p, nil
}
