package reddit

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/cognicore/autoflair/pkg/autoflair/catalog"
)

type flairSelector struct {
	Choices []catalog.Choice `json:"choices"`
}

// FlairChoices lists the link flairs offered on the subreddit's newest post.
func (c *Client) FlairChoices(ctx context.Context) ([]catalog.Choice, error) {
	posts, _, err := c.newest(ctx, "", 1)
	if err != nil {
		return nil, err
	}
	if len(posts) == 0 {
		return nil, fmt.Errorf("reddit: flair choices for r/%s: %w", c.cfg.Subreddit, errNoPosts)
	}

	var sel flairSelector
	form := url.Values{"link": {fullname(posts[0].ID)}}
	if err := c.call(ctx, "/r/"+c.cfg.Subreddit+"/api/flairselector", nil, form, &sel); err != nil {
		return nil, err
	}
	return sel.Choices, nil
}

type jsonErrors struct {
	JSON struct {
		Errors [][]any `json:"errors"`
	} `json:"json"`
}

// SetFlair applies a flair template to a post. The account must moderate the subreddit.
func (c *Client) SetFlair(ctx context.Context, postID, templateID string) error {
	form := url.Values{
		"api_type":          {"json"},
		"link":              {fullname(postID)},
		"flair_template_id": {templateID},
	}
	var resp jsonErrors
	if err := c.call(ctx, "/r/"+c.cfg.Subreddit+"/api/selectflair", nil, form, &resp); err != nil {
		return err
	}
	if len(resp.JSON.Errors) > 0 {
		parts := make([]string, 0, len(resp.JSON.Errors))
		for _, e := range resp.JSON.Errors {
			parts = append(parts, fmt.Sprint(e...))
		}
		return fmt.Errorf("reddit: select flair on %s: %s", postID, strings.Join(parts, "; "))
	}
	return nil
}
