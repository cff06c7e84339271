// Package reddit is a small Reddit API client covering what autoflair needs:
// the subreddit's new listing, flair choices, flair assignment and post lookup.
package reddit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	"github.com/cognicore/autoflair/pkg/autoflair/ingest"
	"github.com/cognicore/autoflair/pkg/autoflair/internalerr"
)

// Default endpoints.
const (
	DefaultBaseURL = "https://oauth.reddit.com"
	DefaultAuthURL = "https://www.reddit.com/api/v1/access_token"
)

// PageSize is the largest listing page Reddit serves.
const PageSize = 100

// Config holds the credentials of a script-type Reddit app.
type Config struct {
	Subreddit    string
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
	UserAgent    string
	BaseURL      string
	AuthURL      string

	RequestsPerMinute int
	PollInterval      time.Duration

	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client talks to one subreddit with the moderator account's credentials.
type Client struct {
	cfg     Config
	limiter *rate.Limiter
	logger  *zap.Logger

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// New creates a client. Requests are spread evenly to stay under RequestsPerMinute.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = DefaultAuthURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 60
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 15 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60), 1),
		logger:  logger,
	}
}

func (c *Client) httpClient() *http.Client {
	if c.cfg.HTTPClient != nil {
		return c.cfg.HTTPClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	Error       string `json:"error"`
}

// accessToken returns a cached bearer token, fetching one with the password grant when needed.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && time.Now().Before(c.expiry) {
		return c.token, nil
	}

	form := url.Values{
		"grant_type": {"password"},
		"username":   {c.cfg.Username},
		"password":   {c.cfg.Password},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.AuthURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return "", fmt.Errorf("reddit auth: %v: %w", err, internalerr.ErrTransientFeed)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, "auth"); err != nil {
		return "", err
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("reddit auth: decode: %v: %w", err, internalerr.ErrTransientFeed)
	}
	if tok.Error != "" || tok.AccessToken == "" {
		return "", fmt.Errorf("reddit auth: %q", tok.Error)
	}

	c.token = tok.AccessToken
	// Refresh a minute early so a request never carries an expired token.
	c.expiry = time.Now().Add(time.Duration(tok.ExpiresIn)*time.Second - time.Minute)
	return c.token, nil
}

func (c *Client) dropToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

// checkStatus maps HTTP failures onto the error taxonomy: server errors and
// throttling are transient, a missing resource is ErrNotFound.
func checkStatus(resp *http.Response, what string) error {
	if resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := strings.TrimSpace(string(body))
	switch {
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("reddit %s: status %d: %w", what, resp.StatusCode, internalerr.ErrTransientFeed)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("reddit %s: %w", what, internalerr.ErrNotFound)
	default:
		return fmt.Errorf("reddit %s: status %d: %s", what, resp.StatusCode, msg)
	}
}

// call performs an authenticated API request. A non-nil form makes it a POST.
func (c *Client) call(ctx context.Context, path string, query, form url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}

	u := c.cfg.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	method := http.MethodGet
	var body io.Reader
	if form != nil {
		method = http.MethodPost
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "bearer "+token)
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("reddit %s: %v: %w", path, err, internalerr.ErrTransientFeed)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		c.dropToken()
	}
	if err := checkStatus(resp, path); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("reddit %s: decode: %v: %w", path, err, internalerr.ErrTransientFeed)
	}
	return nil
}

type listing struct {
	Data struct {
		After    string `json:"after"`
		Children []struct {
			Data link `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type link struct {
	ID                  string  `json:"id"`
	Title               string  `json:"title"`
	Selftext            string  `json:"selftext"`
	Domain              string  `json:"domain"`
	IsSelf              bool    `json:"is_self"`
	CreatedUTC          float64 `json:"created_utc"`
	LinkFlairText       *string `json:"link_flair_text"`
	LinkFlairTemplateID *string `json:"link_flair_template_id"`
}

// post converts a listing entry. Reddit HTML-escapes &, < and > in text
// fields unless raw_json is requested; they are unescaped here.
func (l link) post() ingest.Post {
	secs := int64(l.CreatedUTC)
	p := ingest.Post{
		ID:        l.ID,
		Title:     html.UnescapeString(l.Title),
		Body:      html.UnescapeString(l.Selftext),
		Domain:    l.Domain,
		IsSelf:    l.IsSelf,
		CreatedAt: time.Unix(secs, int64((l.CreatedUTC-float64(secs))*1e9)).UTC(),
	}
	if l.LinkFlairText != nil {
		p.Flair = html.UnescapeString(*l.LinkFlairText)
	}
	if l.LinkFlairTemplateID != nil {
		p.FlairTemplateID = *l.LinkFlairTemplateID
	}
	return p
}

func (l listing) posts() []ingest.Post {
	out := make([]ingest.Post, 0, len(l.Data.Children))
	for _, ch := range l.Data.Children {
		out = append(out, ch.Data.post())
	}
	return out
}

func fullname(postID string) string {
	if strings.HasPrefix(postID, "t3_") {
		return postID
	}
	return "t3_" + postID
}

// newest fetches one page of the subreddit's new listing, newest first.
func (c *Client) newest(ctx context.Context, after string, limit int) ([]ingest.Post, string, error) {
	q := url.Values{"limit": {fmt.Sprint(limit)}}
	if after != "" {
		q.Set("after", after)
	}
	var l listing
	if err := c.call(ctx, "/r/"+c.cfg.Subreddit+"/new", q, nil, &l); err != nil {
		return nil, "", err
	}
	return l.posts(), l.Data.After, nil
}

// Refresh re-reads a post, picking up flair applied since it was streamed.
func (c *Client) Refresh(ctx context.Context, postID string) (ingest.Post, error) {
	var l listing
	if err := c.call(ctx, "/api/info", url.Values{"id": {fullname(postID)}}, nil, &l); err != nil {
		return ingest.Post{}, err
	}
	posts := l.posts()
	if len(posts) == 0 {
		return ingest.Post{}, fmt.Errorf("reddit: post %s: %w", postID, internalerr.ErrNotFound)
	}
	return posts[0], nil
}

var errNoPosts = errors.New("subreddit has no posts")
