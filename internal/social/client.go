package social

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"

	"unfurl/internal/httputil"
	"unfurl/internal/media"
)

const (
	// Public bearer token of the platform's web client.
	DefaultBearerToken = "AAAAAAAAAAAAAAAAAAAAANRILgAAAAAAnNwIzUejRCOuH5E6I8xnZz4puTs=1Zv7ttfk8LF81IUq16cHjhLTvJu4FA33AGWWjCpTnA"

	DefaultActivateURL = "https://api.x.com/1.1/guest/activate.json"
	DefaultGraphQLURL  = "https://x.com/i/api/graphql/2ICDjqPd81tulZcYrtpTuQ/TweetResultByRestId"

	maxResponseBytes = 8 << 20
)

var graphQLFeatures = map[string]bool{
	"creator_subscriptions_tweet_preview_api_enabled":                         true,
	"tweetypie_unmention_optimization_enabled":                                true,
	"responsive_web_edit_tweet_api_enabled":                                   true,
	"graphql_is_translatable_rweb_tweet_is_translatable_enabled":              true,
	"view_counts_everywhere_api_enabled":                                      true,
	"longform_notetweets_consumption_enabled":                                 true,
	"responsive_web_twitter_article_tweet_consumption_enabled":                false,
	"tweet_awards_web_tipping_enabled":                                        false,
	"freedom_of_speech_not_reach_fetch_enabled":                               true,
	"standardized_nudges_misinfo":                                             true,
	"tweet_with_visibility_results_prefer_gql_limited_actions_policy_enabled": true,
	"longform_notetweets_rich_text_read_enabled":                              true,
	"longform_notetweets_inline_media_enabled":                                true,
	"responsive_web_graphql_exclude_directive_enabled":                        true,
	"verified_phone_label_enabled":                                            false,
	"responsive_web_media_download_video_enabled":                             false,
	"responsive_web_graphql_skip_user_profile_image_extensions_enabled":       false,
	"responsive_web_graphql_timeline_navigation_enabled":                      true,
	"responsive_web_enhance_cards_enabled":                                    false,
}

// Options configures a Client. Zero values select the production endpoints.
type Options struct {
	HTTPClient  *http.Client
	BearerToken string
	ActivateURL string
	GraphQLURL  string

	// Retries is how many times guest activation is retried after the first attempt.
	Retries int
	// RetryInterval is the initial backoff between activation attempts.
	RetryInterval time.Duration
}

// Client fetches posts anonymously. Each FetchPost opens its own guest session.
type Client struct {
	http          *http.Client
	bearer        string
	activateURL   string
	graphQLURL    string
	retries       int
	retryInterval time.Duration

	open atomic.Int64
}

// NewClient creates a Client from opts.
func NewClient(opts Options) *Client {
	c := &Client{
		http:          opts.HTTPClient,
		bearer:        opts.BearerToken,
		activateURL:   opts.ActivateURL,
		graphQLURL:    opts.GraphQLURL,
		retries:       max(opts.Retries, 0),
		retryInterval: opts.RetryInterval,
	}
	if c.http == nil {
		c.http = httputil.NewClient(20 * time.Second)
	}
	if c.bearer == "" {
		c.bearer = DefaultBearerToken
	}
	if c.activateURL == "" {
		c.activateURL = DefaultActivateURL
	}
	if c.graphQLURL == "" {
		c.graphQLURL = DefaultGraphQLURL
	}
	if c.retryInterval <= 0 {
		c.retryInterval = 250 * time.Millisecond
	}
	return c
}

// OpenSessions returns the number of guest sessions currently open.
func (c *Client) OpenSessions() int64 {
	return c.open.Load()
}

// FetchPost resolves the post a status URL points at, including its chain
// of quoted posts.
func (c *Client) FetchPost(ctx context.Context, rawURL string) (*Post, error) {
	id, err := PostID(rawURL)
	if err != nil {
		return nil, err
	}

	sess, err := c.openSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: guest session: %v", media.ErrUpstreamUnavailable, err)
	}
	defer sess.Close()

	res, err := sess.tweetResult(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching post %s: %v", media.ErrUpstreamUnavailable, id, err)
	}
	if res == nil {
		return nil, fmt.Errorf("%w: post %s not found", media.ErrUpstreamUnavailable, id)
	}

	post := buildChain(res)
	if post == nil {
		reason := string(unwrap(res).Reason)
		if reason == "" {
			reason = string(unwrap(res).TypeName)
		}
		return nil, fmt.Errorf("%w: post %s is unavailable (%s)", media.ErrUpstreamUnavailable, id, reason)
	}
	if post.ID == "" {
		post.ID = id
	}

	log.WithFields(log.Fields{
		"post":  post.ID,
		"media": len(post.Media),
		"quote": post.Quote != nil,
	}).Debug("post fetched")
	return post, nil
}

// session is one activated guest token. It is never shared between fetches.
type session struct {
	c     *Client
	token string
}

func (c *Client) openSession(ctx context.Context) (*session, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInterval
	b.MaxInterval = 8 * c.retryInterval

	var token string
	attempt := 0
	op := func() error {
		attempt++
		t, err := c.activate(ctx)
		if err != nil {
			log.WithFields(log.Fields{"attempt": attempt, "error": err}).Debug("guest activation failed")
			return err
		}
		token = t
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.retries)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}

	c.open.Add(1)
	return &session{c: c, token: token}, nil
}

// activate requests a fresh guest token.
func (c *Client) activate(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.activateURL, nil)
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.bearer)
	req.Header.Set("User-Agent", httputil.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		resp.Body.Close()
		return "", backoff.Permanent(fmt.Errorf("guest activation rejected with status %d", resp.StatusCode))
	}
	body, err := httputil.ReadLimited(resp, maxResponseBytes)
	if err != nil {
		return "", err
	}

	var out struct {
		GuestToken string `json:"guest_token"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decoding guest token: %w", err)
	}
	if out.GuestToken == "" {
		return "", fmt.Errorf("empty guest token")
	}
	return out.GuestToken, nil
}

// Close releases the guest token. It is safe to call more than once.
func (s *session) Close() {
	if s.token == "" {
		return
	}
	s.token = ""
	s.c.open.Add(-1)
}

// tweetResult fetches the raw result for id; nil means upstream returned
// no result object.
func (s *session) tweetResult(ctx context.Context, id string) (*tweetResult, error) {
	variables, err := json.Marshal(map[string]any{
		"tweetId":                id,
		"withCommunity":          false,
		"includePromotedContent": false,
		"withVoice":              false,
	})
	if err != nil {
		return nil, err
	}
	features, err := json.Marshal(graphQLFeatures)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("variables", string(variables))
	params.Set("features", string(features))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.c.graphQLURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.c.bearer)
	req.Header.Set("x-guest-token", s.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", httputil.UserAgent)

	resp, err := s.c.http.Do(req)
	if err != nil {
		return nil, err
	}
	body, err := httputil.ReadLimited(resp, maxResponseBytes)
	if err != nil {
		return nil, err
	}

	var doc tweetResultResponse
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return doc.result(), nil
}
