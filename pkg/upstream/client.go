package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/nullstream/unmutual/internal/telemetry"
)

var userAgents = []string{
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_5 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Mobile/15E148",
	"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Mobile Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
}

// CookieSource returns the current upstream session cookie. It is satisfied
// by a Session Manager; kept as an interface here to avoid an import cycle
// between pkg/upstream and pkg/session.
type CookieSource interface {
	Current(ctx context.Context) (string, error)
}

// Config controls request pacing and retry behavior.
type Config struct {
	BaseURL          string
	RequestTimeout   time.Duration
	DelayMin         time.Duration
	DelayMax         time.Duration
	MaxRetries       int
	RetryBackoffBase time.Duration
	PageSize         int
}

// Client issues authenticated fetches against the upstream private API.
type Client struct {
	cfg     Config
	cookies CookieSource
	http    *http.Client
	limiter *rate.Limiter
}

// New constructs a Client. The rate limiter caps steady-state throughput at
// one request per DelayMin, independent of the extra jittered sleep applied
// between calls.
func New(cfg Config, cookies CookieSource) *Client {
	every := cfg.DelayMin
	if every <= 0 {
		every = time.Second
	}
	return &Client{
		cfg:     cfg,
		cookies: cookies,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		limiter: rate.NewLimiter(rate.Every(every), 1),
	}
}

// GetProfile fetches the public profile summary for handle.
func (c *Client) GetProfile(ctx context.Context, handle string) (Profile, error) {
	var profile Profile
	err := c.doWithRetry(ctx, func() error {
		body, status, err := c.request(ctx, http.MethodGet, "/api/v1/users/"+url.PathEscape(handle)+"/info/", nil)
		if err != nil {
			return err
		}
		switch status {
		case http.StatusNotFound:
			return &OutcomeError{Outcome: OutcomeUserNotFound}
		case http.StatusUnauthorized:
			return &OutcomeError{Outcome: OutcomeSessionExpired}
		case http.StatusTooManyRequests:
			return &OutcomeError{Outcome: OutcomeRateLimited}
		}

		var decoded struct {
			User struct {
				PK             string `json:"pk"`
				Username       string `json:"username"`
				FullName       string `json:"full_name"`
				ProfilePicURL  string `json:"profile_pic_url"`
				FollowerCount  int    `json:"follower_count"`
				FollowingCount int    `json:"following_count"`
				IsPrivate      bool   `json:"is_private"`
			} `json:"user"`
		}
		if err := json.Unmarshal(body, &decoded); err != nil {
			return fmt.Errorf("decoding profile response: %w", err)
		}
		profile = Profile{
			UserID:         decoded.User.PK,
			Handle:         decoded.User.Username,
			FullName:       decoded.User.FullName,
			AvatarURL:      decoded.User.ProfilePicURL,
			FollowersCount: decoded.User.FollowerCount,
			FollowingCount: decoded.User.FollowingCount,
			IsPrivate:      decoded.User.IsPrivate,
		}
		if profile.IsPrivate {
			cookie, cerr := c.cookies.Current(ctx)
			if cerr != nil || cookie == "" {
				return &OutcomeError{Outcome: OutcomePrivateAccount}
			}
		}
		return nil
	})
	return profile, err
}

// IterConnections walks the followers or following list for userID,
// invoking onPage after each fetched page. It returns the accumulated
// connections on success, or an *IncompleteDataError wrapping whatever was
// fetched before a non-retryable interruption.
func (c *Client) IterConnections(ctx context.Context, userID string, kind ConnectionKind, maxItems int, onPage OnPage) ([]ConnectionUser, error) {
	var out []ConnectionUser
	cursor := ""

	endpoint := "/api/v1/friendships/" + url.PathEscape(userID) + "/followers/"
	if kind == KindFollowing {
		endpoint = "/api/v1/friendships/" + url.PathEscape(userID) + "/following/"
	}

	for {
		query := map[string]string{}
		if cursor != "" {
			query["max_id"] = cursor
		}

		var page struct {
			Users []struct {
				PK            string `json:"pk"`
				Username      string `json:"username"`
				FullName      string `json:"full_name"`
				ProfilePicURL string `json:"profile_pic_url"`
			} `json:"users"`
			NextMaxID string `json:"next_max_id"`
		}

		err := c.doWithRetry(ctx, func() error {
			body, status, err := c.request(ctx, http.MethodGet, endpoint, query)
			if err != nil {
				return err
			}
			switch status {
			case http.StatusUnauthorized:
				return &OutcomeError{Outcome: OutcomeSessionExpired}
			case http.StatusTooManyRequests:
				return &OutcomeError{Outcome: OutcomeRateLimited}
			}
			return json.Unmarshal(body, &page)
		})

		if err != nil {
			var oe *OutcomeError
			if asOutcomeError(err, &oe) && (oe.Outcome == OutcomeRateLimited || oe.Outcome == OutcomeTransient) {
				return out, &IncompleteDataError{Outcome: oe.Outcome, FetchedCount: len(out)}
			}
			return out, err
		}

		for _, u := range page.Users {
			out = append(out, ConnectionUser{
				UserID:    u.PK,
				Handle:    u.Username,
				FullName:  u.FullName,
				AvatarURL: u.ProfilePicURL,
			})
		}

		if onPage != nil {
			onPage(len(out), 0)
		}

		if page.NextMaxID == "" || (maxItems > 0 && len(out) >= maxItems) {
			return out, nil
		}
		cursor = page.NextMaxID

		c.sleepBetweenRequests(ctx)
	}
}

func asOutcomeError(err error, target **OutcomeError) bool {
	oe, ok := err.(*OutcomeError)
	if !ok {
		return false
	}
	*target = oe
	return true
}

// request performs one HTTP call with rotated headers and the current
// session cookie attached.
func (c *Client) request(ctx context.Context, method, path string, query map[string]string) ([]byte, int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, err
	}

	u, err := url.Parse(c.cfg.BaseURL + path)
	if err != nil {
		return nil, 0, fmt.Errorf("building request url: %w", err)
	}
	if len(query) > 0 {
		q := u.Query()
		for k, v := range query {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("constructing request: %w", err)
	}

	cookie, err := c.cookies.Current(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("reading active session: %w", err)
	}
	if cookie != "" {
		req.Header.Set("Cookie", cookie)
	}
	req.Header.Set("User-Agent", userAgents[rand.Intn(len(userAgents))])
	req.Header.Set("X-IG-App-ID", "936619743392459")
	req.Header.Set("Referer", c.cfg.BaseURL+"/")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		telemetry.UpstreamRequestsTotal.WithLabelValues("transport_error").Inc()
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		telemetry.UpstreamRequestsTotal.WithLabelValues("read_error").Inc()
		return nil, 0, fmt.Errorf("reading response body: %w", err)
	}

	telemetry.UpstreamRequestsTotal.WithLabelValues(http.StatusText(resp.StatusCode)).Inc()
	return body, resp.StatusCode, nil
}

// doWithRetry runs fn, retrying 5xx/transport failures with exponential
// backoff and jitter up to MaxRetries. 401/429/404 outcomes are surfaced
// immediately without retry.
func (c *Client) doWithRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			c.sleepBackoff(ctx, attempt)
		}

		err := fn()
		if err == nil {
			return nil
		}

		var oe *OutcomeError
		if asOutcomeError(err, &oe) {
			return err
		}

		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return &OutcomeError{Outcome: OutcomeTransient, Detail: lastErr.Error()}
}

func (c *Client) sleepBackoff(ctx context.Context, attempt int) {
	base := c.cfg.RetryBackoffBase
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	backoff := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	jitter := time.Duration(rand.Int63n(int64(backoff) + 1))
	select {
	case <-time.After(backoff/2 + jitter/2):
	case <-ctx.Done():
	}
}

// sleepBetweenRequests enforces the configured inter-request jitter window,
// on top of the rate limiter, to look less mechanical to upstream.
func (c *Client) sleepBetweenRequests(ctx context.Context) {
	lo, hi := c.cfg.DelayMin, c.cfg.DelayMax
	if hi <= lo {
		return
	}
	d := lo + time.Duration(rand.Int63n(int64(hi-lo)))
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}
