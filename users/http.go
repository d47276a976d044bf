package users

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// =============================================================================
// HTTP DIRECTORY - Remote user directory client
// =============================================================================

// HTTP talks to a remote directory service:
//
//	GET  {base}/users/{id}              200 {"userId": "..."} | 404
//	POST {base}/users/suggest?option=N  body {"query": "..."} -> ["id", ...]
//
// IDs are path-escaped and queries travel in the body, so values containing
// "/" or other reserved characters never change the request route.
type HTTP struct {
	BaseURL string
	Client  *http.Client

	timeout time.Duration
	limiter *rate.Limiter
	flight  singleflight.Group
}

type HTTPOption func(*HTTP)

// WithRateLimit caps outbound requests per second (burst = ceil(rps)).
func WithRateLimit(rps float64) HTTPOption {
	return func(h *HTTP) {
		if rps <= 0 {
			h.limiter = nil
			return
		}
		burst := int(rps)
		if float64(burst) < rps {
			burst++
		}
		h.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithTimeout bounds each directory request. It is applied per request, so a
// client passed through WithClient is never modified.
func WithTimeout(d time.Duration) HTTPOption {
	return func(h *HTTP) { h.timeout = d }
}

func WithClient(c *http.Client) HTTPOption {
	return func(h *HTTP) { h.Client = c }
}

func NewHTTP(baseURL string, opts ...HTTPOption) *HTTP {
	h := &HTTP{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{},
		timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Lookup resolves a user. Concurrent lookups of the same ID share one request.
// The shared request does not inherit any caller's cancellation: a caller
// that gives up returns ctx.Err() alone while the others keep waiting.
func (h *HTTP) Lookup(ctx context.Context, userID string) (User, error) {
	ch := h.flight.DoChan("lookup:"+userID, func() (any, error) {
		shared, cancel := h.bound(context.WithoutCancel(ctx))
		defer cancel()
		return h.lookup(shared, userID)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return User{}, res.Err
		}
		return res.Val.(User), nil
	case <-ctx.Done():
		return User{}, ctx.Err()
	}
}

func (h *HTTP) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, h.timeout)
}

func (h *HTTP) lookup(ctx context.Context, userID string) (User, error) {
	endpoint := h.BaseURL + "/users/" + url.PathEscape(userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return User{}, fmt.Errorf("build lookup request: %w", err)
	}

	resp, err := h.do(ctx, req)
	if err != nil {
		return User{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var u User
		if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
			return User{}, fmt.Errorf("decode lookup response: %w", err)
		}
		if u.ID == "" {
			u.ID = userID
		}
		return u, nil
	case http.StatusNotFound:
		return User{}, ErrUserNotFound
	default:
		return User{}, statusError("lookup", resp)
	}
}

func (h *HTTP) Suggest(ctx context.Context, option SuggestOption, query string) ([]string, error) {
	ctx, cancel := h.bound(ctx)
	defer cancel()

	body, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return nil, err
	}

	endpoint := h.BaseURL + "/users/suggest?" + url.Values{"option": {strconv.Itoa(int(option))}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build suggest request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("suggest", resp)
	}
	var ids []string
	if err := json.NewDecoder(resp.Body).Decode(&ids); err != nil {
		return nil, fmt.Errorf("decode suggest response: %w", err)
	}
	return ids, nil
}

func (h *HTTP) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if h.limiter != nil {
		if err := h.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("directory rate limit: %w", err)
		}
	}
	resp, err := h.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("directory request: %w", err)
	}
	return resp, nil
}

func statusError(op string, resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("directory %s: unexpected status %d: %s", op, resp.StatusCode, strings.TrimSpace(string(msg)))
}
