package users_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/skill-engine/users"
)

// =============================================================================
// MEMORY DIRECTORY
// =============================================================================

func TestMemory_ClosedRejectsUnknownUser(t *testing.T) {
	dir := users.NewMemory(false)
	dir.Add(users.OptionOne, "alice")

	u, err := dir.Lookup(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.ID)

	_, err = dir.Lookup(context.Background(), "bob")
	assert.ErrorIs(t, err, users.ErrUserNotFound)
}

func TestMemory_OpenRegistersAndSuggests(t *testing.T) {
	// GIVEN: An open directory
	// WHEN: foo, bar, baz are looked up
	// THEN: "fo" suggests foo in any source
	dir := users.NewMemory(true)
	ctx := context.Background()
	for _, id := range []string{"foo", "bar", "baz"} {
		_, err := dir.Lookup(ctx, id)
		require.NoError(t, err)
	}

	got, err := dir.Suggest(ctx, users.OptionTwo, "fo")
	require.NoError(t, err)
	assert.Equal(t, []string{"foo"}, got)

	got, err = dir.Suggest(ctx, users.OptionOne, "ba")
	require.NoError(t, err)
	assert.Equal(t, []string{"bar", "baz"}, got)
}

func TestMemory_SuggestSpecialCharacters(t *testing.T) {
	dir := users.NewMemory(false)
	dir.Add(users.OptionTwo, "foo/bar", "user@#$&*")

	got, err := dir.Suggest(context.Background(), users.OptionTwo, "foo/")
	require.NoError(t, err)
	assert.Equal(t, []string{"foo/bar"}, got)
}

func TestParseOption(t *testing.T) {
	for in, want := range map[string]users.SuggestOption{"TWO": users.OptionTwo, "3": users.OptionThree, "": users.OptionOne} {
		got, err := users.ParseOption(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
	_, err := users.ParseOption("FOUR")
	assert.Error(t, err)
}

// =============================================================================
// HTTP DIRECTORY
// =============================================================================

func newDirectoryServer(t *testing.T, known map[string]bool, hits *int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(hits, 1)
		switch {
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/users/"):
			id := strings.TrimPrefix(r.URL.Path, "/users/")
			time.Sleep(20 * time.Millisecond)
			if !known[id] {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			json.NewEncoder(w).Encode(map[string]string{"userId": id})
		case r.Method == http.MethodPost && r.URL.Path == "/users/suggest":
			var body struct {
				Query string `json:"query"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			var out []string
			for id := range known {
				if strings.HasPrefix(id, body.Query) {
					out = append(out, id)
				}
			}
			json.NewEncoder(w).Encode(out)
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTP_LookupFoundAndNotFound(t *testing.T) {
	var hits int64
	srv := newDirectoryServer(t, map[string]bool{"foo/bar": true}, &hits)
	dir := users.NewHTTP(srv.URL)

	u, err := dir.Lookup(context.Background(), "foo/bar")
	require.NoError(t, err)
	assert.Equal(t, "foo/bar", u.ID)

	_, err = dir.Lookup(context.Background(), "nobody")
	assert.ErrorIs(t, err, users.ErrUserNotFound)
}

func TestHTTP_SuggestWithSlashDoesNotBreakTransport(t *testing.T) {
	var hits int64
	srv := newDirectoryServer(t, map[string]bool{"foo/bar": true, "foo": true}, &hits)
	dir := users.NewHTTP(srv.URL, users.WithRateLimit(100))

	got, err := dir.Suggest(context.Background(), users.OptionTwo, "foo/")
	require.NoError(t, err)
	assert.Equal(t, []string{"foo/bar"}, got)
}

func TestHTTP_ConcurrentLookupsShareOneRequest(t *testing.T) {
	var hits int64
	srv := newDirectoryServer(t, map[string]bool{"alice": true}, &hits)
	dir := users.NewHTTP(srv.URL)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := dir.Lookup(context.Background(), "alice")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Less(t, atomic.LoadInt64(&hits), int64(8))
}

func TestHTTP_CancelledCallerDoesNotFailSharedLookup(t *testing.T) {
	// GIVEN: A slow directory and two concurrent lookups of the same user
	// WHEN: The first caller cancels while the request is in flight
	// THEN: Only that caller sees the cancellation; the other gets the user
	arrived := make(chan struct{}, 4)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		arrived <- struct{}{}
		<-release
		json.NewEncoder(w).Encode(map[string]string{"userId": "alice"})
	}))
	t.Cleanup(srv.Close)
	dir := users.NewHTTP(srv.URL, users.WithTimeout(5*time.Second))

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := dir.Lookup(firstCtx, "alice")
		firstErr <- err
	}()
	<-arrived

	type result struct {
		user users.User
		err  error
	}
	second := make(chan result, 1)
	go func() {
		u, err := dir.Lookup(context.Background(), "alice")
		second <- result{u, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	res := <-second
	require.NoError(t, res.err)
	assert.Equal(t, "alice", res.user.ID)
}

func TestHTTP_TimeoutDoesNotModifyCallerClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		json.NewEncoder(w).Encode(map[string]string{"userId": "alice"})
	}))
	t.Cleanup(srv.Close)

	client := &http.Client{}
	dir := users.NewHTTP(srv.URL, users.WithClient(client), users.WithTimeout(20*time.Millisecond))
	assert.Zero(t, client.Timeout)

	_, err := dir.Lookup(context.Background(), "alice")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
