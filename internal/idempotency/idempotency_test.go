package idempotency

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheTTL(t *testing.T) {
	c := New(time.Minute, 10)
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	c.Set("k", Response{StatusCode: 200, Body: []byte("a")})
	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "a", string(got.Body))

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Zero(t, c.Len(), "expired entry is dropped on read")
}

func TestCacheLRU(t *testing.T) {
	c := New(time.Minute, 2)
	c.Set("a", Response{StatusCode: 200})
	c.Set("b", Response{StatusCode: 200})
	_, _ = c.Get("a") // a is now most recent
	c.Set("c", Response{StatusCode: 200})

	_, okA := c.Get("a")
	_, okB := c.Get("b")
	_, okC := c.Get("c")
	assert.True(t, okA)
	assert.False(t, okB, "least recently used entry evicted")
	assert.True(t, okC)
	assert.Equal(t, 2, c.Len())
}

func countingHandler(calls *int, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"n":` + string(rune('0'+*calls)) + `}`))
	})
}

func post(h http.Handler, path, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{}`))
	if key != "" {
		req.Header.Set(HeaderKey, key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddlewareReplays(t *testing.T) {
	var calls int
	h := Middleware(New(time.Minute, 100))(countingHandler(&calls, http.StatusOK))

	first := post(h, "/api/ai/token-usage", "abc")
	second := post(h, "/api/ai/token-usage", "abc")

	assert.Equal(t, 1, calls)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get(HeaderReplay))
	assert.Empty(t, first.Header().Get(HeaderReplay))
	assert.Equal(t, "application/json", second.Header().Get("Content-Type"))
}

func TestMiddlewareWithoutKeyPassesThrough(t *testing.T) {
	var calls int
	h := Middleware(New(time.Minute, 100))(countingHandler(&calls, http.StatusOK))
	post(h, "/x", "")
	post(h, "/x", "")
	assert.Equal(t, 2, calls)
}

func TestMiddlewareScopesKeysByPath(t *testing.T) {
	var calls int
	h := Middleware(New(time.Minute, 100))(countingHandler(&calls, http.StatusOK))
	post(h, "/api/ai/token-usage", "same")
	post(h, "/api/admin/ai-token-usage", "same")
	assert.Equal(t, 2, calls)
}

func TestMiddlewareDoesNotStoreServerErrors(t *testing.T) {
	var calls int
	h := Middleware(New(time.Minute, 100))(countingHandler(&calls, http.StatusInternalServerError))
	post(h, "/x", "k")
	rec := post(h, "/x", "k")
	assert.Equal(t, 2, calls)
	assert.Empty(t, rec.Header().Get(HeaderReplay))
}

func TestMiddlewareStoresClientErrors(t *testing.T) {
	var calls int
	h := Middleware(New(time.Minute, 100))(countingHandler(&calls, http.StatusBadRequest))
	post(h, "/x", "k")
	rec := post(h, "/x", "k")
	assert.Equal(t, 1, calls)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMiddlewareOverlappingRetryRunsOnce(t *testing.T) {
	var calls atomic.Int32
	entered := make(chan struct{})
	unblock := make(chan struct{})
	h := Middleware(New(time.Minute, 100))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			close(entered)
		}
		<-unblock
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))

	var wg sync.WaitGroup
	recs := make([]*httptest.ResponseRecorder, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		recs[0] = post(h, "/api/ai/token-usage", "retry")
	}()
	<-entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		recs[1] = post(h, "/api/ai/token-usage", "retry")
	}()
	time.Sleep(20 * time.Millisecond)
	close(unblock)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, recs[0].Body.String(), recs[1].Body.String())
	assert.Equal(t, "true", recs[1].Header().Get(HeaderReplay))
}

func TestMiddlewareWaiterGivesUpWithItsRequest(t *testing.T) {
	c := New(time.Minute, 100)
	_, hit, wait := c.acquire("POST /x k")
	require.False(t, hit)
	require.Nil(t, wait)
	defer c.release("POST /x k")

	var calls int
	h := Middleware(c)(countingHandler(&calls, http.StatusOK))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(`{}`)).WithContext(ctx)
	req.Header.Set(HeaderKey, "k")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Zero(t, calls)
}
