package idempotency

import (
	"bytes"
	"net/http"
)

// HeaderKey is the request header naming the idempotency key.
const HeaderKey = "Idempotency-Key"

// HeaderReplay marks a replayed response.
const HeaderReplay = "Idempotency-Replay"

// Middleware replays the stored response when a request repeats an
// Idempotency-Key on the same method and path. A repeat that arrives while
// the first request is still running waits for it and then replays. Only
// responses below 500 are stored, so a request that failed on the server side
// can be retried. Requests without the header pass through.
func Middleware(cache *Cache) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			idem := r.Header.Get(HeaderKey)
			if idem == "" {
				next.ServeHTTP(w, r)
				return
			}
			key := r.Method + " " + r.URL.Path + " " + idem

			for {
				resp, hit, wait := cache.acquire(key)
				if hit {
					replay(w, resp)
					return
				}
				if wait == nil {
					break
				}
				select {
				case <-wait:
				case <-r.Context().Done():
					return
				}
			}
			defer cache.release(key)

			rec := &recorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			if rec.status < http.StatusInternalServerError {
				cache.Set(key, Response{StatusCode: rec.status, Header: w.Header().Clone(), Body: rec.body.Bytes()})
			}
		})
	}
}

func replay(w http.ResponseWriter, resp Response) {
	for k, v := range resp.Header {
		w.Header()[k] = append([]string(nil), v...)
	}
	w.Header().Set(HeaderReplay, "true")
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)
}

// recorder tees the response into a buffer.
type recorder struct {
	http.ResponseWriter
	body        bytes.Buffer
	status      int
	wroteHeader bool
}

func (r *recorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *recorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
