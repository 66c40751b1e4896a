package rate

import (
	"context"
	"net/http"
)

type RateLimitedHTTPResponseWriter interface {
	http.ResponseWriter
	Close() error
}

type rlWriter struct {
	ctx context.Context
	id  string
	w   http.ResponseWriter
	lim *Limiter
}

func (w *rlWriter) Header() http.Header {
	return w.w.Header()
}

func (w *rlWriter) WriteHeader(code int) {
	w.w.WriteHeader(code)
}

// Write implements http.ResponseWriter.Write with rate limiting.
//
// Each chunk is sized by the grant, and flushed right after it is written
// so the client observes the paced stream instead of a buffered burst.
func (w *rlWriter) Write(p []byte) (int, error) {
	var flush func()
	if f, ok := w.w.(http.Flusher); ok {
		flush = f.Flush
	}
	return writeChunks(w.ctx, w.lim, w.w, p, flush)
}

func (w *rlWriter) Close() error {
	w.lim.mgr.streamClosed(w.lim, w.id)
	return nil
}
