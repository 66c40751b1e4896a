package rate

import (
	"context"
	"io"
)

type RateLimitedReader interface {
	io.ReadCloser
}

type rlReader struct {
	ctx context.Context
	id  string
	rc  io.ReadCloser
	lim *Limiter
}

// Read implements io.Reader with rate limiting.
//
// The grant is acquired BEFORE performing the read and the read is sliced
// to exactly the granted byte count, which may be smaller than len(p).
// If the underlying read returns fewer bytes than granted, the grant is
// still consumed.
func (r *rlReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return r.rc.Read(p)
	}
	n, err := r.lim.Take(r.ctx, len(p))
	if err != nil {
		return 0, err
	}
	return r.rc.Read(p[:n])
}

func (r *rlReader) Close() error {
	r.lim.mgr.streamClosed(r.lim, r.id)
	return r.rc.Close()
}
