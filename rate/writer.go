// Copyright © 2025-2026 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package rate

import (
	"context"
	"io"
)

type RateLimitedWriter interface {
	io.WriteCloser
}

type rlStreamWriter struct {
	ctx context.Context
	id  string
	wc  io.WriteCloser
	lim *Limiter
}

// Write writes p in chunks, each sized by the grant returned for the
// bytes still pending.
func (w *rlStreamWriter) Write(p []byte) (int, error) {
	return writeChunks(w.ctx, w.lim, w.wc, p, nil)
}

func (w *rlStreamWriter) Close() error {
	w.lim.mgr.streamClosed(w.lim, w.id)
	return w.wc.Close()
}

// writeChunks acquires a grant for the remaining bytes and writes exactly
// the granted amount, until p is drained or an error occurs. after, when
// set, runs once per written chunk.
func writeChunks(ctx context.Context, lim *Limiter, w io.Writer, p []byte, after func()) (int, error) {
	written := 0
	for written < len(p) {
		chunk, err := lim.Take(ctx, len(p)-written)
		if err != nil {
			return written, err
		}
		n, err := w.Write(p[written : written+chunk])
		written += n
		if err != nil {
			return written, err
		}
		if n < chunk {
			return written, io.ErrShortWrite
		}
		if after != nil {
			after()
		}
	}
	return written, nil
}
