package blobstore

import (
	"context"
	"io"
)

// WriteStream copies r into w while enforcing a byte cap. The cap is
// checked as bytes flow, so an oversized stream fails partway through
// instead of after the full body has been accepted. maxBytes <= 0 means
// unlimited. Returns the byte count written before stopping.
func WriteStream(ctx context.Context, w io.Writer, r io.Reader, maxBytes int64) (int64, error) {
	src := io.Reader(&contextReader{ctx: ctx, r: r})
	if maxBytes > 0 {
		// Read one byte past the cap so exhaustion of the limit is
		// distinguishable from a stream that ends exactly on it.
		src = io.LimitReader(src, maxBytes+1)
	}

	n, err := io.Copy(w, src)
	if err != nil {
		return n, err
	}
	if maxBytes > 0 && n > maxBytes {
		return n, ErrSizeLimitExceeded
	}
	return n, nil
}

// contextReader aborts a copy as soon as its context is done, so a
// client disconnect stops the stream instead of draining it.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
