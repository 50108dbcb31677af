package http

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

const copyBufferSize = 32 * 1024

// CopyWithLimit copies src to dst, holding the transfer to bytesPerSec when it is positive.
// It stops as soon as ctx is done.
func CopyWithLimit(ctx context.Context, dst io.Writer, src io.Reader, bytesPerSec int64) (int64, error) {
	var limiter *rate.Limiter
	if bytesPerSec > 0 {
		burst := copyBufferSize
		if bytesPerSec < int64(burst) {
			burst = int(bytesPerSec)
		}
		limiter = rate.NewLimiter(rate.Limit(bytesPerSec), burst)
	}

	buf := make([]byte, copyBufferSize)
	var written int64

	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		chunk := buf
		if limiter != nil && limiter.Burst() < len(chunk) {
			chunk = buf[:limiter.Burst()]
		}

		nr, er := src.Read(chunk)
		if nr > 0 {
			if limiter != nil {
				if err := limiter.WaitN(ctx, nr); err != nil {
					return written, err
				}
			}

			nw, ew := dst.Write(chunk[:nr])
			written += int64(nw)
			if ew != nil {
				return written, ew
			}
			if nw != nr {
				return written, io.ErrShortWrite
			}
		}

		if er == io.EOF {
			return written, nil
		}
		if er != nil {
			return written, er
		}
	}
}
