package vring

import (
	"io"
	"time"
)

// defaultChunkSize is the StreamCopy chunk when the caller passes <= 0.
const defaultChunkSize = 4 * 1024 * 1024

// Copy is a drop-in replacement for io.Copy. It defers to src.WriteTo or
// dst.ReadFrom when available and otherwise streams through a pooled Buffer
// in 4MB chunks, so memory stays bounded regardless of transfer size.
func Copy(dst io.Writer, src io.Reader) (int64, error) {
	if dst == nil || src == nil {
		return 0, io.ErrUnexpectedEOF
	}
	if wt, ok := src.(io.WriterTo); ok {
		return wt.WriteTo(dst)
	}
	if rf, ok := dst.(io.ReaderFrom); ok {
		return rf.ReadFrom(src)
	}
	return StreamCopy(dst, src, defaultChunkSize, nil)
}

// StreamCopy moves src to dst one chunk at a time through a single pooled
// Buffer, so at most chunkSize bytes are held whatever the transfer size. Each
// chunk is read in full into the ring and handed to dst with one Write.
//
// progress, if non-nil, sees the running (read, written) totals after every
// non-empty chunk; a non-nil return stops the copy and is returned as is.
// chunkSize <= 0 selects 4MB.
//
// Example:
//
//	n, err := StreamCopy(conn, file, 1<<20, func(_, w int64) error {
//	    return ctx.Err()
//	})
func StreamCopy(dst io.Writer, src io.Reader, chunkSize int64,
	progress func(read, written int64) error) (int64, error) {
	return streamCopy(dst, src, chunkSize, 0, progress)
}

// StreamCopyWithTimeout is StreamCopy with a per-chunk deadline. Before each
// chunk, ends that implement SetDeadline (net.Conn, os.File) get a deadline
// timeout from now; both are cleared when the copy returns. timeout <= 0
// disables deadlines.
func StreamCopyWithTimeout(dst io.Writer, src io.Reader, chunkSize int64,
	timeout time.Duration, progress func(read, written int64) error) (int64, error) {
	return streamCopy(dst, src, chunkSize, timeout, progress)
}

type deadliner interface {
	SetDeadline(time.Time) error
}

// setDeadlines applies t to every non-nil end.
func setDeadlines(t time.Time, ends ...deadliner) error {
	for _, d := range ends {
		if d == nil {
			continue
		}
		if err := d.SetDeadline(t); err != nil {
			return err
		}
	}
	return nil
}

func streamCopy(dst io.Writer, src io.Reader, chunkSize int64,
	timeout time.Duration, progress func(read, written int64) error) (int64, error) {
	if dst == nil || src == nil {
		return 0, io.ErrUnexpectedEOF
	}
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}

	buf := NewUnlimitedBuffer()
	defer buf.Release()

	var srcDL, dstDL deadliner
	if timeout > 0 {
		srcDL, _ = src.(deadliner)
		dstDL, _ = dst.(deadliner)
		defer setDeadlines(time.Time{}, srcDL, dstDL)
	}

	var read, written int64
	for {
		buf.Reset()
		if timeout > 0 {
			if err := setDeadlines(time.Now().Add(timeout), srcDL, dstDL); err != nil {
				return written, err
			}
		}

		nr, rerr := buf.ReadN(src, chunkSize)
		read += nr

		nw, werr := buf.WriteTo(dst)
		written += nw
		if werr != nil {
			return written, werr
		}

		if nr > 0 && progress != nil {
			if err := progress(read, written); err != nil {
				return written, err
			}
		}

		switch rerr {
		case nil:
		case io.EOF, io.ErrUnexpectedEOF:
			return written, nil
		default:
			return written, rerr
		}
	}
}
