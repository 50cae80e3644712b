package vring

import (
	"errors"
	"io"
	"math"
	"unsafe"
)

// Buffer is a byte FIFO backed by a Ring[byte]. Writes land at the back,
// reads consume from the front, and the unread bytes are always one
// contiguous slice, so Bytes never copies and WriteTo issues a single Write.
//
// The buffer supports:
//   - io.Reader, io.Writer, io.ByteReader, io.ByteWriter, io.StringWriter
//   - ReadFrom that reads straight into spare capacity (no staging buffer)
//   - WriteTo with one Write of the contiguous unread region
//   - Configurable size limits for DoS protection
//   - Pooled instances via NewBuffer/Release
//
// Buffer is NOT safe for concurrent use.
type Buffer struct {
	ring     *Ring[byte]
	maxSize  int // Maximum unread bytes allowed (0 = unlimited)
	released bool
}

const (
	// MinRead is the minimum spare capacity ReadFrom offers to a Read call.
	MinRead = 512

	// DefaultMaxBufferSize is the default maximum buffer size (100MB).
	// This prevents unbounded memory growth from malicious input.
	DefaultMaxBufferSize = 100 * 1024 * 1024

	// NoSizeLimit disables size checking (use with caution).
	// Only use this when you control the input source.
	NoSizeLimit = 0
)

// ErrBufferFull is returned when a write would exceed MaxSize.
var ErrBufferFull = errors.New("vring: buffer size limit exceeded")

const (
	// maxPooledBuffers bounds how many released Buffers are kept for reuse.
	maxPooledBuffers = 64

	// maxPooledCap is the largest storage a released Buffer may keep in the
	// pool. Larger buffers are unmapped on Release.
	maxPooledCap = 16 * 1024 * 1024
)

// bufferPool holds released Buffers together with their mappings. A Buffer
// that does not fit is unmapped by Release, never dropped.
var bufferPool = make(chan *Buffer, maxPooledBuffers)

// NewBuffer returns an empty Buffer from the pool with the default 100MB size
// limit. Call Release to return it to the pool, or Close to unmap its storage.
func NewBuffer() *Buffer {
	var b *Buffer
	select {
	case b = <-bufferPool:
	default:
		b = &Buffer{ring: New[byte]()}
	}
	b.released = false
	b.maxSize = DefaultMaxBufferSize
	b.ring.Clear()
	return b
}

// NewUnlimitedBuffer returns a pooled Buffer without a size limit.
// WARNING: This can lead to unbounded memory growth with untrusted input.
func NewUnlimitedBuffer() *Buffer {
	b := NewBuffer()
	b.maxSize = NoSizeLimit
	return b
}

// NewBufferSize returns a Buffer with room for at least n bytes. It is not
// taken from the pool but may be released into it.
//
// Panics if the storage cannot be allocated.
func NewBufferSize(n int) *Buffer {
	return &Buffer{
		ring:    NewWithCapacity[byte](n),
		maxSize: DefaultMaxBufferSize,
	}
}

// checkLimit reports whether n more unread bytes fit under maxSize, using
// overflow-safe arithmetic.
func (b *Buffer) checkLimit(n int) error {
	if b.maxSize <= 0 {
		return nil
	}
	if n > b.maxSize || b.ring.Len() > b.maxSize-n {
		return ErrBufferFull
	}
	return nil
}

// grow makes room for n more bytes. Unlike Ring.Reserve it over-allocates,
// at least doubling the unread length, so byte-at-a-time writers do not
// relocate on every page.
func (b *Buffer) grow(n int) error {
	if n <= len(b.ring.Spare()) {
		return nil
	}
	want := max(n, b.ring.Len(), MinRead)
	if b.maxSize > 0 {
		want = max(n, min(want, b.maxSize-b.ring.Len()))
	}
	return b.ring.TryReserve(want)
}

// Write copies p to the back of the buffer.
//
// Returns ErrBufferFull if adding p would exceed the size limit, or the
// allocation error if the buffer could not grow. Nothing is written on error.
func (b *Buffer) Write(p []byte) (int, error) {
	if b == nil {
		return 0, io.ErrUnexpectedEOF
	}
	b.checkReleased()
	if len(p) == 0 {
		return 0, nil
	}
	if err := b.checkLimit(len(p)); err != nil {
		return 0, err
	}
	if err := b.grow(len(p)); err != nil {
		return 0, err
	}
	copy(b.ring.Spare(), p)
	b.ring.UnsafeAddLen(len(p))
	return len(p), nil
}

// WriteString copies s to the back of the buffer without converting it to a
// byte slice first.
func (b *Buffer) WriteString(s string) (int, error) {
	if b == nil {
		return 0, io.ErrUnexpectedEOF
	}
	b.checkReleased()
	if len(s) == 0 {
		return 0, nil
	}
	if err := b.checkLimit(len(s)); err != nil {
		return 0, err
	}
	if err := b.grow(len(s)); err != nil {
		return 0, err
	}
	copy(b.ring.Spare(), unsafe.Slice(unsafe.StringData(s), len(s)))
	b.ring.UnsafeAddLen(len(s))
	return len(s), nil
}

// WriteByte appends a single byte. Implements io.ByteWriter.
//
// Performance: O(1) amortized
func (b *Buffer) WriteByte(c byte) error {
	if b == nil {
		return io.ErrUnexpectedEOF
	}
	b.checkReleased()
	if err := b.checkLimit(1); err != nil {
		return err
	}
	if err := b.grow(1); err != nil {
		return err
	}
	b.ring.Spare()[0] = c
	b.ring.UnsafeAddLen(1)
	return nil
}

// ReadFrom reads from r until EOF, placing data directly into the buffer's
// spare capacity. Each Read is offered at least MinRead bytes of space unless
// the size limit leaves less.
//
// Returns ErrBufferFull when the size limit is reached. EOF is not an error.
func (b *Buffer) ReadFrom(r io.Reader) (n int64, err error) {
	if b == nil {
		return 0, io.ErrUnexpectedEOF
	}
	b.checkReleased()

	for {
		if b.maxSize > 0 && b.ring.Len() >= b.maxSize {
			return n, ErrBufferFull
		}
		if err := b.grow(MinRead); err != nil {
			return n, err
		}

		spare := b.ring.Spare()
		if b.maxSize > 0 {
			spare = spare[:min(len(spare), b.maxSize-b.ring.Len())]
		}

		nr, er := r.Read(spare)
		if nr < 0 || nr > len(spare) {
			panic("vring: reader returned invalid count")
		}
		b.ring.UnsafeAddLen(nr)
		n += int64(nr)

		if er != nil {
			if er != io.EOF {
				err = er
			}
			return n, err
		}
	}
}

// ReadN reads exactly n bytes from r into the buffer.
// Returns io.ErrUnexpectedEOF if fewer than n bytes are available; the bytes
// that were read stay in the buffer.
// Returns ErrBufferFull if reading n bytes would exceed the size limit.
//
// Example:
//
//	// Read 4-byte length prefix
//	buf.ReadN(conn, 4)
//	length := binary.BigEndian.Uint32(buf.Next(4))
//
//	// Read exact message
//	buf.ReadN(conn, int64(length))
func (b *Buffer) ReadN(r io.Reader, n int64) (int64, error) {
	if b == nil {
		return 0, io.ErrUnexpectedEOF
	}
	b.checkReleased()
	if n <= 0 {
		return 0, nil
	}
	if n > int64(math.MaxInt) {
		return 0, ErrBufferFull
	}
	if err := b.checkLimit(int(n)); err != nil {
		return 0, err
	}
	if err := b.grow(int(n)); err != nil {
		return 0, err
	}

	nr, err := io.ReadFull(r, b.ring.Spare()[:n])
	b.ring.UnsafeAddLen(nr)
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return int64(nr), err
}

// WriteTo writes the unread bytes to w with a single Write call. Bytes are
// consumed as far as w accepted them, so partial writes leave the remainder
// in the buffer.
func (b *Buffer) WriteTo(w io.Writer) (n int64, err error) {
	if b == nil {
		return 0, io.ErrUnexpectedEOF
	}
	b.checkReleased()

	data := b.ring.Slice()
	if len(data) == 0 {
		return 0, nil
	}

	nw, err := w.Write(data)
	if nw < 0 || nw > len(data) {
		panic("vring: writer returned invalid count")
	}
	b.ring.Discard(nw)
	if err == nil && nw < len(data) {
		err = io.ErrShortWrite
	}
	return int64(nw), err
}

// Read implements io.Reader, copying from the front of the buffer into p.
// Returns io.EOF when the buffer is empty and p is not.
func (b *Buffer) Read(p []byte) (n int, err error) {
	if b == nil {
		return 0, io.ErrUnexpectedEOF
	}
	b.checkReleased()
	if b.ring.Len() == 0 {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	n = copy(p, b.ring.Slice())
	b.ring.Discard(n)
	return n, nil
}

// ReadByte reads and returns a single byte from the buffer.
// If no byte is available, returns io.EOF.
//
// Performance: O(1), zero allocations
func (b *Buffer) ReadByte() (byte, error) {
	if b == nil {
		return 0, io.ErrUnexpectedEOF
	}
	b.checkReleased()
	c, ok := b.ring.Pop()
	if !ok {
		return 0, io.EOF
	}
	return c, nil
}

// Next consumes and returns the next n unread bytes, or all of them if fewer
// are available. The slice aliases the buffer and is only valid until the
// next write.
func (b *Buffer) Next(n int) []byte {
	if b == nil {
		return nil
	}
	b.checkReleased()
	n = min(max(n, 0), b.ring.Len())
	data := b.ring.Slice()[:n:n]
	b.ring.Discard(n)
	return data
}

// Discard skips the next n unread bytes and returns how many were skipped.
func (b *Buffer) Discard(n int) int {
	if b == nil {
		return 0
	}
	b.checkReleased()
	return b.ring.Discard(n)
}

// Bytes returns the unread portion of the buffer.
//
// The slice is always contiguous and never copied, whatever the position of
// the data in the ring. It shares memory with the buffer and is valid until
// the next modification, Release or Close.
func (b *Buffer) Bytes() []byte {
	if b == nil {
		return nil
	}
	return b.ring.Slice()
}

// String returns the unread portion of the buffer as a string.
// Implements fmt.Stringer.
func (b *Buffer) String() string {
	if b == nil {
		return "<nil>"
	}
	return string(b.ring.Slice())
}

// Len returns the number of unread bytes.
func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	return b.ring.Len()
}

// Cap returns the number of bytes the buffer holds without growing.
func (b *Buffer) Cap() int {
	if b == nil {
		return 0
	}
	return b.ring.Cap()
}

// Available returns how many bytes can be written without growing.
func (b *Buffer) Available() int {
	if b == nil {
		return 0
	}
	return b.ring.Cap() - b.ring.Len()
}

// Grow guarantees space for n more bytes without another allocation.
//
// Panics if n is negative or the storage cannot grow.
func (b *Buffer) Grow(n int) {
	if b == nil {
		return
	}
	b.checkReleased()
	if n < 0 {
		panic("vring.Buffer: negative count")
	}
	if err := b.grow(n); err != nil {
		panic(err)
	}
}

// Truncate discards all but the first n unread bytes.
// If n is negative or greater than the buffer length, Truncate panics.
func (b *Buffer) Truncate(n int) {
	if b == nil {
		return
	}
	b.checkReleased()
	if n < 0 || n > b.ring.Len() {
		panic("vring.Buffer: truncation out of range")
	}
	b.ring.Truncate(n)
}

// Reset empties the buffer but keeps its storage for reuse.
//
// Note: maxSize is preserved across Reset to maintain security settings.
func (b *Buffer) Reset() {
	if b == nil {
		return
	}
	b.ring.Clear()
}

// Release empties the buffer and returns it, storage included, to the pool.
// When the pool is full or the storage is larger than the pool keeps, the
// storage is unmapped instead. The buffer and any slice obtained from it must
// not be used after calling Release.
func (b *Buffer) Release() {
	if b == nil || b.released {
		return
	}
	b.released = true
	b.Reset()
	if b.ring.Cap() <= maxPooledCap {
		select {
		case bufferPool <- b:
			return
		default:
		}
	}
	b.ring.Close()
}

// Close unmaps the buffer's storage. The buffer must not be used afterwards
// and must not be released into the pool.
func (b *Buffer) Close() error {
	if b == nil || b.released {
		return nil
	}
	b.released = true
	return b.ring.Close()
}

// SetMaxSize sets the maximum number of unread bytes and returns the previous
// limit. Use NoSizeLimit (0) to disable size checking.
func (b *Buffer) SetMaxSize(max int) int {
	if b == nil {
		return 0
	}
	old := b.maxSize
	b.maxSize = max
	return old
}

// MaxSize returns the current maximum buffer size.
// Returns 0 if size checking is disabled.
func (b *Buffer) MaxSize() int {
	if b == nil {
		return 0
	}
	return b.maxSize
}

func (b *Buffer) checkReleased() {
	if b.released {
		panic("vring: use of released buffer")
	}
}
