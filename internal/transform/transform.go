// Package transform implements the composable, streaming per-file
// pipeline from spec.md §4.4: an optional gzip stage followed by an
// optional age passphrase-encryption stage, plus their inverses for
// restore/verify. Grounded in the teacher's internal/encryption/age.go
// (filippo.io/age usage) generalized from "encrypt one private key
// file" to "encrypt every transformed file stream", and in
// compress/gzip directly since spec.md names gzip specifically (no
// pack example swaps in a different compressor).
package transform

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"time"

	"filippo.io/age"

	"github.com/zarniwp/cuba/internal/cuberr"
)

// Kind names which stages are active for a file, used both to drive
// the pipeline and to name the destination object suffix (spec.md §6).
type Kind int

const (
	KindNone Kind = iota
	KindGzip
	KindAge
	KindGzipAge
)

// String renders the metadata "transform" field value from spec.md §6.
func (k Kind) String() string {
	switch k {
	case KindGzip:
		return "gzip"
	case KindAge:
		return "age"
	case KindGzipAge:
		return "gzip+age"
	default:
		return "none"
	}
}

// ParseKind parses the metadata "transform" field value.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "none", "":
		return KindNone, nil
	case "gzip":
		return KindGzip, nil
	case "age":
		return KindAge, nil
	case "gzip+age":
		return KindGzipAge, nil
	default:
		return KindNone, fmt.Errorf("unknown transform kind %q", s)
	}
}

// KindFor derives the Kind from the profile's compress/encrypt flags.
func KindFor(compress, encrypt bool) Kind {
	switch {
	case compress && encrypt:
		return KindGzipAge
	case compress:
		return KindGzip
	case encrypt:
		return KindAge
	default:
		return KindNone
	}
}

// Suffix returns the destination object name suffix for a Kind, per
// spec.md §6: none→"", gzip→".gz", age→".age", both→".gz.age".
func (k Kind) Suffix() string {
	switch k {
	case KindGzip:
		return ".gz"
	case KindAge:
		return ".age"
	case KindGzipAge:
		return ".gz.age"
	default:
		return ""
	}
}

// ObjectName joins a relative path with the Kind's suffix.
func (k Kind) ObjectName(relativePath string) string {
	return relativePath + k.Suffix()
}

// GzipLevel is the default compression level spec.md §4.4 specifies.
const GzipLevel = gzip.DefaultCompression

// Pipeline applies the forward (write) and inverse (read) transforms
// for a given Kind and passphrase. Both directions stream: memory use
// is bounded independent of file size, per spec.md's design notes.
type Pipeline struct {
	Kind       Kind
	Passphrase string // only consulted when Kind includes age
}

// Forward wraps w so that bytes written to the returned writer are
// transformed (compress then encrypt, per spec.md §4.4 ordering) and
// written to w. The caller must Close the returned writer to flush and
// finalize trailers (gzip footer, age MAC).
func (p Pipeline) Forward(w io.Writer) (io.WriteCloser, error) {
	switch p.Kind {
	case KindNone:
		return nopWriteCloser{w}, nil
	case KindGzip:
		return newZeroedGzipWriter(w), nil
	case KindAge:
		return p.ageWriter(w)
	case KindGzipAge:
		encW, err := p.ageWriter(w)
		if err != nil {
			return nil, err
		}
		gz := newZeroedGzipWriter(encW)
		return chainedWriteCloser{WriteCloser: gz, closeAfter: encW}, nil
	default:
		return nil, cuberr.Wrap(cuberr.KindTransform, "unknown transform kind %v", p.Kind)
	}
}

// Inverse wraps r so that reads from the returned reader yield
// plaintext bytes (decrypt then decompress, the mirror of Forward's
// compress-then-encrypt order).
func (p Pipeline) Inverse(r io.Reader) (io.Reader, error) {
	switch p.Kind {
	case KindNone:
		return r, nil
	case KindGzip:
		return gzip.NewReader(r)
	case KindAge:
		return p.ageReader(r)
	case KindGzipAge:
		decR, err := p.ageReader(r)
		if err != nil {
			return nil, err
		}
		return gzip.NewReader(decR)
	default:
		return nil, cuberr.Wrap(cuberr.KindTransform, "unknown transform kind %v", p.Kind)
	}
}

func (p Pipeline) ageWriter(w io.Writer) (io.WriteCloser, error) {
	recipient, err := age.NewScryptRecipient(p.Passphrase)
	if err != nil {
		return nil, cuberr.New(cuberr.KindTransform, fmt.Errorf("creating age recipient: %w", err))
	}
	encW, err := age.Encrypt(w, recipient)
	if err != nil {
		return nil, cuberr.New(cuberr.KindTransform, fmt.Errorf("creating age writer: %w", err))
	}
	return encW, nil
}

func (p Pipeline) ageReader(r io.Reader) (io.Reader, error) {
	identity, err := age.NewScryptIdentity(p.Passphrase)
	if err != nil {
		return nil, cuberr.New(cuberr.KindTransform, fmt.Errorf("creating age identity: %w", err))
	}
	decR, err := age.Decrypt(r, identity)
	if err != nil {
		return nil, cuberr.New(cuberr.KindTransform, fmt.Errorf("decrypting age stream: %w", err))
	}
	return decR, nil
}

// newZeroedGzipWriter creates a gzip writer whose header timestamp is
// zeroed, so repeated identical plaintext yields byte-equal output per
// spec.md §4.4's determinism requirement.
func newZeroedGzipWriter(w io.Writer) *gzip.Writer {
	gz, _ := gzip.NewWriterLevel(w, GzipLevel)
	gz.ModTime = time.Unix(0, 0)
	return gz
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// chainedWriteCloser closes an inner writer, then a second writer that
// must be finalized only after the inner one (gzip footer must be
// fully written before the age stream is sealed).
type chainedWriteCloser struct {
	io.WriteCloser
	closeAfter io.Closer
}

func (c chainedWriteCloser) Close() error {
	if err := c.WriteCloser.Close(); err != nil {
		return err
	}
	return c.closeAfter.Close()
}

// CopyChunked copies from r to w in fixed-size chunks, checking cancel
// between each chunk — the mechanism spec.md §5 uses to bound
// cancellation latency to one chunk. cancel is polled before each
// chunk; if it returns true, CopyChunked stops and returns
// cuberr.KindCancelled.
func CopyChunked(w io.Writer, r io.Reader, chunkSize int, cancel func() bool) (int64, error) {
	if chunkSize <= 0 {
		chunkSize = 1 << 20
	}
	buf := make([]byte, chunkSize)
	var total int64
	for {
		if cancel != nil && cancel() {
			return total, cuberr.New(cuberr.KindCancelled, fmt.Errorf("transform cancelled after %d bytes", total))
		}
		n, rerr := r.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return total, cuberr.New(cuberr.KindIO, fmt.Errorf("writing chunk: %w", werr))
			}
			total += int64(n)
		}
		if rerr == io.EOF {
			return total, nil
		}
		if rerr != nil {
			return total, cuberr.New(cuberr.KindIO, fmt.Errorf("reading chunk: %w", rerr))
		}
	}
}

// RoundTrip passes plaintext through Forward and then Inverse and
// returns the resulting bytes, used by the transform property tests
// (spec.md §8 invariant 2). It's a convenience for tests, not used by the engine.
func RoundTrip(p Pipeline, plaintext []byte) ([]byte, error) {
	var buf bytes.Buffer
	fw, err := p.Forward(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(plaintext); err != nil {
		return nil, err
	}
	if err := fw.Close(); err != nil {
		return nil, err
	}

	inv, err := p.Inverse(&buf)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(inv)
}
