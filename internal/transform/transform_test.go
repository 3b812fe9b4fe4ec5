package transform

import (
	"bytes"
	"compress/gzip"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zarniwp/cuba/internal/cuberr"
)

func TestKindForMapsFlagsToKind(t *testing.T) {
	assert.Equal(t, KindNone, KindFor(false, false))
	assert.Equal(t, KindGzip, KindFor(true, false))
	assert.Equal(t, KindAge, KindFor(false, true))
	assert.Equal(t, KindGzipAge, KindFor(true, true))
}

func TestSuffixAndObjectName(t *testing.T) {
	assert.Equal(t, "", KindNone.Suffix())
	assert.Equal(t, ".gz", KindGzip.Suffix())
	assert.Equal(t, ".age", KindAge.Suffix())
	assert.Equal(t, ".gz.age", KindGzipAge.Suffix())
	assert.Equal(t, "docs/report.txt.gz.age", KindGzipAge.ObjectName("docs/report.txt"))
}

func TestParseKindRoundTrip(t *testing.T) {
	for _, k := range []Kind{KindNone, KindGzip, KindAge, KindGzipAge} {
		parsed, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}
}

func TestParseKindRejectsUnknown(t *testing.T) {
	_, err := ParseKind("rot13")
	assert.Error(t, err)
}

func TestRoundTripNone(t *testing.T) {
	plaintext := []byte("plain bytes, no transform")
	got, err := RoundTrip(Pipeline{Kind: KindNone}, plaintext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestRoundTripGzip(t *testing.T) {
	plaintext := bytes.Repeat([]byte("compress me "), 500)
	got, err := RoundTrip(Pipeline{Kind: KindGzip}, plaintext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestRoundTripAge(t *testing.T) {
	plaintext := []byte("secret contents")
	p := Pipeline{Kind: KindAge, Passphrase: "correct horse battery staple"}
	got, err := RoundTrip(p, plaintext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestRoundTripGzipAge(t *testing.T) {
	plaintext := bytes.Repeat([]byte("compress then encrypt "), 200)
	p := Pipeline{Kind: KindGzipAge, Passphrase: "hunter2"}
	got, err := RoundTrip(p, plaintext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestAgeDecryptFailsWithWrongPassphrase(t *testing.T) {
	var buf bytes.Buffer
	p := Pipeline{Kind: KindAge, Passphrase: "right"}
	fw, err := p.Forward(&buf)
	require.NoError(t, err)
	_, err = fw.Write([]byte("top secret"))
	require.NoError(t, err)
	require.NoError(t, fw.Close())

	wrong := Pipeline{Kind: KindAge, Passphrase: "wrong"}
	_, err = wrong.Inverse(&buf)
	require.Error(t, err)
	assert.Equal(t, cuberr.KindTransform, cuberr.KindOf(err))
}

func TestGzipOutputIsDeterministic(t *testing.T) {
	plaintext := []byte("deterministic output please")

	compressOnce := func() []byte {
		var buf bytes.Buffer
		w := newZeroedGzipWriter(&buf)
		_, err := w.Write(plaintext)
		require.NoError(t, err)
		require.NoError(t, w.Close())
		return buf.Bytes()
	}

	first := compressOnce()
	second := compressOnce()
	assert.Equal(t, first, second, "identical plaintext must gzip to identical bytes")

	r, err := gzip.NewReader(bytes.NewReader(first))
	require.NoError(t, err)
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, plaintext, out)
}

func TestCopyChunkedCopiesAllBytes(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 10_000)
	var dst bytes.Buffer

	n, err := CopyChunked(&dst, bytes.NewReader(data), 1024, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), n)
	assert.Equal(t, data, dst.Bytes())
}

func TestCopyChunkedHonorsCancel(t *testing.T) {
	data := bytes.Repeat([]byte("y"), 10_000)
	var dst bytes.Buffer
	calls := 0

	_, err := CopyChunked(&dst, bytes.NewReader(data), 100, func() bool {
		calls++
		return calls > 2
	})
	require.Error(t, err)
	assert.Less(t, dst.Len(), len(data))
}
