package recording

import (
	"bytes"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rewindlabs/rewind/internal/assert"
)

func TestSaveOpenRoundTrip(t *testing.T) {
	for _, compression := range []Compression{Uncompressed, Snappy, Zstd} {
		t.Run(compression.String(), func(t *testing.T) {
			rec := NewRecording(compression)
			rec.Stream(1).WriteScalar(42)
			rec.Stream(1).WriteBytes(bytes.Repeat([]byte("event data "), 1000))
			rec.Stream(7).WriteScalar32(7)

			b := new(bytes.Buffer)
			assert.OK(t, rec.Save(b))

			replay, err := OpenRecording(b)
			assert.OK(t, err)
			assert.Equal(t, replay.Mode(), Replay)

			if diff := cmp.Diff(rec.Header(), replay.Header()); diff != "" {
				t.Fatalf("header mismatch (-want +got):\n%s", diff)
			}

			assert.Equal(t, replay.Stream(1).ReadScalar(), 42)
			data := make([]byte, 11*1000)
			replay.Stream(1).ReadBytes(data)
			assert.EqualAll(t, data[:11], []byte("event data "))
			assert.True(t, replay.Stream(1).AtEnd())
			assert.Equal(t, replay.Stream(7).ReadScalar32(), 7)
			assert.True(t, replay.Stream(2).AtEnd())
		})
	}
}

func TestOpenRecordingBadMagic(t *testing.T) {
	b := new(bytes.Buffer)
	w := NewWriter(b)
	assert.OK(t, w.WriteHeader(&Header{}))
	raw := b.Bytes()
	raw[4] = 'X'

	_, err := OpenRecording(bytes.NewReader(raw))
	assert.Error(t, err, errBadMagic)
}

func TestOpenRecordingTruncated(t *testing.T) {
	rec := NewRecording(Uncompressed)
	rec.Stream(1).WriteScalar(1)

	b := new(bytes.Buffer)
	assert.OK(t, rec.Save(b))
	raw := b.Bytes()

	_, err := OpenRecording(bytes.NewReader(raw[:len(raw)-3]))
	assert.Error(t, err, io.ErrUnexpectedEOF)
}

func TestOpenRecordingEmptyInput(t *testing.T) {
	_, err := OpenRecording(bytes.NewReader(nil))
	assert.Error(t, err, io.ErrUnexpectedEOF)
}
