package recording

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/rewindlabs/rewind/internal/buffer"
)

// Durable recordings are a sequence of little-endian size-prefixed frames:
// one header frame followed by one frame per non-empty thread stream, each
// stream payload compressed according to the header.
const (
	headerMagic   = 0x444e5752 // "RWND"
	formatVersion = 1

	headerFrameSize = 4 + 4 + 16 + 8 + 1

	maxFrameSize = (16 * 1024 * 1024) - 4
)

var frameBufferPool buffer.Pool

// Writer writes the durable form of a recording to an io.Writer.
type Writer struct {
	output      io.Writer
	compression Compression
	// When writing to the underlying io.Writer causes an error, we stop
	// accepting writes and assume the output is corrupted.
	stickyErr error
}

// NewWriter constructs a writer producing output to the given io.Writer.
func NewWriter(output io.Writer) *Writer {
	return &Writer{output: output}
}

// WriteHeader writes the header frame. It must be called once, before any
// stream frame.
func (w *Writer) WriteHeader(h *Header) error {
	if w.stickyErr != nil {
		return w.stickyErr
	}
	f := frameBufferPool.Get(4 + headerFrameSize)
	defer frameBufferPool.Put(f)

	b := f.Data
	binary.LittleEndian.PutUint32(b[0:], headerFrameSize)
	binary.LittleEndian.PutUint32(b[4:], headerMagic)
	binary.LittleEndian.PutUint32(b[8:], formatVersion)
	copy(b[12:28], h.ProcessID[:])
	binary.LittleEndian.PutUint64(b[28:], uint64(h.StartTime.UnixNano()))
	b[36] = byte(h.Compression)

	w.compression = h.Compression
	return w.write(b)
}

// WriteStream writes one thread stream frame, compressing the payload with
// the compression declared in the header.
func (w *Writer) WriteStream(threadID int, data []byte) error {
	if w.stickyErr != nil {
		return w.stickyErr
	}
	f := frameBufferPool.Get(4 + 8 + len(data))
	defer frameBufferPool.Put(f)

	content := compress(f.Data[12:12], data, w.compression)
	frameSize := 8 + len(content)
	if frameSize > maxFrameSize {
		return fmt.Errorf("thread %d stream frame is too large (%d>%d)", threadID, frameSize, maxFrameSize)
	}

	b := f.Data[:12]
	binary.LittleEndian.PutUint32(b[0:], uint32(frameSize))
	binary.LittleEndian.PutUint32(b[4:], uint32(threadID))
	binary.LittleEndian.PutUint32(b[8:], uint32(len(data)))
	if err := w.write(b); err != nil {
		return err
	}
	return w.write(content)
}

func (w *Writer) write(b []byte) error {
	if _, err := w.output.Write(b); err != nil {
		w.stickyErr = err
		return err
	}
	return nil
}

// Save writes the durable form of the recording. It takes the stream lock
// exclusively so that frames are cut only at event section boundaries.
func (r *Recording) Save(w io.Writer) error {
	r.streamLock.Lock()
	defer r.streamLock.Unlock()

	wr := NewWriter(w)
	if err := wr.WriteHeader(&r.header); err != nil {
		return fmt.Errorf("writing recording header: %w", err)
	}
	for id := 1; id <= MaxThreads; id++ {
		data := r.streams[id].bytes()
		if len(data) == 0 {
			continue
		}
		if err := wr.WriteStream(id, data); err != nil {
			return fmt.Errorf("writing thread %d stream: %w", id, err)
		}
	}
	return nil
}
