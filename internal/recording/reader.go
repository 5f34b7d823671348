package recording

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rewindlabs/rewind/internal/buffer"
)

var (
	errBadMagic      = errors.New("not a recording (bad magic)")
	errBadVersion    = errors.New("unsupported recording format version")
	errBadThreadID   = errors.New("recording stream frame has an invalid thread id")
	errTruncatedSave = errors.New("recording frame is truncated")
)

// Reader reads the durable form of a recording from an io.Reader.
type Reader struct {
	input       *bufio.Reader
	compression Compression
}

// NewReader constructs a reader consuming input from the given io.Reader.
func NewReader(input io.Reader) *Reader {
	return &Reader{input: bufio.NewReaderSize(input, 64*1024)}
}

// ReadHeader reads and validates the header frame. It must be called once,
// before any call to ReadStream.
func (r *Reader) ReadHeader() (*Header, error) {
	f, err := r.readFrame()
	if err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("reading recording header: %w", io.ErrUnexpectedEOF)
		}
		return nil, err
	}
	defer frameBufferPool.Put(f)

	b := f.Data[4:]
	if len(b) < headerFrameSize {
		return nil, errTruncatedSave
	}
	if binary.LittleEndian.Uint32(b[0:]) != headerMagic {
		return nil, errBadMagic
	}
	if v := binary.LittleEndian.Uint32(b[4:]); v != formatVersion {
		return nil, fmt.Errorf("%w: %d", errBadVersion, v)
	}
	h := &Header{
		StartTime:   time.Unix(0, int64(binary.LittleEndian.Uint64(b[24:]))),
		Compression: Compression(b[32]),
	}
	copy(h.ProcessID[:], b[8:24])
	r.compression = h.Compression
	return h, nil
}

// ReadStream reads the next thread stream frame, returning the thread id and
// the decompressed stream bytes. It returns io.EOF after the last frame.
func (r *Reader) ReadStream() (threadID int, data []byte, err error) {
	f, err := r.readFrame()
	if err != nil {
		return 0, nil, err
	}
	defer frameBufferPool.Put(f)

	b := f.Data[4:]
	if len(b) < 8 {
		return 0, nil, errTruncatedSave
	}
	threadID = int(binary.LittleEndian.Uint32(b[0:]))
	if threadID < 1 || threadID > MaxThreads {
		return 0, nil, fmt.Errorf("%w: %d", errBadThreadID, threadID)
	}
	rawSize := binary.LittleEndian.Uint32(b[4:])
	content := b[8:]

	if r.compression == Uncompressed {
		if int(rawSize) != len(content) {
			return 0, nil, errTruncatedSave
		}
		return threadID, append([]byte(nil), content...), nil
	}
	data, err = decompress(make([]byte, 0, rawSize), content, r.compression)
	if err != nil {
		return 0, nil, fmt.Errorf("decompressing thread %d stream: %w", threadID, err)
	}
	if len(data) != int(rawSize) {
		return 0, nil, errTruncatedSave
	}
	return threadID, data, nil
}

func (r *Reader) readFrame() (*buffer.Buffer, error) {
	f := frameBufferPool.Get(buffer.DefaultSize)

	n, err := io.ReadFull(r.input, f.Data[:4])
	if n < 4 {
		frameBufferPool.Put(f)
		if err == io.EOF && n == 0 {
			return nil, err
		}
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("reading recording frame: %w", err)
	}

	frameSize := binary.LittleEndian.Uint32(f.Data[:4])
	if frameSize > maxFrameSize {
		frameBufferPool.Put(f)
		return nil, fmt.Errorf("recording frame is too large (%d>%d)", frameSize, maxFrameSize)
	}

	byteLength := int(4 + frameSize)
	if cap(f.Data) >= byteLength {
		f.Data = f.Data[:byteLength]
	} else {
		defer frameBufferPool.Put(f)
		newFrame := buffer.New(byteLength)
		copy(newFrame.Data, f.Data[:4])
		f = newFrame
	}

	if _, err := io.ReadFull(r.input, f.Data[4:byteLength]); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		frameBufferPool.Put(f)
		return nil, fmt.Errorf("reading %dB recording frame: %w", byteLength, err)
	}
	return f, nil
}

// OpenRecording reads a durable recording and reconstructs it as a
// replay-mode Recording.
func OpenRecording(input io.Reader) (*Recording, error) {
	r := NewReader(input)
	h, err := r.ReadHeader()
	if err != nil {
		return nil, err
	}
	rec := NewReplay(*h)
	for {
		threadID, data, err := r.ReadStream()
		if err == io.EOF {
			return rec, nil
		}
		if err != nil {
			return nil, err
		}
		rec.Stream(threadID).append(data)
	}
}
