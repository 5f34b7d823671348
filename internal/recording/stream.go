package recording

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
)

// Stream is the event byte channel of a single recorded thread.
//
// In record mode the owning thread appends scalars and raw bytes; in replay
// mode it consumes them back in the same order. Apart from AppendThreadData
// growing a replayed stream, a stream is only ever touched by its owning
// thread, and only from inside an event access section.
//
// Scalars are encoded little-endian at fixed width so that a replayed stream
// reproduces the recorded byte sequence exactly.
type Stream struct {
	rec      *Recording
	threadID int

	// Guards data against concurrent growth by AppendThreadData.
	mu   sync.Mutex
	data []byte

	offset    int
	processed atomic.Int64

	// Set while the owning thread is inside an event access section.
	inEventSection bool
}

// ThreadID returns the id of the owning thread.
func (s *Stream) ThreadID() int { return s.threadID }

// WriteBytes appends raw bytes to the stream.
func (s *Stream) WriteBytes(data []byte) {
	if s.rec.mode != Record {
		panic(fmt.Sprintf("recording: write to thread %d stream while replaying", s.threadID))
	}
	s.mu.Lock()
	s.data = append(s.data, data...)
	s.mu.Unlock()
	s.processed.Add(int64(len(data)))
}

// WriteScalar appends a 64-bit scalar to the stream.
func (s *Stream) WriteScalar(value uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], value)
	s.WriteBytes(b[:])
}

// WriteScalar32 appends a 32-bit scalar to the stream.
func (s *Stream) WriteScalar32(value uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], value)
	s.WriteBytes(b[:])
}

// ReadBytes fills data with the next bytes of the stream. Reading past the
// end of the stream is a fatal contract violation: callers are expected to
// have checked AtEnd from inside an event access section.
func (s *Stream) ReadBytes(data []byte) {
	if len(data) == 0 {
		return
	}
	if s.rec.mode != Replay {
		panic(fmt.Sprintf("recording: read from thread %d stream while recording", s.threadID))
	}
	s.mu.Lock()
	if s.offset+len(data) > len(s.data) {
		s.mu.Unlock()
		panic(fmt.Sprintf("recording: thread %d read %d bytes past the end of its event stream",
			s.threadID, s.offset+len(data)-len(s.data)))
	}
	copy(data, s.data[s.offset:])
	s.offset += len(data)
	s.mu.Unlock()
	s.processed.Add(int64(len(data)))
}

// ReadScalar consumes a 64-bit scalar from the stream.
func (s *Stream) ReadScalar() uint64 {
	var b [8]byte
	s.ReadBytes(b[:])
	return binary.LittleEndian.Uint64(b[:])
}

// ReadScalar32 consumes a 32-bit scalar from the stream.
func (s *Stream) ReadScalar32() uint32 {
	var b [4]byte
	s.ReadBytes(b[:])
	return binary.LittleEndian.Uint32(b[:])
}

// AtEnd returns whether the stream has no more data to replay.
func (s *Stream) AtEnd() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offset == len(s.data)
}

// BytesConsumed returns the number of bytes written to or read from the
// stream so far.
func (s *Stream) BytesConsumed() int64 {
	return s.processed.Load()
}

// EnterEventSection marks the stream as being inside an event access
// section. Entering twice without leaving is a fatal logic error.
func (s *Stream) EnterEventSection() {
	if s.inEventSection {
		panic(fmt.Sprintf("recording: thread %d stream is already in an event section", s.threadID))
	}
	s.inEventSection = true
}

// LeaveEventSection clears the event section mark.
func (s *Stream) LeaveEventSection() {
	if !s.inEventSection {
		panic(fmt.Sprintf("recording: thread %d stream is not in an event section", s.threadID))
	}
	s.inEventSection = false
}

func (s *Stream) append(data []byte) {
	s.mu.Lock()
	s.data = append(s.data, data...)
	s.mu.Unlock()
}

// bytes snapshots the stream content for Save. The caller must hold the
// stream lock exclusively.
func (s *Stream) bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data
}
