package recording

import (
	"time"

	"github.com/google/uuid"
)

// Header identifies a recording.
type Header struct {
	// ProcessID is the id of the recorded process.
	ProcessID uuid.UUID

	// StartTime is the time at which the recording started.
	StartTime time.Time

	// Compression applied to durable stream frames.
	Compression Compression
}
