// Package rewind drives deterministic record and replay of a multithreaded
// process. A Session couples a recording with the thread engine: threads
// write the nondeterministic inputs they observe to per-thread event streams
// while recording, and consume the same byte streams while replaying.
//
// The calling goroutine of NewSession or OpenSession becomes the process
// main thread and is the only one allowed to drive checkpoints.
package rewind

import (
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rewindlabs/rewind/internal/recording"
	"github.com/rewindlabs/rewind/internal/thread"
)

// Session is a record- or replay-mode execution of a process.
type Session struct {
	rec   *recording.Recording
	group errgroup.Group
}

// NewSession creates a record-mode session: it builds an empty recording,
// initializes the thread registry with the caller as main thread, and spawns
// the pool of recorded threads. A nil config selects defaults.
func NewSession(config *Config) (*Session, error) {
	if config == nil {
		config = DefaultConfig()
	}
	compression, err := recording.ParseCompression(config.Compression)
	if err != nil {
		return nil, err
	}
	return newSession(recording.NewRecording(compression), config)
}

// OpenSession creates a replay-mode session consuming a saved recording.
func OpenSession(config *Config, input io.Reader) (*Session, error) {
	if config == nil {
		config = DefaultConfig()
	}
	rec, err := recording.OpenRecording(input)
	if err != nil {
		return nil, err
	}
	return newSession(rec, config)
}

func newSession(rec *recording.Recording, config *Config) (*Session, error) {
	opts := thread.Options{
		StallReportInterval: time.Duration(config.StallReportInterval),
	}
	if poll := time.Duration(config.DataPollInterval); poll > 0 {
		opts.EndOfRecording = func() { rec.WaitForData(poll) }
	}
	if err := thread.Initialize(rec, opts); err != nil {
		return nil, err
	}
	thread.SpawnAll()
	return &Session{rec: rec}, nil
}

// Recording returns the session's recording.
func (s *Session) Recording() *recording.Recording { return s.rec }

// Checkpoint brings every recorded thread to the idle state, has them
// release the locks they own, and invokes fork, which must clone the process
// using only the calling thread (the fork collaborator is external, normally
// a fork system call). The parent reacquires locks and resumes its threads;
// a child respawns the OS threads lost to the fork first, with each Thread
// record keeping its logical state.
//
// Checkpoint returns fork's child report. It may only be called on the main
// thread.
func (s *Session) Checkpoint(fork func() (child bool, err error)) (bool, error) {
	thread.WaitForIdleThreads()
	thread.OperateOnIdleThreadLocks(thread.NeedRelease)

	child, err := fork()
	if err != nil {
		thread.OperateOnIdleThreadLocks(thread.NeedAcquire)
		thread.ResumeIdleThreads()
		return false, fmt.Errorf("checkpoint: %w", err)
	}
	if child {
		thread.RespawnAllAfterFork()
	}
	thread.OperateOnIdleThreadLocks(thread.NeedAcquire)
	thread.ResumeIdleThreads()
	return child, nil
}

// Go runs fn on an auxiliary, unrecorded thread. Auxiliary threads pass
// through events and never participate in checkpoints; they serve the
// machinery around the recorded process rather than the process itself.
func (s *Session) Go(fn func() error) {
	errs := make(chan error, 1)
	if err := thread.SpawnNonRecorded(func(any) { errs <- fn() }, nil); err != nil {
		errs <- err
	}
	s.group.Go(func() error { return <-errs })
}

// Wait blocks until all auxiliary threads started with Go have returned and
// reports their first error.
func (s *Session) Wait() error {
	return s.group.Wait()
}

// Save writes the recording in its durable form. It takes the stream lock
// exclusively, so frames are only cut at event section boundaries.
func (s *Session) Save(w io.Writer) error {
	return s.rec.Save(w)
}
