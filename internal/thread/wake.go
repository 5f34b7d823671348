package thread

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// wakeChannel is the per-thread one-shot wake signal. It is backed by a pipe
// rather than an in-process condition variable so that a thread idling
// across a fork can be woken in the child through the inherited descriptors.
//
// Notifications carry a single credit: notifying a thread which already has
// an unconsumed credit is a no-op, and a credit posted while no wait is in
// flight satisfies the next wait immediately.
type wakeChannel struct {
	idlefd   int
	notifyfd int

	// Unconsumed credits minus in-flight waits: -1 while the owner is
	// blocked with no credit, never above 1 so that notifications with no
	// intervening wait merge. Each increment is paired with exactly one
	// byte written to the pipe, and each wait decrements before consuming
	// its byte, so a notification can never mistake an already-consumed
	// credit for an outstanding one.
	credit atomic.Int32
}

func newWakeChannel() (*wakeChannel, error) {
	var fds [2]int
	if err := pipe(&fds); err != nil {
		return nil, fmt.Errorf("creating thread wake channel: %w", err)
	}
	return &wakeChannel{idlefd: fds[0], notifyfd: fds[1]}, nil
}

// notify posts the wake credit. It never blocks and always succeeds.
func (w *wakeChannel) notify() {
	for {
		c := w.credit.Load()
		if c >= 1 {
			return
		}
		if w.credit.CompareAndSwap(c, c+1) {
			break
		}
	}
	b := [1]byte{}
	for {
		if _, err := unix.Write(w.notifyfd, b[:]); err != unix.EINTR {
			if err != nil {
				panic(fmt.Sprintf("thread: wake channel write failed: %v", err))
			}
			return
		}
	}
}

// wait blocks until a credit is posted and consumes it.
func (w *wakeChannel) wait() {
	w.credit.Add(-1)
	var b [1]byte
	for {
		n, err := unix.Read(w.idlefd, b[:])
		if err == unix.EINTR {
			continue
		}
		if err != nil || n != 1 {
			panic(fmt.Sprintf("thread: wake channel read failed: n=%d err=%v", n, err))
		}
		return
	}
}

func (w *wakeChannel) close() {
	unix.Close(w.idlefd)
	unix.Close(w.notifyfd)
}
