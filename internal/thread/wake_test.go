package thread

import (
	"sync"
	"testing"
	"time"

	"github.com/rewindlabs/rewind/internal/assert"
)

func TestWakeChannelNotifyBeforeWait(t *testing.T) {
	w, err := newWakeChannel()
	assert.OK(t, err)
	defer w.close()

	w.notify()
	done := make(chan struct{})
	go func() {
		w.wait()
		close(done)
	}()
	waitOn(t, done)
}

func TestWakeChannelSingleCredit(t *testing.T) {
	w, err := newWakeChannel()
	assert.OK(t, err)
	defer w.close()

	w.notify()
	w.notify()
	w.notify()

	first := make(chan struct{})
	second := make(chan struct{})
	go func() {
		w.wait()
		close(first)
		w.wait()
		close(second)
	}()
	waitOn(t, first)

	select {
	case <-second:
		t.Fatal("second wait returned on a single credit")
	case <-time.After(100 * time.Millisecond):
	}
	w.notify()
	waitOn(t, second)
}

// A notification landing while the owner is waking from a previous wait must
// either merge with a still-unconsumed credit or post a fresh one; it can
// never vanish. Losing one stalls the ping-pong below.
func TestWakeChannelNotifyWhileWakingKeepsCredit(t *testing.T) {
	w, err := newWakeChannel()
	assert.OK(t, err)

	const rounds = 10000
	acks := make(chan struct{})
	go func() {
		for i := 0; i < rounds; i++ {
			w.wait()
			acks <- struct{}{}
		}
	}()

	var interferer sync.WaitGroup
	interferer.Add(1)
	go func() {
		defer interferer.Done()
		for i := 0; i < rounds; i++ {
			w.notify()
		}
	}()

	deadline := time.After(10 * time.Second)
	for i := 0; i < rounds; i++ {
		w.notify()
		select {
		case <-acks:
		case <-deadline:
			t.Fatalf("wake credit lost after %d rounds", i)
		}
	}
	interferer.Wait()
	w.close()
}

func TestWakeChannelUnblocksWaiter(t *testing.T) {
	w, err := newWakeChannel()
	assert.OK(t, err)
	defer w.close()

	done := make(chan struct{})
	go func() {
		w.wait()
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	w.notify()
	waitOn(t, done)
}
