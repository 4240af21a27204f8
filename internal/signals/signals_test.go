package signals

import (
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIntakeReceivesWatchedSignal(t *testing.T) {
	in := New()
	defer in.Stop()

	assert.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR1))

	select {
	case sig := <-in.C():
		assert.Equal(t, syscall.SIGUSR1, sig)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for SIGUSR1")
	}
}

func TestStopUnregistersDelivery(t *testing.T) {
	// A second Intake keeps SIGUSR2 caught at the process level so sending it
	// cannot fall through to the default (terminating) disposition once the
	// first Intake stops relaying to its own channel.
	guard := New()
	defer guard.Stop()

	in := New()
	in.Stop()

	assert.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR2))

	select {
	case sig := <-in.C():
		t.Fatalf("expected no delivery after Stop, got %v", sig)
	case <-time.After(100 * time.Millisecond):
		// expected: nothing delivered
	}
}
