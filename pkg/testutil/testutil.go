package testutil

import (
	"runtime"
	"testing"
	"time"
)

// FatalStack helps to fatal the test and print out the stacks of all running goroutines.
//
// (etcd pkg.testutil.FatalStack)
func FatalStack(t *testing.T, s string) {
	stackTrace := make([]byte, 8*1024)
	n := runtime.Stack(stackTrace, true)
	t.Error(string(stackTrace[:n]))
	t.Fatalf(s)
}

// WaitSchedule polls cond at interval until it returns true or until
// timeout elapses, returning whether cond was ever observed true.
// Tests that assert on a background goroutine's eventual effect (a
// dispatched message landing, a view change completing) poll through
// this instead of a fixed sleep, since the exact tick on which the
// effect lands is not itself under test.
//
// (etcd pkg.testutil.WaitSchedule, generalized from a fixed settle
// delay to a polled condition)
func WaitSchedule(timeout, interval time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(interval)
	}
}
