package testutil

import "time"

// TestingT is the subset of testing.TB used by the helpers.
type TestingT interface {
	Helper()
	Errorf(format string, args ...any)
}

// WaitFor polls condition every 5ms until it holds or timeout elapses.
func WaitFor(t TestingT, condition func() bool, timeout time.Duration, msgAndArgs ...any) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if condition() {
			return true
		}
		if time.Now().After(deadline) {
			t.Errorf("timeout after %v waiting for condition: %v", timeout, msgAndArgs)
			return false
		}
		time.Sleep(5 * time.Millisecond)
	}
}
