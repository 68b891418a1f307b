//go:build windows

package session

import "fmt"

// NewPTYBackend is unavailable on Windows; callers fall back to the pipe
// back-end.
func NewPTYBackend() (Backend, error) {
	return nil, fmt.Errorf("pty backend is not supported on windows")
}
