package rpc

import (
	"errors"
	"fmt"
)

var (
	// ErrNotRunning is returned when a command is attempted with no live
	// child process. No bytes are written.
	ErrNotRunning = errors.New("agent not running")

	// ErrAlreadyRunning is returned by Start on a running transport.
	ErrAlreadyRunning = errors.New("agent already running")

	// ErrEncode wraps command serialization failures.
	ErrEncode = errors.New("encode command")

	// ErrTimeout is returned when no response arrives within the wait bound.
	ErrTimeout = errors.New("command timed out")

	// ErrProcessExited fails waiters whose child process terminated.
	ErrProcessExited = errors.New("agent process exited")
)

// CommandError is a failure reported by the agent in a response frame.
type CommandError struct {
	Command string
	Message string
}

func (e *CommandError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s failed", e.Command)
	}
	return fmt.Sprintf("%s failed: %s", e.Command, e.Message)
}

// ExtensionError is a failure inside an agent extension. The agent keeps
// running.
type ExtensionError struct {
	Path    string
	Event   string
	Message string
}

func (e *ExtensionError) Error() string {
	return fmt.Sprintf("extension %s (%s): %s", e.Path, e.Event, e.Message)
}
