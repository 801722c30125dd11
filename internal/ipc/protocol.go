// Package ipc implements the daemon's local control channel: one JSON request
// and one JSON response per unix socket connection.
package ipc

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ChuLiYu/pomodoro/pkg/types"
)

// Commands understood by the daemon.
const (
	CommandStart  = "start"
	CommandPause  = "pause"
	CommandResume = "resume"
	CommandStop   = "stop"
	CommandStatus = "status"
)

// Response statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrInvalidStatus  = errors.New("invalid response status")
)

// Request is a single control command. Start overrides are flattened into the
// top-level object next to "command".
type Request struct {
	Command string `json:"command"`
	types.StartParams
}

// NewStartRequest builds a start request with the given overrides.
func NewStartRequest(params types.StartParams) Request {
	return Request{Command: CommandStart, StartParams: params}
}

// NewRequest builds a request for a command that takes no parameters.
func NewRequest(command string) Request {
	return Request{Command: command}
}

func validCommand(c string) bool {
	switch c {
	case CommandStart, CommandPause, CommandResume, CommandStop, CommandStatus:
		return true
	}
	return false
}

func (r *Request) UnmarshalJSON(data []byte) error {
	type wire Request
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if !validCommand(w.Command) {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, w.Command)
	}
	*r = Request(w)
	return nil
}

// Response is the daemon's answer to one Request.
type Response struct {
	Status  string        `json:"status"`
	Message string        `json:"message"`
	Data    *ResponseData `json:"data,omitempty"`
}

// ResponseData is the timer snapshot attached to a response.
type ResponseData struct {
	State            *string `json:"state,omitempty"`
	RemainingSeconds *uint32 `json:"remainingSeconds,omitempty"`
	PomodoroCount    *uint32 `json:"pomodoroCount,omitempty"`
	TaskName         *string `json:"taskName,omitempty"`
	Duration         *uint32 `json:"duration,omitempty"`
}

// Success builds a success response.
func Success(message string, data *ResponseData) Response {
	return Response{Status: StatusSuccess, Message: message, Data: data}
}

// Failure builds an error response.
func Failure(message string) Response {
	return Response{Status: StatusError, Message: message}
}

// OK reports whether the daemon accepted the request.
func (r Response) OK() bool { return r.Status == StatusSuccess }

func (r *Response) UnmarshalJSON(data []byte) error {
	type wire Response
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Status != StatusSuccess && w.Status != StatusError {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, w.Status)
	}
	*r = Response(w)
	return nil
}

// DataFromState converts a timer snapshot into response data.
func DataFromState(s types.TimerState) *ResponseData {
	return &ResponseData{
		State:            types.Ptr(s.Phase.String()),
		RemainingSeconds: types.Ptr(s.RemainingSeconds),
		PomodoroCount:    types.Ptr(s.PomodoroCount),
		TaskName:         s.TaskName,
		Duration:         types.Ptr(s.Duration()),
	}
}

// DefaultSocketPath returns ~/.pomodoro/pomodoro.sock.
func DefaultSocketPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".pomodoro", "pomodoro.sock"), nil
}
