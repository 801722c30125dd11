package hooks

import (
	"errors"
	"fmt"
)

// ============================================================================
// Configuration errors
// ============================================================================

var (
	// The hook file does not exist. Callers treat this as "no hooks".
	ErrConfigNotFound = errors.New("hook config not found")

	ErrUnknownEvent   = errors.New("unknown hook event")
	ErrTimeoutRange   = errors.New("hook timeout out of range")
	ErrTooManyHooks   = errors.New("too many hooks for one event")
	ErrRelativeScript = errors.New("script path must be absolute or start with ~/")
	ErrEmptyScript    = errors.New("script path is empty")
)

// ParseError means the hook file exists but is not valid JSON for a Config.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse hook config %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ValidationError reports the first invalid definition in a hook file.
type ValidationError struct {
	Hook   string // hook name, empty for the defaults section
	Field  string
	Detail string
	Err    error
}

func (e *ValidationError) Error() string {
	where := "defaults"
	if e.Hook != "" {
		where = fmt.Sprintf("hook %q", e.Hook)
	}
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s: %v", where, e.Field, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v (%s)", where, e.Field, e.Err, e.Detail)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ============================================================================
// Execution errors
// ============================================================================

var (
	ErrScriptNotAbsolute   = errors.New("script path is not absolute")
	ErrScriptNotFound      = errors.New("script does not exist")
	ErrScriptNotExecutable = errors.New("script is not executable")
	ErrScriptIsDirectory   = errors.New("script is a directory")
	ErrHookTimeout         = errors.New("hook timed out")
)

// ExitError reports a script that ran to completion with a non-zero status.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("script exited with status %d", e.Code)
}
