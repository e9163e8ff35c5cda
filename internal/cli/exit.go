package cli

import "fmt"

// ExitVerdict is the exit code when an analyzed URL reaches the --fail-on
// verdict. Other failures exit 1.
const ExitVerdict = 2

// ExitError carries a process exit code out of a command. main prints
// the message, if any, to stderr.
type ExitError struct {
	code    int
	message string
}

func exitWith(code int, format string, args ...any) *ExitError {
	msg := ""
	if format != "" {
		msg = fmt.Sprintf(format, args...)
	}
	return &ExitError{code: code, message: msg}
}

func (e *ExitError) Error() string {
	switch {
	case e == nil:
		return ""
	case e.message != "":
		return e.message
	default:
		return fmt.Sprintf("exit status %d", e.code)
	}
}

// Code returns the exit code; a nil error maps to 1.
func (e *ExitError) Code() int {
	if e == nil {
		return 1
	}
	return e.code
}

func (e *ExitError) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}
