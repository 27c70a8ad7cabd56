package errors

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyCorpus       = errors.New("corpus is empty")
	ErrCorpusUnavailable = errors.New("corpus source unavailable")
	ErrVectorStore       = errors.New("vector store error")
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrTimeout           = errors.New("operation timed out")
)

// Exit codes returned by the CLI.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitConfig      = 2
	ExitUnavailable = 3
)

type AppError struct {
	Err     error
	Message string
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, message string) *AppError {
	return &AppError{
		Err:     sentinel,
		Message: message,
	}
}

func Newf(sentinel error, format string, args ...any) *AppError {
	return &AppError{
		Err:     sentinel,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap tags err with sentinel while keeping err itself reachable through
// errors.Is and errors.As.
func Wrap(sentinel error, err error, message string) error {
	return fmt.Errorf("%w: %s: %w", sentinel, message, err)
}

func ExitCode(err error) int {
	switch {
	case err == nil, errors.Is(err, ErrEmptyCorpus):
		return ExitOK
	case errors.Is(err, ErrInvalidConfig):
		return ExitConfig
	case errors.Is(err, ErrCorpusUnavailable), errors.Is(err, ErrTimeout):
		return ExitUnavailable
	default:
		return ExitFailure
	}
}
