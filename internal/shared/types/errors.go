package types

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ProviderError is the closed set of error codes exchanged with providers.
type ProviderError int

const (
	CodeOK ProviderError = iota
	CodeFailed
	CodeInUse
	CodeExists
	CodeNotFound
	CodeAccessDenied
	CodeTooManyOpened
	CodeNoMemory
	CodeNoSpace
	CodeNotADirectory
	CodeInvalidOperation
	CodeSecurity
	CodeAbort
	CodeNotAFile
	CodeNotEmpty
	CodeInvalidURL
	CodeIO
)

var codeNames = [...]string{
	CodeOK:               "OK",
	CodeFailed:           "FAILED",
	CodeInUse:            "IN_USE",
	CodeExists:           "EXISTS",
	CodeNotFound:         "NOT_FOUND",
	CodeAccessDenied:     "ACCESS_DENIED",
	CodeTooManyOpened:    "TOO_MANY_OPENED",
	CodeNoMemory:         "NO_MEMORY",
	CodeNoSpace:          "NO_SPACE",
	CodeNotADirectory:    "NOT_A_DIRECTORY",
	CodeInvalidOperation: "INVALID_OPERATION",
	CodeSecurity:         "SECURITY",
	CodeAbort:            "ABORT",
	CodeNotAFile:         "NOT_A_FILE",
	CodeNotEmpty:         "NOT_EMPTY",
	CodeInvalidURL:       "INVALID_URL",
	CodeIO:               "IO",
}

// String returns the wire name of the code
func (c ProviderError) String() string {
	if c < 0 || int(c) >= len(codeNames) {
		return fmt.Sprintf("ProviderError(%d)", int(c))
	}
	return codeNames[c]
}

// Error makes a bare code usable as an error value. Provider-reported
// failures are surfaced to callers in this form.
func (c ProviderError) Error() string {
	return "provider error: " + c.String()
}

// Valid reports whether c belongs to the closed set.
func (c ProviderError) Valid() bool {
	return c >= CodeOK && int(c) < len(codeNames)
}

// MarshalText encodes the code as its wire name.
func (c ProviderError) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("invalid provider error %d", int(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalText decodes a wire name.
func (c *ProviderError) UnmarshalText(text []byte) error {
	parsed, err := ParseProviderError(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseProviderError parses a wire name such as "NOT_FOUND".
func ParseProviderError(name string) (ProviderError, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for code, n := range codeNames {
		if n == upper {
			return ProviderError(code), nil
		}
	}
	return CodeFailed, fmt.Errorf("unknown provider error %q", name)
}

// Error is a bridge-local failure that carries a wire code.
type Error struct {
	Code    ProviderError
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// Is matches either the same sentinel or a bare ProviderError with the same code.
func (e *Error) Is(target error) bool {
	if code, ok := target.(ProviderError); ok {
		return e.Code == code
	}
	return false
}

// NewError creates a coded error.
func NewError(code ProviderError, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Bridge-local rule violations. They are returned synchronously and
// never reach the provider.
var (
	ErrInvalidArgument  = NewError(CodeInvalidOperation, "invalid argument")
	ErrAlreadyMounted   = NewError(CodeExists, "file system already mounted")
	ErrNotMounted       = NewError(CodeNotFound, "file system not mounted")
	ErrReadOnly         = NewError(CodeAccessDenied, "file system is read-only")
	ErrNotWatchable     = NewError(CodeInvalidOperation, "file system does not support watchers")
	ErrTooManyOpened    = NewError(CodeTooManyOpened, "too many opened files")
	ErrHandleNotFound   = NewError(CodeNotFound, "open file handle not found")
	ErrInvalidHandle    = NewError(CodeInvalidOperation, "open file handle is not usable")
	ErrWrongMode        = NewError(CodeInvalidOperation, "file not opened for this mode")
	ErrWatcherExists    = NewError(CodeExists, "watcher already exists")
	ErrWatcherNotFound  = NewError(CodeNotFound, "watcher not found")
	ErrMissingTag       = NewError(CodeInvalidOperation, "notify tag required")
	ErrRequestNotFound  = NewError(CodeNotFound, "request not found")
	ErrAlreadyResolved  = NewError(CodeInvalidOperation, "request already resolved")
	ErrNoProvider       = NewError(CodeFailed, "no provider attached")
	ErrProviderAttached = NewError(CodeInUse, "a provider is already attached")
	ErrUnexpectedReply  = NewError(CodeInvalidOperation, "reply payload does not match operation")
	ErrProviderDegraded = NewError(CodeFailed, "provider delivery suspended")
)

// CodeOf maps any error to the closed wire enum.
func CodeOf(err error) ProviderError {
	if err == nil {
		return CodeOK
	}

	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}

	var code ProviderError
	if errors.As(err, &code) {
		return code
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeAbort
	}

	return CodeFailed
}
