package localdir

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"syscall"

	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/shared/types"
)

var (
	errOutsideRoot     = types.NewError(types.CodeSecurity, "path escapes the mount root")
	errIgnored         = types.NewError(types.CodeAccessDenied, "entry is ignored")
	errRootEntry       = types.NewError(types.CodeInvalidOperation, "operation not allowed on the root entry")
	errNotADirectory   = types.NewError(types.CodeNotADirectory, "entry is not a directory")
	errNotAFile        = types.NewError(types.CodeNotAFile, "entry is not a file")
	errExists          = types.NewError(types.CodeExists, "entry already exists")
	errInsideSource    = types.NewError(types.CodeInvalidOperation, "target is inside the source")
	errHandleNotFound  = types.NewError(types.CodeNotFound, "file is not open")
	errUnknownAction   = types.NewError(types.CodeInvalidOperation, "unknown action")
	errNotConfigurable = types.NewError(types.CodeInvalidOperation, "file system has no settings")
	errNothingToMount  = types.NewError(types.CodeNotFound, "every declared root is mounted")
	errReadOnly        = types.NewError(types.CodeAccessDenied, "file system is read-only")
	errUnknownMount    = types.NewError(types.CodeNotFound, "file system is not served here")

	// ErrClosed is returned by Deliver after Close
	ErrClosed = types.NewError(types.CodeFailed, "provider closed")
)

// codeFor maps host file system errors to wire codes
func codeFor(err error) types.ProviderError {
	var coded *types.Error
	if errors.As(err, &coded) {
		return coded.Code
	}

	// ENOTEMPTY also matches fs.ErrExist, so it goes first
	switch {
	case errors.Is(err, syscall.ENOTEMPTY):
		return types.CodeNotEmpty
	case errors.Is(err, fs.ErrNotExist):
		return types.CodeNotFound
	case errors.Is(err, fs.ErrExist):
		return types.CodeExists
	case errors.Is(err, fs.ErrPermission):
		return types.CodeAccessDenied
	case errors.Is(err, syscall.ENOTDIR):
		return types.CodeNotADirectory
	case errors.Is(err, syscall.EISDIR):
		return types.CodeNotAFile
	case errors.Is(err, syscall.ENOSPC):
		return types.CodeNoSpace
	case errors.Is(err, syscall.EMFILE), errors.Is(err, syscall.ENFILE):
		return types.CodeTooManyOpened
	case errors.Is(err, syscall.ENOMEM):
		return types.CodeNoMemory
	case errors.Is(err, syscall.EBUSY):
		return types.CodeInUse
	}

	var pathErr *fs.PathError
	var linkErr *os.LinkError
	if errors.As(err, &pathErr) || errors.As(err, &linkErr) {
		if errors.Is(err, context.Canceled) {
			return types.CodeAbort
		}
		return types.CodeIO
	}
	return types.CodeOf(err)
}
