package plasmite

import (
	"errors"
	"fmt"
)

// ErrorKind identifies the failure class reported by the boundary.
// Values match plsm_error_kind_t in the C ABI and are stable.
type ErrorKind int32

const (
	ErrorInternal      ErrorKind = 1
	ErrorUsage         ErrorKind = 2
	ErrorNotFound      ErrorKind = 3
	ErrorAlreadyExists ErrorKind = 4
	ErrorBusy          ErrorKind = 5
	ErrorPermission    ErrorKind = 6
	ErrorCorrupt       ErrorKind = 7
	ErrorIO            ErrorKind = 8
)

// String returns the stable label used in conformance manifests.
func (k ErrorKind) String() string {
	switch k {
	case ErrorInternal:
		return "Internal"
	case ErrorUsage:
		return "Usage"
	case ErrorNotFound:
		return "NotFound"
	case ErrorAlreadyExists:
		return "AlreadyExists"
	case ErrorBusy:
		return "Busy"
	case ErrorPermission:
		return "Permission"
	case ErrorCorrupt:
		return "Corrupt"
	case ErrorIO:
		return "Io"
	default:
		return "Internal"
	}
}

// KindFromLabel maps a manifest label back to its kind. Unknown labels
// coerce to ErrorInternal, mirroring how unknown boundary codes are
// handled.
func KindFromLabel(label string) ErrorKind {
	switch label {
	case "Usage":
		return ErrorUsage
	case "NotFound":
		return ErrorNotFound
	case "AlreadyExists":
		return ErrorAlreadyExists
	case "Busy":
		return ErrorBusy
	case "Permission":
		return ErrorPermission
	case "Corrupt":
		return ErrorCorrupt
	case "Io":
		return ErrorIO
	default:
		return ErrorInternal
	}
}

func defaultMessage(k ErrorKind) string {
	switch k {
	case ErrorUsage:
		return "usage error"
	case ErrorNotFound:
		return "not found"
	case ErrorAlreadyExists:
		return "already exists"
	case ErrorBusy:
		return "busy"
	case ErrorPermission:
		return "permission denied"
	case ErrorCorrupt:
		return "corrupt"
	case ErrorIO:
		return "io error"
	default:
		return "internal error"
	}
}

// Error is a typed failure attributable to the boundary or to a
// storage-adjacent filesystem operation. Seq and Offset are pointers so
// that presence survives independently of value; conformance checks
// assert on presence alone.
type Error struct {
	Kind    ErrorKind
	Message string
	Path    string
	Seq     *uint64
	Offset  *uint64
}

func (e *Error) Error() string {
	if e == nil {
		return "plasmite: <nil error>"
	}
	if e.Path != "" {
		return fmt.Sprintf("plasmite: %s (%s)", e.Message, e.Path)
	}
	return fmt.Sprintf("plasmite: %s", e.Message)
}

// NewError normalizes a raw boundary error record: kinds outside the
// fixed taxonomy coerce to Internal and empty messages are replaced
// with the per-kind default.
func NewError(kind int32, message, path string, seq, offset *uint64) *Error {
	k := ErrorKind(kind)
	if k < ErrorInternal || k > ErrorIO {
		k = ErrorInternal
	}
	if message == "" {
		message = defaultMessage(k)
	}
	return &Error{Kind: k, Message: message, Path: path, Seq: seq, Offset: offset}
}

// ErrInvalidArgument marks local validation failures caught before the
// boundary is crossed. These never carry an ErrorKind, so callers can
// tell a bad argument apart from a typed boundary failure.
var ErrInvalidArgument = errors.New("plasmite: invalid argument")

// InvalidArgumentError wraps ErrInvalidArgument with a description of
// the rejected argument.
func InvalidArgumentError(message string) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, message)
}

// ClosedError reports an operation attempted after release. Misuse of a
// released handle is a Usage failure, matching the reference bindings.
func ClosedError(target string) *Error {
	return &Error{Kind: ErrorUsage, Message: target + " is closed"}
}
