package gadget

import (
	"errors"
	"fmt"
	"strings"

	"github.com/olinky/olinkyd/internal/rootshell"
	"github.com/olinky/olinkyd/internal/shellplan"
)

// Exit codes of the generated apply scripts.
const (
	ExitConfigFSUnavailable = 1
	ExitImageNotFound       = 2
	ExitImageUnreadable     = 3
	ExitNoUDC               = 4
	ExitNoFunction          = 5
)

// Kind classifies a gadget failure.
type Kind int

const (
	KindUnknown Kind = iota
	// KindExecutor means the privileged shell could not run the script.
	KindExecutor
	KindRootUnavailable
	KindConfigFSUnavailable
	KindImageNotFound
	KindImageUnreadable
	KindUDCNotFound
	KindFunctionUnavailable
	// KindVerification means every write succeeded but the gadget did not
	// end up bound.
	KindVerification
	// KindPermission means the kernel refused a configfs write, usually
	// because the SELinux helper is not active yet.
	KindPermission
	// KindNetwork means the gadget is up but its interface could not be
	// configured.
	KindNetwork
	KindInvalid
	// KindScript is any other script failure.
	KindScript
)

var kindNames = map[Kind]string{
	KindUnknown:             "unknown",
	KindExecutor:            "executor",
	KindRootUnavailable:     "root_unavailable",
	KindConfigFSUnavailable: "configfs_unavailable",
	KindImageNotFound:       "image_not_found",
	KindImageUnreadable:     "image_unreadable",
	KindUDCNotFound:         "udc_not_found",
	KindFunctionUnavailable: "function_unavailable",
	KindVerification:        "verification_failed",
	KindPermission:          "permission_denied",
	KindNetwork:             "network",
	KindInvalid:             "invalid",
	KindScript:              "script",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

var exitKinds = map[int]Kind{
	ExitConfigFSUnavailable: KindConfigFSUnavailable,
	ExitImageNotFound:       KindImageNotFound,
	ExitImageUnreadable:     KindImageUnreadable,
	ExitNoUDC:               KindUDCNotFound,
	ExitNoFunction:          KindFunctionUnavailable,
}

// UserMessage is the actionable text shown for a failure kind.
func UserMessage(k Kind) string {
	switch k {
	case KindExecutor:
		return "The root shell did not respond. Check that su is installed and try again."
	case KindRootUnavailable:
		return "Root access is required. Grant superuser access to oLinky and try again."
	case KindConfigFSUnavailable:
		return "This kernel does not expose ConfigFS USB gadgets."
	case KindImageNotFound:
		return "The selected image file was not found."
	case KindImageUnreadable:
		return "The selected image file cannot be read."
	case KindUDCNotFound:
		return "No USB device controller was found. Select a different USB profile or controller."
	case KindFunctionUnavailable:
		return "The kernel refused to create the USB function."
	case KindVerification:
		return "The gadget was configured but did not bind to the USB controller. Reconnect the cable and try again."
	case KindPermission:
		return "SELinux blocked the USB gadget configuration. Reboot to activate the oLinky helper module."
	case KindNetwork:
		return "The USB network interface could not be configured."
	case KindInvalid:
		return "The request is not valid."
	default:
		return "The USB gadget operation failed."
	}
}

// Error is a failed gadget operation.
type Error struct {
	Kind     Kind
	Op       string
	Message  string
	ExitCode int
	Output   string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.ExitCode != 0 {
		fmt.Fprintf(&b, " (exit %d)", e.ExitCode)
	}
	if e.Output != "" {
		b.WriteString(": ")
		b.WriteString(e.Output)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries kind k.
func IsKind(err error, k Kind) bool {
	return KindOf(err) == k
}

func newError(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// ResultError classifies a failed privileged script.
func ResultError(op string, res rootshell.Result) *Error {
	e := &Error{
		Kind:     KindScript,
		Op:       op,
		ExitCode: res.ExitCode,
		Output:   res.ErrorOutput(),
	}

	if res.ExecutorFailed() {
		e.Kind = KindExecutor
		e.Message = "privileged shell failed"
		return e
	}

	if code, ok := shellplan.FailureCode(res.Stdout); ok && code == res.ExitCode {
		if kind, known := exitKinds[code]; known {
			e.Kind = kind
			e.Message = UserMessage(kind)
			return e
		}
	}

	if strings.Contains(strings.ToLower(e.Output), "permission denied") {
		e.Kind = KindPermission
		e.Message = "configfs write denied"
		return e
	}

	e.Message = "script failed"
	return e
}
