package module

import "fmt"

// Status is the outcome of a permission check.
type Status int

const (
	// StatusOK means configfs writes succeed with the current policy.
	StatusOK Status = iota
	// StatusNeedsReboot means the helper module is installed but its policy
	// is not active until the next boot.
	StatusNeedsReboot
	// StatusInstallFailed means the helper module could not be installed.
	StatusInstallFailed
	// StatusRootUnavailable means no superuser access.
	StatusRootUnavailable
)

var statusNames = map[Status]string{
	StatusOK:              "OK",
	StatusNeedsReboot:     "NEEDS_REBOOT",
	StatusInstallFailed:   "INSTALL_FAILED",
	StatusRootUnavailable: "ROOT_UNAVAILABLE",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *Status) UnmarshalText(text []byte) error {
	for status, name := range statusNames {
		if name == string(text) {
			*s = status
			return nil
		}
	}
	return fmt.Errorf("unknown module status %q", text)
}
