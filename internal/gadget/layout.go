package gadget

import (
	"time"

	"github.com/olinky/olinkyd/internal/rootshell"
	"github.com/olinky/olinkyd/internal/shellplan"
)

// Layout locates the kernel trees a manager works on.
type Layout struct {
	// ConfigFSMount is where configfs is mounted, or should be.
	ConfigFSMount string `json:"configfs_mount" yaml:"configfs_mount"`
	// GadgetRoot holds one directory per gadget.
	GadgetRoot string `json:"gadget_root" yaml:"gadget_root"`
	// UDCClass lists the USB device controllers.
	UDCClass string `json:"udc_class" yaml:"udc_class"`
}

// DefaultLayout is the layout used on Android devices.
func DefaultLayout() Layout {
	return Layout{
		ConfigFSMount: "/config",
		GadgetRoot:    "/config/usb_gadget",
		UDCClass:      "/sys/class/udc",
	}
}

func (l Layout) gadgetDir(name string) shellplan.Word {
	return shellplan.Lit(l.GadgetRoot).Join(name)
}

// Options tune script execution for both managers.
type Options struct {
	// Timeout bounds each privileged script.
	Timeout time.Duration
	// Settle is the delay in seconds after unbinding a gadget.
	Settle string
	// VerifyAttempts is how often the UDC binding is read back.
	VerifyAttempts uint
	// VerifyDelay separates verification attempts.
	VerifyDelay time.Duration
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = rootshell.DefaultTimeout
	}
	if o.Settle == "" {
		o.Settle = shellplan.DefaultSettle
	}
	if o.VerifyAttempts == 0 {
		o.VerifyAttempts = 3
	}
	if o.VerifyDelay <= 0 {
		o.VerifyDelay = 200 * time.Millisecond
	}
	return o
}

// Binding describes a gadget that was just applied.
type Binding struct {
	Gadget   string `json:"gadget"`
	Function string `json:"function"`
	UDC      string `json:"udc"`
	Bound    bool   `json:"bound"`
}

// TeardownReport describes the outcome of a teardown.
type TeardownReport struct {
	Gadget string `json:"gadget"`
	// Residual is set when the gadget directory still exists after
	// cleanup. The teardown still counts as done.
	Residual bool `json:"residual"`
}
