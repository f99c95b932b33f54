// Command olinkyd exposes disk images and a PXE network gadget over USB on
// rooted Android devices.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/olinky/olinkyd/internal/config"
	"github.com/olinky/olinkyd/internal/gadget"
	"github.com/olinky/olinkyd/internal/logging"
)

var version = "dev" // Injected at build time via -ldflags

var (
	configPath string
	verbose    bool

	cfg       *config.Config
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "olinkyd",
	Short: "USB gadget daemon for disk images and PXE boot",
	Long:  "olinkyd drives Linux ConfigFS USB gadgets through a root shell to expose disk images as USB drives and to provide a USB Ethernet link for network boot.",
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}

		opts := logging.Options{Level: cfg.Logging.Level, File: cfg.Logging.File}
		if verbose {
			opts.Level = "debug"
		}
		logCloser, err = logging.Setup(opts)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			logCloser.Close()
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print olinkyd version",
	// The version needs no configuration.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("olinkyd version %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/data/adb/olinky/olinkyd.json", "configuration file (.json or .yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")

	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", describe(err))
		logrus.WithError(err).Debug("Command failed")
		os.Exit(1)
	}
}

// describe prefers the actionable message of a gadget failure.
func describe(err error) string {
	if kind := gadget.KindOf(err); kind != gadget.KindUnknown {
		return fmt.Sprintf("%s\n  (%v)", gadget.UserMessage(kind), err)
	}
	return err.Error()
}
