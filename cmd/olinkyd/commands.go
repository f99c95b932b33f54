package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/olinky/olinkyd/internal/controller"
	"github.com/olinky/olinkyd/internal/images"
)

var (
	mountRW    bool
	mountCDROM bool

	createSize   int64
	createFormat string
	createLabel  string
)

// commandContext is canceled by SIGINT or SIGTERM.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// withController builds the controller and runs fn with a signal-aware
// context.
func withController(fn func(ctx context.Context, c *controller.Controller, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		c, err := newController(cfg)
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()
		return fn(ctx, c, args)
	}
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show root, module and gadget state",
	Args:  cobra.NoArgs,
	RunE: withController(func(ctx context.Context, c *controller.Controller, _ []string) error {
		c.CheckModule(ctx)
		st, err := c.Status(ctx)
		if perr := printJSON(st); perr != nil {
			return perr
		}
		return err
	}),
}

var moduleCmd = &cobra.Command{
	Use:   "module",
	Short: "Check configfs permissions and install the SELinux helper module if needed",
	Args:  cobra.NoArgs,
	RunE: withController(func(ctx context.Context, c *controller.Controller, _ []string) error {
		status := c.CheckModule(ctx)
		fmt.Println(status)
		return nil
	}),
}

var mountCmd = &cobra.Command{
	Use:   "mount <image>",
	Short: "Expose an image as a USB drive",
	Long:  "Expose a library image, or an absolute path, as a USB mass storage device. Images are read-only unless --rw is given.",
	Args:  cobra.ExactArgs(1),
	RunE: withController(func(ctx context.Context, c *controller.Controller, args []string) error {
		if mountRW && mountCDROM {
			return fmt.Errorf("cannot use --cdrom with --rw (CDROM devices are always read-only)")
		}

		req := controller.MountRequest{Image: args[0], CDROM: mountCDROM}
		if mountRW {
			readOnly := false
			req.ReadOnly = &readOnly
		}

		res, err := c.Mount(ctx, req)
		if err != nil {
			return err
		}
		fmt.Printf("Mounted %s on %s (%s)\n", res.ImagePath, res.UDC, res.Function)
		return nil
	}),
}

var unmountCmd = &cobra.Command{
	Use:   "unmount",
	Short: "Remove the USB drive",
	Args:  cobra.NoArgs,
	RunE: withController(func(ctx context.Context, c *controller.Controller, _ []string) error {
		report, err := c.Unmount(ctx)
		if err != nil {
			return err
		}
		if report.Residual {
			fmt.Println("Unmounted; the gadget directory could not be removed completely")
			return nil
		}
		fmt.Println("Unmounted")
		return nil
	}),
}

var pxeCmd = &cobra.Command{
	Use:   "pxe",
	Short: "Control the PXE network gadget",
}

var pxeStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the USB Ethernet gadget and configure its interface",
	Args:  cobra.NoArgs,
	RunE: withController(func(ctx context.Context, c *controller.Controller, _ []string) error {
		res, err := c.StartPXE(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("PXE gadget running on %s (%s)\n", res.UDC, res.Function)
		if res.ServersError != "" {
			fmt.Printf("Servers not started: %s\n", res.ServersError)
		}
		return nil
	}),
}

var pxeStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the PXE gadget and tear down its interface",
	Args:  cobra.NoArgs,
	RunE: withController(func(ctx context.Context, c *controller.Controller, _ []string) error {
		if err := c.StopPXE(ctx); err != nil {
			return err
		}
		fmt.Println("PXE disabled")
		return nil
	}),
}

var imageCmd = &cobra.Command{
	Use:   "image",
	Short: "Manage the image library",
}

var imageListCmd = &cobra.Command{
	Use:   "list",
	Short: "List library images, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := images.New(cfg.Images.Dir).List()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSIZE\tBOOTABLE\tMODIFIED")
		for _, img := range list {
			fmt.Fprintf(w, "%s\t%d\t%t\t%s\n", img.Name, img.Size, img.Bootable, img.Modified.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

var imageCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a blank image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		img, err := images.New(cfg.Images.Dir).Create(args[0], createSize*1024*1024, images.Format(createFormat), createLabel)
		if err != nil {
			return err
		}
		fmt.Printf("Created %s (%d bytes)\n", img.Path, img.Size)
		return nil
	},
}

var imageInspectCmd = &cobra.Command{
	Use:   "inspect <name>",
	Short: "Show labels and layout of an image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		details, err := images.New(cfg.Images.Dir).Inspect(args[0])
		if err != nil {
			return err
		}
		return printJSON(details)
	},
}

var imageDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete an image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return images.New(cfg.Images.Dir).Delete(args[0])
	},
}

var rebootCmd = &cobra.Command{
	Use:   "reboot",
	Short: "Reboot the device",
	Args:  cobra.NoArgs,
	RunE: withController(func(ctx context.Context, c *controller.Controller, _ []string) error {
		return c.Reboot(ctx)
	}),
}

func init() {
	mountCmd.Flags().BoolVar(&mountRW, "rw", false, "let the host write to the image")
	mountCmd.Flags().BoolVar(&mountCDROM, "cdrom", false, "present the image as a CD-ROM")

	imageCreateCmd.Flags().Int64Var(&createSize, "size", 1024, "size in MiB")
	imageCreateCmd.Flags().StringVar(&createFormat, "format", string(images.FormatRaw), "raw or fat32")
	imageCreateCmd.Flags().StringVar(&createLabel, "label", images.DefaultLabel, "FAT volume label")

	pxeCmd.AddCommand(pxeStartCmd, pxeStopCmd)
	imageCmd.AddCommand(imageListCmd, imageCreateCmd, imageInspectCmd, imageDeleteCmd)
	rootCmd.AddCommand(statusCmd, moduleCmd, mountCmd, unmountCmd, pxeCmd, imageCmd, rebootCmd)
}
