package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/olinky/olinkyd/internal/controller"
	"github.com/olinky/olinkyd/internal/mdns"
	"github.com/olinky/olinkyd/internal/network"
)

var (
	macFormat string
	macAll    bool
)

var macFormats = map[string]network.MACFormat{
	"colon":  network.MACFormatColon,
	"hyphen": network.MACFormatHyphen,
	"none":   network.MACFormatNone,
	"usb":    network.MACFormatUSBSerial,
}

var macCmd = &cobra.Command{
	Use:   "mac [interface]",
	Short: "Print interface MAC addresses",
	Long:  "Print the MAC address of an interface, of the WiFi interface when none is named, or of every interface with --all. The usb format is the one used for derived USB serial numbers.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, ok := macFormats[macFormat]
		if !ok {
			return fmt.Errorf("invalid format %q (use: colon, hyphen, none, usb)", macFormat)
		}

		if macAll {
			macs, err := network.AllMACs()
			if err != nil {
				return err
			}
			names := make([]string, 0, len(macs))
			for name := range macs {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Printf("%-15s %s\n", name+":", network.FormatMAC(macs[name], format))
			}
			return nil
		}

		var mac string
		var err error
		if len(args) == 1 {
			mac, err = network.InterfaceMAC(args[0])
		} else {
			_, mac, err = network.FindWiFiInterface()
		}
		if err != nil {
			return err
		}
		fmt.Println(network.FormatMAC(mac, format))
		return nil
	},
}

var mdnsCheckCmd = &cobra.Command{
	Use:   "mdns-check",
	Short: "Report how the control API would be advertised",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		switch {
		case mdns.IsAvahiDBusAvailable():
			fmt.Println("Avahi is available via DBus")
		case mdns.IsAvahiAvailable():
			fmt.Println("Avahi command-line tools are available")
		default:
			return fmt.Errorf("avahi is not available")
		}
		return nil
	},
}

var putCmd = &cobra.Command{
	Use:   "put <image> <file> [dest]",
	Short: "Copy a local file into a FAT32 image",
	Long:  "Copy a local file into a FAT32 library image. When the image is exposed over USB it is detached for the copy and exposed again afterwards.",
	Args:  cobra.RangeArgs(2, 3),
	RunE: withController(func(ctx context.Context, c *controller.Controller, args []string) error {
		src, err := os.Open(args[1])
		if err != nil {
			return err
		}
		defer src.Close()

		info, err := src.Stat()
		if err != nil {
			return err
		}

		dest := "/" + filepath.Base(args[1])
		if len(args) == 3 {
			dest = args[2]
		}

		start := time.Now()
		err = c.BeginTransaction(ctx, args[0], func(tx *controller.Transaction) error {
			return tx.WriteFile(dest, src, info.Size())
		})
		if err != nil {
			return err
		}

		elapsed := time.Since(start)
		rate := float64(info.Size()) / 1024 / 1024 / elapsed.Seconds()
		fmt.Printf("Copied %d bytes to %s:%s in %v (%.2f MB/s)\n", info.Size(), args[0], dest, elapsed.Round(time.Millisecond), rate)
		return nil
	}),
}

func init() {
	macCmd.Flags().StringVar(&macFormat, "format", "colon", "colon, hyphen, none or usb")
	macCmd.Flags().BoolVar(&macAll, "all", false, "list every interface")

	imageCmd.AddCommand(putCmd)
	rootCmd.AddCommand(macCmd, mdnsCheckCmd)
}
