package images

import (
	"fmt"
	"os"
	"strings"

	diskfs "github.com/diskfs/go-diskfs"
	"github.com/kdomanski/iso9660"
)

// bootDirs are top-level ISO directories that suggest a bootable medium.
var bootDirs = []string{"boot", "efi", "isolinux", "syslinux", "casper", "live", "images"}

// Details are read from the image content.
type Details struct {
	Image
	// VolumeLabel is the ISO 9660 volume identifier or FAT label.
	VolumeLabel string `json:"volume_label,omitempty"`
	// PartitionTable is "gpt", "mbr" or empty.
	PartitionTable string `json:"partition_table,omitempty"`
	// Filesystem is the type of a whole-disk filesystem, if recognized.
	Filesystem string `json:"filesystem,omitempty"`
	// BootHints lists top-level directories typical of boot media.
	BootHints []string `json:"boot_hints,omitempty"`
}

// Inspect reads labels and layout from an image. Unrecognized content is
// not an error; the details are simply left empty.
func (l *Library) Inspect(name string) (Details, error) {
	img, err := l.Resolve(name)
	if err != nil {
		return Details{}, err
	}

	details := Details{Image: img}
	if img.Extension == "iso" {
		if err := inspectISO(img.Path, &details); err == nil {
			return details, nil
		}
	}

	inspectDisk(img.Path, &details)
	return details, nil
}

func inspectISO(path string, details *Details) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	iso, err := iso9660.OpenImage(f)
	if err != nil {
		return fmt.Errorf("not an ISO 9660 image: %w", err)
	}

	label, err := iso.Label()
	if err != nil {
		return err
	}
	details.VolumeLabel = strings.TrimSpace(label)
	details.Filesystem = "iso9660"

	root, err := iso.RootDir()
	if err != nil {
		return nil
	}
	children, err := root.GetChildren()
	if err != nil {
		return nil
	}
	for _, child := range children {
		if !child.IsDir() {
			continue
		}
		for _, dir := range bootDirs {
			if strings.EqualFold(child.Name(), dir) {
				details.BootHints = append(details.BootHints, dir)
			}
		}
	}
	return nil
}

func inspectDisk(path string, details *Details) {
	d, err := diskfs.Open(path, diskfs.WithOpenMode(diskfs.ReadOnly))
	if err != nil {
		return
	}
	defer d.Close()

	if fs, err := d.GetFilesystem(0); err == nil {
		details.Filesystem = fsTypeName(fs.Type())
		details.VolumeLabel = strings.TrimSpace(fs.Label())
		return
	}

	if table, err := d.GetPartitionTable(); err == nil && table != nil {
		details.PartitionTable = table.Type()
	}
}
