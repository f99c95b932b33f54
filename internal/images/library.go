// Package images manages the directory of disk images that can be exposed
// over USB.
package images

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	diskfs "github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/disk"
	"github.com/diskfs/go-diskfs/filesystem"
	"github.com/sirupsen/logrus"
)

var (
	ErrImageExists = errors.New("image already exists")
	ErrInvalidName = errors.New("invalid image name")
	ErrInvalidSize = errors.New("invalid image size")
	ErrNotFound    = errors.New("image not found")
	ErrNotFAT      = errors.New("image has no FAT filesystem")
	ErrDiskFull    = errors.New("disk full")
)

// supported extensions, lower case without the dot.
var supported = map[string]bool{
	"iso":   true,
	"img":   true,
	"bin":   true,
	"raw":   true,
	"vhd":   true,
	"vhdx":  true,
	"qcow2": true,
}

// Format is the layout of a newly created image.
type Format string

const (
	// FormatRaw is a sparse file of zeros.
	FormatRaw Format = "raw"
	// FormatFAT32 is a whole-disk FAT32 filesystem.
	FormatFAT32 Format = "fat32"
)

// DefaultLabel is the FAT volume label when none is given.
const DefaultLabel = "OLINKY"

// Image is one file in the library.
type Image struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	Modified  time.Time `json:"modified"`
	Extension string    `json:"extension"`
	// Bootable is a hint that the format is usually a boot medium.
	Bootable bool `json:"bootable"`
}

// Library is a directory of images.
type Library struct {
	Dir string
}

// New returns a library rooted at dir.
func New(dir string) *Library {
	return &Library{Dir: dir}
}

func extension(name string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
}

// IsSupported reports whether name has an image extension.
func IsSupported(name string) bool {
	return supported[extension(name)]
}

// IsBootable reports whether name has an extension usually used for boot
// media. Plain .bin dumps are not.
func IsBootable(name string) bool {
	ext := extension(name)
	return supported[ext] && ext != "bin"
}

// ValidateName accepts a plain file name inside the library.
func ValidateName(name string) error {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if strings.ContainsAny(name, "/\\\x00\n") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// NormalizeName appends the default extension for format when name does not
// already carry an acceptable one.
func NormalizeName(name string, format Format) string {
	ext := extension(name)
	switch format {
	case FormatFAT32:
		if ext == "img" {
			return name
		}
		return name + ".img"
	default:
		if ext == "iso" || ext == "img" || ext == "raw" {
			return name
		}
		return name + ".iso"
	}
}

func (l *Library) path(name string) string {
	return filepath.Join(l.Dir, name)
}

func imageFromInfo(path string, info os.FileInfo) Image {
	return Image{
		Name:      info.Name(),
		Path:      path,
		Size:      info.Size(),
		Modified:  info.ModTime(),
		Extension: extension(info.Name()),
		Bootable:  IsBootable(info.Name()),
	}
}

// List returns the images in the library, newest first. A missing
// directory is an empty library.
func (l *Library) List() ([]Image, error) {
	entries, err := os.ReadDir(l.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Image{}, nil
		}
		return nil, fmt.Errorf("failed to read image directory: %w", err)
	}

	out := []Image{}
	for _, entry := range entries {
		if entry.IsDir() || !IsSupported(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		out = append(out, imageFromInfo(l.path(entry.Name()), info))
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Modified.Equal(out[j].Modified) {
			return out[i].Name < out[j].Name
		}
		return out[i].Modified.After(out[j].Modified)
	})
	return out, nil
}

// Resolve looks up an image by file name.
func (l *Library) Resolve(name string) (Image, error) {
	if err := ValidateName(name); err != nil {
		return Image{}, err
	}
	if !IsSupported(name) {
		return Image{}, fmt.Errorf("%w: unsupported extension %q", ErrInvalidName, name)
	}

	path := l.path(name)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Image{}, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return Image{}, fmt.Errorf("failed to stat image: %w", err)
	}
	if info.IsDir() {
		return Image{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return imageFromInfo(path, info), nil
}

// Create makes a new image of size bytes. The name is normalized first, so
// the returned image may carry an extra extension.
func (l *Library) Create(name string, size int64, format Format, label string) (Image, error) {
	if format == "" {
		format = FormatRaw
	}
	if format != FormatRaw && format != FormatFAT32 {
		return Image{}, fmt.Errorf("unknown image format %q", format)
	}
	if err := ValidateName(name); err != nil {
		return Image{}, err
	}
	if size <= 0 || size%512 != 0 {
		return Image{}, fmt.Errorf("%w: %d bytes", ErrInvalidSize, size)
	}

	name = NormalizeName(name, format)
	path := l.path(name)

	if err := os.MkdirAll(l.Dir, 0o755); err != nil {
		return Image{}, fmt.Errorf("failed to create image directory: %w", err)
	}
	if _, err := os.Stat(path); err == nil {
		return Image{}, fmt.Errorf("%w: %s", ErrImageExists, name)
	}

	var err error
	switch format {
	case FormatFAT32:
		err = createFAT32(path, size, label)
	default:
		err = createSparse(path, size)
	}
	if err != nil {
		os.Remove(path)
		return Image{}, err
	}

	logrus.WithFields(logrus.Fields{"image": name, "size": size, "format": format}).Info("Image created")
	return l.Resolve(name)
}

func createSparse(path string, size int64) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return ErrImageExists
		}
		return fmt.Errorf("failed to create image: %w", err)
	}
	defer f.Close()

	if err := f.Truncate(size); err != nil {
		return fmt.Errorf("failed to size image: %w", err)
	}
	return nil
}

func createFAT32(path string, size int64, label string) error {
	if label == "" {
		label = DefaultLabel
	}

	d, err := diskfs.Create(path, size, diskfs.Raw, diskfs.SectorSizeDefault)
	if err != nil {
		return fmt.Errorf("failed to create disk: %w", err)
	}
	defer d.Close()

	_, err = d.CreateFilesystem(disk.FilesystemSpec{
		Partition:   0,
		FSType:      filesystem.TypeFat32,
		VolumeLabel: strings.ToUpper(label),
	})
	if err != nil {
		return fmt.Errorf("failed to create filesystem: %w", err)
	}
	return nil
}

// Delete removes an image. Deleting a missing image is not an error.
func (l *Library) Delete(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	if err := os.Remove(l.path(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete image: %w", err)
	}
	return nil
}

// Import stores the content of r as a new image. The data is written to a
// temporary file first so a failed transfer leaves nothing behind.
func (l *Library) Import(name string, r io.Reader) (Image, error) {
	if err := ValidateName(name); err != nil {
		return Image{}, err
	}
	if !IsSupported(name) {
		return Image{}, fmt.Errorf("%w: unsupported extension %q", ErrInvalidName, name)
	}
	if err := os.MkdirAll(l.Dir, 0o755); err != nil {
		return Image{}, fmt.Errorf("failed to create image directory: %w", err)
	}

	path := l.path(name)
	if _, err := os.Stat(path); err == nil {
		return Image{}, fmt.Errorf("%w: %s", ErrImageExists, name)
	}

	tmp, err := os.CreateTemp(l.Dir, ".import-*")
	if err != nil {
		return Image{}, fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer os.Remove(tmp.Name())

	written, err := io.Copy(tmp, r)
	if err == nil {
		err = tmp.Chmod(0o644)
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		if isOutOfSpaceError(err) {
			return Image{}, ErrDiskFull
		}
		return Image{}, fmt.Errorf("failed to store image: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		return Image{}, fmt.Errorf("%w: %s", ErrImageExists, name)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return Image{}, fmt.Errorf("failed to store image: %w", err)
	}

	logrus.WithFields(logrus.Fields{"image": name, "size": written}).Info("Image imported")
	return l.Resolve(name)
}
