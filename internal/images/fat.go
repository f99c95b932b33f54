package images

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"syscall"

	diskfs "github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/filesystem"
)

// MaxReadSize bounds ReadFile.
const MaxReadSize = 16 << 20

func fsTypeName(t filesystem.Type) string {
	switch t {
	case filesystem.TypeFat32:
		return "fat32"
	case filesystem.TypeISO9660:
		return "iso9660"
	case filesystem.TypeSquashfs:
		return "squashfs"
	default:
		return ""
	}
}

// WriteFile copies size bytes from r into the FAT filesystem of image name.
// The image must not be exposed over USB while it is modified.
func (l *Library) WriteFile(name, filePath string, r io.Reader, size int64) error {
	img, err := l.Resolve(name)
	if err != nil {
		return err
	}

	d, err := diskfs.Open(img.Path, diskfs.WithOpenMode(diskfs.ReadWriteExclusive))
	if err != nil {
		return fmt.Errorf("failed to open disk image: %w", err)
	}
	defer d.Close()

	fs, err := d.GetFilesystem(0)
	if err != nil || fs.Type() != filesystem.TypeFat32 {
		return fmt.Errorf("%w: %s", ErrNotFAT, name)
	}

	return writeFile(fs, filePath, r, size)
}

// ReadFile returns the content of a file inside the FAT filesystem of image
// name.
func (l *Library) ReadFile(name, filePath string) ([]byte, error) {
	img, err := l.Resolve(name)
	if err != nil {
		return nil, err
	}

	d, err := diskfs.Open(img.Path, diskfs.WithOpenMode(diskfs.ReadOnly))
	if err != nil {
		return nil, fmt.Errorf("failed to open disk image: %w", err)
	}
	defer d.Close()

	fs, err := d.GetFilesystem(0)
	if err != nil || fs.Type() != filesystem.TypeFat32 {
		return nil, fmt.Errorf("%w: %s", ErrNotFAT, name)
	}

	f, err := fs.OpenFile(normalizePath(filePath), os.O_RDONLY)
	if err != nil {
		if os.IsNotExist(err) || strings.Contains(err.Error(), "does not exist") {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, filePath)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	return io.ReadAll(io.LimitReader(f, MaxReadSize))
}

func writeFile(fs filesystem.FileSystem, filePath string, r io.Reader, size int64) error {
	filePath = normalizePath(filePath)
	if filePath == "/" {
		return fmt.Errorf("%w: empty file path", ErrInvalidName)
	}

	if dir := path.Dir(filePath); dir != "/" {
		if err := ensureDir(fs, dir); err != nil {
			return err
		}
	}

	file, err := fs.OpenFile(filePath, os.O_CREATE|os.O_RDWR|os.O_TRUNC)
	if err != nil {
		if isOutOfSpaceError(err) {
			return ErrDiskFull
		}
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if _, err := io.CopyN(file, r, size); err != nil && err != io.EOF {
		if isOutOfSpaceError(err) {
			return ErrDiskFull
		}
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// ensureDir creates each missing parent of dirPath.
func ensureDir(fs filesystem.FileSystem, dirPath string) error {
	current := "/"
	for _, part := range splitPath(dirPath) {
		current = path.Join(current, part)
		if err := fs.Mkdir(current); err != nil && !os.IsExist(err) {
			if isOutOfSpaceError(err) {
				return ErrDiskFull
			}
			return fmt.Errorf("failed to create directory %s: %w", current, err)
		}
	}
	return nil
}

func splitPath(p string) []string {
	var parts []string
	for {
		dir, file := path.Split(p)
		if file != "" {
			parts = append([]string{file}, parts...)
		}
		if dir == "" || dir == "/" {
			break
		}
		p = path.Clean(dir)
	}
	return parts
}

func normalizePath(p string) string {
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

func isOutOfSpaceError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ENOSPC) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no space left") || strings.Contains(msg, "no free cluster") || strings.Contains(msg, "disk full")
}
