package controller

import (
	"context"
	"fmt"
	"io"

	"github.com/olinky/olinkyd/internal/images"
)

// Transaction writes into one FAT image while it is hidden from the host.
type Transaction struct {
	library *images.Library
	image   string
}

// WriteFile writes a file into the image. Parent directories are created.
func (t *Transaction) WriteFile(filePath string, r io.Reader, size int64) error {
	return t.library.WriteFile(t.image, filePath, r, size)
}

// BeginTransaction runs fn against a library image. When that image is the
// one currently exposed over USB, the gadget is removed before fn runs and
// re-applied afterwards, so the host never sees a half written filesystem.
//
// Example usage:
//
//	err := c.BeginTransaction(ctx, "data.img", func(tx *controller.Transaction) error {
//	    return tx.WriteFile("/docs/readme.txt", r, size)
//	})
func (c *Controller) BeginTransaction(ctx context.Context, image string, fn func(*Transaction) error) (err error) {
	img, err := c.deps.Library.Resolve(image)
	if err != nil {
		return err
	}

	c.mu.Lock()
	var remount *MountRequest
	if c.mounted != nil && c.mounted.Image == img.Path {
		saved := *c.mounted
		remount = &saved
	}
	c.mu.Unlock()

	if remount != nil {
		if _, err := c.Unmount(ctx); err != nil {
			return fmt.Errorf("failed to detach image from host: %w", err)
		}

		defer func() {
			if _, mountErr := c.Mount(context.WithoutCancel(ctx), *remount); mountErr != nil {
				c.log.WithError(mountErr).WithField("image", img.Name).Warn("Failed to re-expose image after write")
				if err == nil {
					err = fmt.Errorf("failed to re-expose image: %w", mountErr)
				}
			}
		}()
	}

	return fn(&Transaction{library: c.deps.Library, image: img.Name})
}
