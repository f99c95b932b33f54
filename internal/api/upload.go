package api

import (
	"archive/zip"
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"path/filepath"
	"strings"

	"github.com/gorilla/mux"

	"github.com/olinky/olinkyd/internal/controller"
)

// nextFilePart returns the first part of the form field "file".
func nextFilePart(r *http.Request) (*multipart.Part, error) {
	reader, err := r.MultipartReader()
	if err != nil {
		return nil, err
	}
	for {
		part, err := reader.NextPart()
		if err != nil {
			return nil, err
		}
		if part.FormName() == "file" {
			return part, nil
		}
		part.Close()
	}
}

// UploadImageHandler streams a whole disk image into the library.
func (s *Server) UploadImageHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)

	part, err := nextFilePart(r)
	if err != nil {
		badRequest(w, r, "Invalid multipart request")
		return
	}
	defer part.Close()

	filename := filepath.Base(part.FileName())
	if filename == "" || filename == "." || filename == "/" {
		badRequest(w, r, "Empty filename")
		return
	}

	logger(r).WithField("image", filename).Info("Uploading image")
	img, err := s.ctrl.Library().Import(filename, bufio.NewReaderSize(part, 1024*1024))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"image": img})
}

// UploadFilesHandler copies an uploaded file, or the content of an
// uploaded zip archive, into a FAT32 image.
func (s *Server) UploadFilesHandler(w http.ResponseWriter, r *http.Request) {
	image := mux.Vars(r)["name"]
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)

	part, err := nextFilePart(r)
	if err != nil {
		badRequest(w, r, "Invalid multipart request")
		return
	}
	defer part.Close()

	// Sanitize the filename to prevent path traversal
	filename := filepath.Base(part.FileName())
	if filename == "" || filename == "." || filename == "/" {
		badRequest(w, r, "Empty filename")
		return
	}

	log := logger(r).WithField("image", image)
	reader := bufio.NewReaderSize(part, 1024*1024)

	if isZipFile(filename) {
		extracted, size, err := s.extractZip(r, image, reader)
		if err != nil {
			writeError(w, r, err)
			return
		}
		log.WithField("files", extracted).Infof("Extracted %s", filename)
		writeJSON(w, http.StatusOK, map[string]any{"filename": filename, "size": size, "filesExtracted": extracted})
		return
	}

	var written int64
	counter := &countingReader{reader: reader, count: &written}
	err = s.ctrl.BeginTransaction(r.Context(), image, func(tx *controller.Transaction) error {
		// Streaming: the real size is found at EOF.
		return tx.WriteFile("/"+filename, counter, s.opts.MaxUploadBytes)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	log.WithField("size", written).Infof("Uploaded %s", filename)
	writeJSON(w, http.StatusOK, map[string]any{"filename": filename, "size": written})
}

// countingReader wraps an io.Reader and counts bytes read
type countingReader struct {
	reader io.Reader
	count  *int64
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.reader.Read(p)
	*cr.count += int64(n)
	return n, err
}

var errArchiveTooLarge = errors.New("archive too large")

func isZipFile(filename string) bool {
	return strings.HasSuffix(strings.ToLower(filename), ".zip")
}

// extractZip buffers the archive, since zip needs random access to its
// central directory, and writes every entry in one transaction.
func (s *Server) extractZip(r *http.Request, image string, reader io.Reader) (int, int64, error) {
	buf := &bytes.Buffer{}
	if _, err := io.CopyN(buf, reader, s.opts.MaxUploadBytes); err != nil && err != io.EOF {
		return 0, 0, fmt.Errorf("failed to buffer zip file: %w", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to open zip file: %w", err)
	}

	extracted := 0
	total := int64(0)
	err = s.ctrl.BeginTransaction(r.Context(), image, func(tx *controller.Transaction) error {
		for _, f := range zr.File {
			if f.FileInfo().IsDir() {
				continue
			}

			clean := path.Clean("/" + f.Name)
			if strings.Contains(f.Name, "..") {
				logger(r).WithField("entry", f.Name).Warn("Skipping zip entry outside the archive root")
				continue
			}

			remaining := s.opts.MaxUploadBytes - total
			if f.UncompressedSize64 > uint64(remaining) {
				return fmt.Errorf("%w: %s exceeds the %d byte upload limit", errArchiveTooLarge, f.Name, s.opts.MaxUploadBytes)
			}

			rc, err := f.Open()
			if err != nil {
				return fmt.Errorf("failed to open file %s in zip: %w", f.Name, err)
			}
			// The zip reader fails with ErrFormat on entries larger than
			// their header.
			err = tx.WriteFile(clean, rc, int64(f.UncompressedSize64))
			rc.Close()
			if err != nil {
				return fmt.Errorf("failed to write file %s: %w", f.Name, err)
			}

			extracted++
			total += int64(f.UncompressedSize64)
		}
		return nil
	})
	return extracted, total, err
}
