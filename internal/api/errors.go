package api

import (
	"errors"
	"net/http"

	"github.com/olinky/olinkyd/internal/gadget"
	"github.com/olinky/olinkyd/internal/images"
)

var kindStatus = map[gadget.Kind]int{
	gadget.KindInvalid:             http.StatusBadRequest,
	gadget.KindImageNotFound:       http.StatusNotFound,
	gadget.KindImageUnreadable:     http.StatusUnprocessableEntity,
	gadget.KindRootUnavailable:     http.StatusForbidden,
	gadget.KindPermission:          http.StatusForbidden,
	gadget.KindConfigFSUnavailable: http.StatusServiceUnavailable,
	gadget.KindUDCNotFound:         http.StatusServiceUnavailable,
	gadget.KindFunctionUnavailable: http.StatusServiceUnavailable,
	gadget.KindVerification:        http.StatusConflict,
	gadget.KindExecutor:            http.StatusBadGateway,
	gadget.KindNetwork:             http.StatusBadGateway,
}

// imageError maps library errors to a status and user message.
func imageError(err error) (int, string) {
	switch {
	case errors.Is(err, images.ErrNotFound):
		return http.StatusNotFound, "Image not found."
	case errors.Is(err, images.ErrImageExists):
		return http.StatusConflict, "An image with this name already exists."
	case errors.Is(err, images.ErrInvalidName), errors.Is(err, images.ErrInvalidSize):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, images.ErrNotFAT):
		return http.StatusUnprocessableEntity, "Files can only be added to FAT32 images."
	case errors.Is(err, errArchiveTooLarge):
		return http.StatusRequestEntityTooLarge, "The archive is larger than the upload limit."
	case errors.Is(err, images.ErrDiskFull):
		return http.StatusInsufficientStorage, "Disk is full. Please clear some files and try again."
	}
	return 0, ""
}

// writeError sends err with the status of its kind. A gadget kind wins over
// the library sentinels it may wrap, so one condition always reads the same.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := map[string]any{"success": false, "detail": err.Error()}

	status, message := 0, ""
	if kind := gadget.KindOf(err); kind != gadget.KindUnknown {
		status = http.StatusInternalServerError
		if s, ok := kindStatus[kind]; ok {
			status = s
		}
		message = gadget.UserMessage(kind)
		body["kind"] = kind
	} else if status, message = imageError(err); status == 0 {
		status = http.StatusInternalServerError
		message = "The operation failed."
	}
	body["error"] = message

	logger(r).WithError(err).WithField("status", status).Warn("Request failed")
	writeJSON(w, status, body)
}

func badRequest(w http.ResponseWriter, r *http.Request, message string) {
	logger(r).WithField("error", message).Debug("Bad request")
	writeJSON(w, http.StatusBadRequest, map[string]any{"error": message})
}
