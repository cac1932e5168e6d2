package api

import (
	"errors"
	"net/http"

	"github.com/xraph/sparkcloud/device"
	"github.com/xraph/sparkcloud/webhook"
)

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	var verr *webhook.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, webhook.ErrNotFound),
		errors.Is(err, device.ErrDeviceNotFound),
		errors.Is(err, device.ErrDeviceOffline),
		errors.Is(err, device.ErrFirmwareNotFound),
		errors.Is(err, device.ErrUnknownFunction),
		errors.Is(err, device.ErrUnknownVariable):
		return http.StatusNotFound
	case errors.Is(err, webhook.ErrTooManyForUser),
		errors.Is(err, webhook.ErrTooManyForDevice),
		errors.Is(err, device.ErrDeviceClaimed),
		errors.Is(err, device.ErrInvalidPublicKey):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "api error",
			"request_id", RequestID(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
		writeError(w, status, "internal server error")
		return
	}
	writeError(w, status, err.Error())
}
