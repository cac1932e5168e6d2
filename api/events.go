package api

import (
	"net/http"
	"strconv"

	"github.com/xraph/sparkcloud/event"
)

// maxEventName matches the longest name a webhook can subscribe to.
const maxEventName = 63

func (h *Handler) publishEvent(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeError(w, http.StatusNotFound, "event publishing is disabled")
		return
	}

	body, err := formOrJSON(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	name := body["name"]
	if name == "" || len(name) > maxEventName {
		writeError(w, http.StatusBadRequest, "event name must be 1-63 characters")
		return
	}

	evt := event.New(name, UserID(r.Context()), body["data"])
	if private, err := strconv.ParseBool(body["private"]); err == nil {
		evt.IsPublic = !private
	}
	if ttl, err := strconv.Atoi(body["ttl"]); err == nil && ttl > 0 {
		evt.TTL = ttl
	}

	if err := h.events.Publish(r.Context(), evt); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeOK(w, nil)
}
