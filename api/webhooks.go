package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/xraph/sparkcloud/id"
	"github.com/xraph/sparkcloud/webhook"
)

func (h *Handler) createWebhook(w http.ResponseWriter, r *http.Request) {
	var in webhook.Input
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	in.OwnerID = UserID(r.Context())

	wh, err := h.webhooks.Create(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, wh)
}

func (h *Handler) listWebhooks(w http.ResponseWriter, r *http.Request) {
	hooks, err := h.webhooks.List(r.Context(), UserID(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if hooks == nil {
		hooks = []*webhook.Webhook{}
	}

	writeJSON(w, http.StatusOK, hooks)
}

func (h *Handler) getWebhook(w http.ResponseWriter, r *http.Request) {
	hookID, ok := webhookID(w, r)
	if !ok {
		return
	}

	wh, err := h.webhooks.Get(r.Context(), hookID, UserID(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, wh)
}

func (h *Handler) deleteWebhook(w http.ResponseWriter, r *http.Request) {
	hookID, ok := webhookID(w, r)
	if !ok {
		return
	}

	if err := h.webhooks.Delete(r.Context(), hookID, UserID(r.Context())); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeOK(w, nil)
}

// webhookID parses the {id} route variable. A malformed ID is reported as
// not found so callers cannot probe the ID format.
func webhookID(w http.ResponseWriter, r *http.Request) (id.ID, bool) {
	hookID, err := id.ParseWebhookID(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusNotFound, webhook.ErrNotFound.Error())
		return id.Nil, false
	}
	return hookID, true
}
