package api

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/xraph/sparkcloud/device"
	"github.com/xraph/sparkcloud/firmware"
)

// maxUpload bounds multipart firmware uploads.
const maxUpload = 32 << 20

// deviceView is the wire shape of a device.
type deviceView struct {
	ID                     string            `json:"id"`
	Name                   string            `json:"name"`
	Connected              bool              `json:"connected"`
	Cellular               bool              `json:"cellular"`
	CurrentBuildTarget     string            `json:"current_build_target,omitempty"`
	IMEI                   string            `json:"imei,omitempty"`
	LastApp                string            `json:"last_app,omitempty"`
	LastHeard              *time.Time        `json:"last_heard,omitempty"`
	LastICCID              string            `json:"last_iccid,omitempty"`
	LastIPAddress          string            `json:"last_ip_address,omitempty"`
	ProductFirmwareVersion int               `json:"product_firmware_version"`
	ProductID              int               `json:"product_id"`
	Status                 string            `json:"status"`
	Functions              []string          `json:"functions,omitempty"`
	Variables              map[string]string `json:"variables,omitempty"`
	ReturnValue            *int              `json:"return_value,omitempty"`
}

func toView(d *device.Device) deviceView {
	v := deviceView{
		ID:                     d.DeviceID,
		Name:                   d.Name,
		Connected:              d.Connected,
		Cellular:               d.IsCellular,
		CurrentBuildTarget:     d.CurrentBuildTarget,
		IMEI:                   d.IMEI,
		LastApp:                d.LastFlashedAppName,
		LastICCID:              d.LastICCID,
		LastIPAddress:          d.IP,
		ProductFirmwareVersion: d.FirmwareVersion,
		ProductID:              d.ProductID,
		Status:                 "normal",
		Functions:              d.Functions,
		Variables:              d.Variables,
	}
	if !d.LastHeard.IsZero() {
		heard := d.LastHeard
		v.LastHeard = &heard
	}
	return v
}

func (h *Handler) claimDevice(w http.ResponseWriter, r *http.Request) {
	body, err := formOrJSON(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	deviceID := body["id"]
	if deviceID == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	if _, err := h.devices.Claim(r.Context(), deviceID, UserID(r.Context())); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeOK(w, map[string]any{"id": deviceID})
}

func (h *Handler) listDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.devices.GetAll(r.Context(), UserID(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	out := make([]deviceView, 0, len(devices))
	for _, d := range devices {
		out = append(out, toView(d))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getDevice(w http.ResponseWriter, r *http.Request) {
	d, err := h.devices.GetDetailsByID(r.Context(), mux.Vars(r)["deviceID"], UserID(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toView(d))
}

func (h *Handler) unclaimDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["deviceID"]
	if _, err := h.devices.Unclaim(r.Context(), deviceID, UserID(r.Context())); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeOK(w, map[string]any{"id": deviceID})
}

// updateDevice applies the first of: rename, known app flash, binary flash
// or signal toggle.
func (h *Handler) updateDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	deviceID := mux.Vars(r)["deviceID"]
	userID := UserID(ctx)

	fields, binary, filename, err := updateFields(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	switch {
	case fields["name"] != "":
		attrs, err := h.devices.Rename(ctx, deviceID, userID, fields["name"])
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		writeOK(w, map[string]any{"id": attrs.DeviceID, "name": attrs.Name})

	case fields["app_id"] != "":
		status, err := h.devices.FlashKnownApp(ctx, deviceID, userID, fields["app_id"])
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": deviceID, "status": status})

	case filename != "":
		if !strings.HasSuffix(filename, firmware.Ext) {
			writeError(w, http.StatusBadRequest, "Did not update device")
			return
		}
		status, err := h.devices.FlashBinary(ctx, deviceID, userID, binary)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": deviceID, "status": status})

	case fields["signal"] != "":
		signal := fields["signal"]
		if signal != "1" && signal != "0" {
			writeError(w, http.StatusBadRequest, "Wrong signal value")
			return
		}
		if err := h.devices.RaiseYourHand(ctx, deviceID, userID, signal == "1"); err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": deviceID, "ok": true})

	default:
		writeError(w, http.StatusBadRequest, "Did not update device")
	}
}

// updateFields reads the update body, either multipart with an optional
// "file" part or a flat JSON/urlencoded object.
func updateFields(r *http.Request) (fields map[string]string, binary []byte, filename string, err error) {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		fields, err = formOrJSON(r)
		return fields, nil, "", err
	}

	if err := r.ParseMultipartForm(maxUpload); err != nil {
		return nil, nil, "", err
	}
	fields = map[string]string{}
	for k := range r.MultipartForm.Value {
		fields[k] = r.FormValue(k)
	}

	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return fields, nil, "", nil
	}
	if err != nil {
		return nil, nil, "", err
	}
	defer file.Close()

	binary, err = io.ReadAll(file)
	if err != nil {
		return nil, nil, "", err
	}
	return fields, binary, header.Filename, nil
}

func (h *Handler) getVariable(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	value, err := h.devices.GetVariableValue(r.Context(), vars["deviceID"], UserID(r.Context()), vars["varName"])
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"result": value})
}

func (h *Handler) callFunction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)
	deviceID, userID := vars["deviceID"], UserID(ctx)

	args, err := formOrJSON(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.devices.CallFunction(ctx, deviceID, userID, vars["functionName"], args)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	d, err := h.devices.GetByID(ctx, deviceID, userID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	view := toView(d)
	view.ReturnValue = &result
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) provisionDevice(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PublicKey string `json:"publicKey"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.PublicKey == "" {
		writeError(w, http.StatusBadRequest, "No key provided")
		return
	}

	d, err := h.devices.Provision(r.Context(), mux.Vars(r)["deviceID"], UserID(r.Context()), body.PublicKey)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toView(d))
}

func (h *Handler) listFirmware(w http.ResponseWriter, r *http.Request) {
	if h.firmware == nil {
		writeJSON(w, http.StatusOK, []string{})
		return
	}

	names, err := h.firmware.List(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, names)
}
