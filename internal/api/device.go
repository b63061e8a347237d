package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/vitrin-io/vitrin-go/internal/device"
	"github.com/vitrin-io/vitrin-go/internal/platform/logutil"
)

// PreCreateRequest is the body for POST /api/v1/device/pre_create.
type PreCreateRequest struct {
	Fingerprint string         `json:"fingerprint"`
	Meta        map[string]any `json:"meta,omitempty"`
}

// PreCreateResponse returns the claimed serial the device should show
// on screen for the user to type in, along with the claim's meta.
type PreCreateResponse struct {
	Serial   string         `json:"serial"`
	Meta     map[string]any `json:"meta,omitempty"`
	IssuedAt int64          `json:"issued_at"`
}

// CheckSerialRequest is the body for POST /api/v1/device/check_serial.
type CheckSerialRequest struct {
	Serial string `json:"serial"`
}

// DeviceHandler handles the pre-pairing device endpoints. These are
// plain HTTP because the calling device has no socket principal yet.
type DeviceHandler struct {
	devices *device.Service
	log     *slog.Logger
}

// NewDeviceHandler creates a device pairing handler.
func NewDeviceHandler(devices *device.Service, log *slog.Logger) *DeviceHandler {
	return &DeviceHandler{devices: devices, log: logutil.NoopIfNil(log)}
}

// HandlePreCreate issues or resumes a pairing claim for a fingerprint.
func (h *DeviceHandler) HandlePreCreate(w http.ResponseWriter, r *http.Request) {
	var req PreCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, ReasonBadRequest, "invalid JSON body")
		return
	}
	if req.Fingerprint == "" {
		WriteBadRequest(w, ReasonMissingField, "fingerprint is required")
		return
	}

	claim, err := h.devices.PreCreate(r.Context(), req.Fingerprint, req.Meta)
	if err != nil {
		if errors.Is(err, device.ErrInvalidFingerprint) {
			WriteBadRequest(w, ReasonInvalidField, err.Error())
			return
		}
		h.log.Error("pre-create failed", "error", err)
		WriteInternalError(w, "could not issue a serial")
		return
	}

	writeJSON(w, http.StatusOK, PreCreateResponse{
		Serial:   claim.Serial,
		Meta:     claim.Meta,
		IssuedAt: claim.IssuedAt,
	})
}

// HandleCheckSerial confirms a typed serial. The result is always 200
// with a status/message body; "wrong serial" is a domain outcome, not
// an HTTP failure.
func (h *DeviceHandler) HandleCheckSerial(w http.ResponseWriter, r *http.Request) {
	var req CheckSerialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, ReasonBadRequest, "invalid JSON body")
		return
	}
	if req.Serial == "" {
		WriteBadRequest(w, ReasonMissingField, "serial is required")
		return
	}

	result, err := h.devices.CheckSerial(r.Context(), req.Serial)
	if err != nil {
		if errors.Is(err, device.ErrInvalidSerial) {
			WriteBadRequest(w, ReasonInvalidField, err.Error())
			return
		}
		h.log.Error("check serial failed", "error", err)
		WriteInternalError(w, "could not check the serial")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
