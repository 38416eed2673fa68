package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"beacon/internal/domain"
	"beacon/internal/logger"
	"beacon/internal/service"

	"github.com/dustin/go-humanize"
)

// Devices reads the device table
type Devices interface {
	All() []domain.DeviceRecord
	Get(id string) (domain.DeviceRecord, bool)
}

// Credentials reads and requests device credentials
type Credentials interface {
	VerifiedInfo(deviceID string) (domain.VerifiedCredentialInfo, bool)
	RequestCredential(ctx context.Context, address string, port int) (string, error)
}

// StatusSource reports the discovery engine state
type StatusSource interface {
	Status() service.DiscoveryStatus
}

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// DeviceView is a device record plus display fields
type DeviceView struct {
	domain.DeviceRecord
	LastSeenAgo string `json:"last_seen_ago"`
	Verified    bool   `json:"verified"`
}

// CredentialRequestResponse acknowledges a queued credential request
type CredentialRequestResponse struct {
	DeviceID string `json:"device_id"`
	Nonce    string `json:"nonce"`
}

// DeviceHandler serves the status API
type DeviceHandler struct {
	devices     Devices
	credentials Credentials
	status      StatusSource
	log         logger.Logger
	now         func() time.Time
	sendTimeout time.Duration
}

// NewDeviceHandler creates the handler
func NewDeviceHandler(devices Devices, credentials Credentials, status StatusSource, log logger.Logger) *DeviceHandler {
	return &DeviceHandler{
		devices:     devices,
		credentials: credentials,
		status:      status,
		log:         log.WithComponent("http"),
		now:         time.Now,
		sendTimeout: 2 * time.Second,
	}
}

// Register installs the API routes on mux
func (h *DeviceHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/status", h.GetStatus)
	mux.HandleFunc("GET /api/devices", h.ListDevices)
	mux.HandleFunc("GET /api/devices/{id}", h.GetDevice)
	mux.HandleFunc("GET /api/devices/{id}/credential", h.GetCredential)
	mux.HandleFunc("POST /api/devices/{id}/credential/request", h.RequestCredential)
}

// GetStatus returns the discovery engine state
func (h *DeviceHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.status.Status(), http.StatusOK)
}

// ListDevices returns every known device, sorted by id. ?type= filters by
// device type.
func (h *DeviceHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	deviceType := r.URL.Query().Get("type")

	views := []DeviceView{}
	for _, rec := range h.devices.All() {
		if deviceType != "" && !strings.EqualFold(rec.DeviceType, deviceType) {
			continue
		}
		views = append(views, h.view(rec))
	}
	h.writeJSON(w, views, http.StatusOK)
}

// GetDevice returns one device
func (h *DeviceHandler) GetDevice(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.lookup(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, h.view(rec), http.StatusOK)
}

// GetCredential returns the cached verification for a device
func (h *DeviceHandler) GetCredential(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, "Invalid device ID", "Device ID is required", http.StatusBadRequest)
		return
	}
	info, ok := h.credentials.VerifiedInfo(id)
	if !ok {
		h.writeError(w, "Not found", "no verified credential for "+id, http.StatusNotFound)
		return
	}
	h.writeJSON(w, info, http.StatusOK)
}

// RequestCredential asks a known device for its credential. The outcome is
// published on the event stream.
func (h *DeviceHandler) RequestCredential(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if rec.Address == "" {
		h.writeError(w, "Device has no address", rec.DeviceID+" was never heard on the network", http.StatusConflict)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.sendTimeout)
	defer cancel()

	nonce, err := h.credentials.RequestCredential(ctx, rec.Address, rec.Port)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, service.ErrNotInitialized) {
			status = http.StatusServiceUnavailable
		}
		h.log.Warn().Err(err).Str("device_id", rec.DeviceID).Msg("Credential request failed")
		h.writeError(w, "Failed to request credential", err.Error(), status)
		return
	}
	h.writeJSON(w, CredentialRequestResponse{DeviceID: rec.DeviceID, Nonce: nonce}, http.StatusAccepted)
}

func (h *DeviceHandler) lookup(w http.ResponseWriter, r *http.Request) (domain.DeviceRecord, bool) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, "Invalid device ID", "Device ID is required", http.StatusBadRequest)
		return domain.DeviceRecord{}, false
	}
	rec, ok := h.devices.Get(id)
	if !ok {
		h.writeError(w, "Not found", "device "+id+" not found", http.StatusNotFound)
		return domain.DeviceRecord{}, false
	}
	return rec, true
}

func (h *DeviceHandler) view(rec domain.DeviceRecord) DeviceView {
	v := DeviceView{DeviceRecord: rec}
	if !rec.LastSeen.IsZero() {
		v.LastSeenAgo = humanize.RelTime(rec.LastSeen, h.now(), "ago", "from now")
	}
	_, v.Verified = h.credentials.VerifiedInfo(rec.DeviceID)
	return v
}

func (h *DeviceHandler) writeJSON(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON")
	}
}

func (h *DeviceHandler) writeError(w http.ResponseWriter, error, details string, statusCode int) {
	h.writeJSON(w, ErrorResponse{Error: error, Details: details}, statusCode)
}
