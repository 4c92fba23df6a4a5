package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/btreceiver/btreceiverd/bluetooth"
	"github.com/btreceiver/btreceiverd/mixer"
	"github.com/btreceiver/btreceiverd/player"
	"github.com/btreceiver/btreceiverd/utils"
)

// knownErrors are reported to the browser by their own message. Anything
// else is logged and replaced with a generic one.
var knownErrors = []error{
	bluetooth.ErrAdapterUnavailable,
	bluetooth.ErrDeviceNotFound,
	mixer.ErrMixerUnavailable,
	player.ErrNoMediaMounted,
	player.ErrEmptyTrackList,
	player.ErrNoPlayableTracks,
	player.ErrNotPlaying,
}

func errorMessage(err error) string {
	for _, known := range knownErrors {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return "internal error"
}

// writeJSONResponse writes a JSON response
func writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("HTTP_SRV: Failed to encode JSON response: %v", err)
	}
}

// writeErrorResponse is for protocol-level failures (404, 405, bad JSON).
func writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	writeJSONResponse(w, statusCode, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

func writeSuccess(w http.ResponseWriter, data map[string]interface{}) {
	if data == nil {
		data = make(map[string]interface{})
	}
	data["success"] = true
	writeJSONResponse(w, http.StatusOK, data)
}

// writeFailure reports a component failure. These are HTTP 200 by
// contract with the panel's polling client.
func writeFailure(w http.ResponseWriter, op string, err error) {
	log.Printf("HTTP_SRV: %s failed: %v", op, err)
	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"success": false,
		"error":   errorMessage(err),
	})
}

func decodeBody(r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return json.NewDecoder(r.Body).Decode(v)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	adapter, err := s.deps.Registry.Adapter(ctx)
	if err != nil {
		writeFailure(w, "get status", err)
		return
	}

	var connected interface{}
	device, err := s.deps.Registry.ConnectedDevice(ctx)
	if err != nil {
		log.Printf("HTTP_SRV: Could not read connected device: %v", err)
	} else if device != nil {
		connected = map[string]interface{}{
			"name":    device.Name,
			"address": device.Address,
		}
	}

	var volume interface{}
	if level, err := s.deps.Mixer.GetVolume(ctx); err != nil {
		log.Printf("HTTP_SRV: Could not read volume: %v", err)
	} else {
		volume = level
	}

	system := map[string]interface{}{}
	if s.deps.System != nil {
		system["hostname"] = s.deps.System.Hostname()
		system["ip_address"] = s.deps.System.IPAddress()
		system["online"] = s.deps.System.Online()
	}

	writeSuccess(w, map[string]interface{}{
		"adapter":          adapter,
		"connected_device": connected,
		"system":           system,
		"volume":           volume,
	})
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.deps.Registry.ListDevices(r.Context())
	if err != nil {
		writeFailure(w, "list devices", err)
		return
	}
	writeSuccess(w, map[string]interface{}{"devices": devices})
}

type discoverableRequest struct {
	Discoverable *bool `json:"discoverable"`
	Timeout      int   `json:"timeout"`
}

func (s *Server) handleDiscoverable(w http.ResponseWriter, r *http.Request) {
	var req discoverableRequest
	if err := decodeBody(r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	on := true
	if req.Discoverable != nil {
		on = *req.Discoverable
	}

	if err := s.deps.Registry.SetDiscoverable(r.Context(), on, req.Timeout); err != nil {
		writeFailure(w, "set discoverable", err)
		return
	}
	writeSuccess(w, map[string]interface{}{"discoverable": on})
}

// handleDeviceRoute serves DELETE /api/device/{address} and
// POST /api/device/{address}/trust.
func (s *Server) handleDeviceRoute(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/device/"), "/")
	parts := strings.Split(rest, "/")
	if rest == "" || len(parts) > 2 || (len(parts) == 2 && parts[1] != "trust") {
		s.handleNotFound(w, r)
		return
	}
	address := parts[0]

	if len(parts) == 2 {
		s.methodHandler("POST", func(w http.ResponseWriter, r *http.Request) {
			if err := s.deps.Registry.TrustDevice(r.Context(), address); err != nil {
				writeFailure(w, "trust device", err)
				return
			}
			writeSuccess(w, map[string]interface{}{"message": "Device " + address + " trusted"})
		})(w, r)
		return
	}

	s.methodHandler("DELETE", func(w http.ResponseWriter, r *http.Request) {
		if err := s.deps.Registry.RemoveDevice(r.Context(), address); err != nil {
			writeFailure(w, "remove device", err)
			return
		}
		writeSuccess(w, map[string]interface{}{"message": "Device " + address + " removed"})
	})(w, r)
}

type volumeRequest struct {
	Level *int `json:"level"`
}

func (s *Server) handleVolume(w http.ResponseWriter, r *http.Request) {
	if r.Method == "GET" {
		level, err := s.deps.Mixer.GetVolume(r.Context())
		if err != nil {
			writeFailure(w, "get volume", err)
			return
		}
		writeSuccess(w, map[string]interface{}{"level": level})
		return
	}

	var req volumeRequest
	if err := decodeBody(r, &req); err != nil || req.Level == nil {
		writeErrorResponse(w, http.StatusBadRequest, "level is required")
		return
	}

	level, err := s.volume.Set(r.Context(), mixer.Clamp(*req.Level))
	if err != nil {
		writeFailure(w, "set volume", err)
		return
	}
	s.deps.Hub.Broadcast(utils.WebSocketEvent{
		Type:    utils.EventVolumeChanged,
		Payload: utils.VolumePayload{Level: level},
	})
	writeSuccess(w, map[string]interface{}{"level": level})
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	if s.deps.Units == nil || len(s.deps.RestartUnits) == 0 {
		writeSuccess(w, map[string]interface{}{"message": "Nothing to restart"})
		return
	}
	if err := utils.RestartUnits(r.Context(), s.deps.Units, s.deps.RestartUnits); err != nil {
		log.Printf("HTTP_SRV: restart services failed: %v", err)
		writeJSONResponse(w, http.StatusOK, map[string]interface{}{
			"success": false,
			"error":   "failed to restart services",
		})
		return
	}
	writeSuccess(w, map[string]interface{}{"message": "Services restarted"})
}

func (s *Server) handleUSBStatus(w http.ResponseWriter, r *http.Request) {
	status := s.deps.Player.Status()
	data := map[string]interface{}{
		"state":         status.State,
		"usb_mounted":   status.USBMounted,
		"is_playing":    status.IsPlaying,
		"current_file":  nullIfEmpty(status.CurrentFile),
		"current_index": status.CurrentIndex,
		"total_tracks":  status.TotalTracks,
		"shuffle":       status.Shuffle,
	}
	// Last playback failure, e.g. every track failed to decode.
	if status.Error != "" {
		data["error"] = status.Error
	}
	writeSuccess(w, data)
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func (s *Server) usbAction(name string, action func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := action(r.Context()); err != nil {
			writeFailure(w, "usb "+name, err)
			return
		}
		writeSuccess(w, nil)
	}
}

func (s *Server) handleUSBShuffle(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, map[string]interface{}{"shuffle": s.deps.Player.ToggleShuffle()})
}
