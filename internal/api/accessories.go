package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kreso975/homebridge-http-sensors-switches/internal/accessory"
)

// characteristicRequest is the body of a characteristic write.
type characteristicRequest struct {
	Value *json.RawMessage `json:"value"`
}

// characteristicResponse is returned by characteristic reads and writes.
type characteristicResponse struct {
	AccessoryID    string                   `json:"accessory_id"`
	Service        accessory.ServiceType    `json:"service"`
	Characteristic accessory.Characteristic `json:"characteristic"`
	Value          any                      `json:"value"`
}

// handleListAccessories returns every registered accessory.
func (s *Server) handleListAccessories(w http.ResponseWriter, _ *http.Request) {
	views := s.host.Accessories()
	for i := range views {
		s.attachStatus(&views[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accessories": views,
		"count":       len(views),
	})
}

// handleGetAccessory returns one accessory.
func (s *Server) handleGetAccessory(w http.ResponseWriter, r *http.Request) {
	view, err := s.host.Accessory(chi.URLParam(r, "id"))
	if err != nil {
		s.writeHostError(w, r, err)
		return
	}
	s.attachStatus(&view)
	writeJSON(w, http.StatusOK, view)
}

// handleGetCharacteristic reads a characteristic through its get handler.
func (s *Server) handleGetCharacteristic(w http.ResponseWriter, r *http.Request) {
	id, service, ch := characteristicParams(r)

	value, err := s.host.Read(id, service, ch)
	if err != nil {
		s.writeHostError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, characteristicResponse{
		AccessoryID:    id,
		Service:        service,
		Characteristic: ch,
		Value:          value,
	})
}

// handleSetCharacteristic writes a characteristic through its set handler.
//
// For a switch the write returns as soon as the command is applied
// optimistically; the device is contacted in the background and a failure
// shows up as a characteristic.changed event reverting the value.
func (s *Server) handleSetCharacteristic(w http.ResponseWriter, r *http.Request) {
	id, service, ch := characteristicParams(r)

	var req characteristicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Value == nil {
		writeBadRequest(w, "value is required")
		return
	}

	var value any
	if err := json.Unmarshal(*req.Value, &value); err != nil {
		writeBadRequest(w, "invalid value")
		return
	}

	if err := s.host.Write(id, service, ch, value); err != nil {
		s.writeHostError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, characteristicResponse{
		AccessoryID:    id,
		Service:        service,
		Characteristic: ch,
		Value:          value,
	})
}

func characteristicParams(r *http.Request) (string, accessory.ServiceType, accessory.Characteristic) {
	return chi.URLParam(r, "id"),
		accessory.ServiceType(chi.URLParam(r, "service")),
		accessory.Characteristic(chi.URLParam(r, "characteristic"))
}

func (s *Server) attachStatus(view *AccessoryView) {
	if s.registry == nil {
		return
	}
	c, err := s.registry.Get(view.ID)
	if err != nil {
		return
	}
	st := c.Status()
	view.Status = &st
}

// writeHostError maps host and accessory errors to HTTP responses.
func (s *Server) writeHostError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrAccessoryNotFound),
		errors.Is(err, ErrServiceNotFound),
		errors.Is(err, ErrCharacteristicNotFound):
		writeNotFound(w, err.Error())
	case errors.Is(err, ErrCharacteristicReadOnly):
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, err.Error())
	case errors.Is(err, accessory.ErrInvalidValue):
		writeBadRequest(w, err.Error())
	case errors.Is(err, accessory.ErrCommandNotConfigured):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	default:
		s.logger.Warn("characteristic request failed",
			"path", r.URL.Path,
			"error", err,
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
		writeError(w, http.StatusBadGateway, ErrCodeBadGateway, err.Error())
	}
}
