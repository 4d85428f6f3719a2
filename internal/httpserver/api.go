package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"waconnect/internal/domain"
	"waconnect/internal/monitor"
	"waconnect/internal/service"
)

// API is the operator-facing surface: sending on behalf of an instance,
// reconnect, and connection status.
type API struct {
	Outbound *service.Outbound
	Monitor  *monitor.Monitor
}

func (a *API) Register(r *mux.Router) {
	r.HandleFunc("/v1/instances/{instanceID}/messages/text", a.handleSendText).Methods(http.MethodPost)
	r.HandleFunc("/v1/instances/{instanceID}/messages/media", a.handleSendMedia).Methods(http.MethodPost)
	r.HandleFunc("/v1/instances/{instanceID}/messages/template", a.handleSendTemplate).Methods(http.MethodPost)
	r.HandleFunc("/v1/instances/{instanceID}/reconnect", a.handleReconnect).Methods(http.MethodPost)
	r.HandleFunc("/v1/instances/{instanceID}/status", a.handleStatus).Methods(http.MethodGet)
}

func (a *API) handleSendText(w http.ResponseWriter, r *http.Request) {
	instanceID := mux.Vars(r)["instanceID"]
	var req domain.SendTextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, ErrBadBody, http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := a.Outbound.SendText(r.Context(), instanceID, req.To, req.Content)
	a.writeSendResult(w, instanceID, res, err)
}

func (a *API) handleSendMedia(w http.ResponseWriter, r *http.Request) {
	instanceID := mux.Vars(r)["instanceID"]
	var req domain.SendMediaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, ErrBadBody, http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := a.Outbound.SendMedia(r.Context(), instanceID, req.To, req.MediaURL, req.Kind, req.Caption)
	a.writeSendResult(w, instanceID, res, err)
}

func (a *API) handleSendTemplate(w http.ResponseWriter, r *http.Request) {
	instanceID := mux.Vars(r)["instanceID"]
	var req domain.SendTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, ErrBadBody, http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := a.Outbound.SendTemplate(r.Context(), instanceID, req.To, req.Template, req.Params)
	a.writeSendResult(w, instanceID, res, err)
}

func (a *API) writeSendResult(w http.ResponseWriter, instanceID string, res domain.SendResult, err error) {
	if err != nil {
		if errors.Is(err, service.ErrUnknownInstance) {
			http.Error(w, ErrUnknownInstance, http.StatusNotFound)
			return
		}
		slog.Error("send failed", "instance_id", instanceID, "err", err)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if !res.Success {
		w.WriteHeader(http.StatusBadGateway)
	}
	_ = json.NewEncoder(w).Encode(res)
}

func (a *API) handleReconnect(w http.ResponseWriter, r *http.Request) {
	instanceID := mux.Vars(r)["instanceID"]
	status, qr, err := a.Monitor.Reconnect(r.Context(), instanceID)
	if err != nil {
		if monitor.IsUnknownInstance(err) {
			http.Error(w, ErrUnknownInstance, http.StatusNotFound)
			return
		}
		slog.Error("reconnect failed", "instance_id", instanceID, "err", err)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": status,
		"qr":     qr,
	})
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	instanceID := mux.Vars(r)["instanceID"]
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"instanceId": instanceID,
		"status":     a.Monitor.Status(instanceID),
	})
}
