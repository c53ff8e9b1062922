package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/mbocsi/relayhub/proto"
	"github.com/mbocsi/relayhub/services"
)

func (w *WebClient) HandleHome(wr http.ResponseWriter, r *http.Request) {
	http.Redirect(wr, r, "/status", http.StatusMovedPermanently)
}

func (w *WebClient) HandleStatus(wr http.ResponseWriter, r *http.Request) {
	writeJSON(wr, http.StatusOK, w.services.Transport.GetStatus())
}

func (w *WebClient) HandleDevices(wr http.ResponseWriter, r *http.Request) {
	devices, err := w.services.Device.ListDevices(r.Context())
	if err != nil {
		w.handleError(wr, err)
		return
	}
	writeJSON(wr, http.StatusOK, devices)
}

func (w *WebClient) HandleDeviceDetail(wr http.ResponseWriter, r *http.Request) {
	device, err := w.services.Device.GetDevice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		w.handleError(wr, err)
		return
	}
	writeJSON(wr, http.StatusOK, device)
}

func (w *WebClient) HandleDeviceRename(wr http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(wr, "invalid JSON body", http.StatusBadRequest)
		return
	}

	reply, err := w.services.Device.RenameDevice(r.Context(), id, req.Name)
	if err != nil {
		w.handleReplyError(wr, reply, err)
		return
	}
	writeJSON(wr, http.StatusOK, reply)
}

func (w *WebClient) HandleCommands(wr http.ResponseWriter, r *http.Request) {
	commands, err := w.services.Command.ListCommands(r.Context())
	if err != nil {
		w.handleError(wr, err)
		return
	}
	writeJSON(wr, http.StatusOK, commands)
}

func (w *WebClient) HandleCommandDetail(wr http.ResponseWriter, r *http.Request) {
	commands, err := w.services.Command.GetCommands(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		w.handleError(wr, err)
		return
	}
	writeJSON(wr, http.StatusOK, commands)
}

func (w *WebClient) HandleTransports(wr http.ResponseWriter, r *http.Request) {
	transports, err := w.services.Transport.ListTransports()
	if err != nil {
		w.handleError(wr, err)
		return
	}
	writeJSON(wr, http.StatusOK, transports)
}

func (w *WebClient) HandleTransportDetail(wr http.ResponseWriter, r *http.Request) {
	i, err := strconv.Atoi(chi.URLParam(r, "i"))
	if err != nil {
		http.Error(wr, "invalid transport index", http.StatusBadRequest)
		return
	}
	transport, err := w.services.Transport.GetTransport(i)
	if err != nil {
		w.handleError(wr, err)
		return
	}
	writeJSON(wr, http.StatusOK, transport)
}

// HandleSendMessage routes a request to a backend and returns the reply
func (w *WebClient) HandleSendMessage(wr http.ResponseWriter, r *http.Request) {
	var req services.MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(wr, "invalid JSON body", http.StatusBadRequest)
		return
	}

	reply, err := w.services.Messaging.SendMessage(r.Context(), req)
	if err != nil {
		w.handleReplyError(wr, reply, err)
		return
	}
	writeJSON(wr, http.StatusOK, reply)
}

// HandleEvents streams every line the hub sends to viewers as Server-Sent
// Events, starting with the attach sequence.
func (w *WebClient) HandleEvents(wr http.ResponseWriter, r *http.Request) {
	flusher, ok := wr.(http.Flusher)
	if !ok {
		http.Error(wr, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	conn, err := w.transport.Dial()
	if err != nil {
		slog.Warn("Rejecting event stream", "error", err)
		http.Error(wr, err.Error(), http.StatusServiceUnavailable)
		return
	}
	defer conn.Close()

	wr.Header().Set("Content-Type", "text/event-stream")
	wr.Header().Set("Cache-Control", "no-cache")
	wr.Header().Set("Connection", "keep-alive")
	wr.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-conn.Done():
			return
		case line := <-conn.Lines():
			line = bytes.TrimRight(line, proto.LineEnding)
			fmt.Fprintf(wr, "event: message\n")
			fmt.Fprintf(wr, "data: %s\n\n", line)
			flusher.Flush()
		}
	}
}

func writeJSON(wr http.ResponseWriter, status int, v any) {
	wr.Header().Set("Content-Type", "application/json")
	wr.WriteHeader(status)
	if err := json.NewEncoder(wr).Encode(v); err != nil {
		slog.Warn("Failed to write response", "error", err)
	}
}

// handleReplyError returns a rejected reply as the body of a 422, and any
// other error through handleError.
func (w *WebClient) handleReplyError(wr http.ResponseWriter, reply *services.MessageResponse, err error) {
	var serviceErr services.ServiceError
	if reply != nil && errors.As(err, &serviceErr) && serviceErr.Code == services.ErrCodeRejected {
		writeJSON(wr, http.StatusUnprocessableEntity, reply)
		return
	}
	w.handleError(wr, err)
}

// handleError handles service errors with proper HTTP status codes
func (w *WebClient) handleError(wr http.ResponseWriter, err error) {
	slog.Error("Service error", "error", err)

	var serviceErr services.ServiceError
	if errors.As(err, &serviceErr) {
		status := http.StatusInternalServerError
		switch serviceErr.Code {
		case services.ErrCodeNotFound:
			status = http.StatusNotFound
		case services.ErrCodeInvalidInput:
			status = http.StatusBadRequest
		case services.ErrCodeTimeout:
			status = http.StatusGatewayTimeout
		case services.ErrCodeUnavailable:
			status = http.StatusServiceUnavailable
		case services.ErrCodeRejected:
			status = http.StatusUnprocessableEntity
		}

		http.Error(wr, serviceErr.Message, status)
		return
	}

	http.Error(wr, "Internal server error", http.StatusInternalServerError)
}
