package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mbocsi/relayhub/services"
)

// WebClient serves the hub's JSON API and a live event stream.
type WebClient struct {
	services  *services.ServiceContainer
	transport *InMemoryTransport
	server    *http.Server
}

// NewWebClient creates the web surface. transport is registered with the hub
// by the caller and backs the /events stream.
func NewWebClient(serviceContainer *services.ServiceContainer, transport *InMemoryTransport) *WebClient {
	return &WebClient{
		services:  serviceContainer,
		transport: transport,
	}
}

// Routes returns the HTTP routes for the web API
func (w *WebClient) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/", w.HandleHome)
	r.Get("/status", w.HandleStatus)
	r.Get("/devices", w.HandleDevices)
	r.Get("/devices/{id}", w.HandleDeviceDetail)
	r.Post("/devices/{id}/rename", w.HandleDeviceRename)
	r.Get("/commands", w.HandleCommands)
	r.Get("/commands/{key}", w.HandleCommandDetail)
	r.Get("/transports", w.HandleTransports)
	r.Get("/transports/{i}", w.HandleTransportDetail)
	r.Post("/messages", w.HandleSendMessage)
	r.Get("/events", w.HandleEvents)
	return r
}

// Start serves until Shutdown is called.
func (w *WebClient) Start(addr string) error {
	w.server = &http.Server{
		Addr:              addr,
		Handler:           w.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("Starting web server", "addr", addr)
	if err := w.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (w *WebClient) Shutdown() error {
	if w.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return w.server.Shutdown(ctx)
}
