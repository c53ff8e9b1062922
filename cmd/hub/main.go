package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/mbocsi/relayhub/backend"
	"github.com/mbocsi/relayhub/config"
	"github.com/mbocsi/relayhub/discovery"
	"github.com/mbocsi/relayhub/mcp"
	"github.com/mbocsi/relayhub/server"
	"github.com/mbocsi/relayhub/services"
	"github.com/mbocsi/relayhub/store"
	"github.com/mbocsi/relayhub/web"
	"golang.org/x/time/rate"
)

func main() {
	configPath := flag.String("config", "relayhub.yaml", "path to the hub config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "relayhub:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if cfg.Hub == nil {
		return fmt.Errorf("%s has no hub section", configPath)
	}
	hc := cfg.Hub

	// MCP speaks on stdout, so logs go to stderr when it is enabled.
	logOut := os.Stdout
	if hc.MCP {
		logOut = os.Stderr
	}
	handler := slog.NewJSONHandler(logOut, &slog.HandlerOptions{Level: config.Level(hc.LogLevel)})
	slog.SetDefault(slog.New(handler))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(filepath.Dir(hc.DBPath), 0o755); err != nil {
		return err
	}
	kv, err := store.OpenSQLite(hc.DBPath)
	if err != nil {
		return err
	}
	defer kv.Close()

	router := server.NewRouter()

	if hc.Serial != nil {
		link, err := backend.OpenSerial(hc.Serial.Device)
		if err != nil {
			return fmt.Errorf("open serial dongle: %w", err)
		}
		defer link.Close()
		rf, err := backend.NewRF(ctx, link, kv)
		if err != nil {
			return err
		}
		router.Register(rf)
		slog.Info("RF backend enabled", "device", hc.Serial.Device, "switches", len(rf.Devices()))
	}

	if hc.MQTT != nil {
		link, err := backend.DialMQTTMesh(hc.MQTT.Broker, hc.MQTT.ClientID, hc.MQTT.Root)
		if err != nil {
			return fmt.Errorf("connect mesh gateway: %w", err)
		}
		defer link.Close()
		mesh, err := backend.NewMesh(link, kv)
		if err != nil {
			return err
		}
		go mesh.Run(ctx)
		router.Register(mesh)
		slog.Info("Mesh backend enabled", "broker", hc.MQTT.Broker, "root", hc.MQTT.Root)
	}

	opts := server.HubOptions{
		Name:           hc.Name,
		Router:         router,
		InboundRate:    rate.Limit(hc.InboundRate),
		InboundBurst:   hc.InboundBurst,
		RouteTimeout:   hc.RouteTimeout,
		BackoffInitial: hc.BackoffInitial,
		BackoffMax:     hc.BackoffMax,
	}
	if hc.Advertise {
		opts.Advertiser = discovery.NewMDNS()
	}
	hub := server.NewHub(opts)

	if hc.TCPListen != "" {
		tcp := server.NewTCPTransport(hc.TCPListen)
		tcp.SetName("Viewer TCP server")
		tcp.SetMaxClients(hc.MaxClients)
		tcp.SetDescription("CRLF framed JSON lines for LAN viewers")
		if err := tcp.Listen(); err != nil {
			return err
		}
		hub.RegisterTransport(tcp)
	}
	if hc.WSListen != "" {
		ws := server.NewWSTransport(hc.WSListen)
		ws.SetName("Viewer WebSocket server")
		ws.SetMaxClients(hc.MaxClients)
		ws.SetDescription("One JSON line per text frame")
		hub.RegisterTransport(ws)
	}

	svc := services.NewServiceContainer(hub, hc.RouteTimeout*2)

	if hc.HTTPListen != "" {
		memory := web.NewInMemoryTransport()
		hub.RegisterTransport(memory)
		webClient := web.NewWebClient(svc, memory)
		go func() {
			if err := webClient.Start(hc.HTTPListen); err != nil {
				slog.Error("Web server stopped", "error", err)
			}
		}()
		defer webClient.Shutdown()
	}

	if hc.MCP {
		mcpClient := mcp.NewMCPClient(svc, mcp.NewMCPServer(hc.Name, "1.0.0"))
		go func() {
			if err := mcpClient.Start(); err != nil {
				slog.Error("MCP server stopped", "error", err)
			}
		}()
	}

	slog.Info("Starting hub", "name", hc.Name, "backends", router.Keys())
	return hub.Start(ctx)
}
