package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/mbocsi/relayhub/client"
	"github.com/mbocsi/relayhub/config"
	"github.com/mbocsi/relayhub/discovery"
	"github.com/mbocsi/relayhub/proto"
	"github.com/mbocsi/relayhub/state"
	"github.com/mbocsi/relayhub/store"
)

const usage = `commands:
  <key> <action> [data]   send a request, e.g. "rf Transmit {\"diffId\":\"rf-1\",\"state\":\"on\"}"
  devices                 print the device list
  menus                   print the command menus
  bg | fg                 move the viewer to the background or foreground
  reconnect               connect to the last hub again
  quit
`

func main() {
	configPath := flag.String("config", "viewer.yaml", "path to the viewer config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "viewer:", err)
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
	if cfg.Viewer == nil {
		return fmt.Errorf("%s has no viewer section", configPath)
	}
	vc := cfg.Viewer

	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: config.Level(vc.LogLevel)})
	slog.SetDefault(slog.New(handler))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := client.ViewerOptions{
		Dialer:   client.NewTCPDialer(),
		Resolver: discovery.NewMDNS(),
		Notifier: &client.LogNotifier{},
	}
	if vc.Transport == "websocket" {
		opts.Dialer = client.NewWSDialer()
	}
	if vc.DBPath != "" {
		if err := os.MkdirAll(filepath.Dir(vc.DBPath), 0o755); err != nil {
			return err
		}
		kv, err := store.OpenSQLite(vc.DBPath)
		if err != nil {
			return err
		}
		defer kv.Close()
		opts.Store = kv
	}

	viewer := client.NewViewer(opts)
	defer viewer.Close()

	states := client.Fold(ctx, viewer.Events())
	latest := make(chan state.ClientState, 1)
	go render(states, latest)

	if err := connect(ctx, viewer, vc); err != nil {
		slog.Warn("Not connected", "error", err)
	}

	fmt.Print(usage)
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	var current state.ClientState
	for {
		select {
		case <-ctx.Done():
			return nil
		case s := <-latest:
			current = s
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			select {
			case s := <-latest:
				current = s
			default:
			}
			if quit := handleLine(ctx, viewer, vc, current, line); quit {
				return nil
			}
		}
	}
}

func connect(ctx context.Context, viewer *client.Viewer, vc *config.ViewerConfig) error {
	if vc.Address == "" {
		return viewer.ConnectByName(ctx, vc.Hub)
	}
	host, port, err := net.SplitHostPort(vc.Address)
	if err != nil {
		return err
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("bad port in %q: %w", vc.Address, err)
	}
	name := vc.Hub
	if name == "" {
		name = vc.Address
	}
	return viewer.Connect(ctx, discovery.Endpoint{Name: name, Address: host, Port: p})
}

// render prints the history as it grows and keeps the newest state in latest.
func render(states <-chan state.ClientState, latest chan state.ClientState) {
	printed := 0
	var last state.Record
	status := state.Status{}
	for s := range states {
		if s.Status.Kind != status.Kind {
			status = s.Status
			fmt.Printf("[%s] %s\n", status.Kind, status.Endpoint)
		}
		switch n := len(s.History); {
		case n > printed:
			for _, r := range s.History[printed:] {
				fmt.Printf("%s: %s\n", r.SourceKey, r.Entry)
			}
		case n == state.HistoryLimit && s.History[n-1] != last:
			// the oldest record was dropped to make room
			r := s.History[n-1]
			fmt.Printf("%s: %s\n", r.SourceKey, r.Entry)
		}
		printed = len(s.History)
		if printed > 0 {
			last = s.History[printed-1]
		}

		select {
		case <-latest:
		default:
		}
		latest <- s
	}
}

func handleLine(ctx context.Context, viewer *client.Viewer, vc *config.ViewerConfig, s state.ClientState, line string) bool {
	line = strings.TrimSpace(line)
	switch line {
	case "":
		return false
	case "quit":
		viewer.Disconnect()
		return true
	case "bg":
		viewer.SetForeground(false)
		return false
	case "fg":
		viewer.SetForeground(true)
		return false
	case "reconnect":
		if err := viewer.ReconnectLast(ctx); err != nil {
			slog.Warn("Reconnect failed", "error", err)
			if err := connect(ctx, viewer, vc); err != nil {
				slog.Warn("Connect failed", "error", err)
			}
		}
		return false
	case "devices":
		for _, d := range s.Devices {
			fmt.Printf("%-24s %-6s %s\n", d.Name, d.Kind, d.DiffID)
		}
		return false
	case "menus":
		for _, key := range s.Keys() {
			fmt.Printf("%s: %v\n", key, s.Commands[key])
		}
		return false
	}

	fields := strings.SplitN(line, " ", 3)
	msg := proto.Message{Key: proto.ProtocolKey(fields[0])}
	if len(fields) > 1 {
		msg.Action = proto.Action(fields[1])
	}
	if len(fields) > 2 {
		msg.Data = fields[2]
	}
	if !viewer.Send(msg) {
		fmt.Println("not connected, request dropped")
	}
	return false
}
