package web

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mbocsi/relayhub/proto"
	"github.com/mbocsi/relayhub/server"
	"github.com/mbocsi/relayhub/services"
)

// switchBackend holds two switches and supports Refresh and Rename.
type switchBackend struct {
	devices []proto.Device
}

func (b *switchBackend) Key() proto.ProtocolKey { return "rf" }

func (b *switchBackend) Handle(ctx context.Context, msg proto.Message) (proto.Message, error) {
	menu := proto.NewCommands(proto.ActionPing, "Refresh", "Rename")
	switch msg.Action {
	case "Refresh":
		data, _ := proto.EncodePayload(proto.Payload{Devices: b.devices})
		return proto.Message{Action: proto.ActionDevices, Data: data, Response: "2 switches", Commands: menu}, nil
	case "Rename":
		var r proto.Rename
		json.Unmarshal([]byte(msg.Data), &r)
		data, _ := proto.EncodePayload(proto.Payload{Rename: &r})
		return proto.Message{Action: proto.ActionRenamed, Data: data, Response: "renamed", Commands: menu}, nil
	case "Jam":
		return proto.Message{}, errors.New("radio jammed")
	}
	return proto.Message{Action: proto.ActionPing, Response: "rf ready", Commands: menu}, nil
}

func startWeb(t *testing.T) (*httptest.Server, *server.Hub) {
	t.Helper()
	router := server.NewRouter()
	router.Register(&switchBackend{devices: []proto.Device{
		{Kind: proto.KindRF, DiffID: "rf-1", Name: "Porch", RF: &proto.RFSwitch{OnCode: "1", OffCode: "0"}},
		{Kind: proto.KindRF, DiffID: "rf-2", Name: "Gate", RF: &proto.RFSwitch{OnCode: "3", OffCode: "2"}},
	}})
	hub := server.NewHub(server.HubOptions{Name: "den", Router: router})
	transport := NewInMemoryTransport()
	hub.RegisterTransport(transport)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Start(ctx)
		close(stopped)
	}()

	web := NewWebClient(services.NewServiceContainer(hub, time.Second), transport)
	srv := httptest.NewServer(web.Routes())
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-stopped
	})

	deadline := time.Now().Add(2 * time.Second)
	for !transport.Meta().Connected {
		if time.Now().After(deadline) {
			t.Fatal("In-memory transport did not start")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Prime the cache with the device list.
	if _, err := hub.Request(context.Background(), proto.Message{Key: "rf", Action: "Refresh"}); err != nil {
		t.Fatalf("Request: %v", err)
	}
	return srv, hub
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if v != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("Decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, url, body string, v any) int {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	if v != nil {
		json.NewDecoder(resp.Body).Decode(v)
	}
	return resp.StatusCode
}

func TestWeb_Devices(t *testing.T) {
	srv, _ := startWeb(t)

	var devices []services.DeviceInfo
	if code := getJSON(t, srv.URL+"/devices", &devices); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if len(devices) != 2 || devices[0].Name != "Gate" || devices[1].Name != "Porch" {
		t.Errorf("Expected devices sorted by name, got %+v", devices)
	}

	var device services.DeviceInfo
	if code := getJSON(t, srv.URL+"/devices/rf-1", &device); code != http.StatusOK || device.Name != "Porch" {
		t.Errorf("Unexpected device %d %+v", code, device)
	}
	if code := getJSON(t, srv.URL+"/devices/rf-9", nil); code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", code)
	}
}

func TestWeb_Rename(t *testing.T) {
	srv, hub := startWeb(t)

	var reply services.MessageResponse
	if code := postJSON(t, srv.URL+"/devices/rf-2/rename", `{"name":"Back Gate"}`, &reply); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if reply.Action != proto.ActionRenamed {
		t.Errorf("Expected Renamed, got %+v", reply)
	}

	devices, _ := hub.Devices(context.Background())
	if devices[0].Name != "Back Gate" {
		t.Errorf("Expected the cache to hold the new name, got %+v", devices)
	}

	if code := postJSON(t, srv.URL+"/devices/rf-2/rename", `{"name":""}`, nil); code != http.StatusBadRequest {
		t.Errorf("Expected 400 for an empty name, got %d", code)
	}
	if code := postJSON(t, srv.URL+"/devices/rf-2/rename", `nope`, nil); code != http.StatusBadRequest {
		t.Errorf("Expected 400 for a bad body, got %d", code)
	}
}

func TestWeb_SendMessage(t *testing.T) {
	srv, _ := startWeb(t)

	var reply services.MessageResponse
	if code := postJSON(t, srv.URL+"/messages", `{"key":"rf","action":"Ping"}`, &reply); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if reply.Response != "rf ready" {
		t.Errorf("Unexpected reply %+v", reply)
	}

	reply = services.MessageResponse{}
	if code := postJSON(t, srv.URL+"/messages", `{"key":"rf","action":"Jam"}`, &reply); code != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422 for a failed request, got %d", code)
	}
	if reply.Action != proto.ActionError {
		t.Errorf("Expected the Error reply in the body, got %+v", reply)
	}

	if code := postJSON(t, srv.URL+"/messages", `{"key":"zigbee"}`, &reply); code != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422 for an unknown key, got %d", code)
	}
}

func TestWeb_StatusAndCommands(t *testing.T) {
	srv, _ := startWeb(t)

	var status services.StatusInfo
	getJSON(t, srv.URL+"/status", &status)
	if status.Name != "den" || len(status.Backends) != 1 || status.Transports != 1 {
		t.Errorf("Unexpected status %+v", status)
	}

	var commands services.CommandInfo
	if code := getJSON(t, srv.URL+"/commands/rf", &commands); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if !proto.Commands(commands.Commands).Equal(proto.NewCommands(proto.ActionPing, "Refresh", "Rename", proto.ActionReset)) {
		t.Errorf("Unexpected rf menu %v", commands.Commands)
	}

	var transports []services.TransportInfo
	getJSON(t, srv.URL+"/transports", &transports)
	if len(transports) != 1 || transports[0].Type != "memory" {
		t.Errorf("Unexpected transports %+v", transports)
	}
	if code := getJSON(t, srv.URL+"/transports/x", nil); code != http.StatusBadRequest {
		t.Errorf("Expected 400 for a bad index, got %d", code)
	}
}

func TestWeb_EventsStreamsAttachSequence(t *testing.T) {
	srv, hub := startWeb(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /events: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Unexpected content type %q", ct)
	}

	lines := make(chan proto.Message, 16)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			data, ok := strings.CutPrefix(scanner.Text(), "data: ")
			if !ok {
				continue
			}
			msg, err := proto.Decode([]byte(data))
			if err == nil {
				lines <- msg
			}
		}
	}()
	next := func() proto.Message {
		select {
		case msg := <-lines:
			return msg
		case <-time.After(2 * time.Second):
			t.Fatal("No event")
		}
		return proto.Message{}
	}

	snapshot := next()
	payload, _ := proto.DecodePayload(snapshot.Data)
	if snapshot.Action != proto.ActionSnapshot || len(payload.Devices) != 2 {
		t.Fatalf("Expected the snapshot with two devices first, got %+v", snapshot)
	}
	next() // rf ping
	next() // summary

	hub.Submit(context.Background(), proto.Message{Key: "rf", Action: "Ping"})
	if msg := next(); msg.Response != "rf ready" {
		t.Errorf("Expected the broadcast reply, got %+v", msg)
	}
}

func TestInMemoryTransport_MaxClients(t *testing.T) {
	transport := NewInMemoryTransport()
	transport.SetMaxClients(1)
	transport.OnConnect(func(server.Conn) {})
	if _, err := transport.Dial(); err == nil {
		t.Error("Expected Dial to fail before Start")
	}
	transport.Start()

	c, err := transport.Dial()
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if _, err := transport.Dial(); !errors.Is(err, ErrTooManyClients) {
		t.Errorf("Expected ErrTooManyClients, got %v", err)
	}
	c.Close()
	if transport.Meta().Clients != 0 {
		t.Errorf("Expected the slot to be released, got %d", transport.Meta().Clients)
	}
	if _, err := transport.Dial(); err != nil {
		t.Errorf("Expected Dial to succeed after release, got %v", err)
	}
}
