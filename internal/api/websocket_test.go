package api

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-ble/internal/bridges/govee"
)

// connectWebSocket serves the router over httptest and dials its hub.
func connectWebSocket(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()

	ts := httptest.NewServer(srv.buildRouter())
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	ws, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v (resp: %v)", err, resp)
	}
	resp.Body.Close()
	t.Cleanup(func() { ws.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for srv.hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	return ws
}

func subscribe(t *testing.T, ws *websocket.Conn, channels ...string) {
	t.Helper()
	subscribeWith(t, ws, WSSubscribePayload{Channels: channels})
}

func subscribeWith(t *testing.T, ws *websocket.Conn, payload WSSubscribePayload) {
	t.Helper()

	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: payload,
	}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp WSMessage
	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("read subscribe response: %v", err)
	}
	if resp.Type != WSTypeResponse || resp.ID != "sub-1" {
		t.Fatalf("subscribe response = %+v", resp)
	}
}

func TestWebSocket_Connect(t *testing.T) {
	srv, _ := testServer(t)
	connectWebSocket(t, srv)

	if srv.hub.ClientCount() != 1 {
		t.Errorf("hub client count = %d, want 1", srv.hub.ClientCount())
	}
}

func TestWebSocket_Ping(t *testing.T) {
	srv, _ := testServer(t)
	ws := connectWebSocket(t, srv)

	if err := ws.WriteJSON(WSMessage{Type: WSTypePing, ID: "ping-1"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp WSMessage
	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if resp.Type != WSTypePong || resp.ID != "ping-1" {
		t.Errorf("response = %+v, want pong ping-1", resp)
	}
}

func TestWebSocket_InvalidMessages(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", "not json"},
		{"unknown type", `{"type":"unknown_type","id":"x"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := testServer(t)
			ws := connectWebSocket(t, srv)

			if err := ws.WriteMessage(websocket.TextMessage, []byte(tt.data)); err != nil {
				t.Fatalf("write: %v", err)
			}

			ws.SetReadDeadline(time.Now().Add(2 * time.Second))
			var resp WSMessage
			if err := ws.ReadJSON(&resp); err != nil {
				t.Fatalf("read error response: %v", err)
			}
			if resp.Type != WSTypeError {
				t.Errorf("response type = %s, want error", resp.Type)
			}
		})
	}
}

func TestWebSocket_LightStateBroadcast(t *testing.T) {
	srv, _ := testServer(t)
	ws := connectWebSocket(t, srv)
	subscribe(t, ws, ChannelLightState)

	st := govee.DefaultState()
	st.Power = true
	err := srv.Hub().HandleStatus(context.Background(), govee.Status{
		DeviceID: "A4C138000001",
		TopicID:  "a4c138000001",
		Changed:  govee.FieldPower,
		State:    st,
	})
	if err != nil {
		t.Fatalf("HandleStatus() error = %v", err)
	}

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event WSMessage
	if err := ws.ReadJSON(&event); err != nil {
		t.Fatalf("read broadcast: %v", err)
	}
	if event.Type != WSTypeEvent || event.EventType != ChannelLightState {
		t.Fatalf("event = %+v", event)
	}

	payload, ok := event.Payload.(map[string]any)
	if !ok {
		t.Fatalf("payload type = %T", event.Payload)
	}
	if payload["device_id"] != "A4C138000001" || payload["changed"] != "power" {
		t.Errorf("payload = %v", payload)
	}
	state, ok := payload["state"].(map[string]any)
	if !ok || state["state"] != govee.PowerOn {
		t.Errorf("state = %v", payload["state"])
	}
}

func TestWebSocket_UnsubscribedClientSkipped(t *testing.T) {
	srv, _ := testServer(t)
	ws := connectWebSocket(t, srv)
	subscribe(t, ws, "other.channel")

	srv.hub.Broadcast(ChannelLightState, map[string]string{"device_id": "A4C138000001"})
	srv.hub.Broadcast("other.channel", map[string]string{"marker": "second"})

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event WSMessage
	if err := ws.ReadJSON(&event); err != nil {
		t.Fatalf("read broadcast: %v", err)
	}
	if event.EventType != "other.channel" {
		t.Errorf("first event = %s, want other.channel only", event.EventType)
	}
}

func TestWebSocket_DeviceFilter(t *testing.T) {
	srv, _ := testServer(t)
	ws := connectWebSocket(t, srv)
	subscribeWith(t, ws, WSSubscribePayload{
		Channels: []string{ChannelLightState},
		Devices:  []string{"a4c138000002"},
	})

	for _, id := range []string{"A4:C1:38:00:00:01", "A4:C1:38:00:00:02"} {
		if err := srv.Hub().HandleStatus(context.Background(), govee.Status{
			DeviceID: id,
			Changed:  govee.FieldBrightness,
			State:    govee.DefaultState(),
		}); err != nil {
			t.Fatalf("HandleStatus(%s) error = %v", id, err)
		}
	}

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event WSMessage
	if err := ws.ReadJSON(&event); err != nil {
		t.Fatalf("read broadcast: %v", err)
	}
	payload, ok := event.Payload.(map[string]any)
	if !ok {
		t.Fatalf("payload type = %T", event.Payload)
	}
	if payload["device_id"] != "A4:C1:38:00:00:02" {
		t.Errorf("first event device = %v, want only the filtered light", payload["device_id"])
	}
}

func TestWebSocket_SubscribeInvalidDevice(t *testing.T) {
	srv, _ := testServer(t)
	ws := connectWebSocket(t, srv)

	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-bad",
		Payload: WSSubscribePayload{Channels: []string{ChannelLightState}, Devices: []string{"kitchen"}},
	}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp WSMessage
	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("read response: %v", err)
	}
	if resp.Type != WSTypeError || resp.ID != "sub-bad" {
		t.Errorf("response = %+v, want error for sub-bad", resp)
	}
}

func TestHub_RunClosesClients(t *testing.T) {
	srv, _ := testServer(t)
	connectWebSocket(t, srv)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.hub.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
	if srv.hub.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d after Run returned, want 0", srv.hub.ClientCount())
	}
}
