package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/filipexyz/ravi-sub000/internal/bus"
	"github.com/filipexyz/ravi-sub000/internal/store"
)

func newTestServer(t *testing.T) (*gwFixture, *httptest.Server) {
	t.Helper()
	f := newGwFixture(t, &store.Instance{
		Name: "main", ChannelType: "whatsapp", DefaultAgent: "default",
	})
	ts := httptest.NewServer(NewServer(f.gw, f.msgBus, nil).Handler())
	t.Cleanup(ts.Close)
	return f, ts
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/events/ws"
}

func postEvent(t *testing.T, ts *httptest.Server, instance string, body []byte) *http.Response {
	t.Helper()
	resp, err := http.Post(ts.URL+"/v1/instances/"+instance+"/events",
		"application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	return resp
}

func TestIngestStatusCodes(t *testing.T) {
	f, ts := newTestServer(t)

	body, err := json.Marshal(dmEvent("5511999887766", "hello"))
	if err != nil {
		t.Fatal(err)
	}

	if resp := postEvent(t, ts, "main", body); resp.StatusCode != http.StatusAccepted {
		t.Errorf("valid event: got %d, want 202", resp.StatusCode)
	}
	msg := f.consume(t)
	if msg.Content != "hello" {
		t.Errorf("ingested content %q", msg.Content)
	}

	if resp := postEvent(t, ts, "nope", body); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown instance: got %d, want 404", resp.StatusCode)
	}
	if resp := postEvent(t, ts, "main", []byte("{not json")); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad payload: got %d, want 400", resp.StatusCode)
	}
	f.empty(t)
}

func TestHealthz(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("got %d, want 200", resp.StatusCode)
	}
}

func TestWSFanoutAndIngest(t *testing.T) {
	f, ts := newTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// The subscription registers on the server goroutine after the upgrade;
	// keep broadcasting until a frame comes back.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				f.msgBus.Broadcast(bus.Event{Name: "message.send",
					Payload: map[string]string{"text": "hi"}})
				time.Sleep(5 * time.Millisecond)
			}
		}
	}()

	var frame wsFrame
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	err = conn.ReadJSON(&frame)
	close(stop)
	wg.Wait()
	if err != nil {
		t.Fatalf("read broadcast frame: %v", err)
	}
	if frame.Event != "message.send" {
		t.Errorf("frame event %q", frame.Event)
	}
	var payload map[string]string
	if err := json.Unmarshal(frame.Payload, &payload); err != nil || payload["text"] != "hi" {
		t.Errorf("frame payload %s", frame.Payload)
	}

	// Inbound over the same socket runs the ingest pipeline.
	err = conn.WriteJSON(wsFrame{Instance: "main", Raw: dmEvent("5511999887766", "via ws")})
	if err != nil {
		t.Fatal(err)
	}
	msg := f.consume(t)
	if msg.Content != "via ws" {
		t.Errorf("ingested content %q", msg.Content)
	}
}

func TestWSTeardownDuringBroadcast(t *testing.T) {
	f, ts := newTestServer(t)

	// Connector disconnects while events are being broadcast: the subscriber
	// handler may still run after teardown and must not panic the process.
	for i := 0; i < 50; i++ {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
		if err != nil {
			t.Fatal(err)
		}
		stop := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					f.msgBus.Broadcast(bus.Event{Name: "shutdown"})
				}
			}
		}()
		conn.Close()
		time.Sleep(time.Millisecond)
		close(stop)
		wg.Wait()
	}
}
