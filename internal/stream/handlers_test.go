package stream

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"
)

// riderFromQuery stands in for the JWT middleware.
func riderFromQuery(c *fiber.Ctx) error {
	if rider := c.Query("rider"); rider != "" {
		c.Locals("user_id", rider)
	}
	return c.Next()
}

func startApp(t *testing.T, hub *Hub) string {
	t.Helper()
	app := fiber.New()
	RegisterRoutes(app.Group("/stream"), hub, riderFromQuery)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen error: %v", err)
	}
	go func() {
		_ = app.Listener(ln)
	}()
	t.Cleanup(func() { _ = app.Shutdown() })
	return "ws://" + ln.Addr().String() + "/stream/ws"
}

func waitForClients(t *testing.T, hub *Hub, riderID string, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for hub.Clients(riderID) != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients for %s, got %d", n, riderID, hub.Clients(riderID))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStreamHandlersUpgradeRequired(t *testing.T) {
	app := fiber.New()
	RegisterRoutes(app.Group("/stream"), NewHub(nil, nil), riderFromQuery)

	req := httptest.NewRequest(http.MethodGet, "/stream/ws?rider=rider-1", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if resp.StatusCode != http.StatusUpgradeRequired {
		t.Fatalf("expected 426 for non-websocket request, got %d", resp.StatusCode)
	}
}

func TestStreamHandlersRequireRider(t *testing.T) {
	wsURL := startApp(t, NewHub(nil, nil))

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatalf("expected handshake to fail without a rider")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized handshake, got %v", resp)
	}
}

func TestStreamHandlersWebsocketBroadcast(t *testing.T) {
	hub := NewHub(nil, nil)
	wsURL := startApp(t, hub)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?rider=rider-1", nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	defer conn.Close()
	waitForClients(t, hub, "rider-1", 1)

	hub.Broadcast("rider-2", []byte("not yours"))
	hub.Broadcast("rider-1", []byte("hello"))
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	if string(msg) != "hello" {
		t.Fatalf("unexpected message %q", msg)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("client")); err != nil {
		t.Fatalf("write error: %v", err)
	}
}

func TestStreamHandlersCloseUnregisters(t *testing.T) {
	hub := NewHub(nil, nil)
	wsURL := startApp(t, hub)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?rider=rider-3", nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	waitForClients(t, hub, "rider-3", 1)

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	conn.Close()

	waitForClients(t, hub, "rider-3", 0)
	hub.Broadcast("rider-3", []byte("ping"))
}
