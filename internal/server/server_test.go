package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/meshbotics/gateway/internal/avatar"
	"github.com/meshbotics/gateway/internal/gateway"
	"github.com/meshbotics/gateway/internal/iface"
)

func testMux(srv *Server) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", srv.HandleWebSocket)
	return mux
}

func newTestGatewayClient() *gateway.Client {
	return gateway.New(100*time.Millisecond, nil, zap.NewNop())
}

func dialRobot(t *testing.T, wsURL, userID, robotID, key string) *websocket.Conn {
	t.Helper()
	u := wsURL + "?userID=" + userID + "&robotID=" + robotID + "&key=" + key
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	return conn
}

func TestHandleWebSocketRejectsUnknownCredentials(t *testing.T) {
	client := newTestGatewayClient()
	srv := New(client, zap.NewNop())
	ts := httptest.NewServer(testMux(srv))
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	u := wsURL + "?userID=u&robotID=r&key=wrong"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err == nil {
		t.Fatalf("expected dial to fail for unauthorized handshake")
	}
	if resp == nil || resp.StatusCode != 401 {
		t.Errorf("expected 401 response, got %+v", resp)
	}
}

func TestHandleWebSocketAuthenticatesAndDeliversDataMessage(t *testing.T) {
	client := newTestGatewayClient()
	srv := New(client, zap.NewNop())
	ts := httptest.NewServer(testMux(srv))
	defer ts.Close()

	id := avatar.Identity("u/r")
	session := avatar.New(id, noopUserRefForServerTest{}, zap.NewNop())
	_ = session.CreateInterface("cmd_vel", iface.TypePublisherForwarder)
	client.RegisterRobot(session)
	client.RequestAvatarID(id, "secret")

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn := dialRobot(t, wsURL, "u", "r", "secret")
	defer conn.Close()

	msg := map[string]interface{}{
		"type": "DataMessage",
		"orig": "u/r",
		"dest": "cmd_vel",
		"data": map[string]interface{}{"x": 1.0},
	}
	raw, _ := json.Marshal(msg)
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, echoed, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("expected the passthrough handle to echo a frame back: %v", err)
	}
	var echoedEnv map[string]interface{}
	if err := json.Unmarshal(echoed, &echoedEnv); err != nil {
		t.Fatalf("unexpected non-JSON echo: %v", err)
	}
	if echoedEnv["dest"] != "cmd_vel" {
		t.Errorf("unexpected echoed envelope: %+v", echoedEnv)
	}
}

func TestHandleWebSocketReportsDispatchErrorAsTextFrame(t *testing.T) {
	client := newTestGatewayClient()
	srv := New(client, zap.NewNop())
	ts := httptest.NewServer(testMux(srv))
	defer ts.Close()

	id := avatar.Identity("u/r")
	session := avatar.New(id, noopUserRefForServerTest{}, zap.NewNop())
	client.RegisterRobot(session)
	client.RequestAvatarID(id, "secret")

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn := dialRobot(t, wsURL, "u", "r", "secret")
	defer conn.Close()

	msg := map[string]interface{}{
		"type": "DataMessage",
		"orig": "u/r",
		"dest": "missing_tag",
		"data": map[string]interface{}{},
	}
	raw, _ := json.Marshal(msg)
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, errFrame, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("expected an error frame back: %v", err)
	}
	var env map[string]interface{}
	if err := json.Unmarshal(errFrame, &env); err != nil {
		t.Fatalf("unexpected non-JSON error frame: %v", err)
	}
	if env["type"] != "Error" {
		t.Errorf("expected an Error-typed frame, got %+v", env)
	}
}

type noopUserRefForServerTest struct{}

func (noopUserRefForServerTest) CreateContainer(string) error  { return nil }
func (noopUserRefForServerTest) DestroyContainer(string) error { return nil }
func (noopUserRefForServerTest) AddNode(string, string, string, string, []string, string, string) error {
	return nil
}
func (noopUserRefForServerTest) RemoveNode(string, string) error                           { return nil }
func (noopUserRefForServerTest) AddInterface(string, string, string, string, string) error { return nil }
func (noopUserRefForServerTest) RemoveInterface(string, string) error                      { return nil }
func (noopUserRefForServerTest) AddParameter(string, string, interface{}) error             { return nil }
func (noopUserRefForServerTest) RemoveParameter(string, string) error                       { return nil }
func (noopUserRefForServerTest) AddConnection(string, string) error                         { return nil }
func (noopUserRefForServerTest) RemoveConnection(string, string) error                      { return nil }
