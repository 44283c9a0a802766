package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/room-signaling/internal/config"
	"github.com/wilsonzlin/aero/proxy/room-signaling/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/room-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/room-signaling/internal/signaling"
)

func startRoom(t *testing.T, cfg config.Config) string {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{})
	m := metrics.New()
	sig := signaling.NewServer(signaling.Config{Logger: logger, Metrics: m, Passphrase: cfg.Passphrase})
	mountSignaling(srv, sig)
	srv.Mux().Handle("GET /metrics", metrics.PrometheusHandler(m))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	t.Cleanup(func() {
		sig.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		<-errCh
	})
	return ln.Addr().String()
}

func TestMountedWebSocketEnforcesOrigin(t *testing.T) {
	addr := startRoom(t, config.Config{AllowedOrigins: []string{"https://room.example.com"}})
	wsURL := "ws://" + addr + "/ws?clientId=A"

	h := http.Header{}
	h.Set("Origin", "https://evil.example.com")
	if _, resp, err := websocket.DefaultDialer.Dial(wsURL, h); err == nil {
		t.Fatalf("expected cross-origin dial to fail")
	} else if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("resp=%v err=%v, want 403", resp, err)
	}

	h.Set("Origin", "https://room.example.com")
	c, _, err := websocket.DefaultDialer.Dial(wsURL, h)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	if err := c.WriteJSON(map[string]any{"type": "join", "name": "Alice"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	var joined map[string]any
	if err := c.ReadJSON(&joined); err != nil {
		t.Fatalf("read: %v", err)
	}
	if joined["type"] != "joined" || joined["selfId"] != "A" {
		t.Fatalf("joined=%v", joined)
	}
}

func TestMountedResetAnswersPreflight(t *testing.T) {
	addr := startRoom(t, config.Config{Passphrase: "p", AllowedOrigins: []string{"https://room.example.com"}})

	req, err := http.NewRequest(http.MethodOptions, "http://"+addr+"/reset", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Origin", "https://room.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "content-type")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusNoContent)
	}

	resp, err = http.Post("http://"+addr+"/reset", "application/json", strings.NewReader(`{"passphrase":"p"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.StatusCode != http.StatusOK || body["disconnectedCount"] != float64(0) {
		t.Fatalf("status=%d body=%v", resp.StatusCode, body)
	}
}

func TestMetricsEndpointCountsConnections(t *testing.T) {
	addr := startRoom(t, config.Config{})

	c, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws?clientId=A", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	want := `aero_room_signaling_events_total{event="` + metrics.WSConnections + `"} 1`
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get("http://" + addr + "/metrics")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if strings.Contains(string(raw), want) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("metrics missing %q:\n%s", want, raw)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestLoadDotEnv(t *testing.T) {
	const key = "AERO_ROOM_DOTENV_TEST"
	t.Cleanup(func() { _ = os.Unsetenv(key) })

	if err := loadDotEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("missing file should be ignored: %v", err)
	}

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(key+"=from-file\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := loadDotEnv(path); err != nil {
		t.Fatalf("loadDotEnv: %v", err)
	}
	if got := os.Getenv(key); got != "from-file" {
		t.Fatalf("%s=%q, want from-file", key, got)
	}
}

func TestLoadDotEnvKeepsExistingEnvironment(t *testing.T) {
	const key = "AERO_ROOM_DOTENV_TEST_EXISTING"
	t.Setenv(key, "from-env")

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(key+"=from-file\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := loadDotEnv(path); err != nil {
		t.Fatalf("loadDotEnv: %v", err)
	}
	if got := os.Getenv(key); got != "from-env" {
		t.Fatalf("%s=%q, want from-env", key, got)
	}
}
