package stdio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/actionbridge/actionbridge/internal/adapter/outbound/httpapi"
	"github.com/actionbridge/actionbridge/internal/adapter/outbound/memory"
	"github.com/actionbridge/actionbridge/internal/domain/auth"
	"github.com/actionbridge/actionbridge/internal/domain/catalog"
	"github.com/actionbridge/actionbridge/internal/domain/session"
	"github.com/actionbridge/actionbridge/internal/service"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newGateway(t *testing.T) (*service.GatewayService, string) {
	t.Helper()

	store := memory.NewCatalogStore()
	raw, prefix, hash, err := auth.Mint()
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if err := store.SaveKey(context.Background(), &catalog.APIKey{
		ID:        "key-1",
		AccountID: "acct-1",
		Name:      "test key",
		KeyPrefix: prefix,
		KeyHash:   hash,
		Mode:      catalog.ModePower,
	}); err != nil {
		t.Fatalf("SaveKey: %v", err)
	}

	creds := memory.NewCredentialStore()
	exec := service.NewExecutorService(httpapi.NewCaller(), httpapi.NewOAuthRefresher(creds),
		creds, service.WithExecutorLogger(testLogger()))
	audits := service.NewAuditService(memory.NewAuditStore(), service.WithAuditLogger(testLogger()))
	registries := service.NewRegistryService(store, exec, audits, service.WithRegistryLogger(testLogger()))
	gw := service.NewGatewayService(store, registries, audits, session.Config{},
		service.WithGatewayLogger(testLogger()),
		service.WithGatewayVersion("test"),
	)
	t.Cleanup(gw.Shutdown)
	return gw, raw
}

// harness runs a Transport against pipes and hands back the client ends.
type harness struct {
	stdin  *io.PipeWriter
	stdout *bufio.Reader
	done   chan error
}

func startHarness(t *testing.T, gw *service.GatewayService, rawKey string) *harness {
	t.Helper()

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	tr := NewTransport(gw, rawKey, WithIO(inR, outW), WithLogger(testLogger()))

	h := &harness{stdin: inW, stdout: bufio.NewReader(outR), done: make(chan error, 1)}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		h.done <- tr.Start(ctx)
		close(h.done)
		_ = outW.Close()
	}()
	t.Cleanup(func() {
		cancel()
		_ = inW.Close()
		_ = inR.Close()
		_ = outR.Close()
		select {
		case <-h.done:
		case <-time.After(2 * time.Second):
			t.Error("transport did not stop")
		}
	})
	return h
}

func (h *harness) send(t *testing.T, payload string) {
	t.Helper()
	frame := fmt.Sprintf("Content-Length: %d\r\n\r\n%s", len(payload), payload)
	if _, err := io.WriteString(h.stdin, frame); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

// recv reads one framed response from the transport's output.
func (h *harness) recv(t *testing.T) []byte {
	t.Helper()
	length := -1
	for {
		line, err := h.stdout.ReadString('\n')
		if err != nil {
			t.Fatalf("read header: %v", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			t.Fatalf("malformed header %q", line)
		}
		if strings.EqualFold(name, "Content-Length") {
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil {
				t.Fatalf("bad Content-Length %q", value)
			}
			length = n
		}
	}
	if length < 0 {
		t.Fatal("response frame missing Content-Length")
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(h.stdout, body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	return body
}

func TestInitializeRoundTrip(t *testing.T) {
	gw, raw := newGateway(t)
	h := startHarness(t, gw, raw)

	h.send(t, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`)
	body := h.recv(t)

	var resp struct {
		Result struct {
			ServerInfo struct {
				Name string `json:"name"`
			} `json:"serverInfo"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Result.ServerInfo.Name != "ActionBridge" {
		t.Errorf("serverInfo.name = %q, want %q", resp.Result.ServerInfo.Name, "ActionBridge")
	}
}

func TestNotificationProducesNoReply(t *testing.T) {
	gw, raw := newGateway(t)
	h := startHarness(t, gw, raw)

	h.send(t, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	h.send(t, `{"jsonrpc":"2.0","id":2,"method":"ping"}`)

	body := h.recv(t)
	var resp struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(resp.ID) != "2" {
		t.Errorf("first reply id = %s, want 2 (notification must not be answered)", resp.ID)
	}
}

func TestUnknownHeadersSkipped(t *testing.T) {
	gw, raw := newGateway(t)
	h := startHarness(t, gw, raw)

	payload := `{"jsonrpc":"2.0","id":1,"method":"ping"}`
	frame := fmt.Sprintf("Content-Type: application/vscode-jsonrpc; charset=utf-8\r\nContent-Length: %d\r\n\r\n%s",
		len(payload), payload)
	if _, err := io.WriteString(h.stdin, frame); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	body := h.recv(t)
	if !bytes.Contains(body, []byte(`"result"`)) {
		t.Errorf("ping response = %s, want a result", body)
	}
}

func TestMissingContentLength(t *testing.T) {
	gw, raw := newGateway(t)
	h := startHarness(t, gw, raw)

	if _, err := io.WriteString(h.stdin, "X-Custom: 1\r\n\r\n"); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	body := h.recv(t)
	var resp struct {
		Error *struct {
			Code int `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != -32700 {
		t.Fatalf("error reply = %s, want code -32700", body)
	}

	select {
	case err := <-h.done:
		if !errors.Is(err, ErrMissingLength) {
			t.Errorf("Start returned %v, want ErrMissingLength", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after framing error")
	}
}

func TestCleanEOF(t *testing.T) {
	gw, raw := newGateway(t)
	h := startHarness(t, gw, raw)

	h.send(t, `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	h.recv(t)

	if err := h.stdin.Close(); err != nil {
		t.Fatalf("close stdin: %v", err)
	}
	select {
	case err := <-h.done:
		if err != nil {
			t.Errorf("Start returned %v after EOF, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after EOF")
	}
}

func TestAuthenticationFailure(t *testing.T) {
	gw, _ := newGateway(t)
	tr := NewTransport(gw, "ak_live_00000000000000000000000000000000",
		WithIO(strings.NewReader(""), io.Discard), WithLogger(testLogger()))
	if err := tr.Start(context.Background()); err == nil {
		t.Fatal("Start with an unknown key succeeded, want error")
	}
}
