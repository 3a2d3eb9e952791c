package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alecthomas/kong"

	"github.com/shineum/research-mailer/internal/config"
	"github.com/shineum/research-mailer/internal/dispatch"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q): got %v, want %v", in, got, want)
		}
	}
}

func TestCLIParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		args    []string
		command string
		check   func(t *testing.T, cli *CLI)
	}{
		{
			name:    "serve is the default",
			args:    nil,
			command: "serve",
			check: func(t *testing.T, cli *CLI) {
				if len(cli.EnvFile) != 1 || cli.EnvFile[0] != ".env" {
					t.Errorf("EnvFile: got %v, want [.env]", cli.EnvFile)
				}
			},
		},
		{
			name:    "send markdown",
			args:    []string{"--env-file", "prod.env", "send", "report.md", "--markdown", "--subject", "Weekly"},
			command: "send <file>",
			check: func(t *testing.T, cli *CLI) {
				if !strings.HasSuffix(cli.Send.File, "report.md") {
					t.Errorf("File: got %q", cli.Send.File)
				}
				if !cli.Send.Markdown || cli.Send.Subject != "Weekly" {
					t.Errorf("Send: got %+v", cli.Send)
				}
				if len(cli.EnvFile) != 1 || !strings.HasSuffix(cli.EnvFile[0], "prod.env") {
					t.Errorf("EnvFile: got %v", cli.EnvFile)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var cli CLI
			parser, err := kong.New(&cli, kong.Name("research-mailer"))
			if err != nil {
				t.Fatalf("kong.New: %v", err)
			}
			kctx, err := parser.Parse(tt.args)
			if err != nil {
				t.Fatalf("Parse(%v): %v", tt.args, err)
			}
			if kctx.Command() != tt.command {
				t.Errorf("command: got %q, want %q", kctx.Command(), tt.command)
			}
			tt.check(t, &cli)
		})
	}
}

func TestLoadEnvFiles(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.env")
	second := filepath.Join(dir, "second.env")
	if err := os.WriteFile(first, []byte("EMAIL_FROM=first@x.com\nEMAIL_TO=first-to@x.com\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(second, []byte("EMAIL_FROM=second@x.com\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("EMAIL_FROM", "process@x.com")
	t.Setenv("EMAIL_TO", "process-to@x.com")

	if err := loadEnvFiles([]string{first, filepath.Join(dir, "missing.env"), second}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Files override the process environment, later files win.
	if got := os.Getenv("EMAIL_FROM"); got != "second@x.com" {
		t.Errorf("EMAIL_FROM: got %q, want %q", got, "second@x.com")
	}
	if got := os.Getenv("EMAIL_TO"); got != "first-to@x.com" {
		t.Errorf("EMAIL_TO: got %q, want %q", got, "first-to@x.com")
	}
}

func TestLoadEnvFiles_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.env")
	if err := os.WriteFile(path, []byte("EMAIL_FROM='unterminated\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("EMAIL_FROM", "")

	if err := loadEnvFiles([]string{path}); err == nil {
		t.Error("expected error for malformed env file")
	}
}

func TestSelectTransport(t *testing.T) {
	t.Parallel()

	tests := []struct {
		provider string
		want     string
	}{
		{provider: config.ProviderSendGrid, want: "sendgrid"},
		{provider: config.ProviderSES, want: "ses"},
		{provider: config.ProviderResend, want: "resend"},
		{provider: config.ProviderGraph, want: "msgraph"},
		{provider: config.ProviderStdout, want: "stdout"},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			t.Parallel()

			cfg := &config.Config{Provider: tt.provider}
			cfg.SES.Region = "us-east-1"
			tr, err := selectTransport(context.Background(), cfg)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tr.Name() != tt.want {
				t.Errorf("Name(): got %q, want %q", tr.Name(), tt.want)
			}
		})
	}

	if _, err := selectTransport(context.Background(), &config.Config{Provider: "mailgun"}); err == nil {
		t.Error("expected error for unknown provider")
	}
}

// sendGridRecorder is a fake SendGrid endpoint that records requests.
type sendGridRecorder struct {
	calls atomic.Int32

	mu   sync.Mutex
	body []byte
}

func (r *sendGridRecorder) lastBody() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.body
}

func newSendGridServer(t *testing.T, status int) (*httptest.Server, *sendGridRecorder) {
	t.Helper()
	rec := &sendGridRecorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.calls.Add(1)
		body, _ := io.ReadAll(r.Body)
		rec.mu.Lock()
		rec.body = body
		rec.mu.Unlock()
		w.Header().Set("X-Message-Id", "sg-msg-1")
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

type sendGridPayload struct {
	Subject string `json:"subject"`
	Content []struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	} `json:"content"`
}

func decodePayload(t *testing.T, body []byte) sendGridPayload {
	t.Helper()
	var payload sendGridPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decoding request: %v", err)
	}
	return payload
}

func sendGridConfig(host string) *config.Config {
	cfg := &config.Config{Provider: config.ProviderSendGrid}
	cfg.Email.From = "a@x.com"
	cfg.Email.To = "b@x.com"
	cfg.SendGrid.APIKey = "k1"
	cfg.SendGrid.Host = host
	return cfg
}

func TestSendCmd_Markdown(t *testing.T) {
	t.Parallel()

	srv, rec := newSendGridServer(t, http.StatusAccepted)

	file := filepath.Join(t.TempDir(), "weekly.md")
	if err := os.WriteFile(file, []byte("# Weekly Report\n\nAll good."), 0o600); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	cmd := &SendCmd{File: file, Markdown: true}
	err := cmd.Run(&runContext{ctx: context.Background(), cfg: sendGridConfig(srv.URL), stdout: &out})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if rec.calls.Load() != 1 {
		t.Errorf("requests: got %d, want 1", rec.calls.Load())
	}

	var result dispatch.Result
	if err := json.Unmarshal(out.Bytes(), &result); err != nil {
		t.Fatalf("decoding output %q: %v", out.String(), err)
	}
	if result.Status != "success" || result.StatusCode != http.StatusAccepted || result.MessageID != "sg-msg-1" {
		t.Errorf("result: got %+v", result)
	}

	payload := decodePayload(t, rec.lastBody())
	if payload.Subject != "Weekly Report" {
		t.Errorf("subject: got %q, want %q", payload.Subject, "Weekly Report")
	}
	if len(payload.Content) != 1 || payload.Content[0].Type != "text/html" ||
		!strings.Contains(payload.Content[0].Value, "<h1>Weekly Report</h1>") {
		t.Errorf("content: got %+v", payload.Content)
	}
}

func TestSendCmd_HTMLPassthrough(t *testing.T) {
	t.Parallel()

	srv, rec := newSendGridServer(t, http.StatusAccepted)

	file := filepath.Join(t.TempDir(), "report.html")
	if err := os.WriteFile(file, []byte("<h1>Hi</h1>"), 0o600); err != nil {
		t.Fatal(err)
	}

	cmd := &SendCmd{File: file}
	err := cmd.Run(&runContext{ctx: context.Background(), cfg: sendGridConfig(srv.URL), stdout: io.Discard})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	payload := decodePayload(t, rec.lastBody())
	if payload.Subject != "report" {
		t.Errorf("subject should fall back to the file name, got %q", payload.Subject)
	}
	if len(payload.Content) != 1 || payload.Content[0].Value != "<h1>Hi</h1>" {
		t.Errorf("body not passed through unmodified: %+v", payload.Content)
	}
}

func TestSendCmd_SavedMessage(t *testing.T) {
	t.Parallel()

	srv, rec := newSendGridServer(t, http.StatusAccepted)

	raw := "From: a@x.com\r\n" +
		"To: b@x.com\r\n" +
		"Subject: Saved Report\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		"<h1>Saved</h1>"
	file := filepath.Join(t.TempDir(), "saved.eml")
	if err := os.WriteFile(file, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}

	cmd := &SendCmd{File: file}
	err := cmd.Run(&runContext{ctx: context.Background(), cfg: sendGridConfig(srv.URL), stdout: io.Discard})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	payload := decodePayload(t, rec.lastBody())
	if payload.Subject != "Saved Report" {
		t.Errorf("subject: got %q, want %q", payload.Subject, "Saved Report")
	}
	if len(payload.Content) != 1 || payload.Content[0].Value != "<h1>Saved</h1>" {
		t.Errorf("content: got %+v", payload.Content)
	}
}

func TestSendCmd_MissingSender(t *testing.T) {
	t.Parallel()

	srv, rec := newSendGridServer(t, http.StatusAccepted)

	file := filepath.Join(t.TempDir(), "r.html")
	if err := os.WriteFile(file, []byte("<p>x</p>"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := sendGridConfig(srv.URL)
	cfg.Email.From = ""

	err := (&SendCmd{File: file}).Run(&runContext{ctx: context.Background(), cfg: cfg, stdout: io.Discard})
	if !errors.Is(err, dispatch.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
	if !strings.Contains(err.Error(), "sender") {
		t.Errorf("error should name the sender: %v", err)
	}
	if rec.calls.Load() != 0 {
		t.Errorf("requests: got %d, want 0", rec.calls.Load())
	}
}

func TestSendCmd_ProviderRejects(t *testing.T) {
	t.Parallel()

	srv, rec := newSendGridServer(t, http.StatusUnauthorized)

	file := filepath.Join(t.TempDir(), "r.html")
	if err := os.WriteFile(file, []byte("<p>x</p>"), 0o600); err != nil {
		t.Fatal(err)
	}

	err := (&SendCmd{File: file}).Run(&runContext{ctx: context.Background(), cfg: sendGridConfig(srv.URL), stdout: io.Discard})
	var terr *dispatch.TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("expected *TransportError, got %v", err)
	}
	if terr.StatusCode != http.StatusUnauthorized {
		t.Errorf("StatusCode: got %d, want 401", terr.StatusCode)
	}
	if rec.calls.Load() != 1 {
		t.Errorf("requests: got %d, want 1", rec.calls.Load())
	}
}

func TestSendCmd_MissingFile(t *testing.T) {
	t.Parallel()

	err := (&SendCmd{File: "/nonexistent/report.md"}).Run(&runContext{
		ctx:    context.Background(),
		cfg:    sendGridConfig("http://127.0.0.1:1"),
		stdout: io.Discard,
	})
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestListenHost(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		":7860":             "",
		"0.0.0.0:7860":      "0.0.0.0",
		"research.lan:8443": "research.lan",
		"bad":               "",
	}
	for in, want := range tests {
		if got := listenHost(in); got != want {
			t.Errorf("listenHost(%q): got %q, want %q", in, got, want)
		}
	}
}

func TestServeCmd_MetricsListenerFailureStopsServer(t *testing.T) {
	t.Parallel()

	taken, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer taken.Close()

	cfg := sendGridConfig("http://127.0.0.1:1")
	cfg.HTTP.Listen = "127.0.0.1:0"
	cfg.HTTP.MetricsListen = taken.Addr().String()

	errCh := make(chan error, 1)
	go func() {
		errCh <- (&ServeCmd{}).Run(&runContext{ctx: context.Background(), cfg: cfg, stdout: io.Discard})
	}()

	select {
	case err := <-errCh:
		if err == nil || !strings.Contains(err.Error(), "metrics listener") {
			t.Errorf("error: got %v, want metrics listener failure", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop after the metrics listener failed")
	}
}

func TestServeCmd_StopsOnCancel(t *testing.T) {
	t.Parallel()

	cfg := sendGridConfig("http://127.0.0.1:1")
	cfg.HTTP.Listen = "127.0.0.1:0"
	cfg.HTTP.MetricsListen = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- (&ServeCmd{}).Run(&runContext{ctx: ctx, cfg: cfg, stdout: io.Discard})
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop after cancellation")
	}
}
