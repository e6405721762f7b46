package main

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	sc "github.com/linnemanlabs/signalos/internal/cfg"
	"github.com/linnemanlabs/signalos/internal/dedup"
	"github.com/linnemanlabs/signalos/internal/scoring"
)

func TestNotifySystemd_NoSocket(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")

	err := notifySystemd()
	if err == nil {
		t.Fatal("expected error when NOTIFY_SOCKET is empty")
	}
	if !strings.Contains(err.Error(), "NOTIFY_SOCKET not set") {
		t.Errorf("error = %q, want substring %q", err, "NOTIFY_SOCKET not set")
	}
}

func TestNotifySystemd_InvalidPath(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", filepath.Join(t.TempDir(), "nonexistent.sock"))

	err := notifySystemd()
	if err == nil {
		t.Fatal("expected error for nonexistent socket")
	}
	if !strings.Contains(err.Error(), "dial failed") {
		t.Errorf("error = %q, want substring %q", err, "dial failed")
	}
}

func TestNotifySystemd_Success(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "notify.sock")

	// Create a real unixgram listener.
	var lc net.ListenConfig
	conn, err := lc.ListenPacket(context.Background(), "unixgram", sockPath)
	if err != nil {
		t.Fatalf("listen unixgram: %v", err)
	}
	defer func() { _ = conn.Close() }()

	t.Setenv("NOTIFY_SOCKET", sockPath)

	if err := notifySystemd(); err != nil {
		t.Fatalf("notifySystemd() = %v, want nil", err)
	}

	buf := make([]byte, 256)
	n, _, err := conn.ReadFrom(buf)
	if err != nil {
		t.Fatalf("read from socket: %v", err)
	}

	got := string(buf[:n])
	if got != "READY=1" {
		t.Errorf("payload = %q, want %q", got, "READY=1")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()

	if err := loadDotEnv(filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("missing file: %v", err)
	}

	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("SIGNALOS_TEST_DOTENV=from-file\nSIGNALOS_TEST_DOTENV_SET=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SIGNALOS_TEST_DOTENV_SET", "from-env")
	t.Setenv("SIGNALOS_TEST_DOTENV", "")
	_ = os.Unsetenv("SIGNALOS_TEST_DOTENV")

	if err := loadDotEnv(path); err != nil {
		t.Fatalf("loadDotEnv: %v", err)
	}
	if got := os.Getenv("SIGNALOS_TEST_DOTENV"); got != "from-file" {
		t.Errorf("SIGNALOS_TEST_DOTENV = %q, want from-file", got)
	}
	if got := os.Getenv("SIGNALOS_TEST_DOTENV_SET"); got != "from-env" {
		t.Errorf("SIGNALOS_TEST_DOTENV_SET = %q, want existing value kept", got)
	}
}

func TestLoadModel(t *testing.T) {
	t.Parallel()

	m, err := loadModel("")
	if err != nil {
		t.Fatalf("loadModel(\"\"): %v", err)
	}
	if m != scoring.DefaultModel() {
		t.Errorf("default model = %+v", m)
	}

	path := filepath.Join(t.TempDir(), "profile.yaml")
	if err := os.WriteFile(path, []byte("weights:\n  impact: 0.5\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	m, err = loadModel(path)
	if err != nil {
		t.Fatalf("loadModel(profile): %v", err)
	}
	if m.Weights.Impact != 0.5 {
		t.Errorf("impact weight = %v, want 0.5", m.Weights.Impact)
	}

	if _, err := loadModel(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing profile")
	}
}

func TestBuildCache_Memory(t *testing.T) {
	t.Parallel()

	c, closeFn, err := buildCache(context.Background(), sc.Config{DedupCacheSize: 10, DedupTTL: time.Hour})
	if err != nil {
		t.Fatalf("buildCache: %v", err)
	}
	defer closeFn()
	if _, ok := c.(*dedup.Memory); !ok {
		t.Errorf("cache type = %T, want *dedup.Memory", c)
	}
}

func TestBuildCache_RedisUnreachable(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := buildCache(ctx, sc.Config{RedisURL: "redis://127.0.0.1:1/0", DedupTTL: time.Hour})
	if err == nil || !strings.Contains(err.Error(), "redis ping") {
		t.Errorf("err = %v, want redis ping failure", err)
	}
}

func TestWaitFunc(t *testing.T) {
	t.Parallel()

	if err := waitFunc(func() {})(context.Background()); err != nil {
		t.Errorf("completed wait: %v", err)
	}

	block := make(chan struct{})
	defer close(block)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := waitFunc(func() { <-block })(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("blocked wait = %v, want deadline exceeded", err)
	}
}
