package command

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"turbine/internal/config"
)

// syncBuffer lets the server goroutines log while the test reads.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.BindHost = "127.0.0.1"
	cfg.TCPPort = freePort(t)
	cfg.DocumentRoot = t.TempDir()
	cfg.WorkerCount = 8
	cfg.ShutdownTimeout = config.Duration(2 * time.Second)
	cfg.LogLevel = "debug"
	require.NoError(t, cfg.Validate())
	return cfg
}

func runCommand(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestVersionCommand(t *testing.T) {
	code, out, _ := runCommand(t, "version")
	assert.Equal(t, 0, code)
	assert.True(t, strings.HasPrefix(out, "turbine dev ("), out)
}

func TestConfigCommand_FlagsOverrideEnvAndFile(t *testing.T) {
	t.Chdir(t.TempDir())
	require.NoError(t, os.WriteFile("turbine.toml", []byte("tcp_port = 1000\ndocument_root = 'site'\n"), 0o644))
	t.Setenv("TCP_PORT", "2000")

	code, out, errOut := runCommand(t, "config", "--port", "3000", "--handler", "drain")
	require.Equal(t, 0, code, errOut)

	assert.Contains(t, out, "tcp_port = 3000")
	assert.Regexp(t, regexp.MustCompile(`handler = ['"]drain['"]`), out)
	assert.Regexp(t, regexp.MustCompile(`document_root = ['"]site['"]`), out)
}

func TestConfigCommand_Errors(t *testing.T) {
	t.Chdir(t.TempDir())

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing explicit config file", []string{"config", "--config-file", "nope.toml"}, "nope.toml"},
		{"unknown handler", []string{"config", "--handler", "echo"}, "HANDLER must be one of"},
		{"port out of range", []string{"config", "--port", "70000"}, "TCP_PORT must be between"},
		{"unexpected argument", []string{"serve"}, "unknown command"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, errOut := runCommand(t, tt.args...)
			assert.Equal(t, 1, code)
			assert.Contains(t, errOut, tt.want)
		})
	}
}

func TestRootCommand_BindFailureExitsNonZero(t *testing.T) {
	t.Chdir(t.TempDir())
	require.NoError(t, os.Mkdir("web_resources", 0o755))

	occupied, err := net.Listen("tcp", "0.0.0.0:0")
	require.NoError(t, err)
	defer occupied.Close()
	port := strconv.Itoa(occupied.Addr().(*net.TCPAddr).Port)

	done := make(chan struct{})
	var code int
	var errOut string
	go func() {
		defer close(done)
		code, _, errOut = runCommand(t, "--port", port)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("bind failure did not return promptly")
	}
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "failed to listen on 0.0.0.0:"+port)
}

func TestRun_MissingDocumentRoot(t *testing.T) {
	cfg := testConfig(t)
	cfg.DocumentRoot = filepath.Join(cfg.DocumentRoot, "missing")

	err := Run(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "document root")
}

func TestRun_ServesUntilCancelled(t *testing.T) {
	cfg := testConfig(t)
	cfg.AdminAddr = net.JoinHostPort("127.0.0.1", strconv.Itoa(freePort(t)))
	logs := &syncBuffer{}

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)
	go func() { errChan <- Run(ctx, cfg, newLogger(cfg, logs)) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + cfg.AdminAddr + "/readyz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	conn, err := net.DialTimeout("tcp", cfg.ListenAddr(), time.Second)
	require.NoError(t, err)
	_, err = io.WriteString(conn, "GET / HTTP/1.1\r\nHost: localhost\r\n\r\n")
	require.NoError(t, err)
	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	conn.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "Welcome to turbine")

	code, out, _ := runCommand(t, "probe", "--addr", cfg.ListenAddr())
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "/ 200 OK")

	code, _, errOut := runCommand(t, "probe", "--addr", cfg.ListenAddr(), "--path", "/missing.html")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "unexpected status 404 Not Found")

	cancel()
	select {
	case err := <-errChan:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	// the port is free again
	ln, err := net.Listen("tcp", cfg.ListenAddr())
	require.NoError(t, err)
	ln.Close()

	logOut := logs.String()
	assert.Contains(t, logOut, `"msg":"turbine_started"`)
	assert.Contains(t, logOut, `"msg":"turbine_stopped"`)
}

// TestSigtermShutsDownCleanly runs turbine in a child copy of the test binary
// and stops it the way an operator would.
func TestSigtermShutsDownCleanly(t *testing.T) {
	if os.Getenv("TURBINE_SIGNAL_CHILD") == "1" {
		os.Exit(execute(context.Background(), []string{}, os.Stdout, os.Stderr))
	}
	if runtime.GOOS == "windows" {
		t.Skip("SIGTERM cannot be delivered on windows")
	}

	root := t.TempDir()
	port := strconv.Itoa(freePort(t))
	addr := net.JoinHostPort("127.0.0.1", port)

	child := exec.Command(os.Args[0], "-test.run=^TestSigtermShutsDownCleanly$")
	child.Dir = root
	child.Env = append(os.Environ(),
		"TURBINE_SIGNAL_CHILD=1",
		"BIND_HOST=127.0.0.1",
		"TCP_PORT="+port,
		"DOCUMENT_ROOT="+root,
		"WORKER_COUNT=8",
		"ADMIN_ADDR=",
		"SHUTDOWN_TIMEOUT=2s",
	)
	logs := &syncBuffer{}
	child.Stdout = logs
	child.Stderr = logs
	require.NoError(t, child.Start())
	exited := make(chan error, 1)
	go func() { exited <- child.Wait() }()
	t.Cleanup(func() { child.Process.Kill() })

	require.Eventually(t, func() bool {
		c, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err != nil {
			return false
		}
		c.Close()
		return true
	}, 10*time.Second, 50*time.Millisecond, logs.String())

	// an idle client must not hold up shutdown
	idle, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer idle.Close()

	require.NoError(t, child.Process.Signal(syscall.SIGTERM))
	select {
	case err := <-exited:
		require.NoError(t, err, "exit status must be 0; output:\n%s", logs.String())
	case <-time.After(10 * time.Second):
		t.Fatalf("turbine did not exit after SIGTERM; output:\n%s", logs.String())
	}

	ln, err := net.Listen("tcp", addr)
	require.NoError(t, err, "port must be free immediately after exit")
	ln.Close()
	assert.Contains(t, logs.String(), `"msg":"turbine_stopped"`)
}

func TestNewLogger(t *testing.T) {
	cfg := config.Default()

	var jsonOut bytes.Buffer
	newLogger(cfg, &jsonOut).Info("hello", "k", 1)
	assert.Contains(t, jsonOut.String(), `"msg":"hello"`)
	assert.Contains(t, jsonOut.String(), `"service":"turbine"`)

	cfg.LogFormat = "text"
	cfg.LogLevel = "warn"
	var textOut bytes.Buffer
	l := newLogger(cfg, &textOut)
	l.Info("dropped")
	l.Warn("kept")
	assert.NotContains(t, textOut.String(), "dropped")
	assert.Contains(t, textOut.String(), "msg=kept")
}
