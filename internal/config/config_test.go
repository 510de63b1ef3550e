package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.BindHost)
	assert.Equal(t, 12345, cfg.TCPPort)
	assert.Equal(t, "0.0.0.0:12345", cfg.ListenAddr())
	assert.Equal(t, HandlerStatic, cfg.Handler)
	assert.Equal(t, "web_resources", cfg.DocumentRoot)
	assert.Equal(t, 1000, cfg.WorkerCount)
	assert.Zero(t, cfg.MaxConnections)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout.Std())
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout.Std())
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_TOMLFile(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeFile(t, "turbine.toml", `
document_root = "/srv/www"
tcp_port = 8080
read_timeout = "2s"
max_connections = 64
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/www", cfg.DocumentRoot)
	assert.Equal(t, 8080, cfg.TCPPort)
	assert.Equal(t, 2*time.Second, cfg.ReadTimeout.Std())
	assert.Equal(t, 64, cfg.MaxConnections)
	// untouched keys keep their defaults
	assert.Equal(t, 1000, cfg.WorkerCount)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeFile(t, "turbine.toml", `tcp_port = 8080`)
	t.Setenv("TCP_PORT", "9090")
	t.Setenv("HANDLER", "drain")
	t.Setenv("SHUTDOWN_TIMEOUT", "250ms")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.TCPPort)
	assert.Equal(t, HandlerDrain, cfg.Handler)
	assert.Equal(t, 250*time.Millisecond, cfg.ShutdownTimeout.Std())
}

func TestLoadConfig_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("WORKER_COUNT=7\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("WORKER_COUNT") })

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.WorkerCount)
}

func TestLoadConfig_Errors(t *testing.T) {
	t.Chdir(t.TempDir())

	t.Run("explicit file missing", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
		assert.Error(t, err)
	})

	t.Run("not a toml file", func(t *testing.T) {
		path := writeFile(t, "turbine.yaml", "tcp_port: 1")
		_, err := LoadConfig(path)
		assert.ErrorContains(t, err, "not a toml file")
	})

	t.Run("unknown key", func(t *testing.T) {
		path := writeFile(t, "turbine.toml", `documentroot = "x"`)
		_, err := LoadConfig(path)
		assert.Error(t, err)
	})

	t.Run("bad env int", func(t *testing.T) {
		t.Setenv("TCP_PORT", "twelve")
		_, err := LoadConfig("")
		assert.ErrorContains(t, err, "TCP_PORT")
	})

	t.Run("bad env duration", func(t *testing.T) {
		t.Setenv("READ_TIMEOUT", "soon")
		_, err := LoadConfig("")
		assert.ErrorContains(t, err, "READ_TIMEOUT")
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"port out of range", func(c *Config) { c.TCPPort = 70000 }, "TCP_PORT"},
		{"bad host", func(c *Config) { c.BindHost = "not a host" }, "BIND_HOST"},
		{"unknown handler", func(c *Config) { c.Handler = "echo" }, "HANDLER"},
		{"static without root", func(c *Config) { c.DocumentRoot = "" }, "DOCUMENT_ROOT"},
		{"negative max connections", func(c *Config) { c.MaxConnections = -1 }, "MAX_CONNECTIONS"},
		{"negative workers", func(c *Config) { c.WorkerCount = -1 }, "WORKER_COUNT"},
		{"zero read timeout", func(c *Config) { c.ReadTimeout = 0 }, "READ_TIMEOUT"},
		{"bad log level", func(c *Config) { c.LogLevel = "trace" }, "LOG_LEVEL"},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, "LOG_FORMAT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}

	t.Run("drain handler needs no root", func(t *testing.T) {
		cfg := Default()
		cfg.Handler = HandlerDrain
		cfg.DocumentRoot = ""
		assert.NoError(t, cfg.Validate())
	})
}

func TestTOMLRoundTrip(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg := Default()
	cfg.DocumentRoot = "/var/www"
	cfg.ReadTimeout = Duration(3 * time.Second)

	out, err := cfg.TOML()
	require.NoError(t, err)
	assert.Regexp(t, `read_timeout = ['"]3s['"]`, string(out))

	path := writeFile(t, "turbine.toml", string(out))
	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
