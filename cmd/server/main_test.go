package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcarmo/go-dib/internal/config"
	"github.com/rcarmo/go-dib/internal/logging"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Host:         "localhost",
			Port:         "8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Decoder: config.DecoderConfig{
			MaxWidth:      256,
			MaxHeight:     256,
			MaxFrameBytes: 1 << 20,
			DefaultOrder:  "abgr",
		},
		Security: config.SecurityConfig{
			AllowedOrigins:     []string{"https://example.com"},
			MaxConnections:     10,
			EnableRateLimit:    true,
			RateLimitPerMinute: 60,
		},
		Logging: config.LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func TestCreateServer(t *testing.T) {
	server, err := createServer(testConfig())

	require.NoError(t, err)
	require.NotNil(t, server)
	assert.Equal(t, "localhost:8080", server.Addr)
	assert.Equal(t, 30*time.Second, server.ReadTimeout)
	assert.Equal(t, 30*time.Second, server.WriteTimeout)
	assert.Equal(t, 120*time.Second, server.IdleTimeout)
}

func TestCreateServerBadOrder(t *testing.T) {
	cfg := testConfig()
	cfg.Decoder.DefaultOrder = "cmyk"

	_, err := createServer(cfg)
	assert.Error(t, err)
}

func TestCreateServerRoutes(t *testing.T) {
	server, err := createServer(testConfig())
	require.NoError(t, err)

	ts := httptest.NewServer(server.Handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/decode"
	conn, wsResp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if wsResp != nil && wsResp.Body != nil {
		wsResp.Body.Close()
	}
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"width":1,"height":1,"depth":24}`)))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0x10, 0x20, 0x30, 0x00}))

	_, reply, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(reply), `"ok":true`)

	_, pixels, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x30, 0x20, 0x10, 0xFF}, pixels)
}

func TestApplySecurityMiddleware(t *testing.T) {
	testHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	middleware := applySecurityMiddleware(testHandler, testConfig())
	require.NotNil(t, middleware)

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Origin", "https://example.com")
	rr := httptest.NewRecorder()

	middleware.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "OK", rr.Body.String())
	assert.Equal(t, "https://example.com", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
}

func TestApplySecurityMiddlewareNilConfig(t *testing.T) {
	testHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rr := httptest.NewRecorder()
	applySecurityMiddleware(testHandler, nil).ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))

	assert.Equal(t, http.StatusTeapot, rr.Code)
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
}

func TestApplySecurityMiddlewareRateLimitDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Security.EnableRateLimit = false
	cfg.Security.RateLimitPerMinute = 1

	testHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	middleware := applySecurityMiddleware(testHandler, cfg)

	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		middleware.ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
	}
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	testHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rr := httptest.NewRecorder()
	securityHeadersMiddleware(testHandler).ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))

	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", rr.Header().Get("Referrer-Policy"))
	assert.Contains(t, rr.Header().Get("Content-Security-Policy"), "default-src 'none'")
}

func TestCorsMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		allowedOrigins []string
		origin         string
		expectCORS     bool
	}{
		{"allowed origin", []string{"https://example.com"}, "https://example.com", true},
		{"disallowed origin", []string{"https://example.com"}, "https://malicious.com", false},
		{"no allow-list, same host", nil, "http://example.com", true},
		{"no allow-list, other host", nil, "http://other.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest("GET", "http://example.com/", nil)
			req.Header.Set("Origin", tt.origin)
			rr := httptest.NewRecorder()

			corsMiddleware(testHandler, tt.allowedOrigins).ServeHTTP(rr, req)

			assert.Equal(t, http.StatusOK, rr.Code)
			if tt.expectCORS {
				assert.Equal(t, tt.origin, rr.Header().Get("Access-Control-Allow-Origin"))
				assert.Equal(t, "GET, OPTIONS", rr.Header().Get("Access-Control-Allow-Methods"))
			} else {
				assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
			}
		})
	}
}

func TestCorsMiddlewareOptionsRequest(t *testing.T) {
	called := false
	testHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://example.com")
	rr := httptest.NewRecorder()

	corsMiddleware(testHandler, []string{"https://example.com"}).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.False(t, called)
}

func TestIsOriginAllowed(t *testing.T) {
	tests := []struct {
		name    string
		origin  string
		allowed []string
		host    string
		want    bool
	}{
		{"empty origin", "", []string{"https://example.com"}, "example.com", false},
		{"exact match", "https://example.com", []string{"https://example.com"}, "x", true},
		{"whitespace in list", "https://example.com", []string{" https://example.com "}, "x", true},
		{"not in list", "https://evil.com", []string{"https://example.com"}, "evil.com", false},
		{"same host fallback", "http://localhost:8080", nil, "localhost:8080", true},
		{"different host fallback", "http://other:8080", nil, "localhost:8080", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isOriginAllowed(tt.origin, tt.allowed, tt.host))
		})
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	testHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	middleware := rateLimitMiddleware(testHandler, 2)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rr := httptest.NewRecorder()
		middleware.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// other clients have their own budget
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	rr := httptest.NewRecorder()
	middleware.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestClientLimitersRefill(t *testing.T) {
	now := time.Unix(1000, 0)
	limiters := newClientLimiters(2)

	assert.True(t, limiters.allow("a", now))
	assert.True(t, limiters.allow("a", now))
	assert.False(t, limiters.allow("a", now))
	assert.True(t, limiters.allow("b", now))

	// one token every 30s at 2 per minute
	assert.True(t, limiters.allow("a", now.Add(31*time.Second)))
	assert.False(t, limiters.allow("a", now.Add(31*time.Second)))
	assert.Same(t, limiters.get("a"), limiters.get("a"))
}

func TestClientLimitersUnlimited(t *testing.T) {
	limiters := newClientLimiters(0)
	now := time.Unix(1000, 0)

	for i := 0; i < 100; i++ {
		require.True(t, limiters.allow("a", now))
	}
}

func TestClientLimitersBounded(t *testing.T) {
	limiters := newClientLimiters(1)
	now := time.Unix(1000, 0)

	for i := 0; i < maxTrackedClients+5; i++ {
		limiters.allow(fmt.Sprintf("10.0.%d.%d", i/256, i%256), now)
	}
	assert.LessOrEqual(t, len(limiters.clients), maxTrackedClients)
}

func TestClientKey(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)

	req.RemoteAddr = "192.0.2.1:5555"
	assert.Equal(t, "192.0.2.1", clientKey(req))

	req.RemoteAddr = "[2001:db8::1]:443"
	assert.Equal(t, "[2001:db8::1]", clientKey(req))

	req.RemoteAddr = "pipe"
	assert.Equal(t, "pipe", clientKey(req))
}

func TestSetupLogging(t *testing.T) {
	defer logging.Default().SetOutput(os.Stderr)
	defer logging.SetLevel(logging.LevelInfo)

	for _, level := range []string{"debug", "info", "warn", "error"} {
		t.Run(level, func(t *testing.T) {
			closer, err := setupLogging(config.LoggingConfig{Level: level, Format: "text"})
			require.NoError(t, err)
			assert.NoError(t, closer.Close())
			assert.Equal(t, strings.ToUpper(level), logging.GetLevelString())
		})
	}
}

func TestSetupLoggingFile(t *testing.T) {
	defer logging.Default().SetOutput(os.Stderr)
	defer logging.Default().SetFormat("text")

	path := filepath.Join(t.TempDir(), "server.log")
	closer, err := setupLogging(config.LoggingConfig{Level: "info", Format: "json", File: path})
	require.NoError(t, err)

	logging.Info("hello %s", "file")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello file"`)
}

func TestSetupLoggingBadFile(t *testing.T) {
	_, err := setupLogging(config.LoggingConfig{
		Level: "info",
		File:  filepath.Join(t.TempDir(), "missing", "server.log"),
	})
	assert.Error(t, err)
}

func TestRequestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logging.Default().SetOutput(&buf)
	defer logging.Default().SetOutput(os.Stderr)

	testHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rr := httptest.NewRecorder()
	requestLoggingMiddleware(testHandler).ServeHTTP(rr, httptest.NewRequest("GET", "/healthz", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, buf.String(), "GET /healthz")
}

func TestStartServer(t *testing.T) {
	cfg := testConfig()
	cfg.Server.Port = "0"

	server, err := createServer(cfg)
	require.NoError(t, err)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- startServer(server, cfg)
	}()

	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, server.Shutdown(ctx))

	select {
	case err := <-serverErr:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("server shutdown timed out")
	}
}

func TestStartServerNilServer(t *testing.T) {
	err := startServer(nil, testConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server is nil")
}

func TestStartServerInvalidAddress(t *testing.T) {
	server := &http.Server{Addr: "invalid-address:99999"}
	assert.Error(t, startServer(server, nil))
}

func TestShowHelp(t *testing.T) {
	var buf bytes.Buffer
	showHelp(&buf)

	output := buf.String()
	assert.Contains(t, output, appName)
	assert.Contains(t, output, "-order")
	assert.Contains(t, output, "/decode")
	assert.Contains(t, output, "DIB_MAX_FRAME_BYTES")
}

func TestShowVersion(t *testing.T) {
	var buf bytes.Buffer
	showVersion(&buf)

	assert.Equal(t, appName+" "+appVersion+"\n", buf.String())
}

func TestRunHelp(t *testing.T) {
	var buf bytes.Buffer
	assert.Equal(t, 0, run([]string{"-help"}, &buf))
	assert.Contains(t, buf.String(), "USAGE")
}

func TestRunVersion(t *testing.T) {
	var buf bytes.Buffer
	assert.Equal(t, 0, run([]string{"-version"}, &buf))
	assert.Contains(t, buf.String(), appVersion)
}

func TestRunBadFlag(t *testing.T) {
	var buf bytes.Buffer
	assert.Equal(t, 2, run([]string{"-no-such-flag"}, &buf))
}

func TestRunInvalidConfig(t *testing.T) {
	var buf bytes.Buffer
	assert.Equal(t, 1, run([]string{"-order", "cmyk"}, &buf))
	assert.Equal(t, 1, run([]string{"-port", "70000"}, &buf))
}
