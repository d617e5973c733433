package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/rcarmo/go-dib/internal/config"
	"github.com/rcarmo/go-dib/internal/handler"
	"github.com/rcarmo/go-dib/internal/logging"
)

const (
	appName    = "DIB Decode Server"
	appVersion = "v1.0.0"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, stdout io.Writer) int {
	fs := flag.NewFlagSet("dib-server", flag.ContinueOnError)
	hostFlag := fs.String("host", "", "server listen host")
	portFlag := fs.String("port", "", "server listen port")
	logLevelFlag := fs.String("log-level", "", "log level (debug, info, warn, error)")
	logFormatFlag := fs.String("log-format", "", "log format (text, json)")
	orderFlag := fs.String("order", "", "default pixel order for decoded frames (abgr, argb)")
	helpFlag := fs.Bool("help", false, "show help")
	versionFlag := fs.Bool("version", false, "show version")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *helpFlag {
		showHelp(stdout)
		return 0
	}

	if *versionFlag {
		showVersion(stdout)
		return 0
	}

	opts := config.LoadOptions{
		Host:         strings.TrimSpace(*hostFlag),
		Port:         strings.TrimSpace(*portFlag),
		LogLevel:     strings.TrimSpace(*logLevelFlag),
		LogFormat:    strings.TrimSpace(*logFormatFlag),
		DefaultOrder: strings.TrimSpace(*orderFlag),
	}

	cfg, err := config.LoadWithOverrides(opts)
	if err != nil {
		log.Printf("failed to load config: %v", err)
		return 1
	}

	closer, err := setupLogging(cfg.Logging)
	if err != nil {
		log.Printf("failed to set up logging: %v", err)
		return 1
	}
	defer closer.Close()

	server, err := createServer(cfg)
	if err != nil {
		logging.Error("create server: %v", err)
		return 1
	}

	logging.Info("starting server on %s (TLS=%t)", server.Addr, cfg.Security.EnableTLS)

	if err := startServer(server, cfg); err != nil {
		logging.Error("server: %v", err)
		return 1
	}

	return 0
}

func createServer(cfg *config.Config) (*http.Server, error) {
	decoder, err := handler.NewDecoder(cfg)
	if err != nil {
		return nil, err
	}

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)

	mux := http.NewServeMux()
	mux.Handle("/decode", decoder)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "ok")
	})

	h := applySecurityMiddleware(mux, cfg)
	h = requestLoggingMiddleware(h)

	return &http.Server{
		Addr:         addr,
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}, nil
}

func applySecurityMiddleware(next http.Handler, cfg *config.Config) http.Handler {
	if cfg == nil {
		return securityHeadersMiddleware(corsMiddleware(next, nil))
	}

	h := next
	if cfg.Security.EnableRateLimit {
		h = rateLimitMiddleware(h, cfg.Security.RateLimitPerMinute)
	}
	h = corsMiddleware(h, cfg.Security.AllowedOrigins)
	h = securityHeadersMiddleware(h)

	return h
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; connect-src 'self' ws: wss:")

		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler, allowedOrigins []string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if isOriginAllowed(origin, allowedOrigins, r.Host) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func isOriginAllowed(origin string, allowedOrigins []string, host string) bool {
	if origin == "" {
		return false
	}

	for _, allowed := range allowedOrigins {
		if strings.TrimSpace(allowed) == origin {
			return true
		}
	}

	if len(allowedOrigins) == 0 {
		return strings.Contains(origin, host)
	}

	return false
}

// rateLimitMiddleware gives each client address a token bucket refilled at
// perMinute tokens per minute, with a burst of perMinute.
func rateLimitMiddleware(next http.Handler, perMinute int) http.Handler {
	limiters := newClientLimiters(perMinute)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiters.allow(clientKey(r), time.Now()) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// maxTrackedClients bounds the limiter map; it is reset when full.
const maxTrackedClients = 10000

type clientLimiters struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	clients map[string]*rate.Limiter
}

func newClientLimiters(perMinute int) *clientLimiters {
	limit, burst := rate.Inf, 0
	if perMinute > 0 {
		limit, burst = rate.Every(time.Minute/time.Duration(perMinute)), perMinute
	}

	return &clientLimiters{
		limit:   limit,
		burst:   burst,
		clients: make(map[string]*rate.Limiter),
	}
}

func (c *clientLimiters) get(key string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.clients[key]
	if !ok {
		if len(c.clients) >= maxTrackedClients {
			clear(c.clients)
		}
		l = rate.NewLimiter(c.limit, c.burst)
		c.clients[key] = l
	}
	return l
}

func (c *clientLimiters) allow(key string, now time.Time) bool {
	return c.get(key).AllowN(now, 1)
}

func clientKey(r *http.Request) string {
	addr := r.RemoteAddr
	if i := strings.LastIndex(addr, ":"); i > 0 {
		return addr[:i]
	}
	return addr
}

func setupLogging(cfg config.LoggingConfig) (io.Closer, error) {
	closer, err := logging.Configure(cfg.Level, cfg.Format, cfg.File)
	if err != nil {
		return nil, err
	}

	log.SetFlags(log.LstdFlags | log.LUTC)
	log.SetOutput(logging.Default().Writer())

	return closer, nil
}

func requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logging.Info("%s %s %s %s", r.RemoteAddr, r.Method, r.URL.Path, time.Since(start))
	})
}

func startServer(server *http.Server, cfg *config.Config) error {
	if server == nil {
		return fmt.Errorf("server is nil")
	}

	var err error
	if cfg != nil && cfg.Security.EnableTLS {
		err = server.ListenAndServeTLS(cfg.Security.TLSCertFile, cfg.Security.TLSKeyFile)
	} else {
		err = server.ListenAndServe()
	}

	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return err
}

func showHelp(w io.Writer) {
	fmt.Fprintln(w, appName)
	fmt.Fprintln(w, "USAGE: dib-server [options]")
	fmt.Fprintln(w, "OPTIONS:")
	fmt.Fprintln(w, "  -host               Set server listen host (default 0.0.0.0)")
	fmt.Fprintln(w, "  -port               Set server listen port (default 8080)")
	fmt.Fprintln(w, "  -log-level          Set log level (debug, info, warn, error)")
	fmt.Fprintln(w, "  -log-format         Set log format (text, json)")
	fmt.Fprintln(w, "  -order              Default pixel order (abgr, argb)")
	fmt.Fprintln(w, "  -version            Show version information")
	fmt.Fprintln(w, "  -help               Show this help message")
	fmt.Fprintln(w, "ENDPOINTS: /decode (WebSocket), /healthz")
	fmt.Fprintln(w, "ENVIRONMENT VARIABLES: SERVER_HOST, SERVER_PORT, LOG_LEVEL, LOG_FORMAT, LOG_FILE, DIB_MAX_WIDTH, DIB_MAX_HEIGHT, DIB_MAX_FRAME_BYTES, DIB_DEFAULT_ORDER, ALLOWED_ORIGINS")
	fmt.Fprintln(w, "EXAMPLES: dib-server -host 0.0.0.0 -port 8080")
}

func showVersion(w io.Writer) {
	fmt.Fprintf(w, "%s %s\n", appName, appVersion)
}
