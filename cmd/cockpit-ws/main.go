// Command cockpit-ws serves the browser-facing WebSocket gateway: it
// upgrades connections at the configured listen address, relays their
// frames through internal/wsgateway into a per-connection
// internal/session.Manager, and optionally exposes Prometheus metrics and a
// JSON health document.
//
// Grounded on cmd/flowersec-tunnel/main.go's flag/env parsing, TLS setup,
// metrics toggle, and signal handling.
package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/cockpit-project/cockpit-ws-go/internal/certificate"
	"github.com/cockpit-project/cockpit-ws-go/internal/cmdutil"
	"github.com/cockpit-project/cockpit-ws-go/internal/knownhosts"
	"github.com/cockpit-project/cockpit-ws-go/internal/logging"
	"github.com/cockpit-project/cockpit-ws-go/internal/observability"
	"github.com/cockpit-project/cockpit-ws-go/internal/observability/prom"
	fsversion "github.com/cockpit-project/cockpit-ws-go/internal/version"
	"github.com/cockpit-project/cockpit-ws-go/internal/wsgateway"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

type stringSliceFlag []string

func (s *stringSliceFlag) String() string { return strings.Join(*s, ",") }

func (s *stringSliceFlag) Set(v string) error {
	*s = append(*s, v)
	return nil
}

type switchHandler struct {
	mu      sync.RWMutex
	handler http.Handler
}

func newSwitchHandler() *switchHandler {
	return &switchHandler{handler: http.NotFoundHandler()}
}

func (h *switchHandler) Set(next http.Handler) {
	if next == nil {
		next = http.NotFoundHandler()
	}
	h.mu.Lock()
	h.handler = next
	h.mu.Unlock()
}

func (h *switchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	handler := h.handler
	h.mu.RUnlock()
	handler.ServeHTTP(w, r)
}

type metricsController struct {
	mu       sync.Mutex
	enabled  bool
	handler  *switchHandler
	observer *observability.AtomicGatewayObserver
}

func newMetricsController(handler *switchHandler, observer *observability.AtomicGatewayObserver) *metricsController {
	return &metricsController{handler: handler, observer: observer}
}

func (c *metricsController) Enable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enabled {
		return
	}
	reg := prom.NewRegistry()
	c.observer.Set(prom.NewGatewayObserver(reg))
	c.handler.Set(prom.Handler(reg))
	c.enabled = true
}

func (c *metricsController) Disable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}
	c.handler.Set(nil)
	c.observer.Set(observability.NoopGatewayObserver)
	c.enabled = false
}

type ready struct {
	Version    string `json:"version"`
	Commit     string `json:"commit"`
	Date       string `json:"date"`
	Listen     string `json:"listen"`
	WSPath     string `json:"ws_path"`
	WSURL      string `json:"ws_url"`
	HealthzURL string `json:"healthz_url"`
	MetricsURL string `json:"metrics_url,omitempty"`
}

type health struct {
	Status string `json:"status"`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	wsCfg := wsgateway.DefaultConfig()
	logger := logging.New(stderr, "cockpit-ws")

	listen := cmdutil.EnvString("COCKPIT_WS_LISTEN", "127.0.0.1:9090")
	wsPath := cmdutil.EnvString("COCKPIT_WS_PATH", "/cockpit/socket")
	certDir := cmdutil.EnvString("COCKPIT_WS_CERTIFICATE_DIR", certificate.DefaultSearchDir)
	tlsCertFile := cmdutil.EnvString("COCKPIT_WS_TLS_CERT_FILE", "")
	tlsKeyFile := cmdutil.EnvString("COCKPIT_WS_TLS_KEY_FILE", "")
	metricsListen := cmdutil.EnvString("COCKPIT_WS_METRICS_LISTEN", "")
	bridgeProgram := cmdutil.EnvString("COCKPIT_WS_BRIDGE_PROGRAM", strings.Join(wsCfg.Session.LocalBridgeProgram, " "))
	agentProgram := cmdutil.EnvString("COCKPIT_WS_AGENT_PROGRAM", wsCfg.Session.AgentProgram)

	allowedOrigins := stringSliceFlag(cmdutil.SplitCSVEnv("COCKPIT_WS_ALLOW_ORIGIN"))
	knownHostsFiles := stringSliceFlag(cmdutil.SplitCSVEnv("COCKPIT_WS_KNOWN_HOSTS_FILE"))

	allowNoOrigin, err := cmdutil.EnvBool("COCKPIT_WS_ALLOW_NO_ORIGIN", wsCfg.AllowNoOrigin)
	if err != nil {
		fmt.Fprintf(stderr, "invalid COCKPIT_WS_ALLOW_NO_ORIGIN: %v\n", err)
		return 2
	}
	idleTimeout, err := cmdutil.EnvDuration("COCKPIT_WS_IDLE_TIMEOUT", wsCfg.Session.IdleTimeout)
	if err != nil {
		fmt.Fprintf(stderr, "invalid COCKPIT_WS_IDLE_TIMEOUT: %v\n", err)
		return 2
	}
	sshPort, err := cmdutil.EnvInt("COCKPIT_WS_SSH_PORT", wsCfg.Session.SSHPort)
	if err != nil {
		fmt.Fprintf(stderr, "invalid COCKPIT_WS_SSH_PORT: %v\n", err)
		return 2
	}

	fs := flag.NewFlagSet("cockpit-ws", flag.ContinueOnError)
	fs.SetOutput(stderr)

	showVersion := false
	fs.BoolVar(&showVersion, "version", false, "print version and exit")
	fs.StringVar(&listen, "listen", listen, "listen address (env: COCKPIT_WS_LISTEN)")
	fs.StringVar(&wsPath, "ws-path", wsPath, "websocket path (env: COCKPIT_WS_PATH)")
	fs.StringVar(&certDir, "certificate-dir", certDir, "certificate search directory used when --tls-cert-file is unset (env: COCKPIT_WS_CERTIFICATE_DIR)")
	fs.StringVar(&tlsCertFile, "tls-cert-file", tlsCertFile, "TLS certificate file (default: ensure one under --certificate-dir) (env: COCKPIT_WS_TLS_CERT_FILE)")
	fs.StringVar(&tlsKeyFile, "tls-key-file", tlsKeyFile, "TLS private key file (env: COCKPIT_WS_TLS_KEY_FILE)")
	fs.StringVar(&metricsListen, "metrics-listen", metricsListen, "listen address for metrics server (empty disables) (env: COCKPIT_WS_METRICS_LISTEN)")
	fs.StringVar(&bridgeProgram, "bridge-program", bridgeProgram, "argv used to spawn the local bridge (env: COCKPIT_WS_BRIDGE_PROGRAM)")
	fs.StringVar(&agentProgram, "agent-program", agentProgram, "remote command run over ssh (env: COCKPIT_WS_AGENT_PROGRAM)")
	fs.IntVar(&sshPort, "ssh-port", sshPort, "default ssh port for relayed sessions with no port of their own (env: COCKPIT_WS_SSH_PORT)")
	fs.DurationVar(&idleTimeout, "idle-timeout", idleTimeout, "idle bridge/ssh session reap timeout (env: COCKPIT_WS_IDLE_TIMEOUT)")
	fs.Var(&allowedOrigins, "allow-origin", "allowed Origin value (repeatable) (env: COCKPIT_WS_ALLOW_ORIGIN)")
	fs.BoolVar(&allowNoOrigin, "allow-no-origin", allowNoOrigin, "allow requests without Origin header (env: COCKPIT_WS_ALLOW_NO_ORIGIN)")
	fs.Var(&knownHostsFiles, "known-hosts-file", "ssh known_hosts file (repeatable) (env: COCKPIT_WS_KNOWN_HOSTS_FILE)")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if showVersion {
		_, _ = fmt.Fprintln(stdout, fsversion.String(version, commit, date))
		return 0
	}

	usageErr := func(msg string) int {
		if msg != "" {
			fmt.Fprintln(stderr, msg)
		}
		fs.Usage()
		return 2
	}
	if (tlsCertFile == "") != (tlsKeyFile == "") {
		return usageErr("--tls-cert-file and --tls-key-file must be given together")
	}
	if len(allowedOrigins) == 0 && !allowNoOrigin {
		return usageErr("missing --allow-origin (or pass --allow-no-origin)")
	}

	observer := observability.NewAtomicGatewayObserver()
	wsCfg.Session.Observer = observer
	wsCfg.Session.IdleTimeout = idleTimeout
	wsCfg.Session.SSHPort = sshPort
	if bridgeProgram != "" {
		wsCfg.Session.LocalBridgeProgram = strings.Fields(bridgeProgram)
	}
	wsCfg.Session.AgentProgram = agentProgram
	wsCfg.AllowedOrigins = []string(allowedOrigins)
	wsCfg.AllowNoOrigin = allowNoOrigin
	wsCfg.Logger = logger

	if len(knownHostsFiles) > 0 {
		store, err := knownhosts.Load(knownHostsFiles...)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		wsCfg.Session.KnownHosts = store
	}

	var tlsCert *tls.Certificate
	if tlsCertFile == "" {
		subject := certificate.DefaultSubject(readMachineID())
		pair, err := certificate.Ensure(certDir, subject, false)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		cert, _, err := certificate.Validate(pair)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		tlsCert = &cert
	}

	handler := wsgateway.NewHandler(wsCfg)
	mux := http.NewServeMux()
	mux.Handle(wsPath, handler)
	mux.HandleFunc("/healthz", healthzHandler)

	var metrics *metricsController
	var metricsSrv *http.Server
	var metricsLn net.Listener
	if metricsListen != "" {
		metricsMux := http.NewServeMux()
		metricsHandler := newSwitchHandler()
		metricsMux.Handle("/metrics", metricsHandler)
		metrics = newMetricsController(metricsHandler, observer)
		metrics.Enable()

		metricsLn, err = net.Listen("tcp", metricsListen)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		metricsSrv = newHTTPServer(metricsMux)
		go func() {
			if err := metricsSrv.Serve(metricsLn); err != nil && err != http.ErrServerClosed {
				logger.Fatal(err)
			}
		}()
	}

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	srv := newHTTPServer(mux)
	scheme := "ws"
	httpScheme := "http"
	if tlsCertFile != "" || tlsCert != nil {
		scheme = "wss"
		httpScheme = "https"
		srv.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		if tlsCert != nil {
			srv.TLSConfig.Certificates = []tls.Certificate{*tlsCert}
		}
	}

	go func() {
		var err error
		switch {
		case tlsCertFile != "":
			err = srv.ServeTLS(ln, tlsCertFile, tlsKeyFile)
		case tlsCert != nil:
			err = srv.ServeTLS(ln, "", "")
		default:
			err = srv.Serve(ln)
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal(err)
		}
	}()

	bindAddr := ln.Addr().String()
	out := ready{
		Version:    version,
		Commit:     commit,
		Date:       date,
		Listen:     bindAddr,
		WSPath:     wsPath,
		WSURL:      scheme + "://" + bindAddr + wsPath,
		HealthzURL: httpScheme + "://" + bindAddr + "/healthz",
	}
	if metricsLn != nil {
		out.MetricsURL = "http://" + metricsLn.Addr().String() + "/metrics"
	}
	_ = json.NewEncoder(stdout).Encode(out)

	sig := make(chan os.Signal, 2)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2)

	for {
		switch <-sig {
		case syscall.SIGUSR1:
			if metrics == nil {
				logger.Printf("metrics server disabled (missing --metrics-listen)")
				continue
			}
			metrics.Enable()
			logger.Printf("metrics enabled")
		case syscall.SIGUSR2:
			if metrics == nil {
				continue
			}
			metrics.Disable()
			logger.Printf("metrics disabled")
		default:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = srv.Shutdown(ctx)
			if metricsSrv != nil {
				_ = metricsSrv.Shutdown(ctx)
			}
			cancel()
			return 0
		}
	}
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(health{Status: "ok"})
}

func readMachineID() string {
	b, err := os.ReadFile("/etc/machine-id")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}
