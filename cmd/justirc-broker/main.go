// Command justirc-broker runs the JustIRC routing broker.
//
// Configuration resolves in order: flags, then JUSTIRC_* environment
// variables, then an optional JSON config file (-config), then built-in
// defaults. After binding it prints a single-line JSON ready record on
// stdout and serves until SIGINT or SIGTERM.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/justirc/justirc-go/broker"
	"github.com/justirc/justirc-go/internal/cmdutil"
	jversion "github.com/justirc/justirc-go/internal/version"
	"github.com/justirc/justirc-go/observability/prom"
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

// fileConfig mirrors the optional JSON config file. Timeouts are plain
// seconds. Absent keys keep the value resolved so far, so a file only has
// to name what it changes.
type fileConfig struct {
	Host                  *string  `json:"host"`
	Port                  *int     `json:"port"`
	ServerName            *string  `json:"server_name"`
	Description           *string  `json:"description"`
	DataDir               *string  `json:"data_dir"`
	EnableAuthentication  *bool    `json:"enable_authentication"`
	RequireAuthentication *bool    `json:"require_authentication"`
	EnableIPWhitelist     *bool    `json:"enable_ip_whitelist"`
	ConnectionTimeout     *int     `json:"connection_timeout"`
	ReadTimeout           *int     `json:"read_timeout"`
	MaxMessageSize        *int     `json:"max_message_size"`
	MaxConnections        *int     `json:"max_connections"`
	MaxQueuedPerUser      *int     `json:"max_queued_messages_per_user"`
	AllowedOrigins        []string `json:"allowed_origins"`
}

func (f fileConfig) apply(cfg *broker.Config) {
	if f.Host != nil {
		cfg.Host = *f.Host
	}
	if f.Port != nil {
		cfg.Port = *f.Port
	}
	if f.ServerName != nil {
		cfg.ServerName = *f.ServerName
	}
	if f.Description != nil {
		cfg.Description = *f.Description
	}
	if f.DataDir != nil {
		cfg.DataDir = *f.DataDir
	}
	if f.EnableAuthentication != nil {
		cfg.EnableAuthentication = *f.EnableAuthentication
	}
	if f.RequireAuthentication != nil {
		cfg.RequireAuthentication = *f.RequireAuthentication
	}
	if f.EnableIPWhitelist != nil {
		cfg.EnableIPWhitelist = *f.EnableIPWhitelist
	}
	if f.ConnectionTimeout != nil {
		cfg.ConnectionTimeout = time.Duration(*f.ConnectionTimeout) * time.Second
	}
	if f.ReadTimeout != nil {
		cfg.ReadTimeout = time.Duration(*f.ReadTimeout) * time.Second
	}
	if f.MaxMessageSize != nil {
		cfg.MaxMessageSize = *f.MaxMessageSize
	}
	if f.MaxConnections != nil {
		cfg.MaxConnections = *f.MaxConnections
	}
	if f.MaxQueuedPerUser != nil {
		cfg.MaxQueuedPerUser = *f.MaxQueuedPerUser
	}
	if len(f.AllowedOrigins) > 0 {
		cfg.AllowedOrigins = append([]string(nil), f.AllowedOrigins...)
	}
}

// configPathFromArgs pre-scans for -config so the file can seed the flag
// defaults; explicit flags still win because they parse afterwards.
func configPathFromArgs(args []string) string {
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			return ""
		}
		name, val, eq := strings.Cut(a, "=")
		if name != "-config" && name != "--config" {
			continue
		}
		if eq {
			return val
		}
		if i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

type ready struct {
	Version    string `json:"version"`
	Commit     string `json:"commit"`
	Date       string `json:"date"`
	Listen     string `json:"listen"`
	ServerName string `json:"server_name"`
	DataDir    string `json:"data_dir"`
	HTTPAddr   string `json:"http_addr,omitempty"`
	HealthzURL string `json:"healthz_url,omitempty"`
	MetricsURL string `json:"metrics_url,omitempty"`
	WSURL      string `json:"ws_url,omitempty"`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	cfg := broker.DefaultConfig()

	logger := log.New(stderr, "", log.LstdFlags)

	configPath := configPathFromArgs(args)
	if configPath == "" {
		configPath = cmdutil.EnvString("JUSTIRC_CONFIG", "")
	}
	if configPath != "" {
		var fc fileConfig
		if err := cmdutil.ParseJSONFile(configPath, &fc); err != nil {
			fmt.Fprintf(stderr, "config file: %v\n", err)
			return 1
		}
		fc.apply(&cfg)
	}

	host := cmdutil.EnvString("JUSTIRC_HOST", cfg.Host)
	serverName := cmdutil.EnvString("JUSTIRC_SERVER_NAME", cfg.ServerName)
	description := cmdutil.EnvString("JUSTIRC_DESCRIPTION", cfg.Description)
	dataDir := cmdutil.EnvString("JUSTIRC_DATA_DIR", cfg.DataDir)
	httpAddr := cmdutil.EnvString("JUSTIRC_HTTP_ADDR", "")

	port, err := cmdutil.EnvInt("JUSTIRC_PORT", cfg.Port)
	if err != nil {
		fmt.Fprintf(stderr, "invalid JUSTIRC_PORT: %v\n", err)
		return 2
	}
	enableAuth, err := cmdutil.EnvBool("JUSTIRC_ENABLE_AUTH", cfg.EnableAuthentication)
	if err != nil {
		fmt.Fprintf(stderr, "invalid JUSTIRC_ENABLE_AUTH: %v\n", err)
		return 2
	}
	requireAuth, err := cmdutil.EnvBool("JUSTIRC_REQUIRE_AUTH", cfg.RequireAuthentication)
	if err != nil {
		fmt.Fprintf(stderr, "invalid JUSTIRC_REQUIRE_AUTH: %v\n", err)
		return 2
	}
	enableIPWhitelist, err := cmdutil.EnvBool("JUSTIRC_ENABLE_IP_WHITELIST", cfg.EnableIPWhitelist)
	if err != nil {
		fmt.Fprintf(stderr, "invalid JUSTIRC_ENABLE_IP_WHITELIST: %v\n", err)
		return 2
	}
	connectionTimeout, err := cmdutil.EnvDuration("JUSTIRC_CONNECTION_TIMEOUT", cfg.ConnectionTimeout)
	if err != nil {
		fmt.Fprintf(stderr, "invalid JUSTIRC_CONNECTION_TIMEOUT: %v\n", err)
		return 2
	}
	readTimeout, err := cmdutil.EnvDuration("JUSTIRC_READ_TIMEOUT", cfg.ReadTimeout)
	if err != nil {
		fmt.Fprintf(stderr, "invalid JUSTIRC_READ_TIMEOUT: %v\n", err)
		return 2
	}
	maxMessageSize, err := cmdutil.EnvInt("JUSTIRC_MAX_MESSAGE_SIZE", cfg.MaxMessageSize)
	if err != nil {
		fmt.Fprintf(stderr, "invalid JUSTIRC_MAX_MESSAGE_SIZE: %v\n", err)
		return 2
	}
	maxConnections, err := cmdutil.EnvInt("JUSTIRC_MAX_CONNECTIONS", cfg.MaxConnections)
	if err != nil {
		fmt.Fprintf(stderr, "invalid JUSTIRC_MAX_CONNECTIONS: %v\n", err)
		return 2
	}
	maxQueuedPerUser, err := cmdutil.EnvInt("JUSTIRC_MAX_QUEUED_PER_USER", cfg.MaxQueuedPerUser)
	if err != nil {
		fmt.Fprintf(stderr, "invalid JUSTIRC_MAX_QUEUED_PER_USER: %v\n", err)
		return 2
	}
	allowedOrigins := stringSliceFlag(cmdutil.SplitCSVEnv("JUSTIRC_ALLOW_ORIGIN"))
	if len(allowedOrigins) == 0 {
		allowedOrigins = stringSliceFlag(cfg.AllowedOrigins)
	}

	fs := flag.NewFlagSet("justirc-broker", flag.ContinueOnError)
	fs.SetOutput(stderr)

	showVersion := false
	fs.BoolVar(&showVersion, "version", false, "print version and exit")
	fs.StringVar(&configPath, "config", configPath, "JSON config file; flags and env override it (env: JUSTIRC_CONFIG)")
	fs.StringVar(&host, "host", host, "listen host (env: JUSTIRC_HOST)")
	fs.IntVar(&port, "port", port, "listen port (env: JUSTIRC_PORT)")
	fs.StringVar(&serverName, "server-name", serverName, "server name reported in logs and acks (env: JUSTIRC_SERVER_NAME)")
	fs.StringVar(&description, "description", description, "server description returned on registration (env: JUSTIRC_DESCRIPTION)")
	fs.StringVar(&dataDir, "data-dir", dataDir, "directory for channels, profiles, queues and IP lists (env: JUSTIRC_DATA_DIR)")
	fs.BoolVar(&enableAuth, "enable-auth", enableAuth, "enable the account layer (env: JUSTIRC_ENABLE_AUTH)")
	fs.BoolVar(&requireAuth, "require-auth", requireAuth, "reject nicknames without an account; implies -enable-auth (env: JUSTIRC_REQUIRE_AUTH)")
	fs.BoolVar(&enableIPWhitelist, "enable-ip-whitelist", enableIPWhitelist, "deny addresses missing from the whitelist (env: JUSTIRC_ENABLE_IP_WHITELIST)")
	fs.DurationVar(&connectionTimeout, "connection-timeout", connectionTimeout, "idle threshold before a registered session is evicted (env: JUSTIRC_CONNECTION_TIMEOUT)")
	fs.DurationVar(&readTimeout, "read-timeout", readTimeout, "per-frame read deadline (env: JUSTIRC_READ_TIMEOUT)")
	fs.IntVar(&maxMessageSize, "max-message-size", maxMessageSize, "max serialized envelope bytes (env: JUSTIRC_MAX_MESSAGE_SIZE)")
	fs.IntVar(&maxConnections, "max-connections", maxConnections, "max concurrent connections (env: JUSTIRC_MAX_CONNECTIONS)")
	fs.IntVar(&maxQueuedPerUser, "max-queued-per-user", maxQueuedPerUser, "max offline messages queued per recipient (env: JUSTIRC_MAX_QUEUED_PER_USER)")
	fs.StringVar(&httpAddr, "http-addr", httpAddr, "listen address for the HTTP sidecar serving /healthz, /metrics and /ws (empty disables) (env: JUSTIRC_HTTP_ADDR)")
	fs.Var(&allowedOrigins, "allow-origin", "allowed websocket Origin value (repeatable) (env: JUSTIRC_ALLOW_ORIGIN, comma-separated)")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if showVersion {
		_, _ = fmt.Fprintln(stdout, jversion.String(version, commit, date))
		return 0
	}

	usageErr := func(msg string) int {
		if msg != "" {
			fmt.Fprintln(stderr, msg)
		}
		fs.Usage()
		return 2
	}

	if port < 1 || port > 65535 {
		return usageErr(fmt.Sprintf("invalid -port %d", port))
	}
	if requireAuth {
		enableAuth = true
	}

	cfg.Host = host
	cfg.Port = port
	cfg.ServerName = serverName
	cfg.Description = description
	cfg.DataDir = dataDir
	cfg.EnableAuthentication = enableAuth
	cfg.RequireAuthentication = requireAuth
	cfg.EnableIPWhitelist = enableIPWhitelist
	cfg.ConnectionTimeout = connectionTimeout
	cfg.ReadTimeout = readTimeout
	cfg.MaxMessageSize = maxMessageSize
	cfg.MaxConnections = maxConnections
	cfg.MaxQueuedPerUser = maxQueuedPerUser
	cfg.AllowedOrigins = allowedOrigins

	reg := prom.NewRegistry()
	if httpAddr != "" {
		cfg.Observer = prom.NewBrokerObserver(reg)
	}

	s, err := broker.New(cfg)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer s.Close()

	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.Serve(ln)
	}()

	var httpSrv *http.Server
	var httpLn net.Listener
	if httpAddr != "" {
		mux := http.NewServeMux()
		s.Register(mux)
		mux.Handle("/metrics", prom.Handler(reg))

		httpLn, err = net.Listen("tcp", httpAddr)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		httpSrv = newHTTPServer(mux)
		go func() {
			if err := httpSrv.Serve(httpLn); err != nil && err != http.ErrServerClosed {
				logger.Fatal(err)
			}
		}()
	}

	out := ready{
		Version:    version,
		Commit:     commit,
		Date:       date,
		Listen:     ln.Addr().String(),
		ServerName: serverName,
		DataDir:    dataDir,
	}
	if httpLn != nil {
		addr := httpLn.Addr().String()
		out.HTTPAddr = addr
		out.HealthzURL = "http://" + addr + "/healthz"
		out.MetricsURL = "http://" + addr + "/metrics"
		out.WSURL = "ws://" + addr + "/ws"
	}
	_ = json.NewEncoder(stdout).Encode(out)

	printSignalHelp(logger)

	sig := make(chan os.Signal, 2)
	signal.Notify(sig, notifySignals()...)

	for {
		select {
		case err := <-serveErr:
			if err != nil {
				fmt.Fprintln(stderr, err)
				return 1
			}
			return 0
		case got := <-sig:
			if handleSignal(got, logger, s) {
				continue
			}
			_ = s.Close()
			if httpSrv != nil {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				_ = httpSrv.Shutdown(ctx)
				cancel()
			}
			return 0
		}
	}
}
