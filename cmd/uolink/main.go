// uolink - Ultima Online login client core.
//
// uolink performs the login handshake against a login server, relays to
// the selected game server, probes the server list for latency and exposes
// the flow through an interactive shell, a local REST API and optional MQTT
// telemetry.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"

	"github.com/uolink-project/uolink/internal/api"
	"github.com/uolink-project/uolink/internal/cli"
	"github.com/uolink-project/uolink/internal/client"
	"github.com/uolink-project/uolink/internal/config"
	"github.com/uolink-project/uolink/internal/db"
	"github.com/uolink-project/uolink/internal/events"
	"github.com/uolink-project/uolink/internal/login"
	"github.com/uolink-project/uolink/internal/network"
	"github.com/uolink-project/uolink/internal/ping"
	"github.com/uolink-project/uolink/internal/protocol"
	"github.com/uolink-project/uolink/internal/scheduler"
	"github.com/uolink-project/uolink/internal/telemetry"
	"github.com/uolink-project/uolink/internal/util"
)

const (
	AppName    = "uolink"
	AppVersion = "1.0.0"
	Banner     = `
              _ _       _
  _   _  ___ | (_)_ __ | | __
 | | | |/ _ \| | | '_ \| |/ /
 | |_| | (_) | | | | | |   <
  \__,_|\___/|_|_|_| |_|_|\_\  v%s
 Ultima Online login client
`
)

type options struct {
	configDir string
	ip        string
	port      int
	user      string
	password  string
	logLevel  string
	apiAddr   string
	noCLI     bool
	connect   bool
	version   bool
}

func parseFlags() options {
	var o options
	flag.StringVar(&o.configDir, "config", config.DefaultConfigDir, "configuration directory")
	flag.StringVar(&o.ip, "ip", "", "login server address (overrides config)")
	flag.IntVar(&o.port, "port", 0, "login server port (overrides config)")
	flag.StringVarP(&o.user, "user", "u", "", "account name (overrides config)")
	flag.StringVarP(&o.password, "password", "p", "", "account password, not saved")
	flag.StringVar(&o.logLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	flag.StringVar(&o.apiAddr, "api", "", "REST API listen address (overrides config)")
	flag.BoolVar(&o.noCLI, "no-cli", false, "disable the interactive shell")
	flag.BoolVar(&o.connect, "connect", false, "connect to the login server on startup")
	flag.BoolVarP(&o.version, "version", "v", false, "print version and exit")
	flag.Parse()
	return o
}

func main() {
	opts := parseFlags()
	if opts.version {
		fmt.Printf("%s %s\n", AppName, AppVersion)
		return
	}

	fmt.Printf(Banner, AppVersion)
	fmt.Println()

	logFile, err := util.InitLogger(util.DefaultLogConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting uolink")

	cfg, err := config.Load(opts.configDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	applyOverrides(cfg, opts)

	logCfg := util.LogConfig{
		Level:     cfg.Logging.Level,
		Directory: cfg.Logging.Directory,
		Console:   cfg.Logging.Console,
	}
	if f, err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	} else {
		logFile.Close()
		logFile = f
	}
	defer logFile.Close()

	if cfg.IsFirstRun() && !opts.noCLI {
		log.Info().Msg("first run detected, launching setup wizard")
		if err := config.RunSetupWizard(cfg, os.Stdin, os.Stdout); err != nil {
			log.Fatal().Err(err).Msg("setup wizard failed")
		}
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		log.Fatal().Msg("configuration validation failed, please fix the errors above")
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus()

	store, err := db.NewProfileStore(cfg.Database.Path)
	if err != nil {
		log.Warn().Err(err).Msg("failed to open profile store, history disabled")
	} else {
		store.Attach(bus)
	}

	bus.Subscribe(events.EventServerSelected, "config", func(_ context.Context, ev events.Event) error {
		p, ok := ev.Payload.(events.ServerSelectedPayload)
		if !ok || p.Name == "" {
			return nil
		}
		cfg.SetLastServerName(p.Name)
		return cfg.Save()
	})

	h, cl := buildClient(ctx, cfg, bus)

	shutdownCh := make(chan struct{}, 1)
	bus.Subscribe(events.EventShutdown, "main", func(context.Context, events.Event) error {
		select {
		case shutdownCh <- struct{}{}:
		default:
		}
		return nil
	})

	var pruner scheduler.Pruner
	if store != nil {
		pruner = store
	}
	sched := scheduler.NewScheduler(cfg, pruner)

	var publisher *telemetry.Publisher
	if cfg.GetTelemetry().Enabled {
		publisher, err = telemetry.NewPublisher(cfg.GetTelemetry(), bus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		cl.Run(ctx)
	}()

	if pingCfg := cfg.GetPing(); pingCfg.Enabled {
		prober := ping.NewProber(h.Probes, config.Millis(pingCfg.IntervalMs))
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Int("interval_ms", pingCfg.IntervalMs).Msg("starting server list prober")
			prober.Run(ctx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Start(ctx)
	}()

	if publisher != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting MQTT telemetry")
			if err := publisher.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	if cfg.GetAPI().Enabled {
		apiServer := api.NewServer(cfg, bus, cl, store)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := startWithRetry(ctx, "API server", apiServer.Start, 5); err != nil {
				log.Warn().Err(err).Msg("API server failed after retries (non-fatal)")
			}
		}()
	}

	if opts.connect {
		loginCfg := cfg.GetLogin()
		password := cfg.Password()
		if err := cl.Post(func(h *login.Handshake) {
			h.Connect(loginCfg.Username, password, loginCfg.IP, uint16(loginCfg.Port))
		}); err != nil {
			log.Warn().Err(err).Msg("failed to queue startup connect")
		}
	}

	if !opts.noCLI {
		shell := cli.NewCLI(cfg, bus, cl, os.Stdin, os.Stdout)
		// The shell blocks on stdin, so it is not part of the wait group.
		go shell.Start(ctx)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-shutdownCh:
		log.Info().Msg("shutdown requested from shell")
	}

	log.Info().Msg("initiating graceful shutdown...")
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(15 * time.Second):
		log.Warn().Msg("shutdown timed out after 15 seconds, forcing exit")
	}

	h.Dispose()
	bus.Stop()
	if store != nil {
		store.Close()
	}

	log.Info().Msg("uolink stopped")
}

// applyOverrides copies command-line values over the loaded configuration.
// The password only lives for this run.
func applyOverrides(cfg *config.Config, opts options) {
	loginCfg := cfg.GetLogin()
	if opts.ip != "" {
		loginCfg.IP = opts.ip
	}
	if opts.port != 0 {
		loginCfg.Port = opts.port
	}
	if opts.user != "" {
		loginCfg.Username = opts.user
	}
	cfg.SetLogin(loginCfg)

	if opts.password != "" {
		cfg.SetPasswordOverride(opts.password)
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if opts.apiAddr != "" {
		if err := cfg.UpdateField("api", "address", opts.apiAddr); err != nil {
			log.Warn().Err(err).Msg("failed to apply --api")
		}
	}
}

// buildClient wires the transport factory, the handshake and the tick loop.
func buildClient(ctx context.Context, cfg *config.Config, bus *events.Bus) (*login.Handshake, *client.Client) {
	loginCfg := cfg.GetLogin()
	reconnectCfg := cfg.GetReconnect()
	netCfg := cfg.GetNetwork()
	pingCfg := cfg.GetPing()

	version, err := protocol.ParseClientVersion(loginCfg.ClientVersion)
	if err != nil {
		log.Fatal().Err(err).Str("client_version", loginCfg.ClientVersion).Msg("invalid client version")
	}

	queue := network.NewPacketQueue(netCfg.QueueCapacity)
	stats := network.NewStatistics()
	factory := login.SocketFactory(queue,
		network.WithStatistics(stats),
		network.WithConnectTimeout(config.Millis(netCfg.ConnectTimeoutMs)),
		network.WithWriteTimeout(config.Millis(netCfg.WriteTimeoutMs)),
	)

	hsOpts := login.Options{
		Version:        version,
		Encryption:     loginCfg.Encryption,
		IgnoreRelayIP:  loginCfg.IgnoreRelayIP,
		AutoLogin:      loginCfg.AutoLogin,
		LastServerName: loginCfg.LastServerName,
		ClientFlags:    loginCfg.ClientFlags,
		Reconnect:      reconnectCfg.Enabled,
		ReconnectTime:  config.Millis(reconnectCfg.ReconnectTimeMs),
		RelayAttempts:  reconnectCfg.RelayAttempts,
		RelayTimeout:   config.Millis(reconnectCfg.RelayTimeoutMs),
	}
	if pingCfg.Enabled {
		pinger := ping.NewICMPPinger(pingCfg.Privileged)
		pinger.Timeout = config.Millis(pingCfg.TimeoutMs)
		hsOpts.Pinger = pinger
	}

	h := login.NewHandshake(ctx, factory, bus, hsOpts)
	cl := client.New(h, queue, stats, client.Options{
		PacketsPerTick: netCfg.PacketsPerTick,
		TickInterval:   config.Millis(netCfg.TickIntervalMs),
		KeepAlive:      time.Duration(netCfg.KeepAliveSec) * time.Second,
	})

	log.Info().
		Str("client_version", version.String()).
		Bool("encryption", loginCfg.Encryption).
		Bool("reconnect", reconnectCfg.Enabled).
		Int("packets_per_tick", netCfg.PacketsPerTick).
		Msg("client initialized")
	return h, cl
}

func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = startFn(ctx)
		if lastErr == nil {
			return nil
		}
		if i < maxRetries {
			log.Warn().Err(lastErr).Str("component", name).Int("retry", i+1).Int("max", maxRetries).Msg("bind failed, retrying in 3s...")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(3 * time.Second):
			}
		}
	}
	return lastErr
}
