package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sammck-go/wsrelay/pkg/wsengine"
	"github.com/sammck-go/wsrelay/pkg/wsrelay"
	wrshare "github.com/sammck-go/wsrelay/share"
	"github.com/spf13/cobra"
)

type options struct {
	configFile       string
	envFile          string
	listen           string
	upstream         string
	tlsServerName    string
	tlsInsecure      bool
	reconnectPeriod  string
	pollWait         string
	handshakeTimeout string
	pingPeriod       string
	pongWait         string
	writeWait        string
	proxy            string
	clientPolicy     string
	logLevel         string
	debug            bool
}

func main() {
	if err := newRootCommand(&options{}).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wsrelay",
		Short: "Relay one local WebSocket client to a fixed upstream WebSocket endpoint",
		Long: `wsrelay accepts a single WebSocket client on a local address and relays every
message, unchanged, to and from a fixed upstream ws:// or wss:// endpoint. The
upstream leg is reconnected periodically for as long as the client stays attached.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := opts.load(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, config)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.configFile, "config", "", "path to a YAML configuration file")
	flags.StringVar(&opts.envFile, "env-file", wrshare.DefaultEnvFile, "dotenv file with WSRELAY_* variables (ignored if missing)")
	flags.StringVar(&opts.listen, "listen", wrshare.DefaultListenURL, "local WebSocket listen URL")
	flags.StringVar(&opts.upstream, "upstream", wrshare.DefaultUpstreamURL, "upstream ws:// or wss:// URL")
	flags.StringVar(&opts.tlsServerName, "tls-server-name", "", "peer name for the upstream TLS handshake (default: upstream host)")
	flags.BoolVar(&opts.tlsInsecure, "tls-insecure", false, "skip verification of the upstream certificate")
	flags.StringVar(&opts.reconnectPeriod, "reconnect-period", wrshare.DefaultReconnectPeriod.String(), "upstream reconnection period (duration or milliseconds)")
	flags.StringVar(&opts.pollWait, "poll-wait", wrshare.DefaultPollWait.String(), "maximum time a single poll waits for events")
	flags.StringVar(&opts.handshakeTimeout, "handshake-timeout", wrshare.DefaultHandshakeTimeout.String(), "upstream connect and handshake timeout")
	flags.StringVar(&opts.pingPeriod, "ping-period", "0", "keepalive ping period on both legs (0 disables)")
	flags.StringVar(&opts.pongWait, "pong-wait", "0", "close a leg that has been silent this long (0 disables)")
	flags.StringVar(&opts.writeWait, "write-wait", wrshare.DefaultWriteWait.String(), "deadline for a single frame write before the leg is closed")
	flags.StringVar(&opts.proxy, "proxy", "", "socks5:// or socks5h:// proxy for the upstream connection")
	flags.StringVar(&opts.clientPolicy, "client-policy", string(wrshare.ClientPolicyReject), "what to do with a second local client: reject or replace")
	flags.StringVar(&opts.logLevel, "log-level", wrshare.LogLevelInfo.String(), "log level: error, warning, info, debug or trace")
	flags.BoolVar(&opts.debug, "debug", false, "enable debug logging")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), wrshare.BuildVersion)
		},
	})

	return cmd
}

// load layers the explicitly set flags over the file and environment configuration
func (o *options) load(cmd *cobra.Command) (*wrshare.Config, error) {
	config, err := wrshare.LoadConfig(o.configFile, o.envFile)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	setString := func(name string, src string, dst *string) {
		if flags.Changed(name) {
			*dst = src
		}
	}
	setString("listen", o.listen, &config.ListenURL)
	setString("upstream", o.upstream, &config.UpstreamURL)
	setString("tls-server-name", o.tlsServerName, &config.TLSServerName)
	setString("proxy", o.proxy, &config.Proxy)
	setString("log-level", o.logLevel, &config.LogLevel)
	if flags.Changed("client-policy") {
		config.ClientPolicy = wrshare.ClientPolicy(o.clientPolicy)
	}
	if flags.Changed("tls-insecure") {
		config.TLSInsecure = o.tlsInsecure
	}
	if flags.Changed("debug") {
		config.Debug = o.debug
	}

	durations := []struct {
		name string
		src  string
		dst  *time.Duration
	}{
		{"reconnect-period", o.reconnectPeriod, &config.ReconnectPeriod},
		{"poll-wait", o.pollWait, &config.PollWait},
		{"handshake-timeout", o.handshakeTimeout, &config.HandshakeTimeout},
		{"ping-period", o.pingPeriod, &config.PingPeriod},
		{"pong-wait", o.pongWait, &config.PongWait},
		{"write-wait", o.writeWait, &config.WriteWait},
	}
	for _, d := range durations {
		if !flags.Changed(d.name) {
			continue
		}
		v, err := wrshare.ParseMillisOrDuration(d.src)
		if err != nil {
			return nil, fmt.Errorf("Invalid --%s: %w", d.name, err)
		}
		*d.dst = v
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func run(ctx context.Context, config *wrshare.Config) error {
	logger := wrshare.NewLogger("wsrelay", config.EffectiveLogLevel())

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := wrshare.NewMetrics(promReg)

	opts, err := wsrelay.EngineOptions(config, logger.Fork("engine"), wsrelay.NewStatusHandler(logger.Fork("status"), promReg))
	if err != nil {
		return logger.ELogErrorf("%s", err)
	}
	engine, err := wsengine.NewManager(opts)
	if err != nil {
		return logger.ELogErrorf("Unable to create engine: %s", err)
	}
	relay, err := wsrelay.NewRelay(config, engine, logger, metrics)
	if err != nil {
		engine.Close()
		return logger.ELogErrorf("%s", err)
	}

	logger.ILogf("wsrelay %s starting", wrshare.BuildVersion)
	if err := relay.Run(ctx); err != nil {
		return err
	}
	logger.ILogf("Shut down")
	return nil
}
