package wrshare

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ClientPolicy decides what happens when a second local client tries to connect
// while a local session is already attached.
type ClientPolicy string

const (
	// ClientPolicyReject refuses additional local clients (HTTP 409) while one is attached
	ClientPolicyReject ClientPolicy = "reject"

	// ClientPolicyReplace makes the newest local client the active one and drains the previous one
	ClientPolicyReplace ClientPolicy = "replace"
)

// Default configuration values
const (
	DefaultListenURL        = "ws://localhost:20000"
	DefaultUpstreamURL      = "wss://echo.websocket.org/"
	DefaultReconnectPeriod  = 5000 * time.Millisecond
	DefaultPollWait         = 200 * time.Millisecond
	DefaultHandshakeTimeout = 45 * time.Second
	DefaultWriteWait        = 10 * time.Second
	DefaultEnvFile          = ".env"
)

// envPrefix is prepended to every environment variable name read by LoadEnv
const envPrefix = "WSRELAY_"

//Config represents a relay configuration. It is fixed at startup.
type Config struct {
	// ListenURL is the local bind address, e.g. "ws://localhost:20000"
	ListenURL string `yaml:"listen"`

	// UpstreamURL is the fixed remote endpoint, e.g. "wss://echo.websocket.org/"
	UpstreamURL string `yaml:"upstream"`

	// TLSServerName is the peer name used for the upstream TLS handshake. Defaults
	// to the host name of UpstreamURL.
	TLSServerName string `yaml:"tls_server_name"`

	// TLSInsecure disables verification of the upstream certificate
	TLSInsecure bool `yaml:"tls_insecure"`

	ReconnectPeriod  time.Duration `yaml:"reconnect_period"`
	PollWait         time.Duration `yaml:"poll_wait"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WriteWait        time.Duration `yaml:"write_wait"`

	// PingPeriod enables keepalive pings on both legs when > 0
	PingPeriod time.Duration `yaml:"ping_period"`

	// PongWait closes a leg that has been silent this long when > 0
	PongWait time.Duration `yaml:"pong_wait"`

	// Proxy is an optional socks5:// or socks5h:// proxy for the upstream dial
	Proxy string `yaml:"proxy"`

	ClientPolicy ClientPolicy `yaml:"client_policy"`

	LogLevel string `yaml:"log_level"`
	Debug    bool   `yaml:"debug"`
}

// NewDefaultConfig returns a Config populated with built-in defaults
func NewDefaultConfig() *Config {
	return &Config{
		ListenURL:        DefaultListenURL,
		UpstreamURL:      DefaultUpstreamURL,
		ReconnectPeriod:  DefaultReconnectPeriod,
		PollWait:         DefaultPollWait,
		HandshakeTimeout: DefaultHandshakeTimeout,
		WriteWait:        DefaultWriteWait,
		ClientPolicy:     ClientPolicyReject,
		LogLevel:         LogLevelInfo.String(),
	}
}

// LoadConfig builds a Config from defaults, then the optional YAML file at path,
// then the optional dotenv file at envFile, then WSRELAY_* environment variables.
// Empty path or envFile skip that layer; a missing envFile is ignored.
func LoadConfig(path string, envFile string) (*Config, error) {
	c := NewDefaultConfig()
	if path != "" {
		if err := c.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if envFile != "" {
		if err := loadDotEnv(envFile); err != nil {
			return nil, err
		}
	}
	if err := c.LoadEnv(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadFile overlays the settings present in a YAML file onto c
func (c *Config) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("Unable to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("Invalid config file %s: %w", path, err)
	}
	return nil
}

// loadDotEnv injects a dotenv file into the process environment. Variables that are
// already set take precedence.
func loadDotEnv(envFile string) error {
	fi, err := os.Stat(envFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if fi.IsDir() {
		return nil
	}
	if err := godotenv.Load(envFile); err != nil {
		return fmt.Errorf("Invalid env file %s: %w", envFile, err)
	}
	return nil
}

// LoadEnv overlays WSRELAY_* environment variables onto c
func (c *Config) LoadEnv() error {
	var err error
	setString := func(name string, dst *string) {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	setBool := func(name string, dst *bool) {
		if err != nil {
			return
		}
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			*dst, err = parseEnvBool(envPrefix+name, v)
		}
	}
	setDuration := func(name string, dst *time.Duration) {
		if err != nil {
			return
		}
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			*dst, err = ParseMillisOrDuration(v)
			if err != nil {
				err = fmt.Errorf("Invalid %s%s: %w", envPrefix, name, err)
			}
		}
	}

	setString("LISTEN", &c.ListenURL)
	setString("UPSTREAM", &c.UpstreamURL)
	setString("TLS_SERVER_NAME", &c.TLSServerName)
	setString("PROXY", &c.Proxy)
	setString("LOG_LEVEL", &c.LogLevel)
	policy := string(c.ClientPolicy)
	setString("CLIENT_POLICY", &policy)
	c.ClientPolicy = ClientPolicy(policy)
	setBool("TLS_INSECURE", &c.TLSInsecure)
	setBool("DEBUG", &c.Debug)
	setDuration("RECONNECT_PERIOD", &c.ReconnectPeriod)
	setDuration("POLL_WAIT", &c.PollWait)
	setDuration("HANDSHAKE_TIMEOUT", &c.HandshakeTimeout)
	setDuration("WRITE_WAIT", &c.WriteWait)
	setDuration("PING_PERIOD", &c.PingPeriod)
	setDuration("PONG_WAIT", &c.PongWait)
	return err
}

func parseEnvBool(name, v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "", "0", "false", "no", "n", "off":
		return false, nil
	}
	return false, fmt.Errorf("Invalid boolean for %s: \"%s\"", name, v)
}

// ParseMillisOrDuration parses a Go duration string ("5s", "250ms"), or a bare
// integer which is taken as a number of milliseconds
func ParseMillisOrDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(n) * time.Millisecond, nil
	}
	return time.ParseDuration(s)
}

// Validate checks the configuration for consistency, filling in derived defaults
func (c *Config) Validate() error {
	lu, err := url.Parse(c.ListenURL)
	if err != nil {
		return fmt.Errorf("Invalid listen URL \"%s\": %w", c.ListenURL, err)
	}
	if lu.Scheme != "ws" && lu.Scheme != "http" {
		return fmt.Errorf("Unsupported listen URL scheme \"%s\" (expected ws or http)", lu.Scheme)
	}
	if lu.Host == "" {
		return fmt.Errorf("Listen URL \"%s\" has no host:port", c.ListenURL)
	}

	uu, err := url.Parse(c.UpstreamURL)
	if err != nil {
		return fmt.Errorf("Invalid upstream URL \"%s\": %w", c.UpstreamURL, err)
	}
	if uu.Scheme != "ws" && uu.Scheme != "wss" {
		return fmt.Errorf("Unsupported upstream URL scheme \"%s\" (expected ws or wss)", uu.Scheme)
	}
	if uu.Hostname() == "" {
		return fmt.Errorf("Upstream URL \"%s\" has no host", c.UpstreamURL)
	}
	if c.TLSServerName == "" {
		c.TLSServerName = uu.Hostname()
	}

	if c.ReconnectPeriod <= 0 {
		return fmt.Errorf("Reconnect period must be positive, got %s", c.ReconnectPeriod)
	}
	if c.PollWait <= 0 {
		return fmt.Errorf("Poll wait must be positive, got %s", c.PollWait)
	}
	if c.HandshakeTimeout < 0 || c.WriteWait < 0 || c.PingPeriod < 0 || c.PongWait < 0 {
		return errors.New("Timeouts must not be negative")
	}

	switch c.ClientPolicy {
	case ClientPolicyReject, ClientPolicyReplace:
	case "":
		c.ClientPolicy = ClientPolicyReject
	default:
		return fmt.Errorf("Unknown client policy \"%s\" (expected %s or %s)", c.ClientPolicy, ClientPolicyReject, ClientPolicyReplace)
	}

	if c.Proxy != "" {
		if _, err := c.ProxyURL(); err != nil {
			return err
		}
	}

	var level LogLevel
	if err := level.FromString(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ProxyURL returns the parsed upstream proxy URL, or nil if no proxy is configured
func (c *Config) ProxyURL() (*url.URL, error) {
	if c.Proxy == "" {
		return nil, nil
	}
	u, err := url.Parse(c.Proxy)
	if err != nil {
		return nil, fmt.Errorf("Invalid proxy URL \"%s\": %w", c.Proxy, err)
	}
	if u.Scheme != "socks5" && u.Scheme != "socks5h" {
		return nil, fmt.Errorf("Unsupported proxy scheme \"%s\" (expected socks5 or socks5h)", u.Scheme)
	}
	return u, nil
}

// EffectiveLogLevel returns the configured log level, raised to debug when Debug is set
func (c *Config) EffectiveLogLevel() LogLevel {
	level := StringToLogLevel(c.LogLevel)
	if level == LogLevelUnknown {
		level = LogLevelInfo
	}
	if c.Debug && level < LogLevelDebug {
		level = LogLevelDebug
	}
	return level
}
