package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/canlink-io/canlink/internal/logging"
	"github.com/canlink-io/canlink/internal/slcan"
)

type appConfig struct {
	configFile      string
	backend         string
	slcanDev        string
	slcanBaud       int
	slcanBitrate    int
	slcanReadTO     time.Duration
	canIf           string
	deviceRetry     time.Duration
	listenAddr      string
	logFormat       string
	logLevel        string
	metricsAddr     string
	hubBuffer       int
	hubPolicy       string
	logMetricsEvery time.Duration
	maxClients      int
	handshakeTO     time.Duration
	clientReadTO    time.Duration
	mdnsEnable      bool
	mdnsName        string
	mqttBroker      string
	rtPump          bool
	rtPeriod        time.Duration
	rtPriority      int
	rtStrict        bool
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	configFile := flag.String("config", "", "YAML config file (lowest precedence; flags and env win)")
	backend := flag.String("backend", "socketcan", "CAN backend: slcan|socketcan")
	slcanDev := flag.String("slcan-device", "/dev/ttyACM0", "SLCAN serial device path")
	slcanBaud := flag.Int("slcan-baud", 115200, "SLCAN serial baud rate")
	slcanBitrate := flag.Int("slcan-bitrate", 500000, "CAN bus bitrate programmed via the SLCAN Sn preset")
	slcanReadTO := flag.Duration("slcan-read-timeout", 50*time.Millisecond, "SLCAN serial read timeout")
	canIf := flag.String("can-if", "can0", "SocketCAN interface (when -backend=socketcan)")
	deviceRetry := flag.Duration("device-retry", 0, "Retry device open with exponential backoff for up to this long (0 = single attempt)")
	listen := flag.String("listen", ":20000", "TCP listen address")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	hubBuf := flag.Int("hub-buffer", 512, "Per-client hub buffer (frames)")
	hubPolicy := flag.String("hub-policy", "drop", "Backpressure policy: drop|kick")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters (for non-Prometheus setups)")
	maxClients := flag.Int("max-clients", 0, "Maximum simultaneous TCP clients (0 = unlimited)")
	handshakeTO := flag.Duration("handshake-timeout", 3*time.Second, "Client handshake timeout")
	clientReadTO := flag.Duration("client-read-timeout", 60*time.Second, "Per-connection read deadline")
	mdnsEnable := flag.Bool("mdns-enable", false, "Enable mDNS/Avahi advertisement (packaged systemd unit enables by default)")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default canlinkd-<hostname>)")
	mqttBroker := flag.String("mqtt-broker", "", "MQTT broker URL for the frame uplink (e.g. mqtt://host:1883/fleet/bus0); empty disables")
	rtPump := flag.Bool("rt-pump", false, "Drain the CAN device from a fixed-period real-time task instead of a free-running reader")
	rtPeriod := flag.Duration("rt-period", time.Millisecond, "RT pump cycle period (when -rt-pump)")
	rtPriority := flag.Int("rt-priority", 50, "RT pump SCHED_FIFO priority 1..98 (when -rt-pump)")
	rtStrict := flag.Bool("rt-strict", false, "Fail startup if SCHED_FIFO cannot be acquired")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	// Track which flags were explicitly set to give them precedence over
	// the env and config file layers.
	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })
	cfg.configFile = *configFile
	cfg.backend = *backend
	cfg.slcanDev = *slcanDev
	cfg.slcanBaud = *slcanBaud
	cfg.slcanBitrate = *slcanBitrate
	cfg.slcanReadTO = *slcanReadTO
	cfg.canIf = *canIf
	cfg.deviceRetry = *deviceRetry
	cfg.listenAddr = *listen
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.metricsAddr = *metricsAddr
	cfg.hubBuffer = *hubBuf
	cfg.hubPolicy = *hubPolicy
	cfg.logMetricsEvery = *logMetricsEvery
	cfg.maxClients = *maxClients
	cfg.handshakeTO = *handshakeTO
	cfg.clientReadTO = *clientReadTO
	cfg.mdnsEnable = *mdnsEnable
	cfg.mdnsName = *mdnsName
	cfg.mqttBroker = *mqttBroker
	cfg.rtPump = *rtPump
	cfg.rtPeriod = *rtPeriod
	cfg.rtPriority = *rtPriority
	cfg.rtStrict = *rtStrict

	if err := loadConfigFile(cfg, setFlags); err != nil {
		fmt.Printf("config file error: %v\n", err)
		return nil, *showVersion
	}
	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// validate performs basic semantic validation of the parsed configuration.
// It does not attempt to open devices or listeners, only checks values/ranges.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	if _, err := logging.ParseLevel(c.logLevel); err != nil {
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	switch c.backend {
	case "slcan", "socketcan":
	default:
		return fmt.Errorf("invalid backend: %s", c.backend)
	}
	switch c.hubPolicy {
	case "drop", "kick":
	default:
		return fmt.Errorf("invalid hub-policy: %s", c.hubPolicy)
	}
	if c.hubBuffer <= 0 {
		return fmt.Errorf("hub-buffer must be > 0 (got %d)", c.hubBuffer)
	}
	if c.slcanBaud <= 0 {
		return fmt.Errorf("slcan-baud must be > 0 (got %d)", c.slcanBaud)
	}
	if _, ok := slcan.BitrateCode(c.slcanBitrate); !ok {
		return fmt.Errorf("unsupported slcan-bitrate: %d", c.slcanBitrate)
	}
	if c.slcanReadTO <= 0 {
		return fmt.Errorf("slcan-read-timeout must be > 0")
	}
	if c.deviceRetry < 0 {
		return fmt.Errorf("device-retry must be >= 0")
	}
	if c.handshakeTO <= 0 {
		return fmt.Errorf("handshake-timeout must be > 0")
	}
	if c.clientReadTO <= 0 {
		return fmt.Errorf("client-read-timeout must be > 0")
	}
	if c.maxClients < 0 {
		return fmt.Errorf("max-clients must be >= 0")
	}
	if c.rtPump {
		if c.backend != "socketcan" {
			return errors.New("rt-pump requires the socketcan backend")
		}
		if c.rtPeriod <= 0 {
			return errors.New("rt-period must be > 0")
		}
		if c.rtPriority < 1 || c.rtPriority > 98 {
			return fmt.Errorf("rt-priority must be in 1..98 (got %d)", c.rtPriority)
		}
	}
	return nil
}

// fileConfig mirrors the YAML config file layout. Pointer fields
// distinguish absent keys from zero values; durations are strings in
// time.ParseDuration format.
type fileConfig struct {
	Backend           *string `yaml:"backend"`
	SLCANDevice       *string `yaml:"slcan-device"`
	SLCANBaud         *int    `yaml:"slcan-baud"`
	SLCANBitrate      *int    `yaml:"slcan-bitrate"`
	SLCANReadTimeout  *string `yaml:"slcan-read-timeout"`
	CANIf             *string `yaml:"can-if"`
	DeviceRetry       *string `yaml:"device-retry"`
	Listen            *string `yaml:"listen"`
	LogFormat         *string `yaml:"log-format"`
	LogLevel          *string `yaml:"log-level"`
	MetricsAddr       *string `yaml:"metrics-addr"`
	HubBuffer         *int    `yaml:"hub-buffer"`
	HubPolicy         *string `yaml:"hub-policy"`
	LogMetricsEvery   *string `yaml:"log-metrics-interval"`
	MaxClients        *int    `yaml:"max-clients"`
	HandshakeTimeout  *string `yaml:"handshake-timeout"`
	ClientReadTimeout *string `yaml:"client-read-timeout"`
	MDNSEnable        *bool   `yaml:"mdns-enable"`
	MDNSName          *string `yaml:"mdns-name"`
	MQTTBroker        *string `yaml:"mqtt-broker"`
	RTPump            *bool   `yaml:"rt-pump"`
	RTPeriod          *string `yaml:"rt-period"`
	RTPriority        *int    `yaml:"rt-priority"`
	RTStrict          *bool   `yaml:"rt-strict"`
}

// loadConfigFile merges the YAML file into cfg for every field whose flag
// was not explicitly set. The path comes from -config or CANLINK_CONFIG;
// no path means no file layer. Env overrides are applied after this, so
// the file sits below both flags and env.
func loadConfigFile(c *appConfig, set map[string]struct{}) error {
	path := c.configFile
	if path == "" {
		path = strings.TrimSpace(os.Getenv("CANLINK_CONFIG"))
	}
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return fc.apply(c, set)
}

func (fc *fileConfig) apply(c *appConfig, set map[string]struct{}) error {
	skip := func(flagName string) bool { _, ok := set[flagName]; return ok }
	str := func(flagName string, v *string, dst *string) {
		if v == nil || skip(flagName) {
			return
		}
		*dst = strings.TrimSpace(*v)
	}
	num := func(flagName string, v *int, dst *int) {
		if v == nil || skip(flagName) {
			return
		}
		*dst = *v
	}
	boolVal := func(flagName string, v *bool, dst *bool) {
		if v == nil || skip(flagName) {
			return
		}
		*dst = *v
	}
	var firstErr error
	dur := func(flagName string, v *string, dst *time.Duration) {
		if v == nil || skip(flagName) {
			return
		}
		d, err := time.ParseDuration(strings.TrimSpace(*v))
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("config file %s: %w", flagName, err)
			}
			return
		}
		*dst = d
	}

	str("backend", fc.Backend, &c.backend)
	str("slcan-device", fc.SLCANDevice, &c.slcanDev)
	num("slcan-baud", fc.SLCANBaud, &c.slcanBaud)
	num("slcan-bitrate", fc.SLCANBitrate, &c.slcanBitrate)
	dur("slcan-read-timeout", fc.SLCANReadTimeout, &c.slcanReadTO)
	str("can-if", fc.CANIf, &c.canIf)
	dur("device-retry", fc.DeviceRetry, &c.deviceRetry)
	str("listen", fc.Listen, &c.listenAddr)
	str("log-format", fc.LogFormat, &c.logFormat)
	str("log-level", fc.LogLevel, &c.logLevel)
	str("metrics-addr", fc.MetricsAddr, &c.metricsAddr)
	num("hub-buffer", fc.HubBuffer, &c.hubBuffer)
	str("hub-policy", fc.HubPolicy, &c.hubPolicy)
	dur("log-metrics-interval", fc.LogMetricsEvery, &c.logMetricsEvery)
	num("max-clients", fc.MaxClients, &c.maxClients)
	dur("handshake-timeout", fc.HandshakeTimeout, &c.handshakeTO)
	dur("client-read-timeout", fc.ClientReadTimeout, &c.clientReadTO)
	boolVal("mdns-enable", fc.MDNSEnable, &c.mdnsEnable)
	str("mdns-name", fc.MDNSName, &c.mdnsName)
	str("mqtt-broker", fc.MQTTBroker, &c.mqttBroker)
	boolVal("rt-pump", fc.RTPump, &c.rtPump)
	dur("rt-period", fc.RTPeriod, &c.rtPeriod)
	num("rt-priority", fc.RTPriority, &c.rtPriority)
	boolVal("rt-strict", fc.RTStrict, &c.rtStrict)
	return firstErr
}

// applyEnvOverrides maps CANLINK_* environment variables to config fields
// unless a corresponding flag was explicitly set. Empty values are ignored
// except for CANLINK_METRICS, where empty disables the endpoint. Durations
// accept Go time.ParseDuration format.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }
	skip := func(flagName string) bool { _, ok := set[flagName]; return ok }
	envStr := func(flagName, key string, dst *string) {
		if skip(flagName) {
			return
		}
		if v, ok := get(key); ok && v != "" {
			*dst = v
		}
	}
	envInt := func(flagName, key string, min int, dst *int) {
		if skip(flagName) {
			return
		}
		v, ok := get(key)
		if !ok || v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("invalid %s: %w", key, err)
			}
			return
		}
		if n >= min {
			*dst = n
		}
	}
	envDur := func(flagName, key string, allowZero bool, dst *time.Duration) {
		if skip(flagName) {
			return
		}
		v, ok := get(key)
		if !ok || v == "" {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("invalid %s: %w", key, err)
			}
			return
		}
		if d > 0 || (allowZero && d == 0) {
			*dst = d
		}
	}
	envBool := func(flagName, key string, dst *bool) {
		if skip(flagName) {
			return
		}
		v, ok := get(key)
		if !ok || v == "" {
			return
		}
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			*dst = true
		case "0", "false", "no", "off":
			*dst = false
		}
	}

	envStr("backend", "CANLINK_BACKEND", &c.backend)
	envStr("slcan-device", "CANLINK_SLCAN_DEVICE", &c.slcanDev)
	envInt("slcan-baud", "CANLINK_SLCAN_BAUD", 1, &c.slcanBaud)
	envInt("slcan-bitrate", "CANLINK_SLCAN_BITRATE", 1, &c.slcanBitrate)
	envDur("slcan-read-timeout", "CANLINK_SLCAN_READ_TIMEOUT", false, &c.slcanReadTO)
	envStr("can-if", "CANLINK_IF", &c.canIf)
	envDur("device-retry", "CANLINK_DEVICE_RETRY", true, &c.deviceRetry)
	envStr("listen", "CANLINK_LISTEN", &c.listenAddr)
	envStr("log-format", "CANLINK_LOG_FORMAT", &c.logFormat)
	envStr("log-level", "CANLINK_LOG_LEVEL", &c.logLevel)
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("CANLINK_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	envInt("hub-buffer", "CANLINK_HUB_BUFFER", 1, &c.hubBuffer)
	envStr("hub-policy", "CANLINK_HUB_POLICY", &c.hubPolicy)
	envDur("log-metrics-interval", "CANLINK_LOG_METRICS_INTERVAL", true, &c.logMetricsEvery)
	envInt("max-clients", "CANLINK_MAX_CLIENTS", 0, &c.maxClients)
	envDur("handshake-timeout", "CANLINK_HANDSHAKE_TIMEOUT", false, &c.handshakeTO)
	envDur("client-read-timeout", "CANLINK_CLIENT_READ_TIMEOUT", false, &c.clientReadTO)
	envBool("mdns-enable", "CANLINK_MDNS_ENABLE", &c.mdnsEnable)
	envStr("mdns-name", "CANLINK_MDNS_NAME", &c.mdnsName)
	envStr("mqtt-broker", "CANLINK_MQTT_BROKER", &c.mqttBroker)
	envBool("rt-pump", "CANLINK_RT_PUMP", &c.rtPump)
	envDur("rt-period", "CANLINK_RT_PERIOD", false, &c.rtPeriod)
	envInt("rt-priority", "CANLINK_RT_PRIORITY", 1, &c.rtPriority)
	envBool("rt-strict", "CANLINK_RT_STRICT", &c.rtStrict)
	return firstErr
}
