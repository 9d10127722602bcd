package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every setting of the bridge process.
type Config struct {
	// HTTP configures the inbound request gateway.
	HTTP HTTP `yaml:"http"`
	// Ledger configures how sessions to the network are opened.
	Ledger Ledger `yaml:"ledger"`
	// Identity selects the enrolled identity used for every session.
	Identity Identity `yaml:"identity"`
	// Events configures the long-lived contract event subscription.
	Events Events `yaml:"events"`
	// Alarm configures the outbound telemetry sink.
	Alarm Alarm `yaml:"alarm"`
	// Log configures logging.
	Log Log `yaml:"log"`
	// Metrics configures the Prometheus endpoint.
	Metrics Metrics `yaml:"metrics"`
}

// HTTP holds the inbound listener settings.
type HTTP struct {
	// ListenAddress is the TCP address the HTTP server binds to.
	ListenAddress string `yaml:"listen_addr"`
	// ReadHeaderTimeout bounds how long a client may take to send headers.
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	// ShutdownTimeout bounds graceful shutdown of in-flight requests.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Ledger holds the network, channel and contract coordinates.
type Ledger struct {
	// Channel is the logical partition every transaction and event uses.
	Channel string `yaml:"channel"`
	// Chaincode is the deployed contract name within the channel.
	Chaincode string `yaml:"chaincode"`
	// ConnectionProfile is the path to the network topology descriptor.
	ConnectionProfile string `yaml:"connection_profile"`
	// Organization selects the client organization inside the profile.
	Organization string `yaml:"organization"`
	// Peer names the gateway peer statically; required when discovery is disabled.
	Peer string `yaml:"peer"`
	// Discovery controls endpoint discovery and localhost rewriting.
	Discovery Discovery `yaml:"discovery"`
	// Timeouts bound individual gateway calls.
	Timeouts Timeouts `yaml:"timeouts"`
}

// Discovery mirrors the gateway connection discovery options.
type Discovery struct {
	// Enabled lets the gateway peer discover endorsers and orderers dynamically.
	Enabled bool `yaml:"enabled"`
	// AsLocalhost rewrites peer hostnames to localhost, used when the
	// network runs in containers on the same host as the bridge.
	AsLocalhost bool `yaml:"as_localhost"`
}

// Timeouts bound the gateway calls of a transaction.
type Timeouts struct {
	// Dial bounds establishing the gRPC connection.
	Dial time.Duration `yaml:"dial"`
	// Evaluate bounds query evaluation.
	Evaluate time.Duration `yaml:"evaluate"`
	// Endorse bounds proposal endorsement.
	Endorse time.Duration `yaml:"endorse"`
	// Submit bounds submission to the orderer.
	Submit time.Duration `yaml:"submit"`
	// CommitStatus bounds waiting for the commit outcome.
	CommitStatus time.Duration `yaml:"commit_status"`
}

// Identity selects the wallet entry used to sign transactions.
type Identity struct {
	// WalletPath is the directory holding enrolled identities.
	WalletPath string `yaml:"wallet_path"`
	// Label is the wallet entry name.
	Label string `yaml:"label"`
}

// Events configures the contract event subscription.
type Events struct {
	// Enabled turns the subscription on. Disabled bridges only submit transactions.
	Enabled bool `yaml:"enabled"`
	// CheckpointFile, when set, persists the last processed block so a
	// restart resumes after it instead of at the current chain height.
	CheckpointFile string `yaml:"checkpoint_file"`
}

// Alarm configures the outbound telemetry sink.
type Alarm struct {
	// BaseURL is the sink root; alarms go to <BaseURL>/api/v1/{apiKey}/telemetry.
	BaseURL string `yaml:"base_url"`
	// Timeout bounds one delivery attempt.
	Timeout time.Duration `yaml:"timeout"`
	// QueueSize bounds alarms waiting for delivery.
	QueueSize int `yaml:"queue_size"`
}

// Log configures logging.
type Log struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is console or json.
	Format string `yaml:"format"`
}

// Metrics configures the Prometheus endpoint.
type Metrics struct {
	// Enabled exposes metrics on the HTTP listener.
	Enabled bool `yaml:"enabled"`
	// Path is the route metrics are served on.
	Path string `yaml:"path"`
}

const (
	// DefaultConfigFilename is the default settings filename.
	DefaultConfigFilename = "ledger-alarm-bridge.yaml"

	// DefaultListenAddress matches the port of the original bridge.
	DefaultListenAddress = ":3000"
	// DefaultChannel is the channel of the sample network.
	DefaultChannel = "mychannel"
	// DefaultChaincode is the contract of the sample network.
	DefaultChaincode = "basic"
	// DefaultOrganization is the client organization inside the profile.
	DefaultOrganization = "Org1"
	// DefaultWalletPath is the directory holding enrolled identities.
	DefaultWalletPath = "wallet"
	// DefaultIdentityLabel is the application identity enrolled at bootstrap.
	DefaultIdentityLabel = "appUser"
	// DefaultAlarmBaseURL is the telemetry sink of the original deployment.
	DefaultAlarmBaseURL = "http://localhost:8080"
	// DefaultMetricsPath is the Prometheus route.
	DefaultMetricsPath = "/metrics"

	// DefaultTimeout is the default duration for network operations.
	DefaultTimeout = 5 * time.Second
	// DefaultEndorseTimeout bounds proposal endorsement.
	DefaultEndorseTimeout = 15 * time.Second
	// DefaultCommitStatusTimeout bounds waiting for a commit outcome.
	DefaultCommitStatusTimeout = time.Minute
	// DefaultAlarmQueueSize bounds alarms waiting for delivery.
	DefaultAlarmQueueSize = 64

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errConnectionProfileRequired is returned when no topology is configured.
	errConnectionProfileRequired = errors.New("ledger connection profile must be provided")
	// errStaticPeerRequired is returned when discovery is off and no peer is named.
	errStaticPeerRequired = errors.New("ledger peer must be provided when discovery is disabled")
	// errInvalidQueueSize is returned for a negative alarm queue size.
	errInvalidQueueSize = errors.New("alarm queue size must not be negative")
)

// Default returns a configuration with discovery, events and metrics on.
func Default() *Config {
	cfg := &Config{
		Ledger: Ledger{
			Discovery: Discovery{
				Enabled:     true,
				AsLocalhost: true,
			},
		},
		Events:  Events{Enabled: true},
		Metrics: Metrics{Enabled: true},
	}

	applyDefaults(cfg)

	return cfg
}

// Load reads configuration from the provided path and validates it.
// Boolean switches absent from the file keep the values of Default.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(contents, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the configuration to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate fills in defaults and checks required fields and formatting.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	applyDefaults(cfg)

	if _, err := net.ResolveTCPAddr("tcp", cfg.HTTP.ListenAddress); err != nil {
		return fmt.Errorf("invalid listen address: %w", err)
	}

	if cfg.Ledger.ConnectionProfile == "" {
		return errConnectionProfileRequired
	}

	if !cfg.Ledger.Discovery.Enabled && cfg.Ledger.Peer == "" {
		return errStaticPeerRequired
	}

	if cfg.Alarm.QueueSize < 0 {
		return errInvalidQueueSize
	}

	baseURL, err := url.ParseRequestURI(cfg.Alarm.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid alarm base URL: %w", err)
	}

	if baseURL.Scheme != "http" && baseURL.Scheme != "https" {
		return fmt.Errorf("invalid alarm base URL scheme %q", baseURL.Scheme)
	}

	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return fmt.Errorf("invalid metrics path %q", cfg.Metrics.Path)
	}

	return nil
}

// applyDefaults sets every zero-valued field that has a sensible default.
//
//nolint:cyclop // Flat list of defaults reads better than a table.
func applyDefaults(cfg *Config) {
	if cfg.HTTP.ListenAddress == "" {
		cfg.HTTP.ListenAddress = DefaultListenAddress
	}

	if cfg.HTTP.ReadHeaderTimeout <= 0 {
		cfg.HTTP.ReadHeaderTimeout = DefaultTimeout
	}

	if cfg.HTTP.ShutdownTimeout <= 0 {
		cfg.HTTP.ShutdownTimeout = DefaultTimeout
	}

	if cfg.Ledger.Channel == "" {
		cfg.Ledger.Channel = DefaultChannel
	}

	if cfg.Ledger.Chaincode == "" {
		cfg.Ledger.Chaincode = DefaultChaincode
	}

	if cfg.Ledger.Organization == "" {
		cfg.Ledger.Organization = DefaultOrganization
	}

	timeouts := &cfg.Ledger.Timeouts
	if timeouts.Dial <= 0 {
		timeouts.Dial = DefaultTimeout
	}

	if timeouts.Evaluate <= 0 {
		timeouts.Evaluate = DefaultTimeout
	}

	if timeouts.Endorse <= 0 {
		timeouts.Endorse = DefaultEndorseTimeout
	}

	if timeouts.Submit <= 0 {
		timeouts.Submit = DefaultTimeout
	}

	if timeouts.CommitStatus <= 0 {
		timeouts.CommitStatus = DefaultCommitStatusTimeout
	}

	if cfg.Identity.WalletPath == "" {
		cfg.Identity.WalletPath = DefaultWalletPath
	}

	if cfg.Identity.Label == "" {
		cfg.Identity.Label = DefaultIdentityLabel
	}

	if cfg.Alarm.BaseURL == "" {
		cfg.Alarm.BaseURL = DefaultAlarmBaseURL
	}

	cfg.Alarm.BaseURL = strings.TrimRight(cfg.Alarm.BaseURL, "/")

	if cfg.Alarm.Timeout <= 0 {
		cfg.Alarm.Timeout = DefaultTimeout
	}

	if cfg.Alarm.QueueSize == 0 {
		cfg.Alarm.QueueSize = DefaultAlarmQueueSize
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
}
