package bridge

import (
	"context"
	"fmt"
	"net"

	"github.com/oshokin/ledger-alarm-bridge/internal/config"
	"github.com/oshokin/ledger-alarm-bridge/internal/ledger"
	"github.com/oshokin/ledger-alarm-bridge/internal/logger"
	"github.com/oshokin/ledger-alarm-bridge/internal/topology"
	"github.com/oshokin/ledger-alarm-bridge/internal/wallet"
)

// Options controls the bridge process.
type Options struct {
	// ConfigPath specifies the path to settings YAML file.
	ConfigPath string
	// LogLevel overrides log.level from the settings when not empty.
	LogLevel string
	// ListenAddress overrides http.listen_addr from the settings when not empty.
	ListenAddress string
}

// Run loads the settings, connects the bridge to the ledger network and
// serves until ctx is canceled.
func Run(ctx context.Context, opts *Options) error {
	settings, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	if opts.ListenAddress != "" {
		settings.HTTP.ListenAddress = opts.ListenAddress
	}

	level := settings.Log.Level
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}

	configureLogging(level, settings.Log.Format)

	ctx = logger.WithName(ctx, "bridge")

	connector, err := NewConnector(ctx, settings)
	if err != nil {
		return err
	}

	lc := net.ListenConfig{}

	lis, err := lc.Listen(ctx, "tcp", settings.HTTP.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", settings.HTTP.ListenAddress, err)
	}

	return New(settings, connector).Serve(ctx, lis)
}

// NewConnector resolves the gateway peer and the enrolled identity named by
// the settings.
func NewConnector(ctx context.Context, settings *config.Config) (*ledger.Connector, error) {
	profile, err := topology.Load(settings.Ledger.ConnectionProfile)
	if err != nil {
		return nil, fmt.Errorf("load connection profile: %w", err)
	}

	endpoint, err := profile.Endpoint(settings.Ledger.Organization, settings.Ledger.Peer, topology.Discovery{
		Enabled:     settings.Ledger.Discovery.Enabled,
		AsLocalhost: settings.Ledger.Discovery.AsLocalhost,
	})
	if err != nil {
		return nil, fmt.Errorf("resolve gateway peer: %w", err)
	}

	enrolled, err := wallet.NewFileWallet(settings.Identity.WalletPath).Get(ctx, settings.Identity.Label)
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}

	timeouts := settings.Ledger.Timeouts

	connector, err := ledger.NewConnector(enrolled, endpoint, ledger.WithTimeouts(ledger.Timeouts{
		Dial:         timeouts.Dial,
		Evaluate:     timeouts.Evaluate,
		Endorse:      timeouts.Endorse,
		Submit:       timeouts.Submit,
		CommitStatus: timeouts.CommitStatus,
	}))
	if err != nil {
		return nil, fmt.Errorf("prepare ledger connector: %w", err)
	}

	logger.InfoKV(ctx, "Ledger gateway resolved",
		"peer", endpoint.Peer,
		"address", endpoint.Address,
		"msp_id", enrolled.MSPID,
		"identity", settings.Identity.Label,
	)

	return connector, nil
}

// configureLogging applies the log format and level. Unknown values fall back
// to console output at info level.
func configureLogging(level, format string) {
	ctx := context.Background()

	parsedFormat, ok := logger.ParseFormat(format)
	if parsedFormat != logger.FormatConsole {
		logger.SetLogger(logger.New(parsedFormat))
	}

	if !ok {
		logger.WarnKV(ctx, "Unknown log format, using console", "format", format)
	}

	parsedLevel, ok := logger.ParseLogLevel(level)
	if !ok {
		logger.WarnKV(ctx, "Unknown log level, using info", "level", level)
	}

	logger.SetLevel(parsedLevel)
}
