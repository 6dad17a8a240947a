// Command hub-link is the device-side firmware-update agent daemon:
// load config, resolve an identifier, build an auth provider, and
// hand off to the supervisor for the life of the process.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/lawik/hub-link/internal/auth"
	"github.com/lawik/hub-link/internal/config"
	"github.com/lawik/hub-link/internal/identity"
	"github.com/lawik/hub-link/internal/logging"
	"github.com/lawik/hub-link/internal/session"
	"github.com/lawik/hub-link/internal/supervisor"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to config.yaml (searches /etc/hub-link and . if omitted)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hub-link: failed to load config: %v\n", err)
		return 1
	}

	logCfg := logging.DefaultConfig()
	if cfg.Logging.Level != "" {
		logCfg.Level = cfg.Logging.Level
	}
	if cfg.Logging.Format != "" {
		logCfg.Format = cfg.Logging.Format
	}
	logCfg.LogDir = cfg.Logging.LogDir

	logger, err := logging.New(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hub-link: failed to initialize logging: %v\n", err)
		return 1
	}
	defer logger.Sync()

	identifier, err := identity.Resolve(cfg.Identifier, cfg.IdentifierCommand)
	if err != nil {
		logger.Error("failed to resolve device identifier", zap.Error(err))
		return 1
	}
	logger.Info("resolved device identifier", zap.String("identifier", identifier))

	var provider auth.Provider
	switch cfg.Auth.Type {
	case config.AuthMtls:
		provider = auth.NewMtlsProvider(auth.MtlsCredentials{
			CertPath:   cfg.Auth.CertPath,
			KeyPath:    cfg.Auth.KeyPath,
			CACertPath: cfg.Auth.CACertPath,
		})
	case config.AuthSharedSecret:
		provider = auth.NewSharedSecretProvider(cfg.Auth.Key, cfg.Auth.Secret)
	default:
		logger.Error("unknown auth type", zap.String("type", string(cfg.Auth.Type)))
		return 1
	}

	sessCfg := session.Config{
		Host:              cfg.Host,
		Identifier:        identifier,
		Auth:              provider,
		Firmware:          cfg.Firmware,
		DeviceAPIVersion:  cfg.DeviceAPIVersion,
		HeartbeatInterval: cfg.HeartbeatInterval(),
		FwupDevpath:       cfg.FwupDevpath,
		FwupTask:          cfg.FwupTask,
		DataDir:           cfg.DataDir,
		Logger:            logger,
	}

	sup := supervisor.New(sessCfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go logObserverEvents(ctx, sup, logger)

	logger.Info("starting hub-link daemon", zap.String("host", cfg.Host))
	_ = sup.Run(ctx)
	logger.Info("shutdown complete")
	return 0
}

func logObserverEvents(ctx context.Context, sup *supervisor.Supervisor, logger *zap.Logger) {
	events := sup.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			switch ev.Kind {
			case session.Connected:
				logger.Info("connected to server")
			case session.Joined:
				logger.Info("joined device channel")
			case session.UpdateAvailable:
				logger.Info("firmware update available",
					zap.String("uuid", ev.Descriptor.FirmwareMeta.UUID),
					zap.String("version", ev.Descriptor.FirmwareMeta.Version))
			case session.FirmwareDownloaded:
				logger.Info("firmware downloaded", zap.String("path", ev.Path))
			case session.FirmwareApplied:
				logger.Info("firmware applied successfully")
			case session.RebootRequested:
				logger.Info("reboot requested by server")
			case session.Disconnected:
				logger.Warn("disconnected", zap.String("reason", ev.Reason))
			}
		}
	}
}
