// Package app composes the server process with fx.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aeolun/craftlink/pkg/database"
	"github.com/aeolun/craftlink/pkg/logging"
	"github.com/aeolun/craftlink/pkg/rcon"
	"github.com/aeolun/craftlink/pkg/server"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// Params are the command line inputs. Non-zero overrides win over the
// config file.
type Params struct {
	ConfigPath string
	Version    string

	TCPPort  int
	HTTPPort int
	DBPath   string
	Debug    bool
}

// Module returns the fx module for the server process
func Module(p Params) fx.Option {
	return fx.Module("craftlink",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideServerConfig,
			provideDatabase,
			provideCommands,
			provideServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

// New builds the application with fx events routed to the server logger
func New(p Params, opts ...fx.Option) *fx.App {
	return fx.New(append([]fx.Option{
		Module(p),
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Named("fx").WithOptions(zap.IncreaseLevel(zap.WarnLevel))}
		}),
	}, opts...)...)
}

func provideConfig(p Params) (server.TOMLConfig, error) {
	cfg, err := server.LoadConfig(p.ConfigPath)
	if err != nil {
		return server.TOMLConfig{}, fmt.Errorf("load config: %w", err)
	}
	if p.TCPPort != 0 {
		cfg.Server.TCPPort = p.TCPPort
	}
	if p.HTTPPort != 0 {
		cfg.Server.HTTPPort = p.HTTPPort
	}
	if p.DBPath != "" {
		cfg.Server.DatabasePath = p.DBPath
	}
	if p.Debug {
		cfg.Logging.Debug = true
	}
	return cfg, nil
}

type loggerResult struct {
	fx.Out

	Logger *zap.Logger
	Level  zap.AtomicLevel
}

func provideLogger(cfg server.TOMLConfig, lc fx.Lifecycle) (loggerResult, error) {
	logger, level, err := logging.New(cfg.Logging.Debug, cfg.Logging.File)
	if err != nil {
		return loggerResult{}, err
	}
	lc.Append(fx.StopHook(func() {
		_ = logger.Sync()
	}))
	return loggerResult{Logger: logger, Level: level}, nil
}

func provideServerConfig(cfg server.TOMLConfig) server.ServerConfig {
	return cfg.ToServerConfig()
}

func provideDatabase(cfg server.TOMLConfig, logger *zap.Logger, lc fx.Lifecycle) (*database.DB, error) {
	path, err := cfg.GetDatabasePath()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := database.Open(path, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("database opened", zap.String("path", path))

	lc.Append(fx.StopHook(func() error {
		return db.Close()
	}))
	return db, nil
}

// provideCommands returns nil when RCON is disabled, which turns the
// whitelist console commands off
func provideCommands(cfg server.TOMLConfig, logger *zap.Logger, lc fx.Lifecycle) server.CommandExecutor {
	if !cfg.RCON.Enabled {
		logger.Info("rcon disabled, whitelist changes stay in the database")
		return nil
	}
	client := rcon.New(cfg.RCON.Address, cfg.RCON.Password, cfg.RCONTimeout(), logger)
	lc.Append(fx.StopHook(client.Close))
	logger.Info("rcon enabled", zap.String("address", cfg.RCON.Address))
	return client
}

func provideServer(cfg server.ServerConfig, db *database.DB, commands server.CommandExecutor, logger *zap.Logger) *server.Server {
	return server.NewServer(cfg, server.StoresFromDB(db), server.Options{
		Commands: commands,
		Logger:   logger,
	})
}

func registerLifecycle(lc fx.Lifecycle, p Params, srv *server.Server, cfg server.ServerConfig, level zap.AtomicLevel, logger *zap.Logger) {
	watchCtx, stopWatch := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if err := srv.Start(); err != nil {
				stopWatch()
				return err
			}
			logger.Info("craftlink server started",
				zap.String("version", p.Version),
				zap.String("tcp", srv.Addr().String()),
				zap.Int("http_port", cfg.HTTPPort))

			onDebug := func(debug bool) { logging.SetDebug(level, debug) }
			if err := server.WatchConfig(watchCtx, p.ConfigPath, logger, onDebug); err != nil {
				logger.Warn("config watch disabled", zap.Error(err))
			}
			return nil
		},
		OnStop: func(context.Context) error {
			stopWatch()
			logger.Info("shutting down server")
			return srv.Stop()
		},
	})
}
