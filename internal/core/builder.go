package core

import (
	"relaychat/config"
	"relaychat/internal/admin"
	"relaychat/internal/client"
	"relaychat/internal/metrics"
	"relaychat/internal/retry"
	"relaychat/internal/server"
	"relaychat/internal/transport"
	"relaychat/util"
)

// BuildServer constructs a ServeMode from cfg.  cfg must already be
// validated.
func BuildServer(cfg *config.ServerConfig, logger *util.Logger) (Mode, error) {
	stats := metrics.New()
	srv := server.New(server.Options{
		Addr:           cfg.ListenAddr(),
		IdleTimeout:    cfg.IdleTimeout,
		KeepAlive:      cfg.KeepAlive,
		ReconnectGrace: cfg.ReconnectGrace,
		WriteTimeout:   cfg.WriteTimeout,
		MaxFrame:       cfg.MaxFrame,
		Logger:         logger,
		Metrics:        stats,
	})

	m := &ServeMode{
		Server: srv,
		LogDir: cfg.LogDir,
		Quiet:  cfg.Quiet,
		Logger: logger,
	}
	if cfg.Admin != "" {
		m.Admin = &admin.Server{
			Addr:    cfg.Admin,
			Handler: admin.Handler(srv.Registry(), stats, logger),
			Logger:  logger,
		}
	}
	return m, nil
}

// BuildClient constructs a ChatMode from cfg.
func BuildClient(cfg *config.ClientConfig, logger *util.Logger) (Mode, error) {
	bo := retry.DialBackoff()
	bo.MaxAttempts = cfg.ConnectAttempts

	return &ChatMode{
		Options: client.Options{
			Addr:         cfg.Addr(),
			Nick:         cfg.Nick,
			Dialer:       &transport.TCPDialer{Timeout: cfg.ConnectTimeout},
			Backoff:      bo,
			WriteTimeout: cfg.WriteTimeout,
			History:      cfg.History,
			Logger:       logger,
		},
		LogDir: cfg.LogDir,
		Quiet:  cfg.Quiet,
		Logger: logger,
	}, nil
}
