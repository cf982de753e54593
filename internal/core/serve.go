package core

import (
	"context"
	"os"

	"golang.org/x/sync/errgroup"

	"relaychat/internal/admin"
	"relaychat/internal/server"
	"relaychat/util"
)

// ServeMode runs a chat server and, when configured, the admin HTTP
// surface beside it.  Either one failing stops both.
type ServeMode struct {
	Server *server.Server
	Admin  *admin.Server // nil disables the admin surface
	LogDir string
	Quiet  bool
	Logger *util.Logger
}

// Run serves until ctx is cancelled.
func (m *ServeMode) Run(ctx context.Context) error {
	closer, err := m.Logger.Route(os.Stderr, m.LogDir, "server", m.Quiet)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		return m.Server.ListenAndServe(gctx)
	})
	if m.Admin != nil {
		g.Go(func() error {
			defer cancel()
			return m.Admin.Run(gctx)
		})
	}

	err = g.Wait()
	m.Logger.Info("server stopped")
	return err
}
