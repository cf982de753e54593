package core

import (
	"context"
	"time"

	"relaychat/internal/client"
	"relaychat/internal/console"
	"relaychat/util"
)

// quitWait is how long ChatMode waits for the server to close the
// connection after a Leave before dropping it.
const quitWait = 2 * time.Second

// ChatMode connects to a server and runs the interactive console until
// the user quits or the connection ends.
type ChatMode struct {
	Options client.Options
	LogDir  string
	Quiet   bool
	Logger  *util.Logger

	// Console defaults to console.Open on stdin/stdout.
	Console *console.Console
}

// Run connects, chats, and reports why the chat ended.  A clean quit
// returns nil.
func (m *ChatMode) Run(ctx context.Context) error {
	con := m.Console
	if con == nil {
		c, restore, err := console.Open("> ")
		if err != nil {
			return err
		}
		defer restore()
		con = c
	}

	// Log lines go through the console so they never clobber the line
	// being edited.
	closer, err := m.Logger.Route(con, m.LogDir, "client", m.Quiet)
	if err != nil {
		return err
	}
	defer closer.Close()

	opts := m.Options
	opts.Logger = m.Logger
	opts.OnEntry = con.Print

	c, err := client.Dial(ctx, opts)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := con.Run(ctx, c); err != nil {
		m.Logger.Warn("leave: %v", err)
	}

	select {
	case <-c.Done():
	case <-time.After(quitWait):
		m.Logger.Verbose("server did not close the connection; dropping it")
		c.Close() //nolint:errcheck
	}
	return c.Err()
}
