// Package core is the orchestration layer.  It composes the server,
// admin surface, client and console into complete operational modes
// and provides builders that turn a validated config into a Mode.
//
// Architecture layers (bottom → top):
//
//	protocol  →  session/registry  →  server | client  →  core  →  cmd (CLI)
package core

import "context"

// Mode represents a complete operational mode of relaychat (serve or
// chat).  Each mode owns its full lifecycle from setup to teardown.
type Mode interface {
	Run(ctx context.Context) error
}
