package core

import "pkt.systems/pslog"

// SessionDeps captures dependencies for a kernel session.
type SessionDeps struct {
	Workunits WorkunitClient
	Checker   SyntaxChecker
	Renderer  Renderer
	Logger    pslog.Logger
}
