package core

import "pkt.systems/eclkernel/schema"

// Renderer formats workunit output for the client.
type Renderer interface {
	FormatResult(name string, rows []any) (string, error)
	FormatExceptions(exceptions []schema.ECLException) (string, error)
	FormatProgress(id schema.WorkunitID, state schema.WorkunitState) schema.MimeBundle
}
