package api

import (
	"net/http"

	"github.com/spf13/cobra"
)

// Endpoint pairs a server route with the CLI command that calls it, so the
// HTTP API and `enrich api` never drift apart.
type Endpoint interface {
	// Route returns the method, the ServeMux path pattern and the handler.
	Route() (method, path string, handler http.HandlerFunc)

	// RequiresInit reports whether the handler needs the job manager. Such
	// routes answer 503 until the server has finished starting.
	RequiresInit() bool

	// Command builds the cobra command for this endpoint. getServerURL is
	// read when the command runs, after flags are parsed.
	Command(getServerURL func() string) *cobra.Command
}
