// Package search abstracts the remote sequence search service that
// produces alignments and template hits for a set of query chains.
package search

import "context"

// Options selects which databases and post-processing a search run uses.
type Options struct {
	// UseEnv adds the environmental sequence databases.
	UseEnv bool
	// UseTemplates requests structural template hits alongside alignments.
	UseTemplates bool
	// UsePairing runs the paired search across all submitted chains.
	UsePairing bool
	// HostURL overrides the default service endpoint.
	HostURL string
}

// Response is one search run's results. A3MLines holds one alignment text
// per submitted chain, in submission order. TemplatePaths holds, for runs
// with UseTemplates, one local template hit directory per chain; entries
// may be empty when a chain had no hits.
type Response struct {
	A3MLines      []string
	TemplatePaths []string
}

// Client runs remote searches. Implementations must be safe for
// concurrent use.
type Client interface {
	Search(ctx context.Context, sequences []string, opts Options) (*Response, error)
}

// Func adapts a plain function to the Client interface.
type Func func(ctx context.Context, sequences []string, opts Options) (*Response, error)

func (f Func) Search(ctx context.Context, sequences []string, opts Options) (*Response, error) {
	return f(ctx, sequences, opts)
}
