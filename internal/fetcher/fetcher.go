// Package fetcher downloads source data over HTTP and reads tabular CSV and
// XLSX files for the import command.
package fetcher

import "context"

// Fetcher downloads remote documents.
type Fetcher interface {
	// Get fetches the URL and returns the full response body.
	Get(ctx context.Context, url string) ([]byte, error)
}
