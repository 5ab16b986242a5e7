// Package scraper defines the scraping collaborator contract and its
// headless-browser implementation. The queue core only knows the Scraper
// interface; it has no knowledge of browsers or of Google Maps.
package scraper

import (
	"context"
	"fmt"
)

// Query describes one scrape: where to look, what to look for, and how
// many results to return at most.
type Query struct {
	Region       string
	BusinessType string
	Keywords     []string
	MaxResults   int
}

// Lead is one extracted business record.
type Lead struct {
	Name        string
	Address     string
	Phone       string
	Website     string
	Rating      float64
	ReviewCount int
}

// Scraper executes a query and returns extracted leads.
type Scraper interface {
	Scrape(ctx context.Context, query Query) ([]Lead, error)
}

// ScrapeError is the typed failure the collaborator reports on
// navigation or extraction problems. The job transitions to error with
// this message; there is no automatic retry.
type ScrapeError struct {
	Stage string
	Err   error
}

func (e *ScrapeError) Error() string {
	return fmt.Sprintf("scrape %s: %v", e.Stage, e.Err)
}

func (e *ScrapeError) Unwrap() error {
	return e.Err
}
