// Package store defines the domain types and persistence contracts for
// campaigns, searches, leads, and API keys. Implementations live in other
// packages; this package must not import database drivers or concrete
// clients.
package store
