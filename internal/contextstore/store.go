// Package contextstore provides storage interfaces and implementations for
// the contexts and entries kept by the SharedContext service.
package contextstore

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Context is a named container of entries.
type Context struct {
	ID        string
	URI       string
	Readme    *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Entry is a single immutable text record belonging to a context.
type Entry struct {
	ID        string
	ContextID string
	Content   string
	// Seq is the global insertion sequence; it breaks timestamp ties.
	Seq       int64
	CreatedAt time.Time
}

// Order is the direction entries are listed in.
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// ParseOrder parses "asc" or "desc" case-insensitively. The empty string is asc.
func ParseOrder(s string) (Order, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "asc":
		return OrderAsc, nil
	case "desc":
		return OrderDesc, nil
	default:
		return "", fmt.Errorf("invalid order %q: must be asc or desc", s)
	}
}

// EntryStore is the append-only entry log.
type EntryStore interface {
	// AppendEntry stores content under contextID and returns the new entry.
	// It fails with a not-found error when the context does not exist.
	AppendEntry(ctx context.Context, contextID, content string) (*Entry, error)

	// ListEntries returns one page of entries in the given order together
	// with the total number of entries in the context, which does not
	// depend on limit or offset.
	ListEntries(ctx context.Context, contextID string, order Order, limit, offset int) ([]Entry, int, error)
}

// ContextRegistry manages context metadata.
type ContextRegistry interface {
	// CreateContext registers a new context. uri must be unique.
	CreateContext(ctx context.Context, uri string, readme *string) (*Context, error)

	// GetContext returns the context or nil, nil when it does not exist.
	GetContext(ctx context.Context, contextID string) (*Context, error)

	// ListContexts returns one page of contexts, newest first, and the total count.
	ListContexts(ctx context.Context, limit, offset int) ([]Context, int, error)

	// UpdateReadme replaces the readme. It reports false when the context does not exist.
	UpdateReadme(ctx context.Context, contextID string, readme *string) (bool, error)
}

// ContextStore defines the interface for storing and retrieving contexts and entries.
type ContextStore interface {
	EntryStore
	ContextRegistry

	// Initialize opens the store at dbPath and creates the schema.
	Initialize(dbPath string) error

	// Close closes the store and releases any resources.
	Close() error
}
