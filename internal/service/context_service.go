// Package service composes the entry store and context registry into the
// operations exposed by the REST and MCP surfaces.
package service

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/localrivet/sharedcontext/internal/contextstore"
	"github.com/localrivet/sharedcontext/internal/errortypes"
)

// CreateResult identifies a newly created context.
type CreateResult struct {
	ContextID string `json:"contextId"`
	URI       string `json:"uri"`
}

// EntryView is an entry as seen by callers. Timestamp is unix milliseconds.
type EntryView struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// EntriesPage is one page of entries plus the total count for the context.
type EntriesPage struct {
	Entries []EntryView `json:"entries"`
	Total   int         `json:"total"`
}

// ContextSummary is a context as listed by ListContexts.
type ContextSummary struct {
	ID     string  `json:"id"`
	URI    string  `json:"uri"`
	Readme *string `json:"readme"`
}

// ContextsPage is one page of contexts plus the total count.
type ContextsPage struct {
	Contexts []ContextSummary `json:"contexts"`
	Total    int              `json:"total"`
}

// ContextService validates context existence before mutating and reshapes
// store records for callers. Store errors are returned unchanged.
type ContextService struct {
	store  contextstore.ContextStore
	logger *slog.Logger
	newURI func() string
}

// NewContextService creates a ContextService over store.
func NewContextService(store contextstore.ContextStore, logger *slog.Logger) *ContextService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ContextService{
		store:  store,
		logger: logger,
		newURI: func() string { return uuid.NewString() },
	}
}

func toView(e *contextstore.Entry) EntryView {
	return EntryView{
		ID:        e.ID,
		Content:   e.Content,
		Timestamp: e.CreatedAt.UnixMilli(),
	}
}

// CreateContext creates a context with a fresh display URI, then appends
// entries one by one. A failing append leaves the context and the entries
// before it in place.
func (s *ContextService) CreateContext(ctx context.Context, entries []string, readme *string) (*CreateResult, error) {
	c, err := s.store.CreateContext(ctx, s.newURI(), readme)
	if err != nil {
		return nil, err
	}

	for i, content := range entries {
		if _, err := s.store.AppendEntry(ctx, c.ID, content); err != nil {
			s.logger.Warn("Initial entry append failed; context left partially populated",
				"context_id", c.ID, "appended", i, "requested", len(entries), "error", err)
			return nil, err
		}
	}

	s.logger.Info("Context created", "context_id", c.ID, "entries", len(entries))
	return &CreateResult{ContextID: c.ID, URI: c.URI}, nil
}

func (s *ContextService) mustExist(ctx context.Context, contextID string) (*contextstore.Context, error) {
	c, err := s.store.GetContext(ctx, contextID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, errortypes.ContextNotFound(contextID)
	}
	return c, nil
}

// ContextExists reports whether contextID refers to a stored context.
func (s *ContextService) ContextExists(ctx context.Context, contextID string) (bool, error) {
	c, err := s.store.GetContext(ctx, contextID)
	if err != nil {
		return false, err
	}
	return c != nil, nil
}

// GetContext returns a page of entries. An unknown context is a not-found error.
func (s *ContextService) GetContext(ctx context.Context, contextID string, order contextstore.Order, limit, offset int) (*EntriesPage, error) {
	if _, err := s.mustExist(ctx, contextID); err != nil {
		return nil, err
	}

	entries, total, err := s.store.ListEntries(ctx, contextID, order, limit, offset)
	if err != nil {
		return nil, err
	}

	page := &EntriesPage{Entries: make([]EntryView, 0, len(entries)), Total: total}
	for i := range entries {
		page.Entries = append(page.Entries, toView(&entries[i]))
	}
	return page, nil
}

// ListContexts returns a page of contexts, newest first.
func (s *ContextService) ListContexts(ctx context.Context, limit, offset int) (*ContextsPage, error) {
	contexts, total, err := s.store.ListContexts(ctx, limit, offset)
	if err != nil {
		return nil, err
	}

	page := &ContextsPage{Contexts: make([]ContextSummary, 0, len(contexts)), Total: total}
	for _, c := range contexts {
		page.Contexts = append(page.Contexts, ContextSummary{ID: c.ID, URI: c.URI, Readme: c.Readme})
	}
	return page, nil
}

// GetReadme returns the readme, or nil when it was never set.
func (s *ContextService) GetReadme(ctx context.Context, contextID string) (*string, error) {
	c, err := s.mustExist(ctx, contextID)
	if err != nil {
		return nil, err
	}
	return c.Readme, nil
}

// UpdateReadme replaces the readme of an existing context.
func (s *ContextService) UpdateReadme(ctx context.Context, contextID string, readme *string) (bool, error) {
	if _, err := s.mustExist(ctx, contextID); err != nil {
		return false, err
	}

	updated, err := s.store.UpdateReadme(ctx, contextID, readme)
	if err != nil {
		return false, err
	}
	if !updated {
		// Removed between the check and the update.
		return false, errortypes.ContextNotFound(contextID)
	}
	return true, nil
}

// AddEntry appends content to an existing context.
func (s *ContextService) AddEntry(ctx context.Context, contextID, content string) (*EntryView, error) {
	if _, err := s.mustExist(ctx, contextID); err != nil {
		return nil, err
	}

	e, err := s.store.AppendEntry(ctx, contextID, content)
	if err != nil {
		return nil, err
	}

	view := toView(e)
	return &view, nil
}
