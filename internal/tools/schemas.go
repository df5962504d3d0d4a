// Package tools defines the MCP tool names and request/response schemas
// for the SharedContext adapter.
package tools

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/localrivet/sharedcontext/internal/contextstore"
	"github.com/localrivet/sharedcontext/internal/errortypes"
)

const (
	// ToolCreateContext is the name of the create_context MCP tool
	ToolCreateContext = "create_context"

	// ToolAddEntry is the name of the add_entry MCP tool
	ToolAddEntry = "add_entry"

	// ToolUpdateReadme is the name of the update_readme MCP tool
	ToolUpdateReadme = "update_readme"

	// ToolListContexts is the name of the list_contexts MCP tool
	ToolListContexts = "list_contexts"

	// ToolGetReadme is the name of the get_readme MCP tool
	ToolGetReadme = "get_readme"

	// ResourceContext is the URI template of the context resource
	ResourceContext = "context://{contextId}"

	// DefaultListLimit is the number of contexts listed when no limit is given
	DefaultListLimit = 20

	// DefaultResourceLimit is the number of entries rendered by the context resource
	// when no limit is given
	DefaultResourceLimit = 20

	StatusSuccess = "success"
	StatusError   = "error"
)

// ValidateContextID checks that id is a UUID.
func ValidateContextID(id string) error {
	if id == "" {
		return errortypes.ValidationError(errors.New("contextId is required"), "invalid contextId")
	}
	if _, err := uuid.Parse(id); err != nil {
		return errortypes.ValidationError(fmt.Errorf("contextId %q is not a UUID: %w", id, err), "invalid contextId")
	}
	return nil
}

// EntryInput is one initial entry of create_context
type EntryInput struct {
	Content string `json:"content"`
}

// CreateContextRequest defines the input schema for create_context tool
type CreateContextRequest struct {
	// Entries are appended in order after the context is created
	Entries []EntryInput `json:"entries,omitempty"`

	// Readme is the optional initial README
	Readme *string `json:"readme,omitempty"`
}

// CreateContextResponse defines the output schema for create_context tool
type CreateContextResponse struct {
	// Status indicates the result of the operation ("success" or "error")
	Status    string `json:"status"`
	ContextID string `json:"contextId,omitempty"`
	URI       string `json:"uri,omitempty"`
	Message   string `json:"message,omitempty"`

	// Error contains an error message if Status is "error"
	Error string `json:"error,omitempty"`
}

// AddEntryRequest defines the input schema for add_entry tool
type AddEntryRequest struct {
	ContextID string `json:"contextId"`
	Content   string `json:"content"`
}

// Validate checks the request.
func (r AddEntryRequest) Validate() error {
	return ValidateContextID(r.ContextID)
}

// AddEntryResponse defines the output schema for add_entry tool
type AddEntryResponse struct {
	Status    string `json:"status"`
	ID        string `json:"id,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
}

// UpdateReadmeRequest defines the input schema for update_readme tool
type UpdateReadmeRequest struct {
	ContextID string `json:"contextId"`
	Readme    string `json:"readme"`
}

// Validate checks the request.
func (r UpdateReadmeRequest) Validate() error {
	return ValidateContextID(r.ContextID)
}

// UpdateReadmeResponse defines the output schema for update_readme tool
type UpdateReadmeResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ListContextsRequest defines the input schema for list_contexts tool
type ListContextsRequest struct {
	// Limit must be at least 1; DefaultListLimit when omitted
	Limit *int `json:"limit,omitempty"`

	// Offset must not be negative; 0 when omitted
	Offset *int `json:"offset,omitempty"`
}

// Page returns the effective limit and offset.
func (r ListContextsRequest) Page() (limit, offset int, err error) {
	limit, offset = DefaultListLimit, 0
	if r.Limit != nil {
		if *r.Limit < 1 {
			return 0, 0, errortypes.ValidationError(fmt.Errorf("limit %d is below 1", *r.Limit), "invalid limit")
		}
		limit = *r.Limit
	}
	if r.Offset != nil {
		if *r.Offset < 0 {
			return 0, 0, errortypes.ValidationError(fmt.Errorf("offset %d is negative", *r.Offset), "invalid offset")
		}
		offset = *r.Offset
	}
	return limit, offset, nil
}

// ContextSummary is one listed context
type ContextSummary struct {
	ID     string  `json:"id"`
	URI    string  `json:"uri"`
	Readme *string `json:"readme"`
}

// ListContextsResponse defines the output schema for list_contexts tool
type ListContextsResponse struct {
	Status   string           `json:"status"`
	Total    int              `json:"total"`
	Contexts []ContextSummary `json:"contexts,omitempty"`
	Message  string           `json:"message,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// GetReadmeRequest defines the input schema for get_readme tool
type GetReadmeRequest struct {
	ContextID string `json:"contextId"`
}

// Validate checks the request.
func (r GetReadmeRequest) Validate() error {
	return ValidateContextID(r.ContextID)
}

// GetReadmeResponse defines the output schema for get_readme tool
type GetReadmeResponse struct {
	Status string  `json:"status"`
	Readme *string `json:"readme"`
	Error  string  `json:"error,omitempty"`
}

// ContextResourceArgs are the arguments of the context resource. Order,
// Limit and Offset are optional read parameters.
type ContextResourceArgs struct {
	ContextID string `path:"contextId" json:"contextId"`
	Order     string `json:"order,omitempty"`
	Limit     *int   `json:"limit,omitempty"`
	Offset    *int   `json:"offset,omitempty"`
}

// Page returns the effective order, limit and offset: desc, DefaultResourceLimit
// and 0 when omitted.
func (a ContextResourceArgs) Page() (order contextstore.Order, limit, offset int, err error) {
	order = contextstore.OrderDesc
	if a.Order != "" {
		if order, err = contextstore.ParseOrder(a.Order); err != nil {
			return "", 0, 0, errortypes.ValidationError(err, "invalid order")
		}
	}
	limit, offset = DefaultResourceLimit, 0
	if a.Limit != nil {
		if *a.Limit < 1 {
			return "", 0, 0, errortypes.ValidationError(fmt.Errorf("limit %d is below 1", *a.Limit), "invalid limit")
		}
		limit = *a.Limit
	}
	if a.Offset != nil {
		if *a.Offset < 0 {
			return "", 0, 0, errortypes.ValidationError(fmt.Errorf("offset %d is negative", *a.Offset), "invalid offset")
		}
		offset = *a.Offset
	}
	return order, limit, offset, nil
}
