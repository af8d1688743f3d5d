package apiclient

import "encoding/json"

// Pagination mirrors the server's paging metadata.
type Pagination struct {
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	PageSize   int   `json:"pageSize"`
	TotalPages int   `json:"totalPages"`
}

// Envelope is the full response shape returned by every endpoint. The cache
// stores the whole envelope, never just Data: consumers pattern-match on the
// success flag and pagination, and a partial cache would silently break them.
type Envelope struct {
	Success    bool            `json:"success"`
	Message    string          `json:"message,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Pagination *Pagination     `json:"pagination,omitempty"`
	CSRFToken  string          `json:"csrfToken,omitempty"`
}
