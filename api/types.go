package api

import "encoding/json"

// ErrorResponse is the body returned with 4xx and 5xx statuses.
type ErrorResponse struct {
	// Message is the human readable failure reason.
	Message string `json:"message"`
	// Status repeats the HTTP status code when the service includes it.
	Status int `json:"status,omitempty"`
}

// TaskResponse acknowledges an asynchronous write. The write is visible to
// queries once the task reaches TaskPublished.
type TaskResponse struct {
	// TaskID identifies the indexing task.
	TaskID int64 `json:"taskID"`
	// ObjectID is set by single-object writes.
	ObjectID string `json:"objectID,omitempty"`
	// CreatedAt is set when an object was created.
	CreatedAt string `json:"createdAt,omitempty"`
	// UpdatedAt is set by updates, settings changes and index operations.
	UpdatedAt string `json:"updatedAt,omitempty"`
	// DeletedAt is set by deletions.
	DeletedAt string `json:"deletedAt,omitempty"`
}

// Task states reported by TaskStatus.
const (
	TaskPublished    = "published"
	TaskNotPublished = "notPublished"
)

// TaskStatus is returned by GET /1/indexes/{index}/task/{taskID}.
type TaskStatus struct {
	Status      string `json:"status"`
	PendingTask bool   `json:"pendingTask"`
}

// Published reports whether the task has been applied.
func (s TaskStatus) Published() bool {
	return s.Status == TaskPublished
}

// SearchResponse is the result of a single query.
type SearchResponse struct {
	// Hits holds the matching records in ranking order.
	Hits []json.RawMessage `json:"hits"`
	// NbHits is the total number of matches.
	NbHits int `json:"nbHits"`
	// Page is the zero-based page returned.
	Page int `json:"page"`
	// NbPages is the number of pages available.
	NbPages int `json:"nbPages"`
	// HitsPerPage echoes the page size used.
	HitsPerPage int `json:"hitsPerPage"`
	// ProcessingTimeMS is the server-side processing time.
	ProcessingTimeMS int `json:"processingTimeMS"`
	// ExhaustiveNbHits is false when NbHits is an approximation.
	ExhaustiveNbHits bool `json:"exhaustiveNbHits"`
	// Query echoes the full-text query.
	Query string `json:"query"`
	// Params echoes the URL-encoded parameter string.
	Params string `json:"params"`
	// Facets maps facet name to value counts when facets were requested.
	Facets map[string]map[string]int `json:"facets,omitempty"`
	// Index is set in multiple-query responses.
	Index string `json:"index,omitempty"`
	// Cursor is set by browse responses while more pages remain.
	Cursor string `json:"cursor,omitempty"`
}

// DecodeHits unmarshals every hit into a fresh element of out, which must
// be a pointer to a slice.
func (r *SearchResponse) DecodeHits(out any) error {
	raw, err := json.Marshal(r.Hits)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// IndexInfo describes one index in a ListIndexesResponse.
type IndexInfo struct {
	Name                 string `json:"name"`
	CreatedAt            string `json:"createdAt"`
	UpdatedAt            string `json:"updatedAt"`
	Entries              int64  `json:"entries"`
	DataSize             int64  `json:"dataSize"`
	FileSize             int64  `json:"fileSize"`
	LastBuildTimeS       int64  `json:"lastBuildTimeS"`
	NumberOfPendingTasks int64  `json:"numberOfPendingTask"`
	PendingTask          bool   `json:"pendingTask"`
}

// ListIndexesResponse is returned by GET /1/indexes.
type ListIndexesResponse struct {
	Items   []IndexInfo `json:"items"`
	NbPages int         `json:"nbPages"`
}

// OperationRequest moves or copies an index.
type OperationRequest struct {
	// Operation is OperationMove or OperationCopy.
	Operation string `json:"operation"`
	// Destination is the target index name; it is overwritten.
	Destination string `json:"destination"`
}

// Index operations.
const (
	OperationMove = "move"
	OperationCopy = "copy"
)

// Settings is an index configuration document. It is kept as a generic map
// because the service accepts many optional keys.
type Settings map[string]any

// BrowseResponse is one page of an index browse.
type BrowseResponse = SearchResponse
