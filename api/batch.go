package api

import "encoding/json"

// Batch actions accepted by the batch endpoints.
const (
	ActionAddObject             = "addObject"
	ActionUpdateObject          = "updateObject"
	ActionPartialUpdateObject   = "partialUpdateObject"
	ActionPartialUpdateNoCreate = "partialUpdateObjectNoCreate"
	ActionDeleteObject          = "deleteObject"
	ActionDelete                = "delete"
	ActionClear                 = "clear"
)

// BatchOperation is one entry of a batch. IndexName is only used by the
// multi-index batch endpoint.
type BatchOperation struct {
	Action    string          `json:"action"`
	IndexName string          `json:"indexName,omitempty"`
	Body      json.RawMessage `json:"body,omitempty"`
}

// BatchRequest is the body of POST /1/indexes/{index}/batch and
// POST /1/indexes/*/batch.
type BatchRequest struct {
	Requests []BatchOperation `json:"requests"`
}

// BatchResponse is returned by the single-index batch endpoint.
type BatchResponse struct {
	TaskID    int64    `json:"taskID"`
	ObjectIDs []string `json:"objectIDs"`
}

// MultiBatchResponse is returned by the multi-index batch endpoint. TaskID
// maps each touched index to its task.
type MultiBatchResponse struct {
	TaskID    map[string]int64 `json:"taskID"`
	ObjectIDs []string         `json:"objectIDs"`
}

// ObjectRequest names one object for GetObjects.
type ObjectRequest struct {
	IndexName            string `json:"indexName"`
	ObjectID             string `json:"objectID"`
	AttributesToRetrieve string `json:"attributesToRetrieve,omitempty"`
}

// ObjectsRequest is the body of POST /1/indexes/*/objects.
type ObjectsRequest struct {
	Requests []ObjectRequest `json:"requests"`
}

// ObjectsResponse lists fetched objects in request order; missing objects
// are JSON null.
type ObjectsResponse struct {
	Results []json.RawMessage `json:"results"`
}

// IndexQuery pairs an index with an encoded parameter string.
type IndexQuery struct {
	IndexName string `json:"indexName"`
	Params    string `json:"params"`
}

// Multiple query strategies.
const (
	StrategyNone                = "none"
	StrategyStopIfEnoughMatches = "stopIfEnoughMatches"
)

// MultipleQueriesRequest is the body of POST /1/indexes/*/queries.
type MultipleQueriesRequest struct {
	Requests []IndexQuery `json:"requests"`
	Strategy string       `json:"strategy,omitempty"`
}

// MultipleQueriesResponse holds one result per request, in order.
type MultipleQueriesResponse struct {
	Results []SearchResponse `json:"results"`
}

// SearchRequest is the body of POST /1/indexes/{index}/query.
type SearchRequest struct {
	Params string `json:"params"`
}
