package client

import (
	"context"
	"net/http"
	"net/url"

	"pkt.systems/hsearch/api"
	"pkt.systems/hsearch/hostpool"
)

// ListIndexes lists the indexes of the application.
func (c *Client) ListIndexes(ctx context.Context) (*api.ListIndexesResponse, error) {
	var out api.ListIndexesResponse
	if err := c.DispatchJSON(ctx, Descriptor{
		Op:     OpListIndexes,
		Method: http.MethodGet,
		Path:   "/1/indexes",
		Role:   hostpool.Read,
	}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListIndexesAsync runs ListIndexes on the request executor.
func (c *Client) ListIndexesAsync(ctx context.Context, onComplete CompletionHandler[*api.ListIndexesResponse]) *Future[*api.ListIndexesResponse] {
	return Go(ctx, c, c.ListIndexes, onComplete)
}

// DeleteIndex removes an index and its settings.
func (c *Client) DeleteIndex(ctx context.Context, name string) (*api.TaskResponse, error) {
	if name == "" {
		return nil, configErrorf("index", "index name required")
	}
	var out api.TaskResponse
	if err := c.DispatchJSON(ctx, Descriptor{
		Op:     OpDeleteIndex,
		Method: http.MethodDelete,
		Path:   "/1/indexes/" + url.PathEscape(name),
		Role:   hostpool.Write,
	}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MoveIndex renames src to dst, overwriting dst.
func (c *Client) MoveIndex(ctx context.Context, src, dst string) (*api.TaskResponse, error) {
	return c.indexOperation(ctx, src, api.OperationMove, dst)
}

// CopyIndex copies src to dst, overwriting dst.
func (c *Client) CopyIndex(ctx context.Context, src, dst string) (*api.TaskResponse, error) {
	return c.indexOperation(ctx, src, api.OperationCopy, dst)
}

func (c *Client) indexOperation(ctx context.Context, src, op, dst string) (*api.TaskResponse, error) {
	if src == "" || dst == "" {
		return nil, configErrorf("index", "source and destination index names required")
	}
	payload, err := encodeBody(api.OperationRequest{Operation: op, Destination: dst})
	if err != nil {
		return nil, err
	}
	var out api.TaskResponse
	if err := c.DispatchJSON(ctx, Descriptor{
		Op:     OpIndexOperation,
		Method: http.MethodPost,
		Path:   "/1/indexes/" + url.PathEscape(src) + "/operation",
		Body:   payload,
		Role:   hostpool.Write,
	}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MultipleQueries runs several queries, possibly on different indexes, in
// one round trip. strategy is api.StrategyNone or
// api.StrategyStopIfEnoughMatches; empty means none.
func (c *Client) MultipleQueries(ctx context.Context, queries []IndexedQuery, strategy string) (*api.MultipleQueriesResponse, error) {
	req := api.MultipleQueriesRequest{
		Requests: make([]api.IndexQuery, len(queries)),
		Strategy: strategy,
	}
	for i, q := range queries {
		req.Requests[i] = api.IndexQuery{IndexName: q.Index, Params: q.Query.Build()}
	}
	payload, err := encodeBody(req)
	if err != nil {
		return nil, err
	}
	var out api.MultipleQueriesResponse
	if err := c.DispatchJSON(ctx, Descriptor{
		Op:     OpMultipleQueries,
		Method: http.MethodPost,
		Path:   "/1/indexes/*/queries",
		Body:   payload,
		Role:   hostpool.Read,
		Search: true,
	}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MultipleQueriesAsync runs MultipleQueries on the request executor.
func (c *Client) MultipleQueriesAsync(ctx context.Context, queries []IndexedQuery, strategy string, onComplete CompletionHandler[*api.MultipleQueriesResponse]) *Future[*api.MultipleQueriesResponse] {
	cloned := make([]IndexedQuery, len(queries))
	for i, q := range queries {
		cloned[i] = IndexedQuery{Index: q.Index, Query: q.Query.Clone()}
	}
	return Go(ctx, c, func(ctx context.Context) (*api.MultipleQueriesResponse, error) {
		return c.MultipleQueries(ctx, cloned, strategy)
	}, onComplete)
}

// IndexedQuery pairs a query with the index it targets.
type IndexedQuery struct {
	Index string
	Query *Query
}

// Batch applies operations across several indexes. Every operation must
// name its index.
func (c *Client) Batch(ctx context.Context, ops []api.BatchOperation) (*api.MultiBatchResponse, error) {
	for _, op := range ops {
		if op.IndexName == "" {
			return nil, configErrorf("batch", "operation %q is missing indexName", op.Action)
		}
	}
	payload, err := encodeBody(api.BatchRequest{Requests: ops})
	if err != nil {
		return nil, err
	}
	var out api.MultiBatchResponse
	if err := c.DispatchJSON(ctx, Descriptor{
		Op:     OpBatch,
		Method: http.MethodPost,
		Path:   "/1/indexes/*/batch",
		Body:   payload,
		Role:   hostpool.Write,
	}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
