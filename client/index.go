package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"pkt.systems/hsearch/api"
	"pkt.systems/hsearch/hostpool"
)

// ErrObjectIDRequired guards calls that would otherwise address the whole
// index instead of one object.
var ErrObjectIDRequired = errors.New("hsearch: objectID required")

const (
	waitTaskInitialDelay = 100 * time.Millisecond
	waitTaskMaxDelay     = 10 * time.Second
)

// Index is a handle on one index of the application. Obtain it with
// Client.InitIndex.
type Index struct {
	client  *Client
	name    string
	escaped string

	cacheMu sync.RWMutex
	cache   *searchCache
}

func newIndex(c *Client, name string) *Index {
	return &Index{client: c, name: name, escaped: url.PathEscape(name)}
}

// Name returns the index name.
func (idx *Index) Name() string { return idx.name }

// Client returns the owning client.
func (idx *Index) Client() *Client { return idx.client }

func (idx *Index) path(parts ...string) string {
	var b strings.Builder
	b.WriteString("/1/indexes/")
	b.WriteString(idx.escaped)
	for _, p := range parts {
		b.WriteByte('/')
		b.WriteString(p)
	}
	return b.String()
}

func encodeBody(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("hsearch: encode request: %w", err)
	}
	return data, nil
}

// EnableSearchCache keeps successful search answers for ttl, up to size
// distinct queries. Non-positive values select the defaults.
func (idx *Index) EnableSearchCache(ttl time.Duration, size int) {
	idx.cacheMu.Lock()
	idx.cache = newSearchCache(ttl, size)
	idx.cacheMu.Unlock()
	idx.client.rememberSearchCache(idx.name, &cacheSettings{ttl: ttl, size: size})
}

// DisableSearchCache drops the search cache.
func (idx *Index) DisableSearchCache() {
	idx.cacheMu.Lock()
	idx.cache = nil
	idx.cacheMu.Unlock()
	idx.client.rememberSearchCache(idx.name, nil)
}

// ClearSearchCache empties the search cache, if enabled.
func (idx *Index) ClearSearchCache() {
	idx.cacheMu.RLock()
	idx.cache.purge()
	idx.cacheMu.RUnlock()
}

// SearchCacheLen reports how many answers are cached.
func (idx *Index) SearchCacheLen() int {
	idx.cacheMu.RLock()
	defer idx.cacheMu.RUnlock()
	return idx.cache.len()
}

func (idx *Index) searchCache() *searchCache {
	idx.cacheMu.RLock()
	defer idx.cacheMu.RUnlock()
	return idx.cache
}

// SearchRaw runs q and returns the undecoded answer. Search uses the read
// hosts and the search timeout. The returned slice is the caller's to keep.
func (idx *Index) SearchRaw(ctx context.Context, q *Query) ([]byte, error) {
	body, _, err := idx.searchRaw(ctx, q)
	return body, err
}

// searchRaw also reports the host that produced the answer, for decode
// errors.
func (idx *Index) searchRaw(ctx context.Context, q *Query) ([]byte, string, error) {
	params := q.Build()
	cache := idx.searchCache()
	if body, host, ok := cache.get(params); ok {
		idx.client.logTraceCtx(ctx, "client.search.cache_hit", "index", idx.name)
		return body, host, nil
	}
	payload, err := encodeBody(api.SearchRequest{Params: params})
	if err != nil {
		return nil, "", err
	}
	body, host, err := idx.client.dispatch(ctx, &Descriptor{
		Op:     OpSearch,
		Method: http.MethodPost,
		Path:   idx.path("query"),
		Body:   payload,
		Role:   hostpool.Read,
		Search: true,
	})
	if err != nil {
		return nil, "", err
	}
	if json.Valid(body) {
		cache.put(params, host, body)
	}
	return body, host, nil
}

// Search runs q against the index.
func (idx *Index) Search(ctx context.Context, q *Query) (*api.SearchResponse, error) {
	body, host, err := idx.searchRaw(ctx, q)
	if err != nil {
		return nil, err
	}
	var out api.SearchResponse
	if err := decodePayload(host, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SearchAsync runs Search on the client's request executor.
func (idx *Index) SearchAsync(ctx context.Context, q *Query, onComplete CompletionHandler[*api.SearchResponse]) *Future[*api.SearchResponse] {
	q = q.Clone()
	return Go(ctx, idx.client, func(ctx context.Context) (*api.SearchResponse, error) {
		return idx.Search(ctx, q)
	}, onComplete)
}

// GetObject fetches one object. attrs limits the returned attributes.
func (idx *Index) GetObject(ctx context.Context, objectID string, attrs ...string) (json.RawMessage, error) {
	if objectID == "" {
		return nil, ErrObjectIDRequired
	}
	path := idx.path(url.PathEscape(objectID))
	if len(attrs) > 0 {
		path += "?" + url.Values{"attributes": {strings.Join(attrs, ",")}}.Encode()
	}
	var out json.RawMessage
	err := idx.client.DispatchJSON(ctx, Descriptor{
		Op:     OpGetObject,
		Method: http.MethodGet,
		Path:   path,
		Role:   hostpool.Read,
	}, &out)
	return out, err
}

// GetObjects fetches several objects in one call. Missing objects come
// back as JSON null at their position.
func (idx *Index) GetObjects(ctx context.Context, objectIDs []string) ([]json.RawMessage, error) {
	req := api.ObjectsRequest{Requests: make([]api.ObjectRequest, len(objectIDs))}
	for i, id := range objectIDs {
		req.Requests[i] = api.ObjectRequest{IndexName: idx.name, ObjectID: id}
	}
	payload, err := encodeBody(req)
	if err != nil {
		return nil, err
	}
	var out api.ObjectsResponse
	if err := idx.client.DispatchJSON(ctx, Descriptor{
		Op:     OpGetObjects,
		Method: http.MethodPost,
		Path:   "/1/indexes/*/objects",
		Body:   payload,
		Role:   hostpool.Read,
	}, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

func (idx *Index) write(ctx context.Context, op Operation, method, path string, payload any) (*api.TaskResponse, error) {
	var body []byte
	if payload != nil {
		var err error
		if body, err = encodeBody(payload); err != nil {
			return nil, err
		}
	}
	var out api.TaskResponse
	if err := idx.client.DispatchJSON(ctx, Descriptor{
		Op:     op,
		Method: method,
		Path:   path,
		Body:   body,
		Role:   hostpool.Write,
	}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AddObject stores obj under a service assigned objectID.
func (idx *Index) AddObject(ctx context.Context, obj any) (*api.TaskResponse, error) {
	return idx.write(ctx, OpAddObject, http.MethodPost, idx.path(), obj)
}

// SaveObject creates or replaces the object with objectID.
func (idx *Index) SaveObject(ctx context.Context, objectID string, obj any) (*api.TaskResponse, error) {
	if objectID == "" {
		return nil, ErrObjectIDRequired
	}
	return idx.write(ctx, OpSaveObject, http.MethodPut, idx.path(url.PathEscape(objectID)), obj)
}

// PartialUpdateObject merges partial into the object with objectID. When
// createIfNotExists is false a missing object is left absent.
func (idx *Index) PartialUpdateObject(ctx context.Context, objectID string, partial any, createIfNotExists bool) (*api.TaskResponse, error) {
	if objectID == "" {
		return nil, ErrObjectIDRequired
	}
	path := idx.path(url.PathEscape(objectID), "partial")
	if !createIfNotExists {
		path += "?createIfNotExists=false"
	}
	return idx.write(ctx, OpPartialUpdate, http.MethodPost, path, partial)
}

// DeleteObject removes the object with objectID.
func (idx *Index) DeleteObject(ctx context.Context, objectID string) (*api.TaskResponse, error) {
	if objectID == "" {
		return nil, ErrObjectIDRequired
	}
	return idx.write(ctx, OpDeleteObject, http.MethodDelete, idx.path(url.PathEscape(objectID)), nil)
}

// Batch applies ops to the index as one task.
func (idx *Index) Batch(ctx context.Context, ops []api.BatchOperation) (*api.BatchResponse, error) {
	payload, err := encodeBody(api.BatchRequest{Requests: ops})
	if err != nil {
		return nil, err
	}
	var out api.BatchResponse
	if err := idx.client.DispatchJSON(ctx, Descriptor{
		Op:     OpBatch,
		Method: http.MethodPost,
		Path:   idx.path("batch"),
		Body:   payload,
		Role:   hostpool.Write,
	}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func batchOf(action string, objs []any) ([]api.BatchOperation, error) {
	ops := make([]api.BatchOperation, len(objs))
	for i, obj := range objs {
		body, err := encodeBody(obj)
		if err != nil {
			return nil, err
		}
		ops[i] = api.BatchOperation{Action: action, Body: body}
	}
	return ops, nil
}

// AddObjects adds every object with service assigned ids.
func (idx *Index) AddObjects(ctx context.Context, objs []any) (*api.BatchResponse, error) {
	ops, err := batchOf(api.ActionAddObject, objs)
	if err != nil {
		return nil, err
	}
	return idx.Batch(ctx, ops)
}

// SaveObjects creates or replaces every object. Each object must carry
// an objectID attribute.
func (idx *Index) SaveObjects(ctx context.Context, objs []any) (*api.BatchResponse, error) {
	ops, err := batchOf(api.ActionUpdateObject, objs)
	if err != nil {
		return nil, err
	}
	return idx.Batch(ctx, ops)
}

// DeleteObjects removes every listed object.
func (idx *Index) DeleteObjects(ctx context.Context, objectIDs []string) (*api.BatchResponse, error) {
	objs := make([]any, len(objectIDs))
	for i, id := range objectIDs {
		if id == "" {
			return nil, ErrObjectIDRequired
		}
		objs[i] = map[string]string{"objectID": id}
	}
	ops, err := batchOf(api.ActionDeleteObject, objs)
	if err != nil {
		return nil, err
	}
	return idx.Batch(ctx, ops)
}

// Clear removes every object but keeps the settings.
func (idx *Index) Clear(ctx context.Context) (*api.TaskResponse, error) {
	return idx.write(ctx, OpClearIndex, http.MethodPost, idx.path("clear"), nil)
}

// Delete removes the index.
func (idx *Index) Delete(ctx context.Context) (*api.TaskResponse, error) {
	return idx.client.DeleteIndex(ctx, idx.name)
}

// GetSettings returns the index configuration.
func (idx *Index) GetSettings(ctx context.Context) (api.Settings, error) {
	var out api.Settings
	if err := idx.client.DispatchJSON(ctx, Descriptor{
		Op:     OpGetSettings,
		Method: http.MethodGet,
		Path:   idx.path("settings"),
		Role:   hostpool.Read,
	}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SetSettings updates the index configuration. Keys not present are left
// unchanged.
func (idx *Index) SetSettings(ctx context.Context, settings api.Settings) (*api.TaskResponse, error) {
	return idx.write(ctx, OpSetSettings, http.MethodPut, idx.path("settings"), settings)
}

// TaskStatus reports the state of an indexing task.
func (idx *Index) TaskStatus(ctx context.Context, taskID int64) (*api.TaskStatus, error) {
	var out api.TaskStatus
	if err := idx.client.DispatchJSON(ctx, Descriptor{
		Op:     OpTaskStatus,
		Method: http.MethodGet,
		Path:   idx.path("task", strconv.FormatInt(taskID, 10)),
		Role:   hostpool.Read,
	}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WaitTask polls until taskID is published. The delay between polls starts
// at 100ms and doubles up to 10s.
func (idx *Index) WaitTask(ctx context.Context, taskID int64) error {
	if ctx == nil {
		ctx = context.Background()
	}
	delay := waitTaskInitialDelay
	for {
		st, err := idx.TaskStatus(ctx, taskID)
		if err != nil {
			return err
		}
		if st.Published() {
			return nil
		}
		idx.client.logTraceCtx(ctx, "client.task.pending", "index", idx.name, "task_id", taskID, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-idx.client.clock.After(delay):
		}
		delay *= 2
		if delay > waitTaskMaxDelay {
			delay = waitTaskMaxDelay
		}
	}
}
