package hsearch

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/hsearch/api"
	"pkt.systems/hsearch/client"
)

// HostFault is injected into one host of a TestService.
type HostFault int

const (
	// FaultNone serves requests normally.
	FaultNone HostFault = iota
	// FaultServerError answers every request with 503.
	FaultServerError
	// FaultHang holds requests open until the client gives up.
	FaultHang
	// FaultReset closes the connection without answering.
	FaultReset
)

// TestService is an in-memory implementation of the search REST API served
// on one or more local hosts. Every host shares the same data, so a client
// can fail over between them.
type TestService struct {
	AppID  string
	APIKey string
	// Hosts lists host:port for each listener, in start order.
	Hosts []string
	// Client targets all Hosts unless WithoutTestClient was given.
	Client *client.Client

	logger  pslog.Logger
	servers map[string]*httptest.Server
	hang    chan struct{}

	mu           sync.Mutex
	indexes      map[string]*testIndex
	faults       map[string]HostFault
	hits         map[string]int
	nextTask     int64
	pendingPolls int
	taskPolls    map[int64]int
	nextObjectID int64
}

type testIndex struct {
	objects   map[string]json.RawMessage
	order     []string
	settings  api.Settings
	createdAt time.Time
	updatedAt time.Time
}

type testServiceOptions struct {
	hosts      int
	appID      string
	apiKey     string
	logger     pslog.Logger
	clientOpts []client.Option
	noClient   bool
}

// TestServiceOption customises StartTestService.
type TestServiceOption func(*testServiceOptions)

// WithTestHosts sets how many hosts are started (default 3).
func WithTestHosts(n int) TestServiceOption {
	return func(o *testServiceOptions) { o.hosts = n }
}

// WithTestCredentials overrides the application id and API key accepted.
func WithTestCredentials(appID, apiKey string) TestServiceOption {
	return func(o *testServiceOptions) {
		o.appID = appID
		o.apiKey = apiKey
	}
}

// WithTestLogger routes service and client logs to logger.
func WithTestLogger(logger pslog.Logger) TestServiceOption {
	return func(o *testServiceOptions) { o.logger = logger }
}

// WithTestClientOptions appends options for the helper client.
func WithTestClientOptions(opts ...client.Option) TestServiceOption {
	return func(o *testServiceOptions) { o.clientOpts = append(o.clientOpts, opts...) }
}

// WithoutTestClient disables automatic client creation.
func WithoutTestClient() TestServiceOption {
	return func(o *testServiceOptions) { o.noClient = true }
}

// StartTestService starts the service and registers its shutdown with
// t.Cleanup.
func StartTestService(t testing.TB, opts ...TestServiceOption) *TestService {
	t.Helper()
	options := testServiceOptions{hosts: 3, appID: "TESTAPP", apiKey: "test-key"}
	for _, opt := range opts {
		opt(&options)
	}
	if options.hosts <= 0 {
		options.hosts = 1
	}
	if options.logger == nil {
		options.logger = NewTestingLogger(t, pslog.InfoLevel)
	}
	ts := &TestService{
		AppID:     options.appID,
		APIKey:    options.apiKey,
		logger:    options.logger.With("app", "testservice"),
		servers:   make(map[string]*httptest.Server),
		hang:      make(chan struct{}),
		indexes:   make(map[string]*testIndex),
		faults:    make(map[string]HostFault),
		hits:      make(map[string]int),
		taskPolls: make(map[int64]int),
	}
	for i := 0; i < options.hosts; i++ {
		srv := httptest.NewUnstartedServer(nil)
		srv.Start()
		host := strings.TrimPrefix(srv.URL, "http://")
		srv.Config.Handler = ts.hostHandler(host)
		ts.servers[host] = srv
		ts.Hosts = append(ts.Hosts, host)
	}
	t.Cleanup(ts.Close)
	if !options.noClient {
		cli, err := ts.NewClient(options.clientOpts...)
		if err != nil {
			t.Fatalf("testservice: client: %v", err)
		}
		ts.Client = cli
	}
	return ts
}

// NewClient returns a client pointed at every host over plain HTTP.
func (ts *TestService) NewClient(opts ...client.Option) (*client.Client, error) {
	base := []client.Option{
		client.WithScheme("http"),
		client.WithHosts(ts.Hosts...),
		client.WithLogger(ts.logger),
	}
	return client.New(ts.AppID, ts.APIKey, append(base, opts...)...)
}

// Close stops every host and the helper client.
func (ts *TestService) Close() {
	if ts.Client != nil {
		_ = ts.Client.Close()
	}
	ts.mu.Lock()
	select {
	case <-ts.hang:
	default:
		close(ts.hang)
	}
	servers := make([]*httptest.Server, 0, len(ts.servers))
	for _, srv := range ts.servers {
		servers = append(servers, srv)
	}
	ts.mu.Unlock()
	for _, srv := range servers {
		srv.Close()
	}
}

// StopHost shuts one host down; connections to it are refused afterwards.
func (ts *TestService) StopHost(host string) {
	ts.mu.Lock()
	srv := ts.servers[host]
	ts.mu.Unlock()
	if srv != nil {
		srv.Close()
	}
}

// SetFault injects fault on host.
func (ts *TestService) SetFault(host string, fault HostFault) {
	ts.mu.Lock()
	ts.faults[host] = fault
	ts.mu.Unlock()
}

// Requests reports how many requests reached host, faults included.
func (ts *TestService) Requests(host string) int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.hits[host]
}

// SetPendingTaskPolls makes every task report notPublished for the first n
// status polls.
func (ts *TestService) SetPendingTaskPolls(n int) {
	ts.mu.Lock()
	ts.pendingPolls = n
	ts.mu.Unlock()
}

// Seed stores objects in index without going through the API. Objects
// lacking an objectID get one assigned.
func (ts *TestService) Seed(index string, objects ...any) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	idx := ts.indexLocked(index, true)
	for _, obj := range objects {
		raw, err := json.Marshal(obj)
		if err != nil {
			return err
		}
		if _, err := ts.putLocked(idx, "", raw); err != nil {
			return err
		}
	}
	return nil
}

// Objects returns the objects of index in insertion order.
func (ts *TestService) Objects(index string) []json.RawMessage {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	idx := ts.indexLocked(index, false)
	if idx == nil {
		return nil
	}
	out := make([]json.RawMessage, 0, len(idx.order))
	for _, id := range idx.order {
		out = append(out, idx.objects[id])
	}
	return out
}

func (ts *TestService) hostHandler(host string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /1/indexes", ts.handleList)
	mux.HandleFunc("POST /1/indexes/*/queries", ts.handleMultipleQueries)
	mux.HandleFunc("POST /1/indexes/*/objects", ts.handleGetObjects)
	mux.HandleFunc("POST /1/indexes/*/batch", ts.handleMultiBatch)
	mux.HandleFunc("POST /1/indexes/{index}", ts.handleAdd)
	mux.HandleFunc("DELETE /1/indexes/{index}", ts.handleDeleteIndex)
	mux.HandleFunc("POST /1/indexes/{index}/query", ts.handleSearch)
	mux.HandleFunc("GET /1/indexes/{index}/browse", ts.handleBrowse)
	mux.HandleFunc("POST /1/indexes/{index}/batch", ts.handleBatch)
	mux.HandleFunc("POST /1/indexes/{index}/clear", ts.handleClear)
	mux.HandleFunc("POST /1/indexes/{index}/operation", ts.handleOperation)
	mux.HandleFunc("GET /1/indexes/{index}/settings", ts.handleGetSettings)
	mux.HandleFunc("PUT /1/indexes/{index}/settings", ts.handleSetSettings)
	mux.HandleFunc("GET /1/indexes/{index}/task/{task}", ts.handleTask)
	mux.HandleFunc("GET /1/indexes/{index}/{object}", ts.handleGetObject)
	mux.HandleFunc("PUT /1/indexes/{index}/{object}", ts.handleSave)
	mux.HandleFunc("DELETE /1/indexes/{index}/{object}", ts.handleDeleteObject)
	mux.HandleFunc("POST /1/indexes/{index}/{object}/partial", ts.handlePartial)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.mu.Lock()
		ts.hits[host]++
		fault := ts.faults[host]
		ts.mu.Unlock()
		ts.logger.Debug("testservice.request", "host", host, "method", r.Method, "path", r.URL.Path, "fault", int(fault))
		switch fault {
		case FaultServerError:
			writeJSON(w, http.StatusServiceUnavailable, api.ErrorResponse{Message: "injected failure", Status: http.StatusServiceUnavailable})
			return
		case FaultHang:
			select {
			case <-r.Context().Done():
			case <-ts.hang:
			}
			return
		case FaultReset:
			if hj, ok := w.(http.Hijacker); ok {
				if conn, _, err := hj.Hijack(); err == nil {
					_ = conn.Close()
					return
				}
			}
			panic(http.ErrAbortHandler)
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable body")
			return
		}
		if !ts.authorized(r, body) {
			writeError(w, http.StatusForbidden, "Invalid Application-ID or API key")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		mux.ServeHTTP(w, r)
	})
}

func (ts *TestService) authorized(r *http.Request, body []byte) bool {
	if r.Header.Get(client.HeaderApplicationID) != ts.AppID {
		return false
	}
	if key := r.Header.Get(client.HeaderAPIKey); key != "" {
		return key == ts.APIKey
	}
	var env struct {
		APIKey string `json:"apiKey"`
	}
	return len(body) > 0 && json.Unmarshal(body, &env) == nil && env.APIKey == ts.APIKey
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, api.ErrorResponse{Message: msg, Status: status})
}

func decodeBody(r *http.Request, out any) error {
	return json.NewDecoder(r.Body).Decode(out)
}

func (ts *TestService) indexLocked(name string, create bool) *testIndex {
	idx := ts.indexes[name]
	if idx == nil && create {
		now := time.Now().UTC()
		idx = &testIndex{objects: make(map[string]json.RawMessage), settings: api.Settings{}, createdAt: now, updatedAt: now}
		ts.indexes[name] = idx
	}
	return idx
}

func (ts *TestService) taskLocked() int64 {
	ts.nextTask++
	ts.taskPolls[ts.nextTask] = 0
	return ts.nextTask
}

// putLocked stores raw under id, or under the objectID it carries, or a
// fresh id. It returns the id used.
func (ts *TestService) putLocked(idx *testIndex, id string, raw json.RawMessage) (string, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", fmt.Errorf("object must be a JSON object")
	}
	if id == "" {
		if v, ok := obj["objectID"]; ok {
			_ = json.Unmarshal(v, &id)
		}
	}
	if id == "" {
		ts.nextObjectID++
		id = strconv.FormatInt(ts.nextObjectID, 10)
	}
	idJSON, _ := json.Marshal(id)
	obj["objectID"] = idJSON
	stored, err := json.Marshal(obj)
	if err != nil {
		return "", err
	}
	if _, exists := idx.objects[id]; !exists {
		idx.order = append(idx.order, id)
	}
	idx.objects[id] = stored
	idx.updatedAt = time.Now().UTC()
	return id, nil
}

func (ts *TestService) deleteLocked(idx *testIndex, id string) {
	if _, ok := idx.objects[id]; !ok {
		return
	}
	delete(idx.objects, id)
	for i, v := range idx.order {
		if v == id {
			idx.order = append(idx.order[:i], idx.order[i+1:]...)
			break
		}
	}
	idx.updatedAt = time.Now().UTC()
}

func (ts *TestService) partialLocked(idx *testIndex, id string, raw json.RawMessage, create bool) error {
	current, ok := idx.objects[id]
	if !ok && !create {
		return nil
	}
	merged := map[string]json.RawMessage{}
	if ok {
		_ = json.Unmarshal(current, &merged)
	}
	var patch map[string]json.RawMessage
	if err := json.Unmarshal(raw, &patch); err != nil {
		return fmt.Errorf("partial update must be a JSON object")
	}
	for k, v := range patch {
		merged[k] = v
	}
	out, _ := json.Marshal(merged)
	_, err := ts.putLocked(idx, id, out)
	return err
}

func (ts *TestService) applyBatchLocked(defaultIndex string, ops []api.BatchOperation) ([]string, map[string]int64, error) {
	var ids []string
	tasks := map[string]int64{}
	for _, op := range ops {
		name := op.IndexName
		if name == "" {
			name = defaultIndex
		}
		idx := ts.indexLocked(name, true)
		var objectID string
		if len(op.Body) > 0 {
			var peek struct {
				ObjectID string `json:"objectID"`
			}
			_ = json.Unmarshal(op.Body, &peek)
			objectID = peek.ObjectID
		}
		switch op.Action {
		case api.ActionAddObject, api.ActionUpdateObject:
			id, err := ts.putLocked(idx, objectID, op.Body)
			if err != nil {
				return nil, nil, err
			}
			ids = append(ids, id)
		case api.ActionPartialUpdateObject, api.ActionPartialUpdateNoCreate:
			if err := ts.partialLocked(idx, objectID, op.Body, op.Action == api.ActionPartialUpdateObject); err != nil {
				return nil, nil, err
			}
			ids = append(ids, objectID)
		case api.ActionDeleteObject:
			ts.deleteLocked(idx, objectID)
			ids = append(ids, objectID)
		case api.ActionDelete:
			delete(ts.indexes, name)
		case api.ActionClear:
			idx.objects = make(map[string]json.RawMessage)
			idx.order = nil
		default:
			return nil, nil, fmt.Errorf("unknown action %q", op.Action)
		}
		if _, ok := tasks[name]; !ok {
			tasks[name] = ts.taskLocked()
		}
	}
	return ids, tasks, nil
}

// matchLocked runs a case-insensitive substring query over the JSON text
// of every object.
func matchLocked(idx *testIndex, query string) []json.RawMessage {
	if idx == nil {
		return nil
	}
	needle := strings.ToLower(strings.TrimSpace(query))
	out := make([]json.RawMessage, 0, len(idx.order))
	for _, id := range idx.order {
		obj := idx.objects[id]
		if needle == "" || strings.Contains(strings.ToLower(string(obj)), needle) {
			out = append(out, obj)
		}
	}
	return out
}

func intParam(v url.Values, name string, def int) int {
	if n, err := strconv.Atoi(v.Get(name)); err == nil && n >= 0 {
		return n
	}
	return def
}

func (ts *TestService) searchLocked(name, params string) (api.SearchResponse, error) {
	values, err := url.ParseQuery(params)
	if err != nil {
		return api.SearchResponse{}, err
	}
	matches := matchLocked(ts.indexLocked(name, false), values.Get("query"))
	perPage := intParam(values, "hitsPerPage", 20)
	if perPage == 0 {
		perPage = 20
	}
	page := intParam(values, "page", 0)
	res := api.SearchResponse{
		Hits:             []json.RawMessage{},
		NbHits:           len(matches),
		Page:             page,
		NbPages:          (len(matches) + perPage - 1) / perPage,
		HitsPerPage:      perPage,
		ExhaustiveNbHits: true,
		Query:            values.Get("query"),
		Params:           params,
	}
	start := page * perPage
	if start < len(matches) {
		end := min(start+perPage, len(matches))
		res.Hits = append(res.Hits, matches[start:end]...)
	}
	return res, nil
}

func (ts *TestService) handleList(w http.ResponseWriter, r *http.Request) {
	ts.mu.Lock()
	names := make([]string, 0, len(ts.indexes))
	for name := range ts.indexes {
		names = append(names, name)
	}
	sort.Strings(names)
	res := api.ListIndexesResponse{Items: []api.IndexInfo{}, NbPages: 1}
	for _, name := range names {
		idx := ts.indexes[name]
		res.Items = append(res.Items, api.IndexInfo{
			Name:      name,
			CreatedAt: idx.createdAt.Format(time.RFC3339),
			UpdatedAt: idx.updatedAt.Format(time.RFC3339),
			Entries:   int64(len(idx.order)),
		})
	}
	ts.mu.Unlock()
	writeJSON(w, http.StatusOK, res)
}

func (ts *TestService) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req api.SearchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	ts.mu.Lock()
	res, err := ts.searchLocked(r.PathValue("index"), req.Params)
	ts.mu.Unlock()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid params")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (ts *TestService) handleMultipleQueries(w http.ResponseWriter, r *http.Request) {
	var req api.MultipleQueriesRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	out := api.MultipleQueriesResponse{Results: []api.SearchResponse{}}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for _, q := range req.Requests {
		res, err := ts.searchLocked(q.IndexName, q.Params)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid params")
			return
		}
		res.Index = q.IndexName
		out.Results = append(out.Results, res)
		if req.Strategy == api.StrategyStopIfEnoughMatches && res.NbHits >= res.HitsPerPage {
			break
		}
	}
	writeJSON(w, http.StatusOK, out)
}

const testBrowsePageSize = 1000

func (ts *TestService) handleBrowse(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	offset := 0
	params := values
	if cursor := values.Get("cursor"); cursor != "" {
		raw, err := base64.RawURLEncoding.DecodeString(cursor)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid cursor")
			return
		}
		state, err := url.ParseQuery(string(raw))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid cursor")
			return
		}
		offset = intParam(state, "offset", 0)
		params = state
	}
	perPage := intParam(params, "hitsPerPage", testBrowsePageSize)
	if perPage == 0 {
		perPage = testBrowsePageSize
	}
	ts.mu.Lock()
	matches := matchLocked(ts.indexLocked(r.PathValue("index"), false), params.Get("query"))
	ts.mu.Unlock()
	res := api.BrowseResponse{Hits: []json.RawMessage{}, NbHits: len(matches), HitsPerPage: perPage, Query: params.Get("query")}
	if offset < len(matches) {
		end := min(offset+perPage, len(matches))
		res.Hits = append(res.Hits, matches[offset:end]...)
		if end < len(matches) {
			next := url.Values{
				"offset":      {strconv.Itoa(end)},
				"hitsPerPage": {strconv.Itoa(perPage)},
				"query":       {params.Get("query")},
			}
			res.Cursor = base64.RawURLEncoding.EncodeToString([]byte(next.Encode()))
		}
	}
	writeJSON(w, http.StatusOK, res)
}

func (ts *TestService) handleGetObject(w http.ResponseWriter, r *http.Request) {
	ts.mu.Lock()
	idx := ts.indexLocked(r.PathValue("index"), false)
	var obj json.RawMessage
	if idx != nil {
		obj = idx.objects[r.PathValue("object")]
	}
	ts.mu.Unlock()
	if obj == nil {
		writeError(w, http.StatusNotFound, "ObjectID does not exist")
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	_, _ = w.Write(obj)
}

func (ts *TestService) handleGetObjects(w http.ResponseWriter, r *http.Request) {
	var req api.ObjectsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	res := api.ObjectsResponse{Results: make([]json.RawMessage, len(req.Requests))}
	ts.mu.Lock()
	for i, q := range req.Requests {
		res.Results[i] = json.RawMessage("null")
		if idx := ts.indexLocked(q.IndexName, false); idx != nil {
			if obj, ok := idx.objects[q.ObjectID]; ok {
				res.Results[i] = obj
			}
		}
	}
	ts.mu.Unlock()
	writeJSON(w, http.StatusOK, res)
}

func (ts *TestService) writeTask(w http.ResponseWriter, task int64, objectID string) {
	writeJSON(w, http.StatusOK, map[string]any{
		"taskID":    task,
		"objectID":  objectID,
		"updatedAt": time.Now().UTC().Format(time.RFC3339),
	})
}

func (ts *TestService) handleAdd(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	ts.mu.Lock()
	id, err := ts.putLocked(ts.indexLocked(r.PathValue("index"), true), "", stripAPIKey(body))
	task := ts.taskLocked()
	ts.mu.Unlock()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ts.writeTask(w, task, id)
}

func (ts *TestService) handleSave(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	ts.mu.Lock()
	id, err := ts.putLocked(ts.indexLocked(r.PathValue("index"), true), r.PathValue("object"), stripAPIKey(body))
	task := ts.taskLocked()
	ts.mu.Unlock()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ts.writeTask(w, task, id)
}

func (ts *TestService) handlePartial(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	create := r.URL.Query().Get("createIfNotExists") != "false"
	ts.mu.Lock()
	err := ts.partialLocked(ts.indexLocked(r.PathValue("index"), true), r.PathValue("object"), stripAPIKey(body), create)
	task := ts.taskLocked()
	ts.mu.Unlock()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ts.writeTask(w, task, r.PathValue("object"))
}

func (ts *TestService) handleDeleteObject(w http.ResponseWriter, r *http.Request) {
	ts.mu.Lock()
	if idx := ts.indexLocked(r.PathValue("index"), false); idx != nil {
		ts.deleteLocked(idx, r.PathValue("object"))
	}
	task := ts.taskLocked()
	ts.mu.Unlock()
	ts.writeTask(w, task, r.PathValue("object"))
}

func (ts *TestService) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req api.BatchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	name := r.PathValue("index")
	ts.mu.Lock()
	ids, _, err := ts.applyBatchLocked(name, req.Requests)
	task := ts.taskLocked()
	ts.mu.Unlock()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, api.BatchResponse{TaskID: task, ObjectIDs: ids})
}

func (ts *TestService) handleMultiBatch(w http.ResponseWriter, r *http.Request) {
	var req api.BatchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	for _, op := range req.Requests {
		if op.IndexName == "" {
			writeError(w, http.StatusBadRequest, "indexName is required")
			return
		}
	}
	ts.mu.Lock()
	ids, tasks, err := ts.applyBatchLocked("", req.Requests)
	ts.mu.Unlock()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, api.MultiBatchResponse{TaskID: tasks, ObjectIDs: ids})
}

func (ts *TestService) handleClear(w http.ResponseWriter, r *http.Request) {
	ts.mu.Lock()
	if idx := ts.indexLocked(r.PathValue("index"), false); idx != nil {
		idx.objects = make(map[string]json.RawMessage)
		idx.order = nil
		idx.updatedAt = time.Now().UTC()
	}
	task := ts.taskLocked()
	ts.mu.Unlock()
	ts.writeTask(w, task, "")
}

func (ts *TestService) handleDeleteIndex(w http.ResponseWriter, r *http.Request) {
	ts.mu.Lock()
	delete(ts.indexes, r.PathValue("index"))
	task := ts.taskLocked()
	ts.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"taskID": task, "deletedAt": time.Now().UTC().Format(time.RFC3339)})
}

func (ts *TestService) handleOperation(w http.ResponseWriter, r *http.Request) {
	var req api.OperationRequest
	if err := decodeBody(r, &req); err != nil || req.Destination == "" {
		writeError(w, http.StatusBadRequest, "operation and destination are required")
		return
	}
	src := r.PathValue("index")
	ts.mu.Lock()
	defer ts.mu.Unlock()
	idx := ts.indexLocked(src, false)
	if idx == nil {
		writeError(w, http.StatusNotFound, "Index does not exist")
		return
	}
	switch req.Operation {
	case api.OperationMove:
		ts.indexes[req.Destination] = idx
		delete(ts.indexes, src)
	case api.OperationCopy:
		dup := &testIndex{
			objects:   make(map[string]json.RawMessage, len(idx.objects)),
			order:     append([]string(nil), idx.order...),
			settings:  api.Settings{},
			createdAt: time.Now().UTC(),
			updatedAt: time.Now().UTC(),
		}
		for k, v := range idx.objects {
			dup.objects[k] = v
		}
		for k, v := range idx.settings {
			dup.settings[k] = v
		}
		ts.indexes[req.Destination] = dup
	default:
		writeError(w, http.StatusBadRequest, "unknown operation")
		return
	}
	ts.writeTask(w, ts.taskLocked(), "")
}

func (ts *TestService) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	ts.mu.Lock()
	idx := ts.indexLocked(r.PathValue("index"), false)
	var settings api.Settings
	if idx != nil {
		settings = make(api.Settings, len(idx.settings))
		for k, v := range idx.settings {
			settings[k] = v
		}
	}
	ts.mu.Unlock()
	if settings == nil {
		writeError(w, http.StatusNotFound, "Index does not exist")
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (ts *TestService) handleSetSettings(w http.ResponseWriter, r *http.Request) {
	var settings api.Settings
	if err := decodeBody(r, &settings); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	delete(settings, "apiKey")
	ts.mu.Lock()
	idx := ts.indexLocked(r.PathValue("index"), true)
	for k, v := range settings {
		idx.settings[k] = v
	}
	task := ts.taskLocked()
	ts.mu.Unlock()
	ts.writeTask(w, task, "")
}

func (ts *TestService) handleTask(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("task"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	ts.mu.Lock()
	polls, ok := ts.taskPolls[id]
	status := api.TaskPublished
	if ok {
		ts.taskPolls[id] = polls + 1
		if polls < ts.pendingPolls {
			status = api.TaskNotPublished
		}
	}
	ts.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "Task does not exist")
		return
	}
	writeJSON(w, http.StatusOK, api.TaskStatus{Status: status})
}

// stripAPIKey removes the apiKey member an oversized key is carried in.
func stripAPIKey(body []byte) []byte {
	var obj map[string]json.RawMessage
	if json.Unmarshal(body, &obj) != nil {
		return body
	}
	if _, ok := obj["apiKey"]; !ok {
		return body
	}
	delete(obj, "apiKey")
	out, err := json.Marshal(obj)
	if err != nil {
		return body
	}
	return out
}

type testingWriter struct {
	t      testing.TB
	mu     sync.Mutex
	closed bool
}

func (w *testingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return len(p), nil
	}
	for _, line := range bytes.Split(p, []byte{'\n'}) {
		if len(line) > 0 {
			w.t.Log(string(line))
		}
	}
	return len(p), nil
}

func (w *testingWriter) close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
}

// NewTestingLogger creates a structured logger that writes through t.Log
// and goes quiet once the test finishes.
func NewTestingLogger(t testing.TB, level pslog.Level) pslog.Logger {
	writer := &testingWriter{t: t}
	t.Cleanup(writer.close)
	return pslog.NewWithOptions(writer, pslog.Options{Mode: pslog.ModeStructured, MinLevel: level})
}
