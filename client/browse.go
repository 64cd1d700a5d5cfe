package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"pkt.systems/hsearch/api"
	"pkt.systems/hsearch/hostpool"
)

// Browse returns the first page of every object matching q. Unlike Search
// it is not capped by pagination limits; follow the cursor with BrowseFrom.
func (idx *Index) Browse(ctx context.Context, q *Query) (*api.BrowseResponse, error) {
	path := idx.path("browse")
	if params := q.Build(); params != "" {
		path += "?" + params
	}
	return idx.browse(ctx, path)
}

// BrowseFrom continues a browse from cursor.
func (idx *Index) BrowseFrom(ctx context.Context, cursor string) (*api.BrowseResponse, error) {
	return idx.browse(ctx, idx.path("browse")+"?"+url.Values{"cursor": {cursor}}.Encode())
}

func (idx *Index) browse(ctx context.Context, path string) (*api.BrowseResponse, error) {
	var out api.BrowseResponse
	if err := idx.client.DispatchJSON(ctx, Descriptor{
		Op:     OpBrowse,
		Method: http.MethodGet,
		Path:   path,
		Role:   hostpool.Read,
	}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// BrowseIterator walks every object of a browse, one page at a time.
// It is not safe for concurrent use.
type BrowseIterator struct {
	index   *Index
	query   *Query
	started bool
	cursor  string
	page    []json.RawMessage
	pos     int
	pages   int
}

// NewBrowseIterator prepares a browse of idx filtered by q. Nothing is
// fetched until the first Next.
func (idx *Index) NewBrowseIterator(q *Query) *BrowseIterator {
	if q == nil {
		q = NewQuery("")
	}
	return &BrowseIterator{index: idx, query: q.Clone()}
}

// Next returns the next object, or ErrIteratorDone once the index is
// exhausted. A failed page fetch may be retried by calling Next again.
func (it *BrowseIterator) Next(ctx context.Context) (json.RawMessage, error) {
	for it.pos >= len(it.page) {
		if it.started && it.cursor == "" {
			return nil, ErrIteratorDone
		}
		var (
			res *api.BrowseResponse
			err error
		)
		if !it.started {
			res, err = it.index.Browse(ctx, it.query)
		} else {
			res, err = it.index.BrowseFrom(ctx, it.cursor)
		}
		if err != nil {
			return nil, err
		}
		it.started = true
		it.pages++
		it.cursor = res.Cursor
		it.page = res.Hits
		it.pos = 0
	}
	obj := it.page[it.pos]
	it.pos++
	return obj, nil
}

// Cursor returns the cursor of the next page, empty once the last page
// was fetched.
func (it *BrowseIterator) Cursor() string { return it.cursor }

// Pages reports how many pages were fetched.
func (it *BrowseIterator) Pages() int { return it.pages }
