package client

import (
	"net/url"
	"strconv"
	"strings"
)

// Query builds the URL-encoded parameter string of a search. Parameters
// render sorted by name, so equal queries produce equal strings.
type Query struct {
	values url.Values
}

// NewQuery starts a query for the full-text string q.
func NewQuery(q string) *Query {
	query := &Query{values: make(url.Values)}
	if q != "" {
		query.values.Set("query", q)
	}
	return query
}

// ParseQuery reads a parameter string produced by Build.
func ParseQuery(params string) (*Query, error) {
	v, err := url.ParseQuery(params)
	if err != nil {
		return nil, err
	}
	return &Query{values: v}, nil
}

// Set assigns a raw parameter. An empty value removes it.
func (q *Query) Set(name, value string) *Query {
	if q.values == nil {
		q.values = make(url.Values)
	}
	if value == "" {
		q.values.Del(name)
		return q
	}
	q.values.Set(name, value)
	return q
}

// Get returns a raw parameter.
func (q *Query) Get(name string) string {
	return q.values.Get(name)
}

func (q *Query) setList(name string, items []string) *Query {
	return q.Set(name, strings.Join(items, ","))
}

func (q *Query) setInt(name string, v int) *Query {
	return q.Set(name, strconv.Itoa(v))
}

func (q *Query) setBool(name string, v bool) *Query {
	return q.Set(name, strconv.FormatBool(v))
}

// SetQuery replaces the full-text query.
func (q *Query) SetQuery(s string) *Query { return q.Set("query", s) }

// SetPage selects the zero-based result page.
func (q *Query) SetPage(page int) *Query { return q.setInt("page", page) }

// SetHitsPerPage sets the page size.
func (q *Query) SetHitsPerPage(n int) *Query { return q.setInt("hitsPerPage", n) }

// SetAttributesToRetrieve limits the returned attributes.
func (q *Query) SetAttributesToRetrieve(attrs ...string) *Query {
	return q.setList("attributesToRetrieve", attrs)
}

// SetAttributesToHighlight selects highlighted attributes.
func (q *Query) SetAttributesToHighlight(attrs ...string) *Query {
	return q.setList("attributesToHighlight", attrs)
}

// SetRestrictSearchableAttributes limits which attributes are searched.
func (q *Query) SetRestrictSearchableAttributes(attrs ...string) *Query {
	return q.setList("restrictSearchableAttributes", attrs)
}

// SetFilters sets a boolean filter expression.
func (q *Query) SetFilters(expr string) *Query { return q.Set("filters", expr) }

// SetFacets requests facet counts.
func (q *Query) SetFacets(facets ...string) *Query { return q.setList("facets", facets) }

// SetFacetFilters sets facet filters.
func (q *Query) SetFacetFilters(filters ...string) *Query { return q.setList("facetFilters", filters) }

// SetNumericFilters sets numeric filters such as "price>10".
func (q *Query) SetNumericFilters(filters ...string) *Query {
	return q.setList("numericFilters", filters)
}

// SetTagFilters sets tag filters.
func (q *Query) SetTagFilters(tags ...string) *Query { return q.setList("tagFilters", tags) }

// SetAroundLatLng centres a geo search.
func (q *Query) SetAroundLatLng(lat, lng float64) *Query {
	return q.Set("aroundLatLng",
		strconv.FormatFloat(lat, 'f', -1, 64)+","+strconv.FormatFloat(lng, 'f', -1, 64))
}

// SetAroundRadius bounds a geo search in meters.
func (q *Query) SetAroundRadius(meters int) *Query { return q.setInt("aroundRadius", meters) }

// SetGetRankingInfo includes ranking details in hits.
func (q *Query) SetGetRankingInfo(v bool) *Query { return q.setBool("getRankingInfo", v) }

// SetTypoTolerance sets "true", "false", "min" or "strict".
func (q *Query) SetTypoTolerance(mode string) *Query { return q.Set("typoTolerance", mode) }

// SetDistinct sets the distinct level.
func (q *Query) SetDistinct(level int) *Query { return q.setInt("distinct", level) }

// SetAnalytics toggles analytics recording.
func (q *Query) SetAnalytics(v bool) *Query { return q.setBool("analytics", v) }

// Build renders the parameter string.
func (q *Query) Build() string {
	if q == nil || len(q.values) == 0 {
		return ""
	}
	return q.values.Encode()
}

// Clone returns an independent copy.
func (q *Query) Clone() *Query {
	if q == nil {
		return NewQuery("")
	}
	out := &Query{values: make(url.Values, len(q.values))}
	for k, v := range q.values {
		out.values[k] = append([]string(nil), v...)
	}
	return out
}

func (q *Query) String() string { return q.Build() }
