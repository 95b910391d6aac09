package api

import (
	"cmp"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/sdhr-guard/sdhr/internal/model"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 1000
)

// SortOrder is the direction of a listing.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// SortKey names the field a listing is ordered by.
type SortKey string

// Controller listing keys. SortByRegistered is registration order.
const (
	SortByRegistered SortKey = "registered"
	SortByID         SortKey = "id"
	SortByType       SortKey = "type"
	SortByStatus     SortKey = "status"
	SortByHealth     SortKey = "health"
)

// Switch history keys. SortByTimestamp is the order records were appended.
const (
	SortByTimestamp SortKey = "timestamp"
	SortByDuration  SortKey = "duration"
)

// ListQuery is a parsed limit, offset, sort_by and sort_order query.
type ListQuery struct {
	Limit  int
	Offset int
	SortBy SortKey
	Order  SortOrder
}

// listing describes how one resource may be ordered. A nil comparator keeps
// the order the service returned, which is the resource's natural order.
type listing[T any] struct {
	keys         map[SortKey]func(a, b T) int
	defaultKey   SortKey
	defaultOrder SortOrder
}

var controllerListing = listing[model.Controller]{
	keys: map[SortKey]func(a, b model.Controller) int{
		SortByRegistered: nil,
		SortByID:         func(a, b model.Controller) int { return strings.Compare(a.ID, b.ID) },
		SortByType:       func(a, b model.Controller) int { return cmp.Compare(a.Type, b.Type) },
		SortByStatus:     func(a, b model.Controller) int { return cmp.Compare(a.Status, b.Status) },
		SortByHealth:     func(a, b model.Controller) int { return cmp.Compare(a.Health, b.Health) },
	},
	defaultKey:   SortByRegistered,
	defaultOrder: SortAsc,
}

// switchRecordListing defaults to newest first.
var switchRecordListing = listing[model.SwitchRecord]{
	keys: map[SortKey]func(a, b model.SwitchRecord) int{
		SortByTimestamp: nil,
		SortByDuration:  func(a, b model.SwitchRecord) int { return cmp.Compare(a.Duration, b.Duration) },
	},
	defaultKey:   SortByTimestamp,
	defaultOrder: SortDesc,
}

func (l listing[T]) keyNames() []string {
	names := make([]string, 0, len(l.keys))
	for k := range l.keys {
		names = append(names, string(k))
	}
	slices.Sort(names)
	return names
}

// parse reads the listing query, rejecting sort keys l does not define.
func (l listing[T]) parse(r *http.Request) (ListQuery, error) {
	q := ListQuery{Limit: defaultPageLimit, SortBy: l.defaultKey, Order: l.defaultOrder}
	values := r.URL.Query()

	if v := values.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		switch {
		case err != nil || n < 0:
			return q, fmt.Errorf("limit: must be a non-negative integer")
		case n > maxPageLimit:
			return q, fmt.Errorf("limit: must be <= %d", maxPageLimit)
		case n > 0:
			q.Limit = n
		}
	}
	if v := values.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return q, fmt.Errorf("offset: must be a non-negative integer")
		}
		q.Offset = n
	}
	if v := values.Get("sort_by"); v != "" {
		if _, ok := l.keys[SortKey(v)]; !ok {
			return q, fmt.Errorf("sort_by: must be one of %s", strings.Join(l.keyNames(), ", "))
		}
		q.SortBy = SortKey(v)
	}
	if v := values.Get("sort_order"); v != "" {
		switch o := SortOrder(strings.ToLower(v)); o {
		case SortAsc, SortDesc:
			q.Order = o
		default:
			return q, fmt.Errorf("sort_order: must be asc or desc")
		}
	}
	return q, nil
}

// page orders items in place and returns the requested window. Descending
// order reverses the ascending one, so ties come out newest first.
func (l listing[T]) page(items []T, q ListQuery) []T {
	if compare := l.keys[q.SortBy]; compare != nil {
		slices.SortStableFunc(items, compare)
	}
	if q.Order == SortDesc {
		slices.Reverse(items)
	}
	if q.Offset >= len(items) {
		return []T{}
	}
	return items[q.Offset:min(q.Offset+q.Limit, len(items))]
}

// serve parses the query, writes the page, and reports parse errors as 400.
func (l listing[T]) serve(w http.ResponseWriter, r *http.Request, items func() []T) {
	q, err := l.parse(r)
	if err != nil {
		writeInvalid(w, err.Error())
		return
	}
	all := items()
	writeJSON(w, http.StatusOK, PageResponse[T]{
		Items:     l.page(all, q),
		Total:     len(all),
		Limit:     q.Limit,
		Offset:    q.Offset,
		SortBy:    q.SortBy,
		SortOrder: q.Order,
	})
}
