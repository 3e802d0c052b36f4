package query

import (
	"context"
	"math"
	"strconv"
	"strings"
)

const (
	DefaultProductPageSize = 12
	DefaultPageSize        = 10
	MaxPageSize            = 100

	// MaxPageNumber keeps (Number-1)*Size inside int64.
	MaxPageNumber = math.MaxInt32
)

// Sort orders results by one field. Ties are broken by document id in the
// same direction so pages are stable.
type Sort struct {
	Field string
	Desc  bool
}

// NewestFirst is the default listing order.
var NewestFirst = Sort{Field: "createdAt", Desc: true}

// FindOptions bounds a Find call. Limit 0 means no limit.
type FindOptions struct {
	Sort  Sort
	Skip  int64
	Limit int64
}

// PageRequest is a validated page number and size, both at least 1.
type PageRequest struct {
	Number int
	Size   int
}

// NewPageRequest parses raw pageNumber and pageSize values. Absent,
// non-numeric or non-positive values fall back to page 1 and defaultSize.
// Sizes above MaxPageSize and numbers above MaxPageNumber are capped.
func NewPageRequest(pageNumber, pageSize string, defaultSize int) PageRequest {
	req := PageRequest{Number: 1, Size: defaultSize}
	if n, err := strconv.Atoi(strings.TrimSpace(pageNumber)); err == nil && n > 0 {
		req.Number = n
	}
	if n, err := strconv.Atoi(strings.TrimSpace(pageSize)); err == nil && n > 0 {
		req.Size = n
	}
	if req.Size > MaxPageSize {
		req.Size = MaxPageSize
	}
	if req.Number > MaxPageNumber {
		req.Number = MaxPageNumber
	}
	return req
}

// PageRequestFrom reads pageNumber and pageSize from params.
func PageRequestFrom(p Params, defaultSize int) PageRequest {
	return NewPageRequest(p.Get("pageNumber"), p.Get("pageSize"), defaultSize)
}

// Skip saturates at math.MaxInt64 so an oversized request stays past the end.
func (r PageRequest) Skip() int64 {
	if r.Number <= 1 || r.Size <= 0 {
		return 0
	}
	n := int64(r.Number - 1)
	if n > math.MaxInt64/int64(r.Size) {
		return math.MaxInt64
	}
	return n * int64(r.Size)
}

func (r PageRequest) Limit() int64 {
	return int64(r.Size)
}

// Page is one slice of a filtered listing.
type Page[T any] struct {
	Items []T
	Page  int
	Pages int
	Total int64
}

// PageCount is ceil(total/size), zero when there is nothing to show.
func PageCount(total int64, size int) int {
	if total <= 0 || size <= 0 {
		return 0
	}
	return int((total + int64(size) - 1) / int64(size))
}

// Finder is implemented by every repository that can be paged.
type Finder[T any] interface {
	Count(ctx context.Context, filter Filter) (int64, error)
	Find(ctx context.Context, filter Filter, opts FindOptions) ([]T, error)
}

// Paginate counts the documents matching filter and loads the requested
// page. A page past the end yields no items and the real totals.
func Paginate[T any](ctx context.Context, finder Finder[T], filter Filter, sort Sort, req PageRequest) (*Page[T], error) {
	total, err := finder.Count(ctx, filter)
	if err != nil {
		return nil, err
	}

	page := &Page[T]{
		Items: make([]T, 0),
		Page:  req.Number,
		Pages: PageCount(total, req.Size),
		Total: total,
	}

	if total == 0 || req.Skip() >= total {
		return page, nil
	}

	items, err := finder.Find(ctx, filter, FindOptions{Sort: sort, Skip: req.Skip(), Limit: req.Limit()})
	if err != nil {
		return nil, err
	}
	if items != nil {
		page.Items = items
	}
	return page, nil
}
