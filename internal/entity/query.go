package entity

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/and161185/datagate/internal/errs"
)

// Query selects one page of a type's items.
type Query struct {
	Search      string
	SortBy      string
	Descending  bool
	Page        int // 1-indexed; values below 1 mean the first page
	RowsPerPage int // <= 0 returns every matching item
	Except      []string
}

// Page is the result of a Query. TotalItems counts the filtered set before paging.
type Page struct {
	Items      []Entity
	TotalItems int
}

// Select filters, sorts and pages items. Equal sort keys fall back to id
// ascending so page boundaries are stable across calls.
func Select(d *Descriptor, items []Entity, q Query) (Page, error) {
	var sortField *FieldAccessor
	if q.SortBy != "" {
		f, ok := d.Field(q.SortBy)
		if !ok {
			return Page{}, fmt.Errorf("%w: %s has no field %q to sort by", errs.ErrInvalidArgument, d.Name, q.SortBy)
		}
		sortField = &f
	}

	except := make(map[string]struct{}, len(q.Except))
	for _, id := range q.Except {
		except[id] = struct{}{}
	}

	filtered := make([]Entity, 0, len(items))
	for _, e := range items {
		if _, skip := except[e.Key()]; skip {
			continue
		}
		if q.Search != "" && !Matches(d, e, q.Search) {
			continue
		}
		filtered = append(filtered, e)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		a, b := filtered[i], filtered[j]
		if sortField != nil {
			c := compare(sortField.Kind, sortField.Get(a), sortField.Get(b))
			if q.Descending {
				c = -c
			}
			if c != 0 {
				return c < 0
			}
		} else if q.Descending {
			return a.Key() > b.Key()
		}
		return a.Key() < b.Key()
	})

	total := len(filtered)
	if q.RowsPerPage <= 0 {
		return Page{Items: filtered, TotalItems: total}, nil
	}
	page := q.Page
	if page < 1 {
		page = 1
	}
	// compare before multiplying: (page-1)*RowsPerPage can overflow
	if total == 0 || page-1 > (total-1)/q.RowsPerPage {
		return Page{Items: []Entity{}, TotalItems: total}, nil
	}
	start := (page - 1) * q.RowsPerPage
	end := min(start+q.RowsPerPage, total)
	return Page{Items: filtered[start:end], TotalItems: total}, nil
}

// Matches reports whether any string or numeric field contains term.
// Matching is case-sensitive.
func Matches(d *Descriptor, e Entity, term string) bool {
	for _, f := range d.Fields {
		var s string
		switch v := f.Get(e).(type) {
		case string:
			s = v
		case int64:
			s = strconv.FormatInt(v, 10)
		case float64:
			s = strconv.FormatFloat(v, 'f', -1, 64)
		default:
			continue
		}
		if strings.Contains(s, term) {
			return true
		}
	}
	return false
}

func compare(k Kind, a, b any) int {
	switch k {
	case KindString:
		return strings.Compare(a.(string), b.(string))
	case KindInt:
		x, y := a.(int64), b.(int64)
		return cmpOrdered(x, y)
	case KindFloat:
		x, y := a.(float64), b.(float64)
		return cmpOrdered(x, y)
	case KindBool:
		x, y := a.(bool), b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		default:
			return 1
		}
	case KindTime:
		return a.(time.Time).Compare(b.(time.Time))
	}
	return 0
}

func cmpOrdered[T int64 | float64](x, y T) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}
