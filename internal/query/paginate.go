package query

// Page is one slice of an ordered sequence plus the counts of the whole sequence.
type Page[T any] struct {
	Items      []T
	TotalCount int
	TotalPages int
}

// Paginate returns the pageNumber-th (1-based) slice of ordered.
// TotalCount is len(ordered) and TotalPages is at least 1. An out-of-range
// page is not clamped: it yields no items. pageSize must be positive.
func Paginate[T any](ordered []T, pageNumber, pageSize int) Page[T] {
	total := len(ordered)
	p := Page[T]{
		Items:      []T{},
		TotalCount: total,
		TotalPages: TotalPages(total, pageSize),
	}
	if pageSize <= 0 || pageNumber < 1 || pageNumber > p.TotalPages {
		return p
	}

	start := (pageNumber - 1) * pageSize
	if start >= total {
		return p
	}
	end := min(start+pageSize, total)

	p.Items = make([]T, end-start)
	copy(p.Items, ordered[start:end])
	return p
}

// TotalPages is ceil(count/pageSize), never less than 1.
func TotalPages(count, pageSize int) int {
	if pageSize <= 0 || count <= 0 {
		return 1
	}
	return (count-1)/pageSize + 1
}

// ClampPage brings page into [1, totalPages].
func ClampPage(page, totalPages int) int {
	if totalPages < 1 {
		totalPages = 1
	}
	return max(1, min(page, totalPages))
}

// Nav is a table navigation action.
type Nav string

const (
	NavFirst Nav = "first"
	NavPrev  Nav = "prev"
	NavNext  Nav = "next"
	NavLast  Nav = "last"
)

// Navigate moves from current by nav and clamps the result. An unknown or
// empty nav only clamps current.
func Navigate(nav Nav, current, totalPages int) int {
	switch nav {
	case NavFirst:
		return 1
	case NavPrev:
		current--
	case NavNext:
		current++
	case NavLast:
		current = totalPages
	}
	return ClampPage(current, totalPages)
}
