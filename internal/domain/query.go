package domain

import "fmt"

// ============================================================
// Filters
// ============================================================

const (
	// FilterAll disables the status and client filters.
	FilterAll = "all"
	// FilterNoClient is the client filter option for "any client"; it passes everything.
	FilterNoClient = "no-client"
)

// DateBucket selects a window relative to today.
type DateBucket string

const (
	BucketNone      DateBucket = ""
	BucketToday     DateBucket = "today"
	BucketThisWeek  DateBucket = "this_week"
	BucketThisMonth DateBucket = "this_month"
	BucketOverdue   DateBucket = "overdue"
)

// ParseDateBucket accepts the API spelling of a bucket. "none" and "" both mean no bucket.
func ParseDateBucket(s string) (DateBucket, error) {
	switch s {
	case "", "none", FilterAll:
		return BucketNone, nil
	case "today":
		return BucketToday, nil
	case "this_week", "thisWeek", "week":
		return BucketThisWeek, nil
	case "this_month", "thisMonth", "month":
		return BucketThisMonth, nil
	case "overdue":
		return BucketOverdue, nil
	}
	return BucketNone, &ErrValidation{Field: "date", Message: fmt.Sprintf("unknown date bucket %q", s)}
}

// Filters are the user-controlled criteria of the transactions table.
type Filters struct {
	Status     string     `json:"status"`
	DateBucket DateBucket `json:"date_bucket"`
	ClientID   string     `json:"client_id"`
	SearchTerm string     `json:"search_term"`
}

// ============================================================
// Sorting
// ============================================================

// SortMode picks the ordering strategy. The default ordering and the
// column ordering are independent strategies.
type SortMode string

const (
	SortDefault SortMode = ""
	SortColumn  SortMode = "column"
)

// SortField is a column the table can be ordered by.
type SortField string

const (
	SortByDueDate     SortField = "due_date"
	SortByPaymentDate SortField = "payment_date"
	SortByAmount      SortField = "amount"
	SortByStatus      SortField = "status"
	SortByCategory    SortField = "category"
	SortByDescription SortField = "description"
	SortByClient      SortField = "client"
)

var sortFields = map[SortField]bool{
	SortByDueDate:     true,
	SortByPaymentDate: true,
	SortByAmount:      true,
	SortByStatus:      true,
	SortByCategory:    true,
	SortByDescription: true,
	SortByClient:      true,
}

// Sort describes the ordering of the filtered set.
type Sort struct {
	Mode       SortMode  `json:"mode"`
	Field      SortField `json:"field,omitempty"`
	Descending bool      `json:"descending,omitempty"`
}

// ParseSort builds a column sort from query parameters. An empty field means the default ordering.
func ParseSort(field, dir string) (Sort, error) {
	if field == "" {
		return Sort{Mode: SortDefault}, nil
	}
	f := SortField(field)
	if !sortFields[f] {
		return Sort{}, &ErrValidation{Field: "sort", Message: fmt.Sprintf("unknown sort field %q", field)}
	}
	switch dir {
	case "", "asc":
		return Sort{Mode: SortColumn, Field: f}, nil
	case "desc":
		return Sort{Mode: SortColumn, Field: f, Descending: true}, nil
	}
	return Sort{}, &ErrValidation{Field: "dir", Message: fmt.Sprintf("unknown sort direction %q", dir)}
}

// ============================================================
// Page requests
// ============================================================

// PageRequest asks for one page of the filtered, sorted transactions.
// PageNumber is 1-based.
type PageRequest struct {
	PageNumber int     `json:"page"`
	PageSize   int     `json:"page_size"`
	Filters    Filters `json:"filters"`
	Sort       Sort    `json:"sort"`
}
