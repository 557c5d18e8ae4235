// Package query holds the pure part of the page engine: filtering, sorting
// and slicing an in-memory transactions snapshot. Nothing here does I/O.
package query

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"github.com/boddenberg/ledger-bfa-go/internal/domain"

	"github.com/shopspring/decimal"
)

// ClientNameLookup resolves a client id to its cached display name.
type ClientNameLookup func(clientID string) (string, bool)

// Criteria is everything Apply needs besides the records themselves.
// Today is the reference instant for date buckets; it is read in Location
// (Today's own location when Location is nil).
type Criteria struct {
	Filters  domain.Filters
	Sort     domain.Sort
	Today    time.Time
	Location *time.Location
}

// Apply filters and orders txs. The input slice is not modified and the
// result never aliases it. Identical inputs always give identical output.
func Apply(txs []domain.Transaction, c Criteria, lookup ClientNameLookup) []domain.Transaction {
	if lookup == nil {
		lookup = func(string) (string, bool) { return "", false }
	}

	w := newWindow(c.Today, c.Location)
	term := Normalize(c.Filters.SearchTerm)
	rawTerm := strings.TrimSpace(c.Filters.SearchTerm)

	out := make([]domain.Transaction, 0, len(txs))
	for _, t := range txs {
		if !matchStatus(t, c.Filters.Status) ||
			!matchClient(t, c.Filters.ClientID) ||
			!w.match(t, c.Filters.DateBucket) ||
			!matchSearch(t, term, rawTerm, lookup) {
			continue
		}
		out = append(out, t)
	}

	if c.Sort.Mode == domain.SortColumn {
		sortByColumn(out, c.Sort, lookup)
	} else {
		sortDefault(out)
	}
	return out
}

func matchStatus(t domain.Transaction, status string) bool {
	if status == "" || status == domain.FilterAll {
		return true
	}
	return string(t.Status) == status
}

func matchClient(t domain.Transaction, clientID string) bool {
	switch clientID {
	case "", domain.FilterAll, domain.FilterNoClient:
		return true
	}
	return t.ClientID == clientID
}

func matchSearch(t domain.Transaction, term, rawTerm string, lookup ClientNameLookup) bool {
	if term == "" {
		return true
	}
	if strings.Contains(Normalize(t.Description), term) {
		return true
	}
	if t.ClientID != "" {
		if name, ok := lookup(t.ClientID); ok && strings.Contains(Normalize(name), term) {
			return true
		}
	}
	if strings.Contains(Normalize(domain.CategoryLabel(t.Category)), term) {
		return true
	}
	if strings.Contains(Normalize(t.Status.Label()), term) {
		return true
	}
	// amounts are compared unfolded
	return strings.Contains(t.Amount.String(), rawTerm)
}

// ============================================================
// Date buckets
// ============================================================

// window holds the bucket boundaries for one reference day. Weeks start on Sunday.
type window struct {
	today, tomorrow       time.Time
	weekStart, weekEnd    time.Time
	monthStart, nextMonth time.Time
}

func newWindow(now time.Time, loc *time.Location) window {
	if loc == nil {
		loc = now.Location()
	}
	y, m, d := now.In(loc).Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, loc)
	weekStart := today.AddDate(0, 0, -int(today.Weekday()))
	monthStart := time.Date(y, m, 1, 0, 0, 0, 0, loc)

	return window{
		today:      today,
		tomorrow:   today.AddDate(0, 0, 1),
		weekStart:  weekStart,
		weekEnd:    weekStart.AddDate(0, 0, 7),
		monthStart: monthStart,
		nextMonth:  monthStart.AddDate(0, 1, 0),
	}
}

func (w window) match(t domain.Transaction, bucket domain.DateBucket) bool {
	switch bucket {
	case domain.BucketNone:
		return true
	case domain.BucketOverdue:
		return t.Status != domain.StatusPaid && t.DueDate != nil && t.DueDate.Before(w.today)
	}

	ref, ok := t.EffectiveDate()
	if !ok {
		return false
	}
	switch bucket {
	case domain.BucketToday:
		return within(ref, w.today, w.tomorrow)
	case domain.BucketThisWeek:
		return within(ref, w.weekStart, w.weekEnd)
	case domain.BucketThisMonth:
		return within(ref, w.monthStart, w.nextMonth)
	}
	return false
}

func within(t, from, to time.Time) bool {
	return !t.Before(from) && t.Before(to)
}

// ============================================================
// Ordering
// ============================================================

// sortDefault orders by effective date, newest first. Records without any
// date sort last; on equal dates a paid record (one with a payment date)
// comes first, then ids ascending.
func sortDefault(txs []domain.Transaction) {
	slices.SortStableFunc(txs, func(a, b domain.Transaction) int {
		da, _ := a.EffectiveDate()
		db, _ := b.EffectiveDate()
		if c := db.Compare(da); c != 0 {
			return c
		}
		if pa, pb := a.PaymentDate != nil, b.PaymentDate != nil; pa != pb {
			if pa {
				return -1
			}
			return 1
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

// sortByColumn orders by one field. Missing values sort last in both directions.
func sortByColumn(txs []domain.Transaction, s domain.Sort, lookup ClientNameLookup) {
	key := columnKey(s.Field, lookup)
	slices.SortStableFunc(txs, func(a, b domain.Transaction) int {
		ka, kb := key(a), key(b)
		switch {
		case ka.missing && kb.missing:
			return cmp.Compare(a.ID, b.ID)
		case ka.missing:
			return 1
		case kb.missing:
			return -1
		}
		c := ka.compare(kb)
		if s.Descending {
			c = -c
		}
		if c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

type sortKey struct {
	missing bool
	when    time.Time
	amount  decimal.Decimal
	text    string
}

func (k sortKey) compare(o sortKey) int {
	if c := k.when.Compare(o.when); c != 0 {
		return c
	}
	if c := k.amount.Cmp(o.amount); c != 0 {
		return c
	}
	return cmp.Compare(k.text, o.text)
}

func columnKey(f domain.SortField, lookup ClientNameLookup) func(domain.Transaction) sortKey {
	date := func(p *time.Time) sortKey {
		if p == nil {
			return sortKey{missing: true}
		}
		return sortKey{when: *p}
	}
	text := func(s string) sortKey {
		n := Normalize(s)
		return sortKey{missing: n == "", text: n}
	}

	switch f {
	case domain.SortByDueDate:
		return func(t domain.Transaction) sortKey { return date(t.DueDate) }
	case domain.SortByPaymentDate:
		return func(t domain.Transaction) sortKey { return date(t.PaymentDate) }
	case domain.SortByAmount:
		return func(t domain.Transaction) sortKey { return sortKey{amount: t.Amount} }
	case domain.SortByStatus:
		return func(t domain.Transaction) sortKey { return text(t.Status.Label()) }
	case domain.SortByCategory:
		return func(t domain.Transaction) sortKey { return text(domain.CategoryLabel(t.Category)) }
	case domain.SortByClient:
		return func(t domain.Transaction) sortKey {
			if t.ClientID == "" {
				return sortKey{missing: true}
			}
			name, _ := lookup(t.ClientID)
			return text(name)
		}
	}
	return func(t domain.Transaction) sortKey { return text(t.Description) }
}
