// Package domain defines the core business entities for the ledger BFA.
// These models are independent of the document store and represent the
// canonical data structures used by the page engine and its HTTP surface.
package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Collections
// ============================================================

const (
	CollectionTransactions = "transactions"
	CollectionClients      = "clients"
	CollectionSales        = "sales"
)

// ============================================================
// Transactions
// ============================================================

// Kind distinguishes money coming in from money going out.
type Kind string

const (
	KindIncome  Kind = "income"
	KindExpense Kind = "expense"
)

// Status is the settlement state of a transaction.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
)

// statusLabels are the pt-BR labels shown in the dashboard table.
// Search matches against these, not against the raw status value.
var statusLabels = map[Status]string{
	StatusPending:   "Pendente",
	StatusPaid:      "Pago",
	StatusCancelled: "Cancelado",
}

// Label returns the localized label for the status, or the raw value when unknown.
func (s Status) Label() string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return string(s)
}

// Transaction is a financial record of the transactions collection.
// PaymentDate is only ever set when Status is paid.
type Transaction struct {
	ID              string          `json:"id"`
	Kind            Kind            `json:"kind"`
	Category        string          `json:"category"`
	Amount          decimal.Decimal `json:"amount"`
	Status          Status          `json:"status"`
	DueDate         *time.Time      `json:"due_date,omitempty"`
	PaymentDate     *time.Time      `json:"payment_date,omitempty"`
	ClientID        string          `json:"client_id,omitempty"`
	SaleID          string          `json:"sale_id,omitempty"`
	PaymentMethodID string          `json:"payment_method_id,omitempty"`
	Description     string          `json:"description"`
	Notes           string          `json:"notes,omitempty"`
}

// EffectiveDate is the payment date when known, otherwise the due date.
func (t Transaction) EffectiveDate() (time.Time, bool) {
	if t.PaymentDate != nil {
		return *t.PaymentDate, true
	}
	if t.DueDate != nil {
		return *t.DueDate, true
	}
	return time.Time{}, false
}

// CategoryLabel renders a snake_case category for display ("venda_servico" -> "venda servico").
func CategoryLabel(category string) string {
	return strings.ReplaceAll(category, "_", " ")
}

// ============================================================
// Related record projections
// ============================================================

// ClientStub is the display projection of a client document.
type ClientStub struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
}

// SaleItem is one line of a sale.
type SaleItem struct {
	Name     string          `json:"name" mapstructure:"name"`
	Price    decimal.Decimal `json:"price" mapstructure:"price"`
	Quantity int             `json:"quantity" mapstructure:"quantity"`
}

// SaleStub is the projection of a sale used to format descriptions.
type SaleStub struct {
	ID    string     `json:"id"`
	Items []SaleItem `json:"items"`
}

// ============================================================
// Hydrated page
// ============================================================

// Row is a transaction enriched with its client and sale, ready for display.
type Row struct {
	Transaction
	ClientName         string     `json:"client_name"`
	ClientPhone        string     `json:"client_phone,omitempty"`
	ClientResolved     bool       `json:"client_resolved"`
	SaleItems          []SaleItem `json:"sale_items"`
	DisplayDescription string     `json:"display_description"`
	StatusLabel        string     `json:"status_label"`
	CategoryLabel      string     `json:"category_label"`
	DueDateLabel       string     `json:"due_date_label"`
	PaymentDateLabel   string     `json:"payment_date_label"`
}

// Page is the result of one page load.
type Page struct {
	Rows       []Row     `json:"rows"`
	TotalCount int       `json:"total_count"`
	TotalPages int       `json:"total_pages"`
	PageNumber int       `json:"page"`
	PageSize   int       `json:"page_size"`
	Generation uint64    `json:"generation"`
	SnapshotAt time.Time `json:"snapshot_at"`
}
