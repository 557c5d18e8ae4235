package domain

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
)

// ============================================================
// Raw documents
// ============================================================

// Document is a schemaless record as returned by the document store.
type Document struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

// Op is a predicate operator understood by every store adapter.
type Op string

const (
	OpEq  Op = "=="
	OpNeq Op = "!="
)

// Predicate restricts a collection scan on the server side.
type Predicate struct {
	Field string
	Op    Op
	Value any
}

// Eq builds an equality predicate.
func Eq(field string, value any) Predicate { return Predicate{Field: field, Op: OpEq, Value: value} }

// Neq builds an inequality predicate.
func Neq(field string, value any) Predicate { return Predicate{Field: field, Op: OpNeq, Value: value} }

// Matches evaluates the predicate against a document. Used by stores that
// filter in memory. A missing or null field satisfies neither operator, the
// way Firestore and PostgREST treat absent values.
func (p Predicate) Matches(doc Document) bool {
	v, ok := doc.Fields[p.Field]
	if !ok || v == nil {
		return false
	}
	equal := fmt.Sprint(v) == fmt.Sprint(p.Value)
	switch p.Op {
	case OpEq:
		return equal
	case OpNeq:
		return !equal
	}
	return false
}

// ============================================================
// Decoding
// ============================================================

type transactionFields struct {
	Kind            string          `mapstructure:"kind"`
	Category        string          `mapstructure:"category"`
	Status          string          `mapstructure:"status"`
	Amount          decimal.Decimal `mapstructure:"amount"`
	DueDate         any             `mapstructure:"due_date"`
	PaymentDate     any             `mapstructure:"payment_date"`
	ClientID        string          `mapstructure:"client_id"`
	SaleID          string          `mapstructure:"sale_id"`
	PaymentMethodID string          `mapstructure:"payment_method_id"`
	Description     string          `mapstructure:"description"`
	Notes           string          `mapstructure:"notes"`
}

// DecodeTransaction maps a transactions document onto a Transaction.
// Date-only values are read in loc. Every field falls back on its own:
// unparseable dates become absent, unparseable amounts become zero and text
// fields holding objects or lists become empty. A payment date on a non-paid
// record is dropped.
func DecodeTransaction(doc Document, loc *time.Location) (Transaction, error) {
	var f transactionFields
	if err := decode(doc.Fields, &f); err != nil {
		return Transaction{}, fmt.Errorf("decode transaction %s: %w", doc.ID, err)
	}

	t := Transaction{
		ID:              doc.ID,
		Kind:            Kind(f.Kind),
		Category:        f.Category,
		Amount:          f.Amount,
		Status:          Status(f.Status),
		DueDate:         ParseDate(f.DueDate, loc),
		PaymentDate:     ParseDate(f.PaymentDate, loc),
		ClientID:        strings.TrimSpace(f.ClientID),
		SaleID:          strings.TrimSpace(f.SaleID),
		PaymentMethodID: f.PaymentMethodID,
		Description:     f.Description,
		Notes:           f.Notes,
	}
	if t.Status != StatusPaid {
		t.PaymentDate = nil
	}
	return t, nil
}

// DecodeClientStub validates and projects a clients document.
func DecodeClientStub(doc Document) (ClientStub, error) {
	var f struct {
		Name  string `mapstructure:"name"`
		Phone string `mapstructure:"phone"`
	}
	if err := decode(doc.Fields, &f); err != nil {
		return ClientStub{}, &ErrValidation{Field: "clients/" + doc.ID, Message: err.Error()}
	}
	if strings.TrimSpace(f.Name) == "" {
		return ClientStub{}, &ErrValidation{Field: "clients/" + doc.ID, Message: "name is missing"}
	}
	return ClientStub{ID: doc.ID, Name: f.Name, Phone: f.Phone}, nil
}

// DecodeSaleStub validates and projects a sales document.
func DecodeSaleStub(doc Document) (SaleStub, error) {
	var f struct {
		Items []SaleItem `mapstructure:"items"`
	}
	if err := decode(doc.Fields, &f); err != nil {
		return SaleStub{}, &ErrValidation{Field: "sales/" + doc.ID, Message: err.Error()}
	}
	if f.Items == nil {
		f.Items = []SaleItem{}
	}
	return SaleStub{ID: doc.ID, Items: f.Items}, nil
}

func decode(input map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.ComposeDecodeHookFunc(decimalHook, textHook),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

func decimalHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != decimalType {
		return data, nil
	}
	return ParseAmount(data), nil
}

// textHook blanks structured values headed for a string field.
func textHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to.Kind() != reflect.String {
		return data, nil
	}
	switch from.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		return "", nil
	}
	return data, nil
}

// ParseAmount converts a stored amount to a decimal. Anything unparseable is zero.
func ParseAmount(v any) decimal.Decimal {
	switch x := v.(type) {
	case decimal.Decimal:
		return x
	case json.Number:
		if d, err := decimal.NewFromString(x.String()); err == nil {
			return d
		}
	case float64:
		return decimal.NewFromFloat(x)
	case float32:
		return decimal.NewFromFloat32(x)
	case int:
		return decimal.NewFromInt(int64(x))
	case int64:
		return decimal.NewFromInt(x)
	case string:
		s := strings.TrimSpace(x)
		if strings.Count(s, ",") == 1 && !strings.Contains(s, ".") {
			s = strings.Replace(s, ",", ".", 1)
		}
		if d, err := decimal.NewFromString(s); err == nil {
			return d
		}
	}
	return decimal.Zero
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseDate reads a stored date. It understands time values, ISO strings,
// date-only strings (read in loc) and exported timestamp maps
// ({"seconds": ...} or {"_seconds": ...}). Anything else is absent.
func ParseDate(v any, loc *time.Location) *time.Time {
	if loc == nil {
		loc = time.UTC
	}
	var t time.Time
	switch x := v.(type) {
	case time.Time:
		t = x
	case *time.Time:
		if x == nil {
			return nil
		}
		t = *x
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return nil
		}
		for _, layout := range dateLayouts {
			if p, err := time.ParseInLocation(layout, s, loc); err == nil {
				t = p
				break
			}
		}
	case map[string]any:
		secs, ok := x["seconds"]
		if !ok {
			secs, ok = x["_seconds"]
		}
		if !ok {
			return nil
		}
		s := ParseAmount(secs)
		if s.IsZero() {
			return nil
		}
		t = time.Unix(s.IntPart(), 0)
	default:
		return nil
	}
	if t.IsZero() {
		return nil
	}
	t = t.In(loc)
	return &t
}
