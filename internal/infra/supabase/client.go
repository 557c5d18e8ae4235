// Package supabase provides a document store client for Supabase (PostgREST).
// Each collection is a table whose primary key column is "id".
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/boddenberg/ledger-bfa-go/internal/domain"
	"github.com/boddenberg/ledger-bfa-go/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("supabase")

// Client wraps HTTP calls to Supabase PostgREST API.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	apiKey         string
	serviceRoleKey string
	cb             *gobreaker.CircuitBreaker
	cfg            resilience.Config
	logger         *zap.Logger
}

// NewClient creates a Supabase client.
func NewClient(httpClient *http.Client, baseURL, apiKey, serviceRoleKey string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, logger *zap.Logger) *Client {
	return &Client{
		httpClient:     httpClient,
		baseURL:        baseURL,
		apiKey:         apiKey,
		serviceRoleKey: serviceRoleKey,
		cb:             cb,
		cfg:            cfg,
		logger:         logger,
	}
}

// doRequest executes an authenticated request to Supabase PostgREST.
func (c *Client) doRequest(ctx context.Context, method, path string) ([]byte, error) {
	url := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, path)
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		c.logger.Error("supabase: failed to create request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, err
	}

	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.serviceRoleKey))
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("supabase: request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.Error("supabase: failed to read response body",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, err
	}

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil // no data
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("supabase: non-2xx response",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)),
		)
		return nil, fmt.Errorf("supabase returned status %d: %s", resp.StatusCode, string(body))
	}

	c.logger.Debug("supabase: request OK",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
	)

	return body, nil
}

// --- Document store (implements port.DocumentStore) ---

// Query scans a table with PostgREST horizontal filters, e.g.
// transactions?select=*&kind=eq.income&category=neq.opening_balance
func (c *Client) Query(ctx context.Context, collection string, preds ...domain.Predicate) ([]domain.Document, error) {
	ctx, span := tracer.Start(ctx, "Supabase.Query")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection))

	q := url.Values{}
	q.Set("select", "*")
	for _, p := range preds {
		f, err := filter(p)
		if err != nil {
			return nil, err
		}
		q.Add(p.Field, f)
	}

	docs, err := c.fetch(ctx, collection, collection+"?"+q.Encode())
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("documents", len(docs)))
	return docs, nil
}

// GetIn issues one membership query: clients?select=*&id=in.("a","b")
func (c *Client) GetIn(ctx context.Context, collection string, ids []string) ([]domain.Document, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetIn")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("ids", len(ids)),
	)

	if len(ids) == 0 {
		return []domain.Document{}, nil
	}

	var list bytes.Buffer
	list.WriteString("in.(")
	for i, id := range ids {
		if i > 0 {
			list.WriteByte(',')
		}
		list.WriteString(quote(id))
	}
	list.WriteByte(')')

	q := url.Values{}
	q.Set("select", "*")
	q.Set("id", list.String())
	return c.fetch(ctx, collection, collection+"?"+q.Encode())
}

// Get reads one row by id and reports a missing row as *domain.ErrNotFound.
func (c *Client) Get(ctx context.Context, collection, id string) (*domain.Document, error) {
	ctx, span := tracer.Start(ctx, "Supabase.Get")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.String("id", id),
	)

	q := url.Values{}
	q.Set("select", "*")
	q.Set("id", "eq."+id)
	q.Set("limit", "1")

	docs, err := c.fetch(ctx, collection, collection+"?"+q.Encode())
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, &domain.ErrNotFound{Resource: collection, ID: id}
	}
	return &docs[0], nil
}

// fetch runs a GET through the circuit breaker with retries and decodes the rows.
func (c *Client) fetch(ctx context.Context, collection, path string) ([]domain.Document, error) {
	var docs []domain.Document

	err := resilience.Execute(c.cb, "supabase/"+collection, func() error {
		return resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			body, err := c.doRequest(ctx, http.MethodGet, path)
			if err != nil {
				return err
			}
			if body == nil {
				docs = []domain.Document{}
				return nil
			}

			rows, err := decodeRows(body)
			if err != nil {
				return resilience.Permanent(fmt.Errorf("failed to decode %s: %w", collection, err))
			}
			docs = rows
			return nil
		})
	})

	if err != nil {
		var open *domain.ErrCircuitOpen
		if errors.As(err, &open) {
			return nil, err
		}
		return nil, &domain.ErrExternalService{Service: "supabase/" + collection, Err: err}
	}
	return docs, nil
}

func decodeRows(body []byte) ([]domain.Document, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var rows []map[string]any
	if err := dec.Decode(&rows); err != nil {
		return nil, err
	}

	docs := make([]domain.Document, 0, len(rows))
	for i, row := range rows {
		id, ok := row["id"]
		if !ok || id == nil {
			return nil, fmt.Errorf("row %d has no id", i)
		}
		delete(row, "id")
		docs = append(docs, domain.Document{ID: fmt.Sprint(id), Fields: row})
	}
	return docs, nil
}

func filter(p domain.Predicate) (string, error) {
	switch p.Op {
	case domain.OpEq:
		return "eq." + fmt.Sprint(p.Value), nil
	case domain.OpNeq:
		return "neq." + fmt.Sprint(p.Value), nil
	}
	return "", fmt.Errorf("supabase: unsupported operator %q", p.Op)
}

// quote wraps a value in double quotes for PostgREST list syntax.
func quote(v string) string {
	var b bytes.Buffer
	b.WriteByte('"')
	for _, r := range v {
		if r == '"' || r == '\\' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('"')
	return b.String()
}
