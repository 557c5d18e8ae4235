// Package firestoredb implements the document store on Google Cloud Firestore.
package firestoredb

import (
	"context"
	"fmt"

	"github.com/boddenberg/ledger-bfa-go/internal/domain"
	"github.com/boddenberg/ledger-bfa-go/internal/port"

	"cloud.google.com/go/firestore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var tracer = otel.Tracer("firestore")

// Store reads collections from Firestore. Retries and timeouts are the
// Firestore client's own.
type Store struct {
	client *firestore.Client
	logger *zap.Logger
}

// New connects to the Firestore database of projectID. An empty
// credentialsFile uses Application Default Credentials (or the emulator
// when FIRESTORE_EMULATOR_HOST is set).
func New(ctx context.Context, projectID, credentialsFile string, logger *zap.Logger) (*Store, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create firestore client: %w", err)
	}
	return &Store{client: client, logger: logger}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Query scans a collection with server-side where clauses.
func (s *Store) Query(ctx context.Context, collection string, preds ...domain.Predicate) ([]domain.Document, error) {
	ctx, span := tracer.Start(ctx, "Firestore.Query")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection))

	q := s.client.Collection(collection).Query
	for _, p := range preds {
		q = q.Where(p.Field, string(p.Op), p.Value)
	}

	snaps, err := q.Documents(ctx).GetAll()
	if err != nil {
		return nil, wrap(collection, err)
	}
	span.SetAttributes(attribute.Int("documents", len(snaps)))
	s.logger.Debug("firestore: query",
		zap.String("collection", collection),
		zap.Int("predicates", len(preds)),
		zap.Int("documents", len(snaps)),
	)
	return toDocuments(snaps), nil
}

// GetIn runs one "document id in refs" query.
func (s *Store) GetIn(ctx context.Context, collection string, ids []string) ([]domain.Document, error) {
	ctx, span := tracer.Start(ctx, "Firestore.GetIn")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("ids", len(ids)),
	)

	if len(ids) == 0 {
		return []domain.Document{}, nil
	}
	if len(ids) > port.MaxInOperands {
		return nil, fmt.Errorf("firestore: membership query with %d operands exceeds %d", len(ids), port.MaxInOperands)
	}

	coll := s.client.Collection(collection)
	refs := make([]*firestore.DocumentRef, 0, len(ids))
	for _, id := range ids {
		refs = append(refs, coll.Doc(id))
	}

	snaps, err := coll.Where(firestore.DocumentID, "in", refs).Documents(ctx).GetAll()
	if err != nil {
		return nil, wrap(collection, err)
	}
	s.logger.Debug("firestore: membership query",
		zap.String("collection", collection),
		zap.Int("requested", len(ids)),
		zap.Int("found", len(snaps)),
	)
	return toDocuments(snaps), nil
}

// Get reads one document by id.
func (s *Store) Get(ctx context.Context, collection, id string) (*domain.Document, error) {
	ctx, span := tracer.Start(ctx, "Firestore.Get")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.String("id", id),
	)

	snap, err := s.client.Collection(collection).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, &domain.ErrNotFound{Resource: collection, ID: id}
	}
	if err != nil {
		return nil, wrap(collection, err)
	}
	doc := domain.Document{ID: snap.Ref.ID, Fields: snap.Data()}
	return &doc, nil
}

func toDocuments(snaps []*firestore.DocumentSnapshot) []domain.Document {
	docs := make([]domain.Document, 0, len(snaps))
	for _, snap := range snaps {
		docs = append(docs, domain.Document{ID: snap.Ref.ID, Fields: snap.Data()})
	}
	return docs
}

func wrap(collection string, err error) error {
	return &domain.ErrExternalService{Service: "firestore/" + collection, Err: err}
}
