package firestoredb_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/boddenberg/ledger-bfa-go/internal/domain"
	"github.com/boddenberg/ledger-bfa-go/internal/infra/firestoredb"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// Runs against the Firestore emulator only.
func TestStore_AgainstEmulator(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}

	ctx := context.Background()
	s, err := firestoredb.New(ctx, "ledger-test", "", zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	_, err = s.GetIn(ctx, domain.CollectionClients, []string{uuid.NewString()})
	require.NoError(t, err)

	_, err = s.Get(ctx, domain.CollectionClients, uuid.NewString())
	var notFound *domain.ErrNotFound
	assert.True(t, errors.As(err, &notFound), "got %v", err)

	docs, err := s.Query(ctx, domain.CollectionTransactions, domain.Eq("kind", "income"))
	require.NoError(t, err)
	assert.NotNil(t, docs)
}

func TestStore_GetInRejectsOversizedSets(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}

	ctx := context.Background()
	s, err := firestoredb.New(ctx, "ledger-test", "", zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	ids := make([]string, 11)
	for i := range ids {
		ids[i] = uuid.NewString()
	}
	_, err = s.GetIn(ctx, domain.CollectionClients, ids)
	assert.Error(t, err)
}
