package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/fabric-depot/internal/shared"
)

func TestTranslateSerializationFailure(t *testing.T) {
	pgErr := &pgconn.PgError{Code: serializationFailure, Message: "could not serialize access"}
	err := translate(fmt.Errorf("kvstore: postgres lock: %w", pgErr))
	require.ErrorIs(t, err, shared.ErrConflict)

	other := errors.New("boom")
	require.Same(t, other, translate(other))

	unique := &pgconn.PgError{Code: "23505"}
	require.False(t, errors.Is(translate(unique), shared.ErrConflict))
}
