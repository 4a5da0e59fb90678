package repo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	appErr "github.com/xxxsen/casememo/internal/pkg/errors"
	"github.com/xxxsen/casememo/internal/pkg/testutil"
)

func TestCaseRepo(t *testing.T) {
	conn, cleanup := testutil.OpenTestDB(t, 3)
	defer cleanup()

	r := NewCaseRepo(conn, 3)
	require.NoError(t, r.EnsureDimension(context.Background()))
	runCaseRepoContract(t, r)
}

func TestCaseRepo_EnsureDimensionMismatch(t *testing.T) {
	conn, cleanup := testutil.OpenTestDB(t, 3)
	defer cleanup()

	err := NewCaseRepo(conn, 4).EnsureDimension(context.Background())
	require.ErrorIs(t, err, appErr.ErrDimensionMismatch)
}
