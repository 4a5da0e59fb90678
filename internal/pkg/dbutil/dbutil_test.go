package dbutil

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/require"
)

func TestFinalize_RewritesLimitAndPlaceholders(t *testing.T) {
	query, args := Finalize("SELECT id FROM repairs WHERE id > ? ORDER BY id asc LIMIT ?,?", []interface{}{int64(7), uint(0), uint(50)})
	require.Equal(t, "SELECT id FROM repairs WHERE id > $1 ORDER BY id asc LIMIT $2 OFFSET $3", query)
	require.Equal(t, []interface{}{int64(7), uint(50), uint(0)}, args)
}

func TestIsUndefinedTable(t *testing.T) {
	missing := &pq.Error{Code: "42P01", Message: `relation "repairs" does not exist`}
	require.True(t, IsUndefinedTable(missing))
	require.True(t, IsUndefinedTable(fmt.Errorf("list repairs: %w", missing)))
	require.False(t, IsUndefinedTable(&pq.Error{Code: "23505"}))
	require.False(t, IsUndefinedTable(errors.New("relation does not exist")))
	require.False(t, IsUndefinedTable(nil))
}

func TestStringArgs(t *testing.T) {
	require.Equal(t, []interface{}{"closed", "delivered"}, StringArgs([]string{"closed", "delivered"}))
}
