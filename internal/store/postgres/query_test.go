package postgres

import (
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/confidentialpad/internal/domain"
)

func TestListQueryAppendsFiltersInOrder(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	query, args := newListQuery(`SELECT id FROM orders WHERE trader = $1`, "0xabc").
		apply("created_at", "id DESC", domain.ListOpts{Since: &since, Limit: 10, Offset: 20})

	require.Equal(t, `SELECT id FROM orders WHERE trader = $1 AND created_at >= $2 ORDER BY id DESC LIMIT $3 OFFSET $4`, query)
	require.Equal(t, []any{"0xabc", since, 10, 20}, args)
}

func TestListQueryWithoutOptions(t *testing.T) {
	query, args := newListQuery(`SELECT id FROM audit_log WHERE 1=1`).apply("created_at", "id DESC", domain.ListOpts{})
	require.Equal(t, `SELECT id FROM audit_log WHERE 1=1 ORDER BY id DESC`, query)
	require.Empty(t, args)
}

func TestAmountEncoding(t *testing.T) {
	require.False(t, numeric(nil).Valid)

	v := new(uint256.Int).SetAllOne()
	n := numeric(v)
	require.True(t, n.Valid)
	require.Equal(t, v.ToBig(), n.Int)

	s := v.Dec()
	back, err := parseAmount(&s)
	require.NoError(t, err)
	require.Equal(t, v, back)

	back, err = parseAmount(nil)
	require.NoError(t, err)
	require.Nil(t, back)

	bad := "12x"
	_, err = parseAmount(&bad)
	require.Error(t, err)
}

func TestDSN(t *testing.T) {
	require.Equal(t, "postgres://u:p@db:5432/pad?sslmode=disable",
		DSN(ClientConfig{Host: "db", Database: "pad", User: "u", Password: "p"}))
	require.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))
}
