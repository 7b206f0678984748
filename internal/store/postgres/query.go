package postgres

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/alanyoungcy/confidentialpad/internal/domain"
	"github.com/alanyoungcy/confidentialpad/internal/fhe"
)

// listQuery appends the time range, ordering and paging of opts to a base
// SELECT whose filter args are already in args.
type listQuery struct {
	sb   strings.Builder
	args []any
}

func newListQuery(base string, args ...any) *listQuery {
	q := &listQuery{args: args}
	q.sb.WriteString(base)
	return q
}

func (q *listQuery) arg(v any) string {
	q.args = append(q.args, v)
	return fmt.Sprintf("$%d", len(q.args))
}

func (q *listQuery) apply(timeCol, order string, opts domain.ListOpts) (string, []any) {
	if opts.Since != nil {
		q.sb.WriteString(" AND " + timeCol + " >= " + q.arg(*opts.Since))
	}
	if opts.Until != nil {
		q.sb.WriteString(" AND " + timeCol + " <= " + q.arg(*opts.Until))
	}
	q.sb.WriteString(" ORDER BY " + order)
	if opts.Limit > 0 {
		q.sb.WriteString(" LIMIT " + q.arg(opts.Limit))
	}
	if opts.Offset > 0 {
		q.sb.WriteString(" OFFSET " + q.arg(opts.Offset))
	}
	return q.sb.String(), q.args
}

// numeric encodes a 256-bit amount for a NUMERIC(78,0) column. nil is NULL.
func numeric(v *uint256.Int) pgtype.Numeric {
	if v == nil {
		return pgtype.Numeric{}
	}
	return pgtype.Numeric{Int: v.ToBig(), Valid: true}
}

// parseAmount decodes a NUMERIC selected as ::text. NULL yields nil.
func parseAmount(s *string) (*uint256.Int, error) {
	if s == nil {
		return nil, nil
	}
	v, err := uint256.FromDecimal(*s)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", *s, err)
	}
	return v, nil
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("parse address %q", s)
	}
	return common.HexToAddress(s), nil
}

func parseCiphertext(s string) (fhe.Uint, error) {
	h, err := fhe.ParseHandle(s)
	if err != nil {
		return fhe.Uint{}, err
	}
	return fhe.Uint{Handle: h}, nil
}
