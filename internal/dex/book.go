package dex

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/confidentialpad/internal/domain"
)

// bookKey selects one side of one pair. Each side is a slice of order ids in
// ascending order, which is also the match priority. Closed orders are
// pruned lazily after a matching pass.
type bookKey struct {
	token common.Address
	side  domain.OrderSide
}

func (e *Exchange) rest(o *domain.Order) {
	k := bookKey{o.Token, o.Side}
	e.books[k] = append(e.books[k], o.ID)
}

func (e *Exchange) prune(k bookKey) {
	ids := e.books[k]
	kept := ids[:0]
	for _, id := range ids {
		if e.orders[id].Status.Open() {
			kept = append(kept, id)
		}
	}
	e.books[k] = kept
}
