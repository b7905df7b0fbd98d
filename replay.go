package settle

import (
	"context"

	"github.com/xraph/settle/id"
	"github.com/xraph/settle/transaction"
	"github.com/xraph/settle/types"
)

// ReplayBalance recomputes a source's balance by replaying its completed
// transactions, oldest first, from zero. The result must equal the stored
// balance at any quiescent point — the transaction log is the source of
// truth and the balance only a projection of it. Use for reconciliation
// audits and in tests.
func (e *Engine) ReplayBalance(ctx context.Context, sourceID id.SourceID) (types.Amount, error) {
	// Confirm the source exists so a typo'd ID doesn't replay to zero.
	if _, err := e.store.GetSource(ctx, sourceID); err != nil {
		return types.Amount{}, e.classify(err)
	}

	log, err := e.store.ListTransactionsByEndpoint(ctx, sourceID, transaction.ListOpts{
		Status: transaction.StatusCompleted,
	})
	if err != nil {
		return types.Amount{}, e.classify(err)
	}

	balance := types.ZeroAmount()
	for _, txn := range log {
		if txn.Source.ID == sourceID {
			balance = balance.Sub(txn.Amount)
		}
		if txn.Destination.ID == sourceID {
			balance = balance.Add(txn.Amount)
		}
	}

	return balance, nil
}
