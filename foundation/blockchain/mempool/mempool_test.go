package mempool_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stakechain/stakechain/foundation/blockchain/database"
	"github.com/stakechain/stakechain/foundation/blockchain/mempool"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

// =============================================================================

// fakeTx builds an unsigned transaction directly. The mempool keys on the
// hash and orders on the fee, neither of which requires a real signature.
func fakeTx(id int, fee uint64) database.SignedTx {
	return database.SignedTx{
		Tx: database.Tx{
			ID:    fmt.Sprintf("tx-%d", id),
			Type:  database.TxTypeTransfer,
			Value: 10,
			Fee:   fee,
			Nonce: uint64(id),
		},
		Hash: fmt.Sprintf("0xhash-%d", id),
	}
}

// =============================================================================

func Test_CapacityAndDuplicates(t *testing.T) {
	t.Log("Given the need to bound the pending transaction set.")
	{
		mp, err := mempool.New(2)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to construct a mempool: %v", failed, err)
		}
		t.Logf("\t%s\tShould be able to construct a mempool.", success)

		if _, err := mp.Upsert(fakeTx(1, 10)); err != nil {
			t.Fatalf("\t%s\tShould accept the first transaction: %v", failed, err)
		}
		if _, err := mp.Upsert(fakeTx(2, 20)); err != nil {
			t.Fatalf("\t%s\tShould accept the second transaction: %v", failed, err)
		}
		t.Logf("\t%s\tShould accept transactions up to capacity.", success)

		if _, err := mp.Upsert(fakeTx(3, 30)); !errors.Is(err, mempool.ErrMempoolFull) {
			t.Errorf("\t%s\tShould reject a new transaction at capacity: %v", failed, err)
		} else {
			t.Logf("\t%s\tShould reject a new transaction at capacity.", success)
		}

		// Replacing a known hash is not a capacity event.
		if _, err := mp.Upsert(fakeTx(2, 25)); err != nil {
			t.Errorf("\t%s\tShould accept a replacement for a known hash: %v", failed, err)
		} else {
			t.Logf("\t%s\tShould accept a replacement for a known hash.", success)
		}

		if count := mp.Count(); count != 2 {
			t.Errorf("\t%s\tShould keep the count at capacity: got %d", failed, count)
		} else {
			t.Logf("\t%s\tShould keep the count at capacity.", success)
		}

		mp.Delete(fakeTx(1, 10))
		if count := mp.Count(); count != 1 {
			t.Errorf("\t%s\tShould drop a deleted transaction: got %d", failed, count)
		} else {
			t.Logf("\t%s\tShould drop a deleted transaction.", success)
		}
	}
}

func Test_FeeOrdering(t *testing.T) {
	t.Log("Given the need to pick transactions by fee, ties in arrival order.")
	{
		mp, err := mempool.New(10)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to construct a mempool: %v", failed, err)
		}

		// Two transactions share the middle fee to check the tie break.
		mp.Upsert(fakeTx(1, 5))
		mp.Upsert(fakeTx(2, 20))
		mp.Upsert(fakeTx(3, 10))
		mp.Upsert(fakeTx(4, 10))

		picks := mp.PickBest(-1)
		if len(picks) != 4 {
			t.Fatalf("\t%s\tShould pick every transaction: got %d", failed, len(picks))
		}
		t.Logf("\t%s\tShould pick every transaction.", success)

		expOrder := []string{"0xhash-2", "0xhash-3", "0xhash-4", "0xhash-1"}
		for i, tx := range picks {
			if tx.Hash != expOrder[i] {
				t.Errorf("\t%s\tShould order by fee then arrival at position %d: got %s, exp %s", failed, i, tx.Hash, expOrder[i])
			} else {
				t.Logf("\t%s\tShould order by fee then arrival at position %d.", success, i)
			}
		}

		best := mp.PickBest(2)
		if len(best) != 2 || best[0].Hash != "0xhash-2" || best[1].Hash != "0xhash-3" {
			t.Errorf("\t%s\tShould honor the requested pick count.", failed)
		} else {
			t.Logf("\t%s\tShould honor the requested pick count.", success)
		}
	}
}

func Test_FIFOStrategy(t *testing.T) {
	t.Log("Given the need to pick transactions in arrival order.")
	{
		mp, err := mempool.NewWithStrategy(10, "fifo")
		if err != nil {
			t.Fatalf("\t%s\tShould be able to construct a fifo mempool: %v", failed, err)
		}
		t.Logf("\t%s\tShould be able to construct a fifo mempool.", success)

		mp.Upsert(fakeTx(1, 5))
		mp.Upsert(fakeTx(2, 50))
		mp.Upsert(fakeTx(3, 25))

		picks := mp.PickBest(-1)
		expOrder := []string{"0xhash-1", "0xhash-2", "0xhash-3"}
		for i, tx := range picks {
			if tx.Hash != expOrder[i] {
				t.Errorf("\t%s\tShould keep arrival order at position %d: got %s", failed, i, tx.Hash)
			} else {
				t.Logf("\t%s\tShould keep arrival order at position %d.", success, i)
			}
		}
	}
}

func Test_Truncate(t *testing.T) {
	t.Log("Given the need to clear the pool.")
	{
		mp, err := mempool.New(10)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to construct a mempool: %v", failed, err)
		}

		mp.Upsert(fakeTx(1, 5))
		mp.Upsert(fakeTx(2, 6))
		mp.Truncate()

		if count := mp.Count(); count != 0 {
			t.Errorf("\t%s\tShould have an empty pool after truncate: got %d", failed, count)
		} else {
			t.Logf("\t%s\tShould have an empty pool after truncate.", success)
		}

		if mp.Exists("0xhash-1") {
			t.Errorf("\t%s\tShould not find a truncated transaction.", failed)
		} else {
			t.Logf("\t%s\tShould not find a truncated transaction.", success)
		}
	}
}
