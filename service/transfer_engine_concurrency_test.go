package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go-transfer-core/common"
	"go-transfer-core/model"
	"go-transfer-core/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) (*TransferEngine, *repository.MemoryStore) {
	t.Helper()
	store := repository.NewMemoryStore()
	// Generous attempt budget keeps high-contention tests deterministic.
	engine := NewTransferEngine(store, store, nil, 50, time.Millisecond)
	return engine, store
}

func mustCreate(t *testing.T, store *repository.MemoryStore, number, balance string) {
	t.Helper()
	require.NoError(t, store.CreateAccount(context.Background(), &model.Account{
		AccountNumber: number,
		Owner:         "tester",
		Balance:       dec(balance),
	}))
}

func balanceOf(t *testing.T, store *repository.MemoryStore, number string) decimal.Decimal {
	t.Helper()
	account, err := store.GetAccount(context.Background(), number)
	require.NoError(t, err)
	return account.Balance
}

func TestTransferEndToEnd(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	mustCreate(t, store, "A001", "1000.00")
	mustCreate(t, store, "A002", "2000.00")

	record, err := engine.Transfer(ctx, TransferRequest{FromAccount: "A001", ToAccount: "A002", Amount: dec("500.00")})
	require.NoError(t, err)
	assert.True(t, record.Amount.Equal(dec("500.00")))
	assert.True(t, balanceOf(t, store, "A001").Equal(dec("500.00")))
	assert.True(t, balanceOf(t, store, "A002").Equal(dec("2500.00")))

	history, err := store.GetTransactionsByAccount(ctx, "A001")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].Amount.Equal(dec("500.00")))

	// The follow-up transfer exceeds the remaining balance and must leave
	// everything untouched.
	_, err = engine.Transfer(ctx, TransferRequest{FromAccount: "A001", ToAccount: "A002", Amount: dec("600.00")})
	assert.Equal(t, common.KindInsufficientBalance, common.KindOf(err))
	assert.True(t, balanceOf(t, store, "A001").Equal(dec("500.00")))
	assert.True(t, balanceOf(t, store, "A002").Equal(dec("2500.00")))

	history, err = store.GetTransactionsByAccount(ctx, "A001")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestTransferUnknownSourceLeavesNoRecord(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	mustCreate(t, store, "A002", "2000.00")

	_, err := engine.Transfer(ctx, TransferRequest{FromAccount: "A999", ToAccount: "A002", Amount: dec("10.00")})

	var te *common.TransferError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, common.KindAccountNotFound, te.Kind)
	assert.Equal(t, "source", te.Which)

	history, err := store.GetTransactionsByAccount(ctx, "A002")
	require.NoError(t, err)
	assert.Empty(t, history)
}

// TestConcurrentAdmission drains one source from many goroutines: with
// balance B and per-transfer amount a where N*a > B, exactly floor(B/a)
// transfers may commit and the rest must be rejected for insufficient
// balance.
func TestConcurrentAdmission(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	const n = 10
	amount := dec("30.00")
	mustCreate(t, store, "X", "100.00") // floor(100/30) = 3 admissions

	destinations := make([]string, n)
	for i := range destinations {
		destinations[i] = fmt.Sprintf("D%03d", i)
		mustCreate(t, store, destinations[i], "0")
	}

	var wg sync.WaitGroup
	results := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = engine.Transfer(ctx, TransferRequest{
				FromAccount: "X",
				ToAccount:   destinations[i],
				Amount:      amount,
			})
		}(i)
	}
	wg.Wait()

	committed, rejected := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			committed++
		case common.KindOf(err) == common.KindInsufficientBalance:
			rejected++
		default:
			t.Fatalf("unexpected transfer outcome: %v", err)
		}
	}

	assert.Equal(t, 3, committed)
	assert.Equal(t, n-3, rejected)
	assert.True(t, balanceOf(t, store, "X").Equal(dec("10.00")))

	history, err := store.GetTransactionsByAccount(ctx, "X")
	require.NoError(t, err)
	assert.Len(t, history, committed)
}

// TestOppositeDirectionTransfers runs A->B and B->A concurrently; both
// sides must finish (no circular wait) and the pair's total must be
// conserved exactly.
func TestOppositeDirectionTransfers(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	mustCreate(t, store, "A", "1000.00")
	mustCreate(t, store, "B", "1000.00")

	const iterations = 50
	done := make(chan struct{})
	var wg sync.WaitGroup
	for _, pair := range [][2]string{{"A", "B"}, {"B", "A"}} {
		wg.Add(1)
		go func(from, to string) {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				_, err := engine.Transfer(ctx, TransferRequest{FromAccount: from, ToAccount: to, Amount: dec("10.00")})
				assert.NoError(t, err)
			}
		}(pair[0], pair[1])
	}
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("opposite-direction transfers did not finish; possible deadlock")
	}

	a, b := balanceOf(t, store, "A"), balanceOf(t, store, "B")
	assert.True(t, a.Add(b).Equal(dec("2000.00")), "total not conserved: %s + %s", a, b)
	assert.True(t, a.Equal(dec("1000.00")))
	assert.True(t, b.Equal(dec("1000.00")))
}

// TestNoNegativeBalances hammers a small account set with random-ish
// transfers and checks conservation plus the non-negativity invariant.
func TestNoNegativeBalances(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	numbers := []string{"N1", "N2", "N3", "N4"}
	for _, n := range numbers {
		mustCreate(t, store, n, "100.00")
	}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				from := numbers[(g+i)%len(numbers)]
				to := numbers[(g+i+1)%len(numbers)]
				_, err := engine.Transfer(ctx, TransferRequest{FromAccount: from, ToAccount: to, Amount: dec("35.00")})
				if err != nil {
					assert.Equal(t, common.KindInsufficientBalance, common.KindOf(err))
				}
			}
		}(g)
	}
	wg.Wait()

	total := decimal.Zero
	for _, n := range numbers {
		balance := balanceOf(t, store, n)
		assert.False(t, balance.IsNegative(), "account %s went negative: %s", n, balance)
		total = total.Add(balance)
	}
	assert.True(t, total.Equal(dec("400.00")), "total not conserved: %s", total)
}
