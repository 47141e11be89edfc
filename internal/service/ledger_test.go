package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/salvagebid/internal/domain"
)

func TestLedger_InvariantHoldsAcrossOperations(t *testing.T) {
	t.Parallel()
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()

	w, _, err := f.ledger.Credit(ctx, "vendor-a", naira(1000000), "fund-1", "bank deposit")
	require.NoError(t, err)

	_, err = f.ledger.Freeze(ctx, w.ID, naira(300000), "bid:1")
	require.NoError(t, err)
	_, err = f.ledger.Unfreeze(ctx, w.ID, naira(100000), "outbid:2")
	require.NoError(t, err)
	debit, err := f.ledger.Debit(ctx, w.ID, naira(200000), "payment:1")
	require.NoError(t, err)
	assert.True(t, debit.BalanceAfter.Equal(naira(800000)))

	got := f.wallet(t, "vendor-a")
	assert.True(t, got.Consistent())
	assert.True(t, got.Balance.Equal(naira(800000)))
	assert.True(t, got.FrozenAmount.IsZero())
	assert.True(t, got.AvailableBalance.Equal(naira(800000)))

	report, err := f.ledger.Replay(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Equal(t, 4, report.Transactions)
	assert.True(t, report.ReplayedBalance.Equal(got.Balance))
}

func TestLedger_RejectsBeforeMutating(t *testing.T) {
	t.Parallel()
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()

	w, _, err := f.ledger.Credit(ctx, "vendor-a", naira(100000), "fund-1", "")
	require.NoError(t, err)

	_, err = f.ledger.Freeze(ctx, w.ID, naira(100001), "bid:x")
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	_, err = f.ledger.Debit(ctx, w.ID, naira(1), "payment:x")
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	_, err = f.ledger.Unfreeze(ctx, w.ID, naira(1), "release:x")
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	_, err = f.ledger.Freeze(ctx, w.ID, naira(0), "bid:y")
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, _, err = f.ledger.Credit(ctx, "vendor-a", naira(-5), "fund-2", "")
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	got := f.wallet(t, "vendor-a")
	assert.True(t, got.Balance.Equal(naira(100000)))
	assert.True(t, got.AvailableBalance.Equal(naira(100000)))

	txs, err := f.ledger.Transactions(ctx, "vendor-a", domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestLedger_CreditIsIdempotentByReference(t *testing.T) {
	t.Parallel()
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()

	_, first, err := f.ledger.Credit(ctx, "vendor-a", naira(250000), "psk_ref_123", "transfer")
	require.NoError(t, err)
	w, second, err := f.ledger.Credit(ctx, "vendor-a", naira(250000), "psk_ref_123", "transfer")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.True(t, w.Balance.Equal(naira(250000)))

	txs, err := f.ledger.Transactions(ctx, "vendor-a", domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestLedger_ReplayDetectsCorruptedCache(t *testing.T) {
	t.Parallel()
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()

	w, _, err := f.ledger.Credit(ctx, "vendor-a", naira(500000), "fund-1", "")
	require.NoError(t, err)
	_, _, err = f.ledger.Credit(ctx, "vendor-b", naira(500000), "fund-2", "")
	require.NoError(t, err)

	f.db.Wallets().CorruptBalance(w.ID, naira(900000), naira(0))

	report, err := f.ledger.Replay(ctx, w.ID)
	require.ErrorIs(t, err, domain.ErrLedgerMismatch)
	assert.False(t, report.OK())
	assert.True(t, report.ReplayedBalance.Equal(naira(500000)))

	res, err := f.ledger.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Scanned)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Processed)
}

func TestLedger_ConcurrentFreezesNeverOverdraw(t *testing.T) {
	t.Parallel()
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()

	w, _, err := f.ledger.Credit(ctx, "vendor-a", naira(500000), "fund-1", "")
	require.NoError(t, err)

	var (
		wg sync.WaitGroup
		ok atomic.Int32
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := f.ledger.Freeze(ctx, w.ID, naira(100000), "bid:"+string(rune('a'+i))); err == nil {
				ok.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(5), ok.Load())
	got := f.wallet(t, "vendor-a")
	assert.True(t, got.Consistent())
	assert.True(t, got.AvailableBalance.IsZero())
	assert.True(t, got.FrozenAmount.Equal(naira(500000)))
}
