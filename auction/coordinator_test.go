package auction

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ochenane/simple-auction/auctionerrors"
	"github.com/ochenane/simple-auction/chain"
	"github.com/ochenane/simple-auction/database"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

var testContract = common.HexToAddress("0x00000000000000000000000000000000000000aa")

// fakeGateway is a canned chain boundary. Call outcomes are programmable so
// tests can exercise both the accepted and the rejected ledger paths.
type fakeGateway struct {
	mu sync.Mutex

	deployAddress common.Address
	deployEnd     time.Time
	deployErr     error

	highest   *big.Int
	endTime   time.Time
	ended     bool
	viewErr   error
	callOut   []byte
	callErr   error
	endHash   common.Hash
	endErr    error
	callCount int
	endCount  int
}

func (g *fakeGateway) Deploy(ctx context.Context, biddingTime time.Duration) (common.Address, time.Time, error) {
	if g.deployErr != nil {
		return common.Address{}, time.Time{}, g.deployErr
	}
	return g.deployAddress, g.deployEnd, nil
}

func (g *fakeGateway) HighestBid(ctx context.Context, address common.Address) (*big.Int, error) {
	if g.viewErr != nil {
		return nil, g.viewErr
	}
	return new(big.Int).Set(g.highest), nil
}

func (g *fakeGateway) EndTime(ctx context.Context, address common.Address) (time.Time, error) {
	if g.viewErr != nil {
		return time.Time{}, g.viewErr
	}
	return g.endTime, nil
}

func (g *fakeGateway) Ended(ctx context.Context, address common.Address) (bool, error) {
	if g.viewErr != nil {
		return false, g.viewErr
	}
	return g.ended, nil
}

func (g *fakeGateway) Call(ctx context.Context, tx *types.Transaction) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.callCount++
	if g.callErr != nil {
		return nil, g.callErr
	}
	return g.callOut, nil
}

func (g *fakeGateway) SubmitEnd(ctx context.Context, address common.Address) (common.Hash, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.endCount++
	if g.endErr != nil {
		return common.Hash{}, g.endErr
	}
	return g.endHash, nil
}

func (g *fakeGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.callCount
}

func boolResult(value bool) []byte {
	out := make([]byte, 32)
	if value {
		out[31] = 1
	}
	return out
}

func newTestCoordinator(t *testing.T, gw *fakeGateway) (*Coordinator, *database.MemStore) {
	t.Helper()
	store := database.NewMemStore()
	return NewCoordinator(store, gw, 0), store
}

func createTestAuction(t *testing.T, store *database.MemStore, endTime time.Time) *database.Auction {
	t.Helper()
	auction, err := store.CreateAuction(context.Background(), testContract.Hex(), endTime)
	require.NoError(t, err)
	return auction
}

func TestDeploy(t *testing.T) {
	endTime := time.Now().Add(time.Hour).Truncate(time.Second)
	gw := &fakeGateway{deployAddress: testContract, deployEnd: endTime}
	coord, store := newTestCoordinator(t, gw)

	id, err := coord.Deploy(context.Background(), time.Hour)
	require.NoError(t, err)

	auction, err := store.AuctionByID(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, testContract.Hex(), auction.Address)
	require.True(t, auction.EndTime.Equal(endTime))
	require.False(t, auction.Ended)
	require.Equal(t, "0", auction.HighestBid)
}

func TestDeployChainFailureLeavesNoMirrorRow(t *testing.T) {
	gw := &fakeGateway{deployErr: auctionerrors.ErrUnreachable}
	coord, store := newTestCoordinator(t, gw)

	_, err := coord.Deploy(context.Background(), time.Hour)
	require.ErrorIs(t, err, auctionerrors.ErrUnreachable)

	auctions, err := store.ListAuctions(context.Background())
	require.NoError(t, err)
	require.Empty(t, auctions)
}

func TestStatus(t *testing.T) {
	endTime := time.Now().Add(time.Hour).Truncate(time.Second)
	gw := &fakeGateway{highest: big.NewInt(250), endTime: endTime}
	coord, store := newTestCoordinator(t, gw)
	auction := createTestAuction(t, store, endTime)

	status, err := coord.Status(context.Background(), auction.ID)
	require.NoError(t, err)
	require.Equal(t, "250", status.HighestBid)
	require.True(t, status.EndTime.Equal(endTime))
	require.False(t, status.Ended)

	_, err = coord.Status(context.Background(), auction.ID+100)
	require.ErrorIs(t, err, auctionerrors.ErrNotFound)
}

func TestSubmitBid(t *testing.T) {
	key := newTestKey(t)
	gw := &fakeGateway{}
	coord, store := newTestCoordinator(t, gw)
	auction := createTestAuction(t, store, time.Now().Add(time.Hour))

	raw := signedTxHex(t, key, testContract, big.NewInt(100), chain.Selector(chain.MethodBid))
	bid, err := coord.SubmitBid(context.Background(), auction.ID, 1, raw)
	require.NoError(t, err)
	require.Equal(t, crypto.PubkeyToAddress(key.PublicKey).Hex(), bid.Bidder)
	require.Equal(t, "100", bid.Amount)
	require.Equal(t, uint64(1), bid.OwnerID)

	updated, err := store.AuctionByID(context.Background(), auction.ID)
	require.NoError(t, err)
	require.Equal(t, "100", updated.HighestBid)

	// A strictly higher bid from another key moves the highest bid up.
	raw = signedTxHex(t, newTestKey(t), testContract, big.NewInt(150), chain.Selector(chain.MethodBid))
	_, err = coord.SubmitBid(context.Background(), auction.ID, 2, raw)
	require.NoError(t, err)

	updated, err = store.AuctionByID(context.Background(), auction.ID)
	require.NoError(t, err)
	require.Equal(t, "150", updated.HighestBid)

	history, err := coord.History(context.Background(), auction.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
}

func TestSubmitBidRejectedBeforeLedger(t *testing.T) {
	key := newTestKey(t)
	gw := &fakeGateway{}
	coord, store := newTestCoordinator(t, gw)
	auction := createTestAuction(t, store, time.Now().Add(time.Hour))

	// A bid no higher than the mirrored highest never reaches the ledger.
	raw := signedTxHex(t, key, testContract, big.NewInt(100), chain.Selector(chain.MethodBid))
	_, err := coord.SubmitBid(context.Background(), auction.ID, 1, raw)
	require.NoError(t, err)

	raw = signedTxHex(t, key, testContract, big.NewInt(50), chain.Selector(chain.MethodBid))
	_, err = coord.SubmitBid(context.Background(), auction.ID, 1, raw)
	require.ErrorIs(t, err, auctionerrors.ErrValueTooLow)
	require.Equal(t, 1, gw.calls())

	history, err := coord.History(context.Background(), auction.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestSubmitBidLedgerRejectionLeavesNoMirrorBid(t *testing.T) {
	key := newTestKey(t)
	gw := &fakeGateway{callErr: auctionerrors.ErrReverted}
	coord, store := newTestCoordinator(t, gw)
	auction := createTestAuction(t, store, time.Now().Add(time.Hour))

	raw := signedTxHex(t, key, testContract, big.NewInt(100), chain.Selector(chain.MethodBid))
	_, err := coord.SubmitBid(context.Background(), auction.ID, 1, raw)
	require.ErrorIs(t, err, auctionerrors.ErrReverted)

	history, err := coord.History(context.Background(), auction.ID)
	require.NoError(t, err)
	require.Empty(t, history)

	updated, err := store.AuctionByID(context.Background(), auction.ID)
	require.NoError(t, err)
	require.Equal(t, "0", updated.HighestBid)
}

func TestSubmitBidConcurrentEqualAmounts(t *testing.T) {
	gw := &fakeGateway{}
	coord, store := newTestCoordinator(t, gw)
	auction := createTestAuction(t, store, time.Now().Add(time.Hour))

	keys := []string{
		signedTxHex(t, newTestKey(t), testContract, big.NewInt(100), chain.Selector(chain.MethodBid)),
		signedTxHex(t, newTestKey(t), testContract, big.NewInt(100), chain.Selector(chain.MethodBid)),
	}

	results := make(chan error, len(keys))
	for _, raw := range keys {
		raw := raw
		go func() {
			_, err := coord.SubmitBid(context.Background(), auction.ID, 1, raw)
			results <- err
		}()
	}

	var accepted, tooLow int
	for range keys {
		err := <-results
		switch {
		case err == nil:
			accepted++
		case errors.Is(err, auctionerrors.ErrValueTooLow):
			tooLow++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, accepted)
	require.Equal(t, 1, tooLow)

	history, err := coord.History(context.Background(), auction.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, "100", history[0].Amount)
}

func TestPrepareBid(t *testing.T) {
	gw := &fakeGateway{}
	coord, store := newTestCoordinator(t, gw)
	auction := createTestAuction(t, store, time.Now().Add(time.Hour))

	raw, err := coord.PrepareBid(context.Background(), auction.ID, big.NewInt(100))
	require.NoError(t, err)

	tx, err := DecodeSignedTx(raw)
	require.NoError(t, err)
	require.Equal(t, testContract, *tx.To())
	require.Equal(t, big.NewInt(100), tx.Value())
	require.Equal(t, chain.Selector(chain.MethodBid), tx.Data())

	// The template is unsigned; submitting it back must be rejected.
	_, err = coord.SubmitBid(context.Background(), auction.ID, 1, raw)
	require.ErrorIs(t, err, auctionerrors.ErrInvalidFormat)

	_, err = coord.PrepareBid(context.Background(), auction.ID, big.NewInt(0))
	require.ErrorIs(t, err, auctionerrors.ErrInvalidFormat)

	_, err = coord.PrepareBid(context.Background(), auction.ID+100, big.NewInt(100))
	require.ErrorIs(t, err, auctionerrors.ErrNotFound)
}

func TestWithdrawalFlow(t *testing.T) {
	outbidKey := newTestKey(t)
	winnerKey := newTestKey(t)
	gw := &fakeGateway{callOut: boolResult(true)}
	coord, store := newTestCoordinator(t, gw)
	auction := createTestAuction(t, store, time.Now().Add(time.Hour))

	raw := signedTxHex(t, outbidKey, testContract, big.NewInt(100), chain.Selector(chain.MethodBid))
	outbid, err := coord.SubmitBid(context.Background(), auction.ID, 1, raw)
	require.NoError(t, err)

	raw = signedTxHex(t, winnerKey, testContract, big.NewInt(200), chain.Selector(chain.MethodBid))
	_, err = coord.SubmitBid(context.Background(), auction.ID, 2, raw)
	require.NoError(t, err)

	prepared, err := coord.PrepareWithdrawal(context.Background(), auction.ID, outbid.ID)
	require.NoError(t, err)
	preparedTx, err := DecodeSignedTx(prepared)
	require.NoError(t, err)
	require.Equal(t, chain.Selector(chain.MethodWithdraw), preparedTx.Data())
	require.Zero(t, preparedTx.Value().Sign())

	withdraw := signedTxHex(t, outbidKey, testContract, big.NewInt(0), chain.Selector(chain.MethodWithdraw))
	returned, err := coord.SubmitWithdrawal(context.Background(), auction.ID, outbid.ID, 1, withdraw)
	require.NoError(t, err)
	require.True(t, returned)

	// The returned bid drops out of the visible history.
	history, err := coord.History(context.Background(), auction.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, "200", history[0].Amount)

	// A second settlement attempt is a conflict, with no further ledger call.
	before := gw.calls()
	_, err = coord.SubmitWithdrawal(context.Background(), auction.ID, outbid.ID, 1, withdraw)
	require.ErrorIs(t, err, auctionerrors.ErrAlreadyReturned)
	require.Equal(t, before, gw.calls())

	_, err = coord.PrepareWithdrawal(context.Background(), auction.ID, outbid.ID)
	require.ErrorIs(t, err, auctionerrors.ErrAlreadyReturned)
}

func TestSubmitWithdrawalFalseOutcome(t *testing.T) {
	key := newTestKey(t)
	gw := &fakeGateway{callOut: boolResult(false)}
	coord, store := newTestCoordinator(t, gw)
	auction := createTestAuction(t, store, time.Now().Add(time.Hour))

	raw := signedTxHex(t, key, testContract, big.NewInt(100), chain.Selector(chain.MethodBid))
	bid, err := coord.SubmitBid(context.Background(), auction.ID, 1, raw)
	require.NoError(t, err)

	withdraw := signedTxHex(t, key, testContract, big.NewInt(0), chain.Selector(chain.MethodWithdraw))
	returned, err := coord.SubmitWithdrawal(context.Background(), auction.ID, bid.ID, 1, withdraw)
	require.NoError(t, err)
	require.False(t, returned)

	// A false outcome does not settle the bid.
	fetched, err := store.BidByID(context.Background(), auction.ID, bid.ID)
	require.NoError(t, err)
	require.False(t, fetched.Returned)
}

func TestSubmitWithdrawalOwnership(t *testing.T) {
	bidderKey := newTestKey(t)
	strangerKey := newTestKey(t)
	gw := &fakeGateway{callOut: boolResult(true)}
	coord, store := newTestCoordinator(t, gw)
	auction := createTestAuction(t, store, time.Now().Add(time.Hour))

	raw := signedTxHex(t, bidderKey, testContract, big.NewInt(100), chain.Selector(chain.MethodBid))
	bid, err := coord.SubmitBid(context.Background(), auction.ID, 1, raw)
	require.NoError(t, err)

	t.Run("signature by another key", func(t *testing.T) {
		withdraw := signedTxHex(t, strangerKey, testContract, big.NewInt(0), chain.Selector(chain.MethodWithdraw))
		_, err := coord.SubmitWithdrawal(context.Background(), auction.ID, bid.ID, 1, withdraw)
		require.ErrorIs(t, err, auctionerrors.ErrForbidden)
	})

	t.Run("right key, wrong account", func(t *testing.T) {
		withdraw := signedTxHex(t, bidderKey, testContract, big.NewInt(0), chain.Selector(chain.MethodWithdraw))
		_, err := coord.SubmitWithdrawal(context.Background(), auction.ID, bid.ID, 2, withdraw)
		require.ErrorIs(t, err, auctionerrors.ErrForbidden)
	})

	t.Run("unknown bid", func(t *testing.T) {
		withdraw := signedTxHex(t, bidderKey, testContract, big.NewInt(0), chain.Selector(chain.MethodWithdraw))
		_, err := coord.SubmitWithdrawal(context.Background(), auction.ID, bid.ID+100, 1, withdraw)
		require.ErrorIs(t, err, auctionerrors.ErrNotFound)
	})
}

func TestEnd(t *testing.T) {
	hash := common.HexToHash("0x00000000000000000000000000000000000000000000000000000000000000ff")

	t.Run("before end time", func(t *testing.T) {
		gw := &fakeGateway{endHash: hash}
		coord, store := newTestCoordinator(t, gw)
		auction := createTestAuction(t, store, time.Now().Add(time.Hour))

		_, err := coord.End(context.Background(), auction.ID)
		require.ErrorIs(t, err, auctionerrors.ErrNotYetEndable)
		require.Equal(t, 0, gw.endCount)
	})

	t.Run("after end time", func(t *testing.T) {
		gw := &fakeGateway{endHash: hash}
		coord, store := newTestCoordinator(t, gw)
		auction := createTestAuction(t, store, time.Now().Add(-time.Minute))

		got, err := coord.End(context.Background(), auction.ID)
		require.NoError(t, err)
		require.Equal(t, hash, got)

		updated, err := store.AuctionByID(context.Background(), auction.ID)
		require.NoError(t, err)
		require.True(t, updated.Ended)

		_, err = coord.End(context.Background(), auction.ID)
		require.ErrorIs(t, err, auctionerrors.ErrAlreadyEnded)
		require.Equal(t, 1, gw.endCount)
	})

	t.Run("chain submission failure", func(t *testing.T) {
		gw := &fakeGateway{endErr: auctionerrors.ErrUnreachable}
		coord, store := newTestCoordinator(t, gw)
		auction := createTestAuction(t, store, time.Now().Add(-time.Minute))

		_, err := coord.End(context.Background(), auction.ID)
		require.ErrorIs(t, err, auctionerrors.ErrUnreachable)

		updated, err := store.AuctionByID(context.Background(), auction.ID)
		require.NoError(t, err)
		require.False(t, updated.Ended)
	})
}

func TestReconcile(t *testing.T) {
	endTime := time.Now().Add(time.Hour).Truncate(time.Second)

	t.Run("mirror in sync", func(t *testing.T) {
		gw := &fakeGateway{highest: big.NewInt(0), endTime: endTime}
		coord, store := newTestCoordinator(t, gw)
		auction := createTestAuction(t, store, endTime)

		report, err := coord.Reconcile(context.Background(), auction.ID)
		require.NoError(t, err)
		require.False(t, report.Repaired)
		require.False(t, report.EndTimeDrift)
	})

	t.Run("mirror behind chain", func(t *testing.T) {
		gw := &fakeGateway{highest: big.NewInt(250), endTime: endTime}
		coord, store := newTestCoordinator(t, gw)
		auction := createTestAuction(t, store, endTime)

		report, err := coord.Reconcile(context.Background(), auction.ID)
		require.NoError(t, err)
		require.True(t, report.Repaired)
		require.Equal(t, "0", report.MirrorHighest)
		require.Equal(t, "250", report.ChainHighest)

		updated, err := store.AuctionByID(context.Background(), auction.ID)
		require.NoError(t, err)
		require.Equal(t, "250", updated.HighestBid)
	})

	t.Run("ended on chain but not in mirror", func(t *testing.T) {
		past := time.Now().Add(-time.Minute).Truncate(time.Second)
		gw := &fakeGateway{highest: big.NewInt(0), endTime: past, ended: true}
		coord, store := newTestCoordinator(t, gw)
		auction := createTestAuction(t, store, past)

		report, err := coord.Reconcile(context.Background(), auction.ID)
		require.NoError(t, err)
		require.True(t, report.Repaired)
		require.False(t, report.MirrorEnded)
		require.True(t, report.ChainEnded)

		updated, err := store.AuctionByID(context.Background(), auction.ID)
		require.NoError(t, err)
		require.True(t, updated.Ended)

		// With the mirror repaired, End cannot submit a second auctionEnd().
		_, err = coord.End(context.Background(), auction.ID)
		require.ErrorIs(t, err, auctionerrors.ErrAlreadyEnded)
		require.Equal(t, 0, gw.endCount)

		// A second pass finds nothing left to repair.
		report, err = coord.Reconcile(context.Background(), auction.ID)
		require.NoError(t, err)
		require.False(t, report.Repaired)
		require.True(t, report.MirrorEnded)
	})

	t.Run("ended on both sides", func(t *testing.T) {
		gw := &fakeGateway{highest: big.NewInt(0), endTime: endTime, ended: true}
		coord, store := newTestCoordinator(t, gw)
		auction := createTestAuction(t, store, time.Now().Add(-time.Minute))

		_, err := coord.End(context.Background(), auction.ID)
		require.NoError(t, err)

		report, err := coord.Reconcile(context.Background(), auction.ID)
		require.NoError(t, err)
		require.False(t, report.Repaired)
	})

	t.Run("end time drift reported", func(t *testing.T) {
		gw := &fakeGateway{highest: big.NewInt(0), endTime: endTime.Add(time.Minute)}
		coord, store := newTestCoordinator(t, gw)
		auction := createTestAuction(t, store, endTime)

		report, err := coord.Reconcile(context.Background(), auction.ID)
		require.NoError(t, err)
		require.True(t, report.EndTimeDrift)
		require.False(t, report.Repaired)
	})
}
