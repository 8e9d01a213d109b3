package database

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ochenane/simple-auction/auctionerrors"

	"github.com/stretchr/testify/require"
)

const testAddress = "0x00000000000000000000000000000000000000Aa"

func TestMemStoreAuctions(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	endTime := time.Now().Add(time.Hour)

	auction, err := store.CreateAuction(ctx, testAddress, endTime)
	require.NoError(t, err)
	require.NotZero(t, auction.ID)
	require.Equal(t, "0", auction.HighestBid)
	require.False(t, auction.Ended)

	fetched, err := store.AuctionByID(ctx, auction.ID)
	require.NoError(t, err)
	require.Equal(t, auction.ID, fetched.ID)
	require.Equal(t, testAddress, fetched.Address)

	_, err = store.AuctionByID(ctx, auction.ID+100)
	require.ErrorIs(t, err, auctionerrors.ErrNotFound)

	second, err := store.CreateAuction(ctx, "0x00000000000000000000000000000000000000Bb", endTime)
	require.NoError(t, err)

	auctions, err := store.ListAuctions(ctx)
	require.NoError(t, err)
	require.Len(t, auctions, 2)
	require.Equal(t, auction.ID, auctions[0].ID)
	require.Equal(t, second.ID, auctions[1].ID)
}

func TestMemStoreRecordAccepted(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	auction, err := store.CreateAuction(ctx, testAddress, time.Now().Add(time.Hour))
	require.NoError(t, err)

	bid, err := store.RecordAccepted(ctx, auction.ID, 1, testAddress, big.NewInt(100))
	require.NoError(t, err)
	require.Equal(t, "100", bid.Amount)

	updated, err := store.AuctionByID(ctx, auction.ID)
	require.NoError(t, err)
	require.Equal(t, "100", updated.HighestBid)

	_, err = store.RecordAccepted(ctx, auction.ID, 1, testAddress, big.NewInt(100))
	require.ErrorIs(t, err, auctionerrors.ErrValueTooLow)

	_, err = store.RecordAccepted(ctx, auction.ID, 1, testAddress, big.NewInt(50))
	require.ErrorIs(t, err, auctionerrors.ErrValueTooLow)

	_, err = store.RecordAccepted(ctx, auction.ID+100, 1, testAddress, big.NewInt(200))
	require.ErrorIs(t, err, auctionerrors.ErrNotFound)
}

func TestMemStoreRecordAcceptedConcurrent(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	auction, err := store.CreateAuction(ctx, testAddress, time.Now().Add(time.Hour))
	require.NoError(t, err)

	const workers = 16
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.RecordAccepted(ctx, auction.ID, 1, testAddress, big.NewInt(100))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var accepted int
	for err := range results {
		if err == nil {
			accepted++
		} else {
			require.ErrorIs(t, err, auctionerrors.ErrValueTooLow)
		}
	}
	// Equal amounts: exactly one writer wins the highest-bid check.
	require.Equal(t, 1, accepted)
}

func TestMemStoreMarkReturned(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	auction, err := store.CreateAuction(ctx, testAddress, time.Now().Add(time.Hour))
	require.NoError(t, err)
	bid, err := store.RecordAccepted(ctx, auction.ID, 1, testAddress, big.NewInt(100))
	require.NoError(t, err)

	require.NoError(t, store.MarkReturned(ctx, bid.ID))
	require.ErrorIs(t, store.MarkReturned(ctx, bid.ID), auctionerrors.ErrAlreadyReturned)
	require.ErrorIs(t, store.MarkReturned(ctx, bid.ID+100), auctionerrors.ErrNotFound)

	fetched, err := store.BidByID(ctx, auction.ID, bid.ID)
	require.NoError(t, err)
	require.True(t, fetched.Returned)
}

func TestMemStoreMarkEnded(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	auction, err := store.CreateAuction(ctx, testAddress, time.Now().Add(time.Hour))
	require.NoError(t, err)

	require.NoError(t, store.MarkEnded(ctx, auction.ID))
	require.ErrorIs(t, store.MarkEnded(ctx, auction.ID), auctionerrors.ErrAlreadyEnded)
	require.ErrorIs(t, store.MarkEnded(ctx, auction.ID+100), auctionerrors.ErrNotFound)
}

func TestMemStoreHistory(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	auction, err := store.CreateAuction(ctx, testAddress, time.Now().Add(time.Hour))
	require.NoError(t, err)

	first, err := store.RecordAccepted(ctx, auction.ID, 1, "0x01", big.NewInt(100))
	require.NoError(t, err)
	_, err = store.RecordAccepted(ctx, auction.ID, 2, "0x02", big.NewInt(200))
	require.NoError(t, err)

	history, err := store.History(ctx, auction.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, "100", history[0].Amount)
	require.Equal(t, "200", history[1].Amount)

	require.NoError(t, store.MarkReturned(ctx, first.ID))
	history, err = store.History(ctx, auction.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, "200", history[0].Amount)

	// AllBids keeps the returned bid visible.
	all, err := store.AllBids(ctx, auction.ID)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.True(t, all[0].Returned)
}

func TestMemStoreUsers(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	user, err := store.CreateUser(ctx, "alice", "hash", false)
	require.NoError(t, err)
	require.NotZero(t, user.ID)

	_, err = store.CreateUser(ctx, "alice", "other", false)
	require.ErrorIs(t, err, auctionerrors.ErrUsernameTaken)

	fetched, err := store.UserByUsername(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, user.ID, fetched.ID)
	require.Equal(t, "hash", fetched.PasswordHash)

	_, err = store.UserByUsername(ctx, "bob")
	require.ErrorIs(t, err, auctionerrors.ErrNotFound)
}

func TestMemStoreStates(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	state, err := store.FetchState(ctx, ReconcilerScanState)
	require.NoError(t, err)
	require.Equal(t, uint64(0), state.Index)

	state.UpdateIndex(42)
	require.NoError(t, store.UpdateState(ctx, state))

	state, err = store.FetchState(ctx, ReconcilerScanState)
	require.NoError(t, err)
	require.Equal(t, uint64(42), state.Index)
}
