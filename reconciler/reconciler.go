// Package reconciler runs the background repair pass that keeps the
// relational mirror in agreement with the ledger. Divergence is expected:
// deploy, bid and end all write to the chain first and the mirror second
// with no shared transaction, so a crash between the two leaves the mirror
// behind. The reconciler closes that window after the fact.
package reconciler

import (
	"context"
	"strings"
	"time"

	"github.com/ochenane/simple-auction/auction"
	"github.com/ochenane/simple-auction/chain"
	"github.com/ochenane/simple-auction/config"
	"github.com/ochenane/simple-auction/database"
	"github.com/ochenane/simple-auction/logger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const numParallelReconciles = 4

type Store interface {
	ListAuctions(ctx context.Context) ([]*database.Auction, error)
	AllBids(ctx context.Context, auctionID uint64) ([]*database.Bid, error)
	FetchState(ctx context.Context, name string) (*database.State, error)
	UpdateState(ctx context.Context, state *database.State) error
}

type Gateway interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterBidEvents(ctx context.Context, address common.Address, from, to uint64) ([]chain.BidEvent, error)
}

type Coordinator interface {
	Reconcile(ctx context.Context, auctionID uint64) (*auction.ReconcileReport, error)
}

type Reconciler struct {
	store  Store
	gw     Gateway
	coord  Coordinator
	params config.ReconcilerConfig
}

func New(store Store, gw Gateway, coord Coordinator, params config.ReconcilerConfig) *Reconciler {
	return &Reconciler{store: store, gw: gw, coord: coord, params: params}
}

// Run repairs all auctions every configured interval until the context is
// cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	logger.Info("Reconciler running every %s", r.params.Interval())
	ticker := time.NewTicker(r.params.Interval())
	defer ticker.Stop()

	for {
		if err := r.RunOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			// A failed pass is retried at the next tick; the mirror only
			// gets staler, never wrong.
			logger.Error("Reconciler pass failed: %s", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce reconciles every mirrored auction against the ledger, then scans
// new HighestBidIncreased events to surface on-chain bids the mirror never
// saw.
func (r *Reconciler) RunOnce(ctx context.Context) error {
	auctions, err := r.store.ListAuctions(ctx)
	if err != nil {
		return errors.Wrap(err, "RunOnce")
	}

	startTime := time.Now()
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(numParallelReconciles)
	for _, a := range auctions {
		a := a
		eg.Go(func() error {
			reconcileCtx, cancel := context.WithTimeout(egCtx, r.params.Timeout())
			defer cancel()

			report, err := r.coord.Reconcile(reconcileCtx, a.ID)
			if err != nil {
				return errors.Wrapf(err, "auction %d", a.ID)
			}
			if report.Repaired {
				logger.Info("Reconciler repaired auction %d: %s -> %s",
					a.ID, report.MirrorHighest, report.ChainHighest)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return errors.Wrap(err, "RunOnce")
	}
	logger.Debug("Reconciled %d auctions in %d milliseconds",
		len(auctions), time.Since(startTime).Milliseconds())

	return r.scanEvents(ctx, auctions)
}

// scanEvents walks the HighestBidIncreased logs emitted since the last pass
// and reports any accepted on-chain bid that has no mirrored counterpart.
// The scan position is persisted so restarts do not re-report old events.
func (r *Reconciler) scanEvents(ctx context.Context, auctions []*database.Auction) error {
	head, err := r.gw.BlockNumber(ctx)
	if err != nil {
		return errors.Wrap(err, "scanEvents")
	}

	state, err := r.store.FetchState(ctx, database.ReconcilerScanState)
	if err != nil {
		return errors.Wrap(err, "scanEvents")
	}

	// First pass only records the head; there is nothing mirrored before
	// the service existed to compare events against.
	if state.Index == 0 {
		state.UpdateIndex(head)
		return errors.Wrap(r.store.UpdateState(ctx, state), "scanEvents")
	}
	if state.Index >= head {
		return nil
	}
	from := state.Index + 1

	// Cap the window so one pass never asks the node for an unbounded log
	// range; the remainder is picked up by the following passes.
	to := head
	if r.params.LogRange > 0 {
		if capped := state.Index + uint64(r.params.LogRange); to > capped {
			to = capped
		}
	}

	for _, a := range auctions {
		events, err := r.gw.FilterBidEvents(ctx, common.HexToAddress(a.Address), from, to)
		if err != nil {
			return errors.Wrapf(err, "scanEvents: auction %d", a.ID)
		}
		if len(events) == 0 {
			continue
		}

		// Match against every bid, returned ones included; a bid accepted
		// and withdrawn within one scan interval is not a discrepancy.
		mirrored, err := r.store.AllBids(ctx, a.ID)
		if err != nil {
			return errors.Wrapf(err, "scanEvents: auction %d", a.ID)
		}
		for _, event := range events {
			if !hasMirroredBid(mirrored, event) {
				logger.Warn("Reconciliation discrepancy: auction %d has on-chain bid %s by %s (block %d) with no mirror row",
					a.ID, event.Amount, event.Bidder.Hex(), event.Block)
			}
		}
	}

	state.UpdateIndex(to)
	return errors.Wrap(r.store.UpdateState(ctx, state), "scanEvents")
}

func hasMirroredBid(bids []*database.Bid, event chain.BidEvent) bool {
	for _, bid := range bids {
		if strings.EqualFold(bid.Bidder, event.Bidder.Hex()) && bid.AmountBig().Cmp(event.Amount) == 0 {
			return true
		}
	}

	return false
}
