package auction

import (
	"context"
	"time"

	"github.com/ochenane/simple-auction/auctionerrors"
	"github.com/ochenane/simple-auction/logger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// ReconcileReport describes one repair pass over a single auction.
type ReconcileReport struct {
	AuctionID     uint64    `json:"auctionId"`
	MirrorHighest string    `json:"mirrorHighest"`
	ChainHighest  string    `json:"chainHighest"`
	MirrorEnded   bool      `json:"mirrorEnded"`
	ChainEnded    bool      `json:"chainEnded"`
	EndTime       time.Time `json:"endTime"`
	EndTimeDrift  bool      `json:"endTimeDrift"`
	Repaired      bool      `json:"repaired"`
}

// Reconcile compares the mirror row against ledger truth and repairs the
// mirrored highest bid and ended flag when the two disagree. The ledger is
// authoritative for both; the mirror only adds ownership attribution, which
// the ledger does not carry.
func (c *Coordinator) Reconcile(ctx context.Context, auctionID uint64) (*ReconcileReport, error) {
	auction, err := c.store.AuctionByID(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	address := common.HexToAddress(auction.Address)

	chainHighest, err := c.gw.HighestBid(ctx, address)
	if err != nil {
		return nil, errors.Wrap(err, "Reconcile")
	}
	chainEnd, err := c.gw.EndTime(ctx, address)
	if err != nil {
		return nil, errors.Wrap(err, "Reconcile")
	}
	chainEnded, err := c.gw.Ended(ctx, address)
	if err != nil {
		return nil, errors.Wrap(err, "Reconcile")
	}

	report := &ReconcileReport{
		AuctionID:     auctionID,
		MirrorHighest: auction.HighestBid,
		ChainHighest:  chainHighest.String(),
		MirrorEnded:   auction.Ended,
		ChainEnded:    chainEnded,
		EndTime:       chainEnd,
	}

	if auction.HighestBidBig().Cmp(chainHighest) != 0 {
		logger.Warn("Reconcile: auction %d mirror highest %s differs from chain %s, repairing",
			auctionID, auction.HighestBid, chainHighest)
		if err := c.store.SetHighestBid(ctx, auctionID, chainHighest); err != nil {
			return nil, errors.Wrap(err, "Reconcile")
		}
		report.Repaired = true
	}

	// An auction ended on chain but not in the mirror is the crash window
	// End leaves behind; without the repair a stale mirror flag would let
	// End submit auctionEnd() a second time.
	if chainEnded && !auction.Ended {
		logger.Warn("Reconcile: auction %d ended on chain but not in the mirror, repairing", auctionID)
		if err := c.store.MarkEnded(ctx, auctionID); err != nil && !errors.Is(err, auctionerrors.ErrAlreadyEnded) {
			return nil, errors.Wrap(err, "Reconcile")
		}
		report.Repaired = true
	}

	// End time is written once at deploy from on-chain truth; drift means
	// the row was tampered with or mis-migrated. Reported, not repaired.
	if !auction.EndTime.Equal(chainEnd) {
		logger.Warn("Reconcile: auction %d mirror end time %s differs from chain %s",
			auctionID, auction.EndTime, chainEnd)
		report.EndTimeDrift = true
	}

	return report, nil
}
