package auction

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ochenane/simple-auction/auctionerrors"
	"github.com/ochenane/simple-auction/chain"
	"github.com/ochenane/simple-auction/database"
	"github.com/ochenane/simple-auction/logger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
)

const defaultGasLimit = 200_000

// Store is the mirror the coordinator writes through. Implementations must
// make RecordAccepted atomic with a fresh highest-bid check and MarkReturned/
// MarkEnded conditional updates; the coordinator's own pre-checks run against
// possibly stale reads and are only there to fail fast.
type Store interface {
	CreateAuction(ctx context.Context, address string, endTime time.Time) (*database.Auction, error)
	AuctionByID(ctx context.Context, id uint64) (*database.Auction, error)
	ListAuctions(ctx context.Context) ([]*database.Auction, error)
	RecordAccepted(ctx context.Context, auctionID, ownerID uint64, bidder string, amount *big.Int) (*database.Bid, error)
	BidByID(ctx context.Context, auctionID, bidID uint64) (*database.Bid, error)
	MarkReturned(ctx context.Context, bidID uint64) error
	MarkEnded(ctx context.Context, auctionID uint64) error
	History(ctx context.Context, auctionID uint64) ([]*database.Bid, error)
	SetHighestBid(ctx context.Context, auctionID uint64, amount *big.Int) error
}

// Gateway is the single chain boundary the coordinator talks through.
type Gateway interface {
	Deploy(ctx context.Context, biddingTime time.Duration) (common.Address, time.Time, error)
	HighestBid(ctx context.Context, address common.Address) (*big.Int, error)
	EndTime(ctx context.Context, address common.Address) (time.Time, error)
	Ended(ctx context.Context, address common.Address) (bool, error)
	Call(ctx context.Context, tx *types.Transaction) ([]byte, error)
	SubmitEnd(ctx context.Context, address common.Address) (common.Hash, error)
}

// Coordinator sequences validation, simulation and mirror writes for every
// auction operation. The ledger call always happens before the local write;
// when the two diverge, the chain wins and the mirror is repaired by
// Reconcile.
type Coordinator struct {
	store    Store
	gw       Gateway
	gasLimit uint64
}

// Status is the caller-facing view of one auction. Monetary figures come
// live from the ledger; only the ended flag is the mirror's.
type Status struct {
	EndTime    time.Time `json:"endTime"`
	Ended      bool      `json:"ended"`
	HighestBid string    `json:"highestBid"` // wei, decimal string
}

// BidInfo is one history entry: the ledger-side bidder and the amount, with
// no off-chain owner identity attached.
type BidInfo struct {
	ID      uint64 `json:"id"`
	Address string `json:"address"`
	Amount  string `json:"amount"` // wei, decimal string
}

func NewCoordinator(store Store, gw Gateway, gasLimit uint64) *Coordinator {
	if gasLimit == 0 {
		gasLimit = defaultGasLimit
	}
	return &Coordinator{store: store, gw: gw, gasLimit: gasLimit}
}

// Deploy submits a new auction contract and mirrors it locally. Nothing is
// persisted when the chain submission fails; a mirror failure after a
// confirmed deployment is surfaced and logged, leaving an on-chain auction
// the reconciler cannot see until an operator repairs the row.
func (c *Coordinator) Deploy(ctx context.Context, biddingTime time.Duration) (uint64, error) {
	address, endTime, err := c.gw.Deploy(ctx, biddingTime)
	if err != nil {
		return 0, errors.Wrap(err, "Deploy")
	}

	auction, err := c.store.CreateAuction(ctx, address.Hex(), endTime)
	if err != nil {
		logger.Error("Reconciliation discrepancy: contract %s deployed but mirror row not created: %s",
			address.Hex(), err)
		return 0, errors.Wrap(err, "Deploy")
	}
	logger.Info("Deployed auction %d at %s, ends %s", auction.ID, address.Hex(), endTime)

	return auction.ID, nil
}

// Status reads the ended flag from the mirror and the monetary figures live
// from the ledger.
func (c *Coordinator) Status(ctx context.Context, auctionID uint64) (*Status, error) {
	auction, err := c.store.AuctionByID(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	address := common.HexToAddress(auction.Address)

	highest, err := c.gw.HighestBid(ctx, address)
	if err != nil {
		return nil, errors.Wrap(err, "Status")
	}
	endTime, err := c.gw.EndTime(ctx, address)
	if err != nil {
		return nil, errors.Wrap(err, "Status")
	}

	return &Status{
		EndTime:    endTime,
		Ended:      auction.Ended,
		HighestBid: highest.String(),
	}, nil
}

// History lists the auction's non-returned bids in acceptance order.
func (c *Coordinator) History(ctx context.Context, auctionID uint64) ([]BidInfo, error) {
	if _, err := c.store.AuctionByID(ctx, auctionID); err != nil {
		return nil, err
	}

	bids, err := c.store.History(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	infos := make([]BidInfo, len(bids))
	for i, bid := range bids {
		infos[i] = BidInfo{ID: bid.ID, Address: bid.Bidder, Amount: bid.Amount}
	}

	return infos, nil
}

// PrepareBid returns the hex RLP of an unsigned bid() transaction for the
// caller to sign off-system. Reads the mirror only for the contract address.
func (c *Coordinator) PrepareBid(ctx context.Context, auctionID uint64, amount *big.Int) (string, error) {
	if amount == nil || amount.Sign() <= 0 {
		return "", errors.Wrap(auctionerrors.ErrInvalidFormat, "bid amount must be positive")
	}

	auction, err := c.store.AuctionByID(ctx, auctionID)
	if err != nil {
		return "", err
	}

	return c.unsignedCall(auction.Address, chain.Selector(chain.MethodBid), amount)
}

// SubmitBid validates a signed bid, simulates it on the ledger and only then
// commits it to the mirror. The store re-checks the amount under its row
// lock, so a stale highest-bid read here cannot let a low bid through.
func (c *Coordinator) SubmitBid(ctx context.Context, auctionID, ownerID uint64, rawTx string) (*database.Bid, error) {
	auction, err := c.store.AuctionByID(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	tx, err := DecodeSignedTx(rawTx)
	if err != nil {
		return nil, err
	}
	from, err := CheckBidTx(tx, common.HexToAddress(auction.Address), auction.HighestBidBig())
	if err != nil {
		return nil, err
	}

	// The dry run catches conditions only the ledger knows about, e.g. an
	// auction that has already ended on-chain.
	if _, err := c.gw.Call(ctx, tx); err != nil {
		return nil, errors.Wrap(err, "SubmitBid")
	}

	bid, err := c.store.RecordAccepted(ctx, auctionID, ownerID, from.Hex(), tx.Value())
	if err != nil {
		if !errors.Is(err, auctionerrors.ErrValueTooLow) && !errors.Is(err, auctionerrors.ErrNotFound) {
			logger.Error("Reconciliation discrepancy: bid by %s on auction %d simulated but not mirrored: %s",
				from.Hex(), auctionID, err)
		}
		return nil, err
	}

	return bid, nil
}

// PrepareWithdrawal returns the hex RLP of an unsigned withdraw()
// transaction for an existing, not yet returned bid.
func (c *Coordinator) PrepareWithdrawal(ctx context.Context, auctionID, bidID uint64) (string, error) {
	bid, err := c.store.BidByID(ctx, auctionID, bidID)
	if err != nil {
		return "", err
	}
	if bid.Returned {
		return "", auctionerrors.ErrAlreadyReturned
	}

	auction, err := c.store.AuctionByID(ctx, auctionID)
	if err != nil {
		return "", err
	}

	return c.unsignedCall(auction.Address, chain.Selector(chain.MethodWithdraw), new(big.Int))
}

// SubmitWithdrawal simulates a signed withdraw() call and marks the bid
// returned only when the decoded on-chain outcome is true. A false outcome
// (the contract had nothing to pay back) is reported to the caller without
// touching the mirror.
func (c *Coordinator) SubmitWithdrawal(ctx context.Context, auctionID, bidID, ownerID uint64, rawTx string) (bool, error) {
	bid, err := c.store.BidByID(ctx, auctionID, bidID)
	if err != nil {
		return false, err
	}
	if bid.Returned {
		// No ledger round-trip for a bid the mirror already knows is settled.
		return false, auctionerrors.ErrAlreadyReturned
	}

	auction, err := c.store.AuctionByID(ctx, auctionID)
	if err != nil {
		return false, err
	}

	tx, err := DecodeSignedTx(rawTx)
	if err != nil {
		return false, err
	}
	from, err := CheckWithdrawTx(tx, common.HexToAddress(auction.Address))
	if err != nil {
		return false, err
	}
	if !strings.EqualFold(from.Hex(), bid.Bidder) || ownerID != bid.OwnerID {
		return false, errors.Wrapf(auctionerrors.ErrForbidden,
			"bid %d belongs to %s/owner %d", bidID, bid.Bidder, bid.OwnerID)
	}

	out, err := c.gw.Call(ctx, tx)
	if err != nil {
		return false, errors.Wrap(err, "SubmitWithdrawal")
	}
	result, err := chain.UnpackWithdrawResult(out)
	if err != nil {
		return false, errors.Wrap(err, "SubmitWithdrawal")
	}
	if !result {
		return false, nil
	}

	if err := c.store.MarkReturned(ctx, bidID); err != nil {
		if errors.Is(err, auctionerrors.ErrAlreadyReturned) {
			return false, err
		}
		logger.Error("Reconciliation discrepancy: withdrawal of bid %d confirmed on chain but not mirrored: %s",
			bidID, err)
		return false, errors.Wrap(err, "SubmitWithdrawal")
	}

	return true, nil
}

// End submits the auctionEnd() call once the mirror says the auction is past
// its end time and not yet ended. The mirror flag update is best-effort: the
// transaction hash is returned even when the flag write fails, and the
// failure is left to the reconciler.
func (c *Coordinator) End(ctx context.Context, auctionID uint64) (common.Hash, error) {
	auction, err := c.store.AuctionByID(ctx, auctionID)
	if err != nil {
		return common.Hash{}, err
	}
	if time.Now().Before(auction.EndTime) {
		return common.Hash{}, errors.Wrapf(auctionerrors.ErrNotYetEndable,
			"auction %d ends at %s", auctionID, auction.EndTime)
	}
	if auction.Ended {
		return common.Hash{}, auctionerrors.ErrAlreadyEnded
	}

	hash, err := c.gw.SubmitEnd(ctx, common.HexToAddress(auction.Address))
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "End")
	}

	if err := c.store.MarkEnded(ctx, auctionID); err != nil {
		logger.Error("Reconciliation discrepancy: auction %d end submitted as %s but mirror flag not set: %s",
			auctionID, hash.Hex(), err)
	}

	return hash, nil
}

func (c *Coordinator) unsignedCall(address string, selector []byte, value *big.Int) (string, error) {
	to := common.HexToAddress(address)
	tx := types.NewTx(&types.LegacyTx{
		To:       &to,
		Value:    value,
		Gas:      c.gasLimit,
		GasPrice: new(big.Int),
		Data:     selector,
	})

	raw, err := tx.MarshalBinary()
	if err != nil {
		return "", errors.Wrap(err, "unsignedCall")
	}

	return hexutil.Encode(raw), nil
}
