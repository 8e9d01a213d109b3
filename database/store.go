package database

import (
	"context"
	"math/big"
	"time"

	"github.com/ochenane/simple-auction/auctionerrors"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store is the GORM-backed mirror of the on-chain auction state. It is the
// enforcement point for the local invariants: the highest bid only moves up,
// and the returned/ended flags flip false->true exactly once.
//
// All amount comparisons happen in Go on big.Int values read under a
// SELECT ... FOR UPDATE row lock; decimal strings in the DB are storage
// only, never compared in SQL.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) CreateAuction(ctx context.Context, address string, endTime time.Time) (*Auction, error) {
	auction := &Auction{
		Address:    address,
		EndTime:    endTime,
		Ended:      false,
		HighestBid: "0",
		CreatedAt:  time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(auction).Error; err != nil {
		return nil, errors.Wrap(err, "CreateAuction")
	}

	return auction, nil
}

func (s *Store) AuctionByID(ctx context.Context, id uint64) (*Auction, error) {
	var auction Auction
	err := s.db.WithContext(ctx).First(&auction, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, auctionerrors.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "AuctionByID")
	}

	return &auction, nil
}

func (s *Store) ListAuctions(ctx context.Context) ([]*Auction, error) {
	var auctions []*Auction
	err := s.db.WithContext(ctx).Order("id ASC").Find(&auctions).Error
	if err != nil {
		return nil, errors.Wrap(err, "ListAuctions")
	}

	return auctions, nil
}

// RecordAccepted creates the bid row and bumps the auction's highest bid in
// one DB transaction. The auction row is locked for the duration, and the
// amount is re-checked against the locked row: two racing submissions that
// both passed the coordinator's pre-check resolve here, with the loser
// getting ErrValueTooLow.
func (s *Store) RecordAccepted(ctx context.Context, auctionID, ownerID uint64, bidder string, amount *big.Int) (*Bid, error) {
	var bid *Bid
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var auction Auction
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&auction, auctionID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return auctionerrors.ErrNotFound
		}
		if err != nil {
			return err
		}

		if amount.Cmp(auction.HighestBidBig()) <= 0 {
			return auctionerrors.ErrValueTooLow
		}

		bid = &Bid{
			AuctionID: auctionID,
			OwnerID:   ownerID,
			Bidder:    bidder,
			Amount:    amount.String(),
			Returned:  false,
			CreatedAt: time.Now(),
		}
		if err := tx.Create(bid).Error; err != nil {
			return err
		}

		return tx.Model(&Auction{}).Where("id = ?", auctionID).
			Update("highest_bid", amount.String()).Error
	})
	if err != nil {
		if errors.Is(err, auctionerrors.ErrNotFound) || errors.Is(err, auctionerrors.ErrValueTooLow) {
			return nil, err
		}
		return nil, errors.Wrap(err, "RecordAccepted")
	}

	return bid, nil
}

func (s *Store) BidByID(ctx context.Context, auctionID, bidID uint64) (*Bid, error) {
	var bid Bid
	err := s.db.WithContext(ctx).Where("id = ? AND auction_id = ?", bidID, auctionID).First(&bid).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, auctionerrors.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "BidByID")
	}

	return &bid, nil
}

// MarkReturned flips the returned flag with a conditional update so that a
// second withdrawal racing the first loses at the store, not at a stale read.
func (s *Store) MarkReturned(ctx context.Context, bidID uint64) error {
	res := s.db.WithContext(ctx).Model(&Bid{}).
		Where("id = ? AND returned = ?", bidID, false).
		Update("returned", true)
	if res.Error != nil {
		return errors.Wrap(res.Error, "MarkReturned")
	}
	if res.RowsAffected == 0 {
		var bid Bid
		err := s.db.WithContext(ctx).First(&bid, bidID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return auctionerrors.ErrNotFound
		}
		if err != nil {
			return errors.Wrap(err, "MarkReturned")
		}
		return auctionerrors.ErrAlreadyReturned
	}

	return nil
}

// MarkEnded flips the ended flag, same conditional-update discipline as
// MarkReturned.
func (s *Store) MarkEnded(ctx context.Context, auctionID uint64) error {
	res := s.db.WithContext(ctx).Model(&Auction{}).
		Where("id = ? AND ended = ?", auctionID, false).
		Update("ended", true)
	if res.Error != nil {
		return errors.Wrap(res.Error, "MarkEnded")
	}
	if res.RowsAffected == 0 {
		var auction Auction
		err := s.db.WithContext(ctx).First(&auction, auctionID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return auctionerrors.ErrNotFound
		}
		if err != nil {
			return errors.Wrap(err, "MarkEnded")
		}
		return auctionerrors.ErrAlreadyEnded
	}

	return nil
}

// History returns the auction's non-returned bids in creation order.
func (s *Store) History(ctx context.Context, auctionID uint64) ([]*Bid, error) {
	var bids []*Bid
	err := s.db.WithContext(ctx).
		Where("auction_id = ? AND returned = ?", auctionID, false).
		Order("id ASC").
		Find(&bids).Error
	if err != nil {
		return nil, errors.Wrap(err, "History")
	}

	return bids, nil
}

// AllBids returns every bid of the auction, returned ones included. The
// reconciler matches on-chain events against this, since an event stays
// valid after its bid's funds were withdrawn.
func (s *Store) AllBids(ctx context.Context, auctionID uint64) ([]*Bid, error) {
	var bids []*Bid
	err := s.db.WithContext(ctx).
		Where("auction_id = ?", auctionID).
		Order("id ASC").
		Find(&bids).Error
	if err != nil {
		return nil, errors.Wrap(err, "AllBids")
	}

	return bids, nil
}

// SetHighestBid overwrites the mirrored highest bid with the ledger's value.
// Only the reconciler calls this; regular bidding goes through RecordAccepted.
func (s *Store) SetHighestBid(ctx context.Context, auctionID uint64, amount *big.Int) error {
	res := s.db.WithContext(ctx).Model(&Auction{}).Where("id = ?", auctionID).
		Update("highest_bid", amount.String())
	if res.Error != nil {
		return errors.Wrap(res.Error, "SetHighestBid")
	}
	if res.RowsAffected == 0 {
		return auctionerrors.ErrNotFound
	}

	return nil
}

func (s *Store) CreateUser(ctx context.Context, username, passwordHash string, admin bool) (*User, error) {
	user := &User{
		Username:     username,
		PasswordHash: passwordHash,
		Admin:        admin,
		CreatedAt:    time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if isDuplicateKey(err) {
			return nil, auctionerrors.ErrUsernameTaken
		}
		return nil, errors.Wrap(err, "CreateUser")
	}

	return user, nil
}

// isDuplicateKey tells a unique-index violation apart from other store
// failures, so a DB outage is not reported as a taken username.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}

func (s *Store) UserByUsername(ctx context.Context, username string) (*User, error) {
	var user User
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, auctionerrors.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "UserByUsername")
	}

	return &user, nil
}
