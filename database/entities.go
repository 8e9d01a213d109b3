package database

import (
	"math/big"
	"time"
)

// BaseEntity is an abstract entity, all other entities should be derived from it
type BaseEntity struct {
	ID uint64 `gorm:"primaryKey"`
}

// Auction mirrors one deployed SimpleAuction contract. Address and EndTime
// are written once at deploy time; Ended and HighestBid only move forward.
type Auction struct {
	BaseEntity
	Address    string `gorm:"type:varchar(42);uniqueIndex"`
	EndTime    time.Time
	Ended      bool
	HighestBid string `gorm:"type:varchar(78)"` // wei, decimal string
	CreatedAt  time.Time
}

// Bid is one accepted bid. Rows are never deleted; a superseded bid stays
// in history until its funds are withdrawn and Returned flips to true.
type Bid struct {
	BaseEntity
	AuctionID uint64 `gorm:"index"`
	OwnerID   uint64 `gorm:"index"`
	Bidder    string `gorm:"type:varchar(42)"` // sender recovered from the signed transaction
	Amount    string `gorm:"type:varchar(78)"` // wei, decimal string
	Returned  bool
	CreatedAt time.Time
}

type User struct {
	BaseEntity
	Username     string `gorm:"type:varchar(64);uniqueIndex"`
	PasswordHash string `gorm:"type:varchar(72)"`
	Admin        bool
	CreatedAt    time.Time
}

// State is generic bookkeeping for background jobs, currently only the
// reconciler's last scanned block.
type State struct {
	BaseEntity
	Name    string `gorm:"type:varchar(50);index"`
	Index   uint64
	Updated time.Time
}

func (s *State) UpdateIndex(newIndex uint64) {
	s.Index = newIndex
	s.Updated = time.Now()
}

func (a *Auction) HighestBidBig() *big.Int {
	return parseWei(a.HighestBid)
}

func (b *Bid) AmountBig() *big.Int {
	return parseWei(b.Amount)
}

// parseWei decodes a stored decimal wei amount. Stored values are written
// from big.Int.String() so a parse failure means a corrupted row; treat it
// as zero rather than poisoning every read with an error return.
func parseWei(s string) *big.Int {
	if s == "" {
		return new(big.Int)
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return new(big.Int)
	}
	return v
}
