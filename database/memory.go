package database

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ochenane/simple-auction/auctionerrors"
)

// MemStore is a concurrency-safe in-memory implementation of the store
// surface. It backs unit tests and local runs without a MySQL instance and
// applies the same conditional-update discipline as the GORM store: the
// highest-bid check happens under the lock, and the returned/ended flags
// only ever flip false->true.
type MemStore struct {
	mu       sync.Mutex
	auctions map[uint64]*Auction
	bids     map[uint64]*Bid
	users    map[uint64]*User
	states   map[string]*State
	nextID   uint64
}

func NewMemStore() *MemStore {
	return &MemStore{
		auctions: make(map[uint64]*Auction),
		bids:     make(map[uint64]*Bid),
		users:    make(map[uint64]*User),
		states:   make(map[string]*State),
	}
}

func (m *MemStore) allocID() uint64 {
	m.nextID++
	return m.nextID
}

func (m *MemStore) CreateAuction(ctx context.Context, address string, endTime time.Time) (*Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	auction := &Auction{
		BaseEntity: BaseEntity{ID: m.allocID()},
		Address:    address,
		EndTime:    endTime,
		Ended:      false,
		HighestBid: "0",
		CreatedAt:  time.Now(),
	}
	m.auctions[auction.ID] = auction

	copied := *auction
	return &copied, nil
}

func (m *MemStore) AuctionByID(ctx context.Context, id uint64) (*Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	auction, ok := m.auctions[id]
	if !ok {
		return nil, auctionerrors.ErrNotFound
	}

	copied := *auction
	return &copied, nil
}

func (m *MemStore) ListAuctions(ctx context.Context) ([]*Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	auctions := make([]*Auction, 0, len(m.auctions))
	for id := uint64(1); id <= m.nextID; id++ {
		if auction, ok := m.auctions[id]; ok {
			copied := *auction
			auctions = append(auctions, &copied)
		}
	}

	return auctions, nil
}

func (m *MemStore) RecordAccepted(ctx context.Context, auctionID, ownerID uint64, bidder string, amount *big.Int) (*Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	auction, ok := m.auctions[auctionID]
	if !ok {
		return nil, auctionerrors.ErrNotFound
	}
	if amount.Cmp(auction.HighestBidBig()) <= 0 {
		return nil, auctionerrors.ErrValueTooLow
	}

	bid := &Bid{
		BaseEntity: BaseEntity{ID: m.allocID()},
		AuctionID:  auctionID,
		OwnerID:    ownerID,
		Bidder:     bidder,
		Amount:     amount.String(),
		Returned:   false,
		CreatedAt:  time.Now(),
	}
	m.bids[bid.ID] = bid
	auction.HighestBid = amount.String()

	copied := *bid
	return &copied, nil
}

func (m *MemStore) BidByID(ctx context.Context, auctionID, bidID uint64) (*Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bid, ok := m.bids[bidID]
	if !ok || bid.AuctionID != auctionID {
		return nil, auctionerrors.ErrNotFound
	}

	copied := *bid
	return &copied, nil
}

func (m *MemStore) MarkReturned(ctx context.Context, bidID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bid, ok := m.bids[bidID]
	if !ok {
		return auctionerrors.ErrNotFound
	}
	if bid.Returned {
		return auctionerrors.ErrAlreadyReturned
	}
	bid.Returned = true

	return nil
}

func (m *MemStore) MarkEnded(ctx context.Context, auctionID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	auction, ok := m.auctions[auctionID]
	if !ok {
		return auctionerrors.ErrNotFound
	}
	if auction.Ended {
		return auctionerrors.ErrAlreadyEnded
	}
	auction.Ended = true

	return nil
}

func (m *MemStore) History(ctx context.Context, auctionID uint64) ([]*Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var bids []*Bid
	for id := uint64(1); id <= m.nextID; id++ {
		bid, ok := m.bids[id]
		if ok && bid.AuctionID == auctionID && !bid.Returned {
			copied := *bid
			bids = append(bids, &copied)
		}
	}

	return bids, nil
}

func (m *MemStore) AllBids(ctx context.Context, auctionID uint64) ([]*Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var bids []*Bid
	for id := uint64(1); id <= m.nextID; id++ {
		if bid, ok := m.bids[id]; ok && bid.AuctionID == auctionID {
			copied := *bid
			bids = append(bids, &copied)
		}
	}

	return bids, nil
}

func (m *MemStore) SetHighestBid(ctx context.Context, auctionID uint64, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	auction, ok := m.auctions[auctionID]
	if !ok {
		return auctionerrors.ErrNotFound
	}
	auction.HighestBid = amount.String()

	return nil
}

func (m *MemStore) CreateUser(ctx context.Context, username, passwordHash string, admin bool) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.users {
		if existing.Username == username {
			return nil, auctionerrors.ErrUsernameTaken
		}
	}

	user := &User{
		BaseEntity:   BaseEntity{ID: m.allocID()},
		Username:     username,
		PasswordHash: passwordHash,
		Admin:        admin,
		CreatedAt:    time.Now(),
	}
	m.users[user.ID] = user

	copied := *user
	return &copied, nil
}

func (m *MemStore) UserByUsername(ctx context.Context, username string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id := uint64(1); id <= m.nextID; id++ {
		if user, ok := m.users[id]; ok && user.Username == username {
			copied := *user
			return &copied, nil
		}
	}

	return nil, auctionerrors.ErrNotFound
}

func (m *MemStore) FetchState(ctx context.Context, name string) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.states[name]
	if !ok {
		state = &State{Name: name, Index: 0, Updated: time.Now()}
		m.states[name] = state
	}

	copied := *state
	return &copied, nil
}

func (m *MemStore) UpdateState(ctx context.Context, state *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *state
	m.states[state.Name] = &copied

	return nil
}
