package database

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

const (
	// ReconcilerScanState tracks the last chain block whose auction events
	// the reconciler has inspected.
	ReconcilerScanState string = "reconciler_last_scanned_block"
)

func (s *Store) FetchState(ctx context.Context, name string) (*State, error) {
	var state State
	err := s.db.WithContext(ctx).Where(&State{Name: name}).First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		state = State{Name: name, Index: 0, Updated: time.Now()}
		if err := s.db.WithContext(ctx).Create(&state).Error; err != nil {
			return nil, errors.Wrap(err, "FetchState: Create")
		}
		return &state, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "FetchState")
	}

	return &state, nil
}

func (s *Store) UpdateState(ctx context.Context, state *State) error {
	return errors.Wrap(s.db.WithContext(ctx).Save(state).Error, "UpdateState")
}
