package auction

import (
	"encoding/hex"
	"math/big"
	"strings"

	"github.com/ochenane/simple-auction/auctionerrors"
	"github.com/ochenane/simple-auction/chain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
)

// Transaction validation is pure: every check here is a predicate over the
// decoded transaction plus one externally supplied value (the current
// highest bid). Nothing is read from or written to the store or the chain.

// DecodeSignedTx parses a caller-supplied hex-encoded signed transaction.
func DecodeSignedTx(raw string) (*types.Transaction, error) {
	data := common.FromHex(raw)
	if len(data) == 0 {
		return nil, errors.Wrap(auctionerrors.ErrInvalidFormat, "empty transaction")
	}

	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(data); err != nil {
		return nil, errors.Wrapf(auctionerrors.ErrInvalidFormat, "undecodable transaction: %v", err)
	}

	return tx, nil
}

// SenderOf recovers the signer address. An unsigned transaction fails here,
// which is what makes "is it signed" and "who signed it" a single check.
func SenderOf(tx *types.Transaction) (common.Address, error) {
	v, r, s := tx.RawSignatureValues()
	if v == nil || (v.Sign() == 0 && r.Sign() == 0 && s.Sign() == 0) {
		return common.Address{}, errors.Wrap(auctionerrors.ErrInvalidFormat, "transaction is not signed")
	}

	from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		return common.Address{}, errors.Wrapf(auctionerrors.ErrInvalidFormat, "sender recovery: %v", err)
	}

	return from, nil
}

// CheckBidTx confirms a signed transaction is a well-formed bid() call into
// the given contract carrying a value that beats the supplied highest bid.
// Returns the recovered sender on success.
func CheckBidTx(tx *types.Transaction, contract common.Address, currentHighest *big.Int) (common.Address, error) {
	from, err := SenderOf(tx)
	if err != nil {
		return common.Address{}, err
	}
	if err := checkCall(tx, contract, chain.Selector(chain.MethodBid)); err != nil {
		return common.Address{}, err
	}
	if tx.Value().Sign() == 0 {
		return common.Address{}, errors.Wrap(auctionerrors.ErrInvalidFormat, "bid carries no value")
	}
	if tx.Value().Cmp(currentHighest) <= 0 {
		return common.Address{}, errors.Wrapf(auctionerrors.ErrValueTooLow,
			"bid %s against highest %s", tx.Value(), currentHighest)
	}

	return from, nil
}

// CheckWithdrawTx confirms a signed transaction is a well-formed zero-value
// withdraw() call into the given contract. Returns the recovered sender.
func CheckWithdrawTx(tx *types.Transaction, contract common.Address) (common.Address, error) {
	from, err := SenderOf(tx)
	if err != nil {
		return common.Address{}, err
	}
	if err := checkCall(tx, contract, chain.Selector(chain.MethodWithdraw)); err != nil {
		return common.Address{}, err
	}
	if tx.Value().Sign() != 0 {
		return common.Address{}, errors.Wrap(auctionerrors.ErrInvalidFormat, "withdrawal must not carry value")
	}

	return from, nil
}

func checkCall(tx *types.Transaction, contract common.Address, selector []byte) error {
	to := tx.To()
	if to == nil || *to != contract {
		return errors.Wrap(auctionerrors.ErrInvalidFormat, "transaction target is not the auction contract")
	}

	data := tx.Data()
	if len(data) < len(selector) {
		return errors.Wrap(auctionerrors.ErrInvalidFormat, "transaction data shorter than a method selector")
	}
	if !strings.EqualFold(hex.EncodeToString(data[:len(selector)]), hex.EncodeToString(selector)) {
		return errors.Wrap(auctionerrors.ErrInvalidFormat, "transaction does not call the expected method")
	}

	return nil
}
