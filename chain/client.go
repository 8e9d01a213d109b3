package chain

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"
	"time"

	"github.com/ochenane/simple-auction/auctionerrors"
	"github.com/ochenane/simple-auction/boff"
	"github.com/ochenane/simple-auction/config"
	"github.com/ochenane/simple-auction/logger"

	"github.com/cenkalti/backoff/v5"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
)

// Client talks to the auction chain over a single JSON-RPC endpoint. Reads
// are retried with exponential backoff; anything that submits a transaction
// (Deploy, SubmitEnd) is attempted exactly once, since a timed-out
// submission may still land on chain.
type Client struct {
	eth      *ethclient.Client
	chainID  *big.Int
	key      *ecdsa.PrivateKey
	bytecode []byte
	gasLimit uint64
	timeout  time.Duration
}

// BidEvent is one decoded HighestBidIncreased log.
type BidEvent struct {
	Bidder common.Address
	Amount *big.Int
	Block  uint64
}

func DialRPCNode(ctx context.Context, chainCfg *config.ChainConfig, auctionCfg *config.AuctionConfig) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, chainCfg.NodeURL)
	if err != nil {
		return nil, errors.Wrap(err, "DialRPCNode: Dial")
	}

	chainID, err := boff.RetryWithMaxElapsed(ctx, func() (*big.Int, error) {
		ctx, cancel := context.WithTimeout(ctx, auctionCfg.Timeout())
		defer cancel()
		return eth.ChainID(ctx)
	}, "ChainID")
	if err != nil {
		return nil, errors.Wrap(err, "DialRPCNode: ChainID")
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(auctionCfg.PrivateKey, "0x"))
	if err != nil {
		return nil, errors.Wrap(err, "DialRPCNode: invalid operator key")
	}

	var bytecode []byte
	if auctionCfg.ContractArtifact != "" {
		bytecode, err = LoadBytecode(auctionCfg.ContractArtifact)
		if err != nil {
			return nil, errors.Wrap(err, "DialRPCNode")
		}
	}

	return &Client{
		eth:      eth,
		chainID:  chainID,
		key:      key,
		bytecode: bytecode,
		gasLimit: auctionCfg.GasLimit,
		timeout:  auctionCfg.Timeout(),
	}, nil
}

func (c *Client) Close() {
	c.eth.Close()
}

// OperatorAddress is the address deploy and end transactions are sent from.
func (c *Client) OperatorAddress() common.Address {
	return crypto.PubkeyToAddress(c.key.PublicKey)
}

// Deploy submits a SimpleAuction deployment, waits for it to be mined and
// reads the authoritative end time back from the deployed instance. The
// operator address doubles as the beneficiary, as in the original contract
// setup. Not retried.
func (c *Client) Deploy(ctx context.Context, biddingTime time.Duration) (common.Address, time.Time, error) {
	if len(c.bytecode) == 0 {
		return common.Address{}, time.Time{}, errors.New("Deploy: no contract bytecode configured")
	}

	opts, err := c.transactOpts(ctx)
	if err != nil {
		return common.Address{}, time.Time{}, err
	}

	seconds := new(big.Int).SetInt64(int64(biddingTime / time.Second))
	address, tx, _, err := bind.DeployContract(opts, AuctionABI, c.bytecode, c.eth, seconds, c.OperatorAddress())
	if err != nil {
		return common.Address{}, time.Time{}, mapError(err, "Deploy")
	}
	logger.Info("Deployment transaction %s submitted, waiting for inclusion", tx.Hash().Hex())

	if _, err := bind.WaitDeployed(ctx, c.eth, tx); err != nil {
		return common.Address{}, time.Time{}, mapError(err, "Deploy: WaitDeployed")
	}

	endTime, err := c.EndTime(ctx, address)
	if err != nil {
		return common.Address{}, time.Time{}, errors.Wrap(err, "Deploy")
	}

	return address, endTime, nil
}

// HighestBid reads the current highest bid from chain state.
func (c *Client) HighestBid(ctx context.Context, address common.Address) (*big.Int, error) {
	var out *big.Int
	err := c.callView(ctx, address, MethodHighestBid, &out)
	if err != nil {
		return nil, err
	}

	return out, nil
}

// EndTime reads the auction end time from chain state.
func (c *Client) EndTime(ctx context.Context, address common.Address) (time.Time, error) {
	var out *big.Int
	err := c.callView(ctx, address, MethodEndTime, &out)
	if err != nil {
		return time.Time{}, err
	}

	return time.Unix(out.Int64(), 0), nil
}

// Ended reads the ended flag from chain state.
func (c *Client) Ended(ctx context.Context, address common.Address) (bool, error) {
	result, err := c.viewCall(ctx, address, MethodEnded)
	if err != nil {
		return false, err
	}

	value, ok := result.(bool)
	if !ok {
		return false, errors.Errorf("%s: output is not a bool", MethodEnded)
	}

	return value, nil
}

func (c *Client) callView(ctx context.Context, address common.Address, method string, out *(*big.Int)) error {
	result, err := c.viewCall(ctx, address, method)
	if err != nil {
		return err
	}

	value, ok := result.(*big.Int)
	if !ok {
		return errors.Errorf("%s: output is not uint256", method)
	}
	*out = value

	return nil
}

func (c *Client) viewCall(ctx context.Context, address common.Address, method string) (interface{}, error) {
	contract := bind.NewBoundContract(address, AuctionABI, c.eth, c.eth, c.eth)

	result, err := boff.RetryWithMaxElapsed(ctx, func() ([]interface{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		var results []interface{}
		err := contract.Call(&bind.CallOpts{Context: callCtx}, &results, method)
		if err != nil {
			return nil, retryable(mapError(err, method))
		}
		return results, nil
	}, method)
	if err != nil {
		return nil, err
	}
	if len(result) != 1 {
		return nil, errors.Errorf("%s: unexpected output arity", method)
	}

	return result[0], nil
}

// Call dry-runs a signed transaction against the latest state without
// committing it, from the recovered sender. A revert is returned as
// ErrReverted; node failures are retried since eth_call has no side effect.
func (c *Client) Call(ctx context.Context, tx *types.Transaction) ([]byte, error) {
	from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		return nil, errors.Wrapf(auctionerrors.ErrInvalidFormat, "Call: %v", err)
	}

	msg := ethereum.CallMsg{
		From:  from,
		To:    tx.To(),
		Gas:   tx.Gas(),
		Value: tx.Value(),
		Data:  tx.Data(),
	}

	return boff.RetryWithMaxElapsed(ctx, func() ([]byte, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		out, err := c.eth.CallContract(callCtx, msg, nil)
		if err != nil {
			return nil, retryable(mapError(err, "Call"))
		}
		return out, nil
	}, "Call")
}

// SubmitEnd submits the auctionEnd() transaction with the operator key and
// returns its hash without waiting for inclusion. Not retried.
func (c *Client) SubmitEnd(ctx context.Context, address common.Address) (common.Hash, error) {
	opts, err := c.transactOpts(ctx)
	if err != nil {
		return common.Hash{}, err
	}

	contract := bind.NewBoundContract(address, AuctionABI, c.eth, c.eth, c.eth)
	tx, err := contract.Transact(opts, MethodAuctionEnd)
	if err != nil {
		return common.Hash{}, mapError(err, "SubmitEnd")
	}

	return tx.Hash(), nil
}

// BlockNumber returns the latest chain block, for the reconciler's event scan.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return boff.RetryWithMaxElapsed(ctx, func() (uint64, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		n, err := c.eth.BlockNumber(callCtx)
		if err != nil {
			return 0, retryable(mapError(err, "BlockNumber"))
		}
		return n, nil
	}, "BlockNumber")
}

// FilterBidEvents returns the HighestBidIncreased events emitted by the
// given contract in the block range [from, to].
func (c *Client) FilterBidEvents(ctx context.Context, address common.Address, from, to uint64) ([]BidEvent, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{address},
		Topics:    [][]common.Hash{{BidIncreasedTopic()}},
	}

	logs, err := boff.RetryWithMaxElapsed(ctx, func() ([]types.Log, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		logs, err := c.eth.FilterLogs(callCtx, query)
		if err != nil {
			return nil, retryable(mapError(err, "FilterBidEvents"))
		}
		return logs, nil
	}, "FilterBidEvents")
	if err != nil {
		return nil, err
	}

	events := make([]BidEvent, 0, len(logs))
	for _, log := range logs {
		if log.Removed {
			continue
		}
		out, err := AuctionABI.Unpack(EventHighestBidIncreased, log.Data)
		if err != nil {
			return nil, errors.Wrap(err, "FilterBidEvents: Unpack")
		}
		if len(out) != 2 {
			return nil, errors.New("FilterBidEvents: unexpected event arity")
		}
		bidder, ok := out[0].(common.Address)
		if !ok {
			return nil, errors.New("FilterBidEvents: bidder is not an address")
		}
		amount, ok := out[1].(*big.Int)
		if !ok {
			return nil, errors.New("FilterBidEvents: amount is not uint256")
		}
		events = append(events, BidEvent{Bidder: bidder, Amount: amount, Block: log.BlockNumber})
	}

	return events, nil
}

func (c *Client) transactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(c.key, c.chainID)
	if err != nil {
		return nil, errors.Wrap(err, "transactOpts")
	}
	opts.Context = ctx
	opts.GasLimit = c.gasLimit

	return opts, nil
}

// retryable marks everything except a revert as worth retrying. A reverted
// call is a deterministic on-chain answer; asking again will not change it.
func retryable(err error) error {
	if errors.Is(err, auctionerrors.ErrReverted) {
		return backoff.Permanent(err)
	}

	return err
}

// mapError folds node and RPC failures into the error taxonomy the
// coordinator exposes: Reverted for on-chain rejections, Timeout for bounded
// calls that ran out of time and Unreachable for everything else.
func mapError(err error, op string) error {
	switch {
	case err == nil:
		return nil
	case isRevert(err):
		return errors.Wrapf(auctionerrors.ErrReverted, "%s: %v", op, err)
	case errors.Is(err, context.DeadlineExceeded):
		return errors.Wrapf(auctionerrors.ErrTimeout, "%s: %v", op, err)
	default:
		return errors.Wrapf(auctionerrors.ErrUnreachable, "%s: %v", op, err)
	}
}

func isRevert(err error) bool {
	// geth and most other nodes report reverts with this message prefix;
	// there is no typed error for it on the client side.
	return strings.Contains(err.Error(), "execution reverted") ||
		strings.Contains(err.Error(), "revert")
}
