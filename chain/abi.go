package chain

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// Method names of the SimpleAuction contract surface.
const (
	MethodBid        string = "bid"
	MethodWithdraw   string = "withdraw"
	MethodAuctionEnd string = "auctionEnd"
	MethodEndTime    string = "auctionEndTime"
	MethodHighestBid string = "highestBid"
	MethodEnded      string = "ended"

	EventHighestBidIncreased string = "HighestBidIncreased"
	EventAuctionEnded        string = "AuctionEnded"
)

const simpleAuctionABI = `[
	{"type":"constructor","inputs":[{"name":"biddingTime","type":"uint256"},{"name":"beneficiaryAddress","type":"address"}],"stateMutability":"nonpayable"},
	{"type":"function","name":"bid","inputs":[],"outputs":[],"stateMutability":"payable"},
	{"type":"function","name":"withdraw","inputs":[],"outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable"},
	{"type":"function","name":"auctionEnd","inputs":[],"outputs":[],"stateMutability":"nonpayable"},
	{"type":"function","name":"auctionEndTime","inputs":[],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"},
	{"type":"function","name":"beneficiary","inputs":[],"outputs":[{"name":"","type":"address"}],"stateMutability":"view"},
	{"type":"function","name":"highestBidder","inputs":[],"outputs":[{"name":"","type":"address"}],"stateMutability":"view"},
	{"type":"function","name":"highestBid","inputs":[],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"},
	{"type":"function","name":"ended","inputs":[],"outputs":[{"name":"","type":"bool"}],"stateMutability":"view"},
	{"type":"event","name":"HighestBidIncreased","inputs":[{"name":"bidder","type":"address","indexed":false},{"name":"amount","type":"uint256","indexed":false}],"anonymous":false},
	{"type":"event","name":"AuctionEnded","inputs":[{"name":"winner","type":"address","indexed":false},{"name":"amount","type":"uint256","indexed":false}],"anonymous":false}
]`

// AuctionABI is the parsed SimpleAuction contract interface. The bytecode
// needed for deployment is not embedded; it is read from the compiled
// artifact named in the configuration.
var AuctionABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(simpleAuctionABI))
	if err != nil {
		panic(errors.Wrap(err, "parsing SimpleAuction ABI"))
	}
	AuctionABI = parsed
}

// Selector returns the 4-byte method id of a SimpleAuction method.
func Selector(method string) []byte {
	return AuctionABI.Methods[method].ID
}

// UnpackWithdrawResult decodes the boolean outcome of a simulated
// withdraw() call.
func UnpackWithdrawResult(data []byte) (bool, error) {
	out, err := AuctionABI.Unpack(MethodWithdraw, data)
	if err != nil {
		return false, errors.Wrap(err, "UnpackWithdrawResult")
	}
	if len(out) != 1 {
		return false, errors.New("UnpackWithdrawResult: unexpected output arity")
	}
	result, ok := out[0].(bool)
	if !ok {
		return false, errors.New("UnpackWithdrawResult: output is not a bool")
	}

	return result, nil
}

// BidIncreasedTopic is the log topic of the HighestBidIncreased event.
func BidIncreasedTopic() common.Hash {
	return AuctionABI.Events[EventHighestBidIncreased].ID
}

type artifact struct {
	Bytecode string `json:"bytecode"`
}

// LoadBytecode reads the deploy bytecode from a hardhat-style compiled
// contract artifact.
func LoadBytecode(fileName string) ([]byte, error) {
	content, err := os.ReadFile(fileName)
	if err != nil {
		return nil, errors.Wrap(err, "LoadBytecode: ReadFile")
	}

	var art artifact
	if err := json.Unmarshal(content, &art); err != nil {
		return nil, errors.Wrap(err, "LoadBytecode: Unmarshal")
	}
	if art.Bytecode == "" {
		return nil, errors.Errorf("LoadBytecode: no bytecode in %s", fileName)
	}

	bytecode := common.FromHex(art.Bytecode)
	if len(bytecode) == 0 {
		return nil, errors.Errorf("LoadBytecode: invalid bytecode hex in %s", fileName)
	}

	return bytecode, nil
}
