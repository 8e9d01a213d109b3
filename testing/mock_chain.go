// Package testing provides a programmable JSON-RPC chain node used by the
// gateway tests instead of a real network endpoint.
package testing

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/mux"
)

// MockChain answers the small subset of the eth JSON-RPC surface the
// gateway uses for reads and simulations. Responses are keyed by the
// 4-byte selector of the incoming eth_call data, so one instance can serve
// different contract methods with different canned values.
type MockChain struct {
	mu          sync.Mutex
	chainID     uint64
	blockNumber uint64
	callResults map[string]string // selector hex -> 32-byte result hex
	revert      bool
	callCount   int
}

func NewMockChain(chainID uint64) *MockChain {
	return &MockChain{
		chainID:     chainID,
		callResults: make(map[string]string),
	}
}

func (m *MockChain) SetBlockNumber(n uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blockNumber = n
}

// SetCallResult registers the raw return data for eth_call requests whose
// data starts with the given selector.
func (m *MockChain) SetCallResult(selector []byte, result []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callResults[hex.EncodeToString(selector)] = "0x" + hex.EncodeToString(result)
}

// SetCallResultUint registers a uint256 return value.
func (m *MockChain) SetCallResultUint(selector []byte, value *big.Int) {
	padded := make([]byte, 32)
	value.FillBytes(padded)
	m.SetCallResult(selector, padded)
}

// SetRevert makes every following eth_call fail with an execution revert.
func (m *MockChain) SetRevert(revert bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revert = revert
}

// CallCount reports how many eth_call requests were served.
func (m *MockChain) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

func (m *MockChain) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/", m.respond).Methods(http.MethodPost)
	return r
}

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

func (m *MockChain) respond(writer http.ResponseWriter, request *http.Request) {
	body, err := io.ReadAll(request.Body)
	if err != nil {
		http.Error(writer, "Invalid request body", http.StatusBadRequest)
		return
	}

	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(writer, "Invalid json", http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch req.Method {
	case "eth_chainId":
		writeResult(writer, req.ID, fmt.Sprintf("0x%x", m.chainID))
	case "eth_blockNumber":
		writeResult(writer, req.ID, fmt.Sprintf("0x%x", m.blockNumber))
	case "eth_call":
		m.callCount++
		if m.revert {
			writeError(writer, req.ID, 3, "execution reverted")
			return
		}
		writeResult(writer, req.ID, m.callResult(req.Params))
	case "eth_getLogs":
		writeRawResult(writer, req.ID, json.RawMessage("[]"))
	default:
		writeError(writer, req.ID, -32601, "method not supported by mock")
	}
}

func (m *MockChain) callResult(params []json.RawMessage) string {
	if len(params) == 0 {
		return "0x"
	}

	var call struct {
		Data string `json:"data"`
		// Geth also accepts "input"; go-ethereum clients send both on
		// newer versions.
		Input string `json:"input"`
	}
	if err := json.Unmarshal(params[0], &call); err != nil {
		return "0x"
	}
	data := call.Data
	if data == "" {
		data = call.Input
	}
	data = strings.TrimPrefix(strings.ToLower(data), "0x")
	if len(data) < 8 {
		return "0x"
	}

	result, ok := m.callResults[data[:8]]
	if !ok {
		return "0x"
	}
	return result
}

func writeResult(writer http.ResponseWriter, id json.RawMessage, result string) {
	encoded, _ := json.Marshal(result)
	writeRawResult(writer, id, encoded)
}

func writeRawResult(writer http.ResponseWriter, id json.RawMessage, result json.RawMessage) {
	writeResponse(writer, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"result":  result,
	})
}

func writeError(writer http.ResponseWriter, id json.RawMessage, code int, message string) {
	writeResponse(writer, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"error":   map[string]interface{}{"code": code, "message": message},
	})
}

func writeResponse(writer http.ResponseWriter, response map[string]interface{}) {
	writer.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(writer).Encode(response); err != nil {
		fmt.Printf("Error writing mock response: %v\n", err)
	}
}
