package server

import (
	"encoding/json"
	"io"
	"net/http"

	"cosmossdk.io/log"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"

	"github.com/iosh/dryrun/simulation"
	"github.com/iosh/dryrun/types"
)

var errParamCount = errors.New("expected between 1 and 4 positional params")

// JSON-RPC error codes.
const (
	codeParseError       = -32700
	codeInvalidParams    = -32602
	codeMethodNotFound   = -32601
	codeSimulationFailed = -32000
)

// Method names served by this process.
const (
	methodSimulate = "dryrun_evm_simulate_transaction"
	methodHealth   = "health"
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// Handler dispatches JSON-RPC requests to the simulation service.
type Handler struct {
	service *simulation.Service
	logger  log.Logger
}

// NewHandler creates the RPC handler.
func NewHandler(service *simulation.Service, logger log.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger.With("module", "rpc"),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeResponse(w, errorResponse(nil, codeParseError, "failed to read request body", nil))
		return
	}
	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeResponse(w, errorResponse(nil, codeParseError, "invalid JSON", nil))
		return
	}
	writeResponse(w, h.dispatch(r, &req))
}

func (h *Handler) dispatch(r *http.Request, req *rpcRequest) *rpcResponse {
	switch req.Method {
	case methodHealth:
		return resultResponse(req.ID, "OK")
	case methodSimulate:
		input, err := parseSimulateParams(req.Params)
		if err != nil {
			return errorResponse(req.ID, codeInvalidParams, "invalid params", err.Error())
		}
		output, err := h.service.RunEvmSimulation(r.Context(), input)
		if err != nil {
			h.logger.Error("Simulation failed", "err", err)
			return errorResponse(req.ID, codeSimulationFailed, "Simulation failed", err.Error())
		}
		return resultResponse(req.ID, output)
	default:
		return errorResponse(req.ID, codeMethodNotFound, "method not found", req.Method)
	}
}

// parseSimulateParams unpacks the positional parameter list:
// [TransactionRequest, BlockId?, StateOverride?, BlockOverrides?].
func parseSimulateParams(params json.RawMessage) (*types.EvmSimulateInput, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(params, &raw); err != nil {
		return nil, err
	}
	if len(raw) < 1 || len(raw) > 4 {
		return nil, errParamCount
	}

	input := &types.EvmSimulateInput{}
	if err := json.Unmarshal(raw[0], &input.Transaction); err != nil {
		return nil, err
	}
	if len(raw) > 1 && !isNull(raw[1]) {
		var blockID gethrpc.BlockNumberOrHash
		if err := json.Unmarshal(raw[1], &blockID); err != nil {
			return nil, err
		}
		input.BlockID = &blockID
	}
	if len(raw) > 2 && !isNull(raw[2]) {
		if err := json.Unmarshal(raw[2], &input.StateOverrides); err != nil {
			return nil, err
		}
	}
	if len(raw) > 3 && !isNull(raw[3]) {
		input.BlockOverrides = &types.BlockOverrides{}
		if err := json.Unmarshal(raw[3], input.BlockOverrides); err != nil {
			return nil, err
		}
	}
	return input, nil
}

func isNull(raw json.RawMessage) bool {
	return string(raw) == "null"
}

func resultResponse(id json.RawMessage, result interface{}) *rpcResponse {
	return &rpcResponse{JSONRPC: "2.0", ID: id, Result: result}
}

func errorResponse(id json.RawMessage, code int, message string, data interface{}) *rpcResponse {
	return &rpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &rpcError{Code: code, Message: message, Data: data},
	}
}

func writeResponse(w http.ResponseWriter, resp *rpcResponse) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
