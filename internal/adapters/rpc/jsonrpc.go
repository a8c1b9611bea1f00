package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"walletsnap/go-backend/internal/account"
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// accountView is the wire form of a resolved account handle.
type accountView struct {
	Index           *int   `json:"index,omitempty"`
	Address         string `json:"address"`
	PublicKey       string `json:"public_key"`
	ContractVersion int    `json:"contract_version"`
}

const maxRPCBodyBytes int64 = 1 << 20 // 1 MiB

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorizeRPC(w, r) {
		return
	}
	if !s.allowRequest(w, r) {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRPCBodyBytes)
	var req rpcRequest
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		writeRPC(w, rpcResponse{
			JSONRPC: "2.0",
			Error:   &rpcError{Code: codeParseError, Message: "parse error"},
		})
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		writeRPCInvalidRequest(w, req.ID)
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		writeRPCInvalidRequest(w, req.ID)
		return
	}

	reqID := uuid.NewString()
	started := time.Now()
	s.logger.Debug("rpc request", "request_id", reqID, "method", req.Method, "rpc_id", string(req.ID))

	result, rpcErr := s.dispatchRPC(r.Context(), req.Method, req.Params)
	elapsed := time.Since(started)
	code := 0
	if rpcErr != nil {
		code = rpcErr.Code
		s.logger.Warn("rpc failed", "request_id", reqID, "method", req.Method, "rpc_code", rpcErr.Code, "error", rpcErr.Message, "latency_ms", elapsed.Milliseconds())
	} else {
		s.logger.Info("rpc response", "request_id", reqID, "method", req.Method, "latency_ms", elapsed.Milliseconds())
	}
	if s.observer != nil {
		s.observer.ObserveRPC(req.Method, code, elapsed)
	}
	writeRPC(w, rpcResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result:  result,
		Error:   rpcErr,
	})
}

func (s *Server) dispatchRPC(ctx context.Context, method string, raw json.RawMessage) (any, *rpcError) {
	switch method {
	case "health_check":
		return s.health(), nil

	case "account_resolve":
		p, err := decodeResolveParams(raw)
		if err != nil {
			return nil, rpcInvalidParams(err)
		}
		h, err := s.service.Unlock(ctx, p.Index)
		if err != nil {
			return nil, mapServiceError(err)
		}
		return viewOf(h, &p.Index), nil

	case "account_list":
		p, err := decodeListParams(raw)
		if err != nil {
			return nil, rpcInvalidParams(err)
		}
		records, err := s.service.AddAccounts(ctx, p.From, p.To)
		if err != nil {
			return nil, mapServiceError(err)
		}
		return records, nil

	case "account_recover":
		p, err := decodeRecoverParams(raw)
		if err != nil {
			return nil, rpcInvalidParams(err)
		}
		res, err := s.service.Recover(ctx, p.Start, p.MaxScanned, p.MaxMissed)
		if err != nil {
			return nil, mapServiceError(err)
		}
		return res, nil

	case "account_find":
		p, err := decodeFindParams(raw)
		if err != nil {
			return nil, rpcInvalidParams(err)
		}
		h, err := s.service.FindByAddress(ctx, p.Address, p.Refresh)
		if err != nil {
			return nil, mapServiceError(err)
		}
		return viewOf(h, nil), nil

	case "account_stored":
		return s.service.Accounts(), nil
	}
	return nil, &rpcError{Code: codeMethodNotFound, Message: "method not found"}
}

func viewOf(h account.Handle, index *int) accountView {
	return accountView{
		Index:           index,
		Address:         h.Address(),
		PublicKey:       h.PublicKey(),
		ContractVersion: h.ContractVersion(),
	}
}

func writeRPC(w http.ResponseWriter, resp rpcResponse) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func writeRPCInvalidRequest(w http.ResponseWriter, id json.RawMessage) {
	writeRPC(w, rpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &rpcError{Code: codeInvalidRequest, Message: "invalid request"},
	})
}
