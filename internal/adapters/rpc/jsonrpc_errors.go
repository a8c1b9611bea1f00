package rpc

import (
	"context"
	"errors"

	"walletsnap/go-backend/internal/keyring"
	"walletsnap/go-backend/internal/platform/apperr"
	"walletsnap/go-backend/internal/seed"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeDiscovery      = -32010
)

var errInvalidParams = errors.New("invalid params")

type rpcErrorData struct {
	Kind string `json:"kind,omitempty"`
}

func rpcInvalidParams(err error) *rpcError {
	return &rpcError{Code: codeInvalidParams, Message: err.Error()}
}

// mapServiceError turns a service failure into a JSON-RPC error, carrying the
// apperr kind as data when there is one.
func mapServiceError(err error) *rpcError {
	switch {
	case errors.Is(err, errInvalidParams),
		errors.Is(err, keyring.ErrInvalidRange),
		errors.Is(err, seed.ErrInvalidIndex):
		return rpcInvalidParams(err)
	case apperr.Is(err, apperr.KindAccountDiscovery):
		return &rpcError{Code: codeDiscovery, Message: err.Error(), Data: &rpcErrorData{Kind: string(apperr.KindAccountDiscovery)}}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &rpcError{Code: codeServerError, Message: "request cancelled"}
	}
	out := &rpcError{Code: codeServerError, Message: err.Error()}
	if kind := apperr.KindOf(err); kind != "" {
		out.Data = &rpcErrorData{Kind: string(kind)}
	}
	return out
}
