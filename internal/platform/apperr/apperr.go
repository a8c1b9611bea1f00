package apperr

import (
	"errors"
	"strings"
)

// Kind labels a failure variant. It is carried as data so that the label
// survives wrapping, logging and transport unchanged.
type Kind string

const (
	KindProviderQuery       Kind = "provider_query"
	KindConstruction        Kind = "construction"
	KindBatchOperation      Kind = "batch_operation"
	KindTransactionService  Kind = "transaction_service"
	KindAccountDiscovery    Kind = "account_discovery"
	KindContractNotDeployed Kind = "contract_not_deployed"
	KindInvalidConfig       Kind = "invalid_config"
	KindStatePersistence    Kind = "state_persistence"
)

// Error is the base failure type. Kind is fixed when the error is built.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	parts := make([]string, 0, 3)
	parts = append(parts, string(e.Kind))
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	return strings.Join(parts, ": ")
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches any *Error target of the same kind, so errors.Is(err,
// apperr.New(apperr.KindConstruction, "")) works regardless of message.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) || other == nil || e == nil {
		return false
	}
	return e.Kind == other.Kind
}

// KindOf returns the kind of the outermost *Error in the chain, or "" when
// err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) && e != nil {
		return e.Kind
	}
	return ""
}

// Is reports whether any *Error in the chain has the given kind.
func Is(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) || e == nil {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}

func ProviderQuery(message string, err error) *Error {
	return Wrap(KindProviderQuery, message, err)
}

func Construction(message string, err error) *Error {
	return Wrap(KindConstruction, message, err)
}

func BatchOperation(message string, err error) *Error {
	return Wrap(KindBatchOperation, message, err)
}

func TransactionService(message string) *Error {
	return New(KindTransactionService, message)
}

func AccountDiscovery(message string) *Error {
	if message == "" {
		message = "account not found"
	}
	return New(KindAccountDiscovery, message)
}

func ContractNotDeployed(address string) *Error {
	return New(KindContractNotDeployed, "contract not found at "+address)
}
