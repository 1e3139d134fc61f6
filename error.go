package teller

import (
	"errors"
	"fmt"
)

var (
	ErrInternalServer = errors.New("internal server error")
)

type ErrBadRequest struct {
	Fields map[string]string `json:"fields"`
}

func (e ErrBadRequest) Error() string {
	return fmt.Sprintf("missing/invalid params: %v", e.Fields)
}

type ErrNotFound struct {
	ID int64 `json:"id"`
}

func (e ErrNotFound) Error() string {
	return "record not found"
}

type ErrInsufficientFunds struct {
	AcctID int64 `json:"account_id"`
}

func (e ErrInsufficientFunds) Error() string {
	return "insufficient funds"
}

// ErrForbidden covers both an ownership mismatch and a same-owner
// transfer. The two are indistinguishable by type; only the message
// differs.
type ErrForbidden struct {
	Reason string `json:"reason"`
}

func (e ErrForbidden) Error() string {
	return e.Reason
}
