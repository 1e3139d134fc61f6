package teller

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Repository is the durable store behind the ledger engine: account
// records plus the append-only transaction log. Credit, Debit, and
// Transfer each commit the balance write and its transaction record as
// one atomic unit; Transfer covers both accounts and both records.
type Repository interface {
	CreateAccount(ctx context.Context, req CreateAccountReq) error
	Account(ctx context.Context, id snowflake.ID) (*Account, error)
	AccountByOwner(ctx context.Context, email string) (*Account, error)
	Credit(ctx context.Context, acctID snowflake.ID, amount decimal.Decimal, kind TxnKind) (*Transaction, decimal.Decimal, error)
	Debit(ctx context.Context, acctID snowflake.ID, amount decimal.Decimal, kind TxnKind) (*Transaction, decimal.Decimal, error)
	Transfer(ctx context.Context, req TransferReq) (*Transaction, error)
	History(ctx context.Context, acctID snowflake.ID, offset, limit int) ([]Transaction, int64, error)
}
