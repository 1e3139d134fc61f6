package teller

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TxnKind classifies a committed balance mutation.
type TxnKind string

const (
	TxnDeposit        TxnKind = "DEPOSIT"
	TxnWithdraw       TxnKind = "WITHDRAW"
	TxnTransferDebit  TxnKind = "TRANSFER_DEBIT"
	TxnTransferCredit TxnKind = "TRANSFER_CREDIT"
)

// AcctType is the account classification assigned at provisioning.
type AcctType string

const (
	AcctSavings AcctType = "SAVINGS"
	AcctCurrent AcctType = "CURRENT"
)

// Account is a snapshot of a durable account record. Balances are
// decimal, never float; the store enforces balance >= 0.
type Account struct {
	AcctID  snowflake.ID    `json:"account_id"`
	Email   string          `json:"email"`
	Type    AcctType        `json:"type"`
	Balance decimal.Decimal `json:"balance"`
}

// Transaction is an immutable audit record of one committed balance
// mutation. A transfer produces two of these, one per side, within the
// same atomic operation.
type Transaction struct {
	ID     uuid.UUID       `json:"transaction_id"`
	AcctID snowflake.ID    `json:"account_id"`
	Amount decimal.Decimal `json:"amount"`
	Kind   TxnKind         `json:"kind"`
	Time   time.Time       `json:"time"`
}

// ChargeReq is the input for Deposit and Withdraw. Principal is the
// already-authenticated caller identity, passed explicitly.
type ChargeReq struct {
	Amount    decimal.Decimal `json:"amount"`
	Principal string          `json:"-"`
}

// TransferReq is the input for Transfer. IdempotencyKey dedupes client
// retries after a timed-out submission; it is never persisted past the
// debit record it tags.
type TransferReq struct {
	SenderID       snowflake.ID    `json:"sender_account_id"`
	ReceiverID     snowflake.ID    `json:"receiver_account_id"`
	Amount         decimal.Decimal `json:"amount"`
	Principal      string          `json:"-"`
	IdempotencyKey string          `json:"-"`
}

type BalanceReq struct {
	Principal string
}

type StatementReq struct {
	Principal string
}

type HistoryReq struct {
	Principal string
	Page      int
	PageSize  int
}

// Page is one stable page of an account's transaction history, newest
// first.
type Page struct {
	Transactions []Transaction `json:"transactions"`
	Page         int           `json:"page"`
	PageSize     int           `json:"page_size"`
	Total        int64         `json:"total"`
}

// CreateAccountReq provisions an account. Provisioning happens outside
// the ledger engine; this exists for the seeder and test fixtures.
type CreateAccountReq struct {
	AcctID  snowflake.ID
	Email   string
	Type    AcctType
	Balance decimal.Decimal
}
