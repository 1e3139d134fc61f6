package teller

import (
	"context"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MemoryEndpoint is an in-process Repository with the same semantics
// as the Postgres one: per-account exclusion around every
// read-check-write and both-accounts-locked transfers, accounts
// always locked in ascending id order.
type MemoryEndpoint struct {
	mu      sync.RWMutex
	accts   map[snowflake.ID]*Account
	byOwner map[string]snowflake.ID
	txns    map[snowflake.ID][]Transaction
	idemp   map[string]Transaction

	lockMu sync.Mutex
	locks  map[snowflake.ID]*sync.Mutex
}

var (
	_ Repository = (*MemoryEndpoint)(nil)
)

func NewMemoryEndpoint() *MemoryEndpoint {
	return &MemoryEndpoint{
		accts:   make(map[snowflake.ID]*Account),
		byOwner: make(map[string]snowflake.ID),
		txns:    make(map[snowflake.ID][]Transaction),
		idemp:   make(map[string]Transaction),
		locks:   make(map[snowflake.ID]*sync.Mutex),
	}
}

func (m *MemoryEndpoint) acctLock(id snowflake.ID) *sync.Mutex {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	if _, ok := m.locks[id]; !ok {
		m.locks[id] = &sync.Mutex{}
	}
	return m.locks[id]
}

func (m *MemoryEndpoint) CreateAccount(_ context.Context, req CreateAccountReq) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accts[req.AcctID] = &Account{
		AcctID:  req.AcctID,
		Email:   req.Email,
		Type:    req.Type,
		Balance: req.Balance,
	}
	m.byOwner[req.Email] = req.AcctID
	return nil
}

func (m *MemoryEndpoint) Account(_ context.Context, id snowflake.ID) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acct, ok := m.accts[id]
	if !ok {
		return nil, ErrNotFound{ID: id.Int64()}
	}
	cp := *acct
	return &cp, nil
}

func (m *MemoryEndpoint) AccountByOwner(ctx context.Context, email string) (*Account, error) {
	m.mu.RLock()
	id, ok := m.byOwner[email]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound{}
	}
	return m.Account(ctx, id)
}

func (m *MemoryEndpoint) Credit(_ context.Context, acctID snowflake.ID, amount decimal.Decimal, kind TxnKind) (*Transaction, decimal.Decimal, error) {
	lock := m.acctLock(acctID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accts[acctID]
	if !ok {
		return nil, decimal.Zero, ErrNotFound{ID: acctID.Int64()}
	}
	acct.Balance = acct.Balance.Add(amount)
	txn := m.record(acctID, amount, kind, "")
	return txn, acct.Balance, nil
}

func (m *MemoryEndpoint) Debit(_ context.Context, acctID snowflake.ID, amount decimal.Decimal, kind TxnKind) (*Transaction, decimal.Decimal, error) {
	lock := m.acctLock(acctID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accts[acctID]
	if !ok {
		return nil, decimal.Zero, ErrNotFound{ID: acctID.Int64()}
	}
	if acct.Balance.LessThan(amount) {
		return nil, decimal.Zero, ErrInsufficientFunds{AcctID: acctID.Int64()}
	}
	acct.Balance = acct.Balance.Sub(amount)
	txn := m.record(acctID, amount, kind, "")
	return txn, acct.Balance, nil
}

func (m *MemoryEndpoint) Transfer(_ context.Context, req TransferReq) (*Transaction, error) {
	if req.IdempotencyKey != "" {
		m.mu.RLock()
		dup, ok := m.idemp[req.IdempotencyKey]
		m.mu.RUnlock()
		if ok {
			return &dup, nil
		}
	}

	first, second := m.acctLock(req.SenderID), m.acctLock(req.ReceiverID)
	if req.ReceiverID < req.SenderID {
		first, second = second, first
	}
	first.Lock()
	defer first.Unlock()
	if second != first {
		second.Lock()
		defer second.Unlock()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if req.IdempotencyKey != "" {
		if dup, ok := m.idemp[req.IdempotencyKey]; ok {
			return &dup, nil
		}
	}
	sender, ok := m.accts[req.SenderID]
	if !ok {
		return nil, ErrNotFound{ID: req.SenderID.Int64()}
	}
	receiver, ok := m.accts[req.ReceiverID]
	if !ok {
		return nil, ErrNotFound{ID: req.ReceiverID.Int64()}
	}
	if sender.Balance.LessThan(req.Amount) {
		return nil, ErrInsufficientFunds{AcctID: req.SenderID.Int64()}
	}

	sender.Balance = sender.Balance.Sub(req.Amount)
	receiver.Balance = receiver.Balance.Add(req.Amount)
	debit := m.record(req.SenderID, req.Amount, TxnTransferDebit, req.IdempotencyKey)
	m.record(req.ReceiverID, req.Amount, TxnTransferCredit, "")
	return debit, nil
}

// record appends to the transaction log; caller holds m.mu.
func (m *MemoryEndpoint) record(acctID snowflake.ID, amount decimal.Decimal, kind TxnKind, idempKey string) *Transaction {
	txn := Transaction{
		ID:     uuid.New(),
		AcctID: acctID,
		Amount: amount,
		Kind:   kind,
		Time:   time.Now().UTC(),
	}
	m.txns[acctID] = append(m.txns[acctID], txn)
	if idempKey != "" {
		m.idemp[idempKey] = txn
	}
	return &txn
}

func (m *MemoryEndpoint) History(_ context.Context, acctID snowflake.ID, offset, limit int) ([]Transaction, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.txns[acctID]
	total := int64(len(all))

	// newest first
	start := offset
	if start > len(all) {
		start = len(all)
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	out := make([]Transaction, 0, end-start)
	for i := start; i < end; i++ {
		out = append(out, all[len(all)-1-i])
	}
	return out, total, nil
}
