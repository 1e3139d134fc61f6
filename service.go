package teller

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/bwmarrin/snowflake"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100

	// maxCachedHistory caps the per-account transaction list held in
	// cache; longer histories are served from the store only.
	maxCachedHistory = 1000
)

// minTransferAmount is policy, not a property of the amount type.
var minTransferAmount = decimal.NewFromInt(1)

// Service is the ledger engine: every balance-affecting operation of
// the bank plus the read queries over its audit trail. The principal
// on each request is the already-authenticated caller; the engine
// trusts it for ownership checks and never consults ambient state.
type Service interface {
	Deposit(ctx context.Context, req ChargeReq) (*Transaction, error)
	Withdraw(ctx context.Context, req ChargeReq) (*Transaction, error)
	Transfer(ctx context.Context, req TransferReq) (*Transaction, error)
	History(ctx context.Context, req HistoryReq) (*Page, error)
	Balance(ctx context.Context, req BalanceReq) (*decimal.Decimal, error)
	Statement(ctx context.Context, w io.Writer, req StatementReq) error
}

type serviceImpl struct {
	repo  Repository
	cache Cache
	pub   EventPublisher
	log   *zerolog.Logger
}

var _ Service = (*serviceImpl)(nil)

func NewService(repo Repository, cache Cache, pub EventPublisher, log *zerolog.Logger) (*serviceImpl, error) {
	if repo == nil {
		return nil, errors.New("nil repository")
	}
	if cache == nil {
		cache = NopCache{}
	}
	if pub == nil {
		pub = NopPublisher{}
	}
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	return &serviceImpl{
		repo:  repo,
		cache: cache,
		pub:   pub,
		log:   log,
	}, nil
}

func (s *serviceImpl) Deposit(ctx context.Context, req ChargeReq) (*Transaction, error) {
	if !req.Amount.IsPositive() {
		return nil, ErrBadRequest{Fields: map[string]string{"amount": "must be greater than zero"}}
	}
	acct, err := s.accountFor(ctx, req.Principal)
	if err != nil {
		return nil, err
	}
	txn, bal, err := s.repo.Credit(ctx, acct.AcctID, req.Amount, TxnDeposit)
	if err != nil {
		return nil, err
	}
	s.refreshAccount(ctx, acct, bal)
	s.publish(ctx, txn, 0, acct.AcctID)
	return txn, nil
}

func (s *serviceImpl) Withdraw(ctx context.Context, req ChargeReq) (*Transaction, error) {
	if !req.Amount.IsPositive() {
		return nil, ErrBadRequest{Fields: map[string]string{"amount": "must be greater than zero"}}
	}
	acct, err := s.accountFor(ctx, req.Principal)
	if err != nil {
		return nil, err
	}
	txn, bal, err := s.repo.Debit(ctx, acct.AcctID, req.Amount, TxnWithdraw)
	if err != nil {
		return nil, err
	}
	s.refreshAccount(ctx, acct, bal)
	s.publish(ctx, txn, acct.AcctID, 0)
	return txn, nil
}

func (s *serviceImpl) Transfer(ctx context.Context, req TransferReq) (*Transaction, error) {
	fields := make(map[string]string)
	if req.SenderID == 0 {
		fields["sender_account_id"] = "required"
	}
	if req.ReceiverID == 0 {
		fields["receiver_account_id"] = "required"
	}
	if req.Amount.LessThan(minTransferAmount) {
		fields["amount"] = "minimum transfer amount is 1"
	}
	if len(fields) > 0 {
		return nil, ErrBadRequest{Fields: fields}
	}

	// The sender is resolved and authorized before the receiver is
	// touched; a caller probing an account it does not own learns
	// nothing about the receiver, not even whether it exists.
	sender, err := s.repo.Account(ctx, req.SenderID)
	if err != nil {
		return nil, err
	}
	if sender.Email != req.Principal {
		return nil, ErrForbidden{Reason: "only the account owner may transfer from it"}
	}
	receiver, err := s.repo.Account(ctx, req.ReceiverID)
	if err != nil {
		return nil, err
	}
	if receiver.Email == req.Principal {
		return nil, ErrForbidden{Reason: "cannot transfer between accounts of the same owner"}
	}

	txn, err := s.repo.Transfer(ctx, req)
	if err != nil {
		return nil, err
	}
	s.evictAccount(ctx, sender)
	s.evictAccount(ctx, receiver)
	s.refreshHistory(ctx, sender.AcctID)
	s.refreshHistory(ctx, receiver.AcctID)
	s.publish(ctx, txn, sender.AcctID, receiver.AcctID)
	return txn, nil
}

func (s *serviceImpl) History(ctx context.Context, req HistoryReq) (*Page, error) {
	if req.Page < 0 {
		return nil, ErrBadRequest{Fields: map[string]string{"page": "must not be negative"}}
	}
	size := req.PageSize
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}

	acct, err := s.accountFor(ctx, req.Principal)
	if err != nil {
		return nil, err
	}

	// A cached list is always complete for its account, so paginating
	// over it yields the same pages as the store-backed query below.
	if buf, ok := s.cache.Get(ctx, histKey(acct.AcctID)); ok {
		var txns []Transaction
		if err = json.Unmarshal(buf, &txns); err == nil {
			return pageOf(txns, req.Page, size), nil
		}
	}

	txns, total, err := s.repo.History(ctx, acct.AcctID, req.Page*size, size)
	if err != nil {
		return nil, err
	}
	return &Page{
		Transactions: txns,
		Page:         req.Page,
		PageSize:     size,
		Total:        total,
	}, nil
}

func (s *serviceImpl) Balance(ctx context.Context, req BalanceReq) (*decimal.Decimal, error) {
	acct, err := s.accountFor(ctx, req.Principal)
	if err != nil {
		return nil, err
	}
	if buf, ok := s.cache.Get(ctx, balKey(acct.AcctID)); ok {
		var bal decimal.Decimal
		if err = json.Unmarshal(buf, &bal); err == nil {
			return &bal, nil
		}
	}
	fresh, err := s.repo.Account(ctx, acct.AcctID)
	if err != nil {
		return nil, err
	}
	if buf, err := json.Marshal(fresh.Balance); err == nil {
		s.cache.Put(ctx, balKey(fresh.AcctID), buf)
	}
	return &fresh.Balance, nil
}

func (s *serviceImpl) Statement(ctx context.Context, w io.Writer, req StatementReq) error {
	acct, err := s.accountFor(ctx, req.Principal)
	if err != nil {
		return err
	}
	txns, _, err := s.repo.History(ctx, acct.AcctID, 0, maxCachedHistory)
	if err != nil {
		return err
	}
	return writeStatementPDF(w, acct, txns)
}

// accountFor resolves the principal's account, cache-first.
func (s *serviceImpl) accountFor(ctx context.Context, principal string) (*Account, error) {
	if principal == "" {
		return nil, ErrBadRequest{Fields: map[string]string{"principal": "missing"}}
	}
	if buf, ok := s.cache.Get(ctx, acctKey(principal)); ok {
		var acct Account
		if err := json.Unmarshal(buf, &acct); err == nil {
			return &acct, nil
		}
	}
	acct, err := s.repo.AccountByOwner(ctx, principal)
	if err != nil {
		return nil, err
	}
	if buf, err := json.Marshal(acct); err == nil {
		s.cache.Put(ctx, acctKey(principal), buf)
	}
	return acct, nil
}

// refreshAccount rewrites every cache entry a single-account mutation
// could have made stale. Cache trouble is absorbed here; the committed
// operation already succeeded.
func (s *serviceImpl) refreshAccount(ctx context.Context, acct *Account, bal decimal.Decimal) {
	snap := *acct
	snap.Balance = bal
	if buf, err := json.Marshal(&snap); err == nil {
		s.cache.Put(ctx, acctKey(acct.Email), buf)
	}
	if buf, err := json.Marshal(bal); err == nil {
		s.cache.Put(ctx, balKey(acct.AcctID), buf)
	}
	s.refreshHistory(ctx, acct.AcctID)
}

// refreshHistory caches the account's complete transaction list, or
// evicts the entry when the history no longer fits in one.
func (s *serviceImpl) refreshHistory(ctx context.Context, id snowflake.ID) {
	txns, total, err := s.repo.History(ctx, id, 0, maxCachedHistory)
	if err != nil || total > int64(len(txns)) {
		s.cache.Evict(ctx, histKey(id))
		return
	}
	if buf, err := json.Marshal(txns); err == nil {
		s.cache.Put(ctx, histKey(id), buf)
	}
}

func (s *serviceImpl) evictAccount(ctx context.Context, acct *Account) {
	s.cache.Evict(ctx, acctKey(acct.Email))
	s.cache.Evict(ctx, balKey(acct.AcctID))
	s.cache.Evict(ctx, histKey(acct.AcctID))
}

func (s *serviceImpl) publish(ctx context.Context, txn *Transaction, from, to snowflake.ID) {
	evt := TransactionCompleted{
		TransactionID: txn.ID.String(),
		Kind:          txn.Kind,
		Amount:        txn.Amount,
		OccurredAt:    txn.Time,
	}
	if from != 0 {
		evt.FromAccount = from.String()
	}
	if to != 0 {
		evt.ToAccount = to.String()
	}
	if err := s.pub.Publish(ctx, evt); err != nil {
		s.log.Warn().
			Err(err).
			Str("transaction", evt.TransactionID).
			Msg("event publish failed")
	}
}

func pageOf(txns []Transaction, page, size int) *Page {
	start := page * size
	if start > len(txns) {
		start = len(txns)
	}
	end := start + size
	if end > len(txns) {
		end = len(txns)
	}
	return &Page{
		Transactions: txns[start:end],
		Page:         page,
		PageSize:     size,
		Total:        int64(len(txns)),
	}
}
