package teller

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/semaphore"
)

type Middleware func(Service) Service

// validationMiddleware rejects malformed requests before they reach
// the engine. Validation failures are final and never retried.
type validationMiddleware struct {
	next Service
}

var (
	_ Service = (*validationMiddleware)(nil)
)

func NewValidationMiddleware() Middleware {
	return func(svc Service) Service {
		return &validationMiddleware{next: svc}
	}
}

func (v *validationMiddleware) Deposit(ctx context.Context, req ChargeReq) (*Transaction, error) {
	if err := validateCharge(req); err != nil {
		return nil, err
	}
	return v.next.Deposit(ctx, req)
}

func (v *validationMiddleware) Withdraw(ctx context.Context, req ChargeReq) (*Transaction, error) {
	if err := validateCharge(req); err != nil {
		return nil, err
	}
	return v.next.Withdraw(ctx, req)
}

func (v *validationMiddleware) Transfer(ctx context.Context, req TransferReq) (*Transaction, error) {
	fields := make(map[string]string)
	if req.Principal == "" {
		fields["principal"] = "missing"
	}
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
	return v.next.Transfer(ctx, req)
}

func (v *validationMiddleware) History(ctx context.Context, req HistoryReq) (*Page, error) {
	fields := make(map[string]string)
	if req.Principal == "" {
		fields["principal"] = "missing"
	}
	if req.Page < 0 {
		fields["page"] = "must not be negative"
	}
	if len(fields) > 0 {
		return nil, ErrBadRequest{Fields: fields}
	}
	return v.next.History(ctx, req)
}

func (v *validationMiddleware) Balance(ctx context.Context, req BalanceReq) (*decimal.Decimal, error) {
	if req.Principal == "" {
		return nil, ErrBadRequest{Fields: map[string]string{"principal": "missing"}}
	}
	return v.next.Balance(ctx, req)
}

func (v *validationMiddleware) Statement(ctx context.Context, w io.Writer, req StatementReq) error {
	if req.Principal == "" {
		return ErrBadRequest{Fields: map[string]string{"principal": "missing"}}
	}
	return v.next.Statement(ctx, w, req)
}

func validateCharge(req ChargeReq) error {
	fields := make(map[string]string)
	if req.Principal == "" {
		fields["principal"] = "missing"
	}
	if !req.Amount.IsPositive() {
		fields["amount"] = "must be greater than zero"
	}
	if len(fields) > 0 {
		return ErrBadRequest{Fields: fields}
	}
	return nil
}

//
// Rate limiting middlewares
//

// limitAcquireTimeout bounds how long a request waits for a slot
// before it is shed.
const limitAcquireTimeout = 2 * time.Second

// limitMiddleware limits the number of in-flight requests to the
// service by using a weighted semaphore, i.e., x/sync/semaphore with
// an acquisition timeout. Limits are static per operation; they shed
// load before the store starts queueing.
type limitMiddleware struct {
	next   Service
	limits *ServiceLimits
}

var (
	_ Service = (*limitMiddleware)(nil)
)

type ServiceLimits struct {
	Deposit   *semaphore.Weighted
	Withdraw  *semaphore.Weighted
	Transfer  *semaphore.Weighted
	History   *semaphore.Weighted
	Balance   *semaphore.Weighted
	Statement *semaphore.Weighted
}

func NewServiceLimits(n int64) *ServiceLimits {
	return &ServiceLimits{
		Deposit:   semaphore.NewWeighted(n),
		Withdraw:  semaphore.NewWeighted(n),
		Transfer:  semaphore.NewWeighted(n),
		History:   semaphore.NewWeighted(n),
		Balance:   semaphore.NewWeighted(n),
		Statement: semaphore.NewWeighted(n),
	}
}

func NewLimitMiddleware(limits *ServiceLimits) Middleware {
	return func(next Service) Service {
		return &limitMiddleware{
			next:   next,
			limits: limits,
		}
	}
}

func acquireSlot(ctx context.Context, sem *semaphore.Weighted) error {
	actx, cancel := context.WithTimeout(ctx, limitAcquireTimeout)
	defer cancel()
	if err := sem.Acquire(actx, 1); err != nil {
		return ErrInternalServer
	}
	return nil
}

func (l *limitMiddleware) Deposit(ctx context.Context, req ChargeReq) (*Transaction, error) {
	if err := acquireSlot(ctx, l.limits.Deposit); err != nil {
		return nil, err
	}
	defer l.limits.Deposit.Release(1)
	return l.next.Deposit(ctx, req)
}

func (l *limitMiddleware) Withdraw(ctx context.Context, req ChargeReq) (*Transaction, error) {
	if err := acquireSlot(ctx, l.limits.Withdraw); err != nil {
		return nil, err
	}
	defer l.limits.Withdraw.Release(1)
	return l.next.Withdraw(ctx, req)
}

func (l *limitMiddleware) Transfer(ctx context.Context, req TransferReq) (*Transaction, error) {
	if err := acquireSlot(ctx, l.limits.Transfer); err != nil {
		return nil, err
	}
	defer l.limits.Transfer.Release(1)
	return l.next.Transfer(ctx, req)
}

func (l *limitMiddleware) History(ctx context.Context, req HistoryReq) (*Page, error) {
	if err := acquireSlot(ctx, l.limits.History); err != nil {
		return nil, err
	}
	defer l.limits.History.Release(1)
	return l.next.History(ctx, req)
}

func (l *limitMiddleware) Balance(ctx context.Context, req BalanceReq) (*decimal.Decimal, error) {
	if err := acquireSlot(ctx, l.limits.Balance); err != nil {
		return nil, err
	}
	defer l.limits.Balance.Release(1)
	return l.next.Balance(ctx, req)
}

func (l *limitMiddleware) Statement(ctx context.Context, w io.Writer, req StatementReq) error {
	if err := acquireSlot(ctx, l.limits.Statement); err != nil {
		return err
	}
	defer l.limits.Statement.Release(1)
	return l.next.Statement(ctx, w, req)
}

type ServiceBreaker struct {
	Deposit   *gobreaker.TwoStepCircuitBreaker[*Transaction]
	Withdraw  *gobreaker.TwoStepCircuitBreaker[*Transaction]
	Transfer  *gobreaker.TwoStepCircuitBreaker[*Transaction]
	History   *gobreaker.TwoStepCircuitBreaker[*Page]
	Balance   *gobreaker.TwoStepCircuitBreaker[*decimal.Decimal]
	Statement *gobreaker.TwoStepCircuitBreaker[interface{}]
}

func NewServiceBreaker() *ServiceBreaker {
	return &ServiceBreaker{
		Deposit:   gobreaker.NewTwoStepCircuitBreaker[*Transaction](gobreaker.Settings{Name: "deposit"}),
		Withdraw:  gobreaker.NewTwoStepCircuitBreaker[*Transaction](gobreaker.Settings{Name: "withdraw"}),
		Transfer:  gobreaker.NewTwoStepCircuitBreaker[*Transaction](gobreaker.Settings{Name: "transfer"}),
		History:   gobreaker.NewTwoStepCircuitBreaker[*Page](gobreaker.Settings{Name: "history"}),
		Balance:   gobreaker.NewTwoStepCircuitBreaker[*decimal.Decimal](gobreaker.Settings{Name: "balance"}),
		Statement: gobreaker.NewTwoStepCircuitBreaker[interface{}](gobreaker.Settings{Name: "statement"}),
	}
}

// circuitBreakMiddleware is a middleware that implements the circuit
// breaker pattern. It works in conjunction with limitMiddleware to
// shed requests when the store is struggling to complete operations
// within request deadline. Only infrastructure failures count against
// the breaker; validation and business rejections do not.
type circuitBreakMiddleware struct {
	next  Service
	brkrs *ServiceBreaker
}

var (
	_ Service = (*circuitBreakMiddleware)(nil)
)

func NewCircuitBreakMiddleware(brkrs *ServiceBreaker) Middleware {
	return func(next Service) Service {
		return &circuitBreakMiddleware{
			next:  next,
			brkrs: brkrs,
		}
	}
}

func infraFailure(err error) bool {
	if err == nil {
		return false
	}
	var (
		nf    ErrNotFound
		br    ErrBadRequest
		insuf ErrInsufficientFunds
		forb  ErrForbidden
	)
	if errors.As(err, &nf) || errors.As(err, &br) || errors.As(err, &insuf) || errors.As(err, &forb) {
		return false
	}
	return true
}

func (c *circuitBreakMiddleware) Deposit(ctx context.Context, req ChargeReq) (*Transaction, error) {
	done, err := c.brkrs.Deposit.Allow()
	if err != nil {
		return nil, ErrInternalServer
	}
	txn, err := c.next.Deposit(ctx, req)
	done(!infraFailure(err))
	return txn, err
}

func (c *circuitBreakMiddleware) Withdraw(ctx context.Context, req ChargeReq) (*Transaction, error) {
	done, err := c.brkrs.Withdraw.Allow()
	if err != nil {
		return nil, ErrInternalServer
	}
	txn, err := c.next.Withdraw(ctx, req)
	done(!infraFailure(err))
	return txn, err
}

func (c *circuitBreakMiddleware) Transfer(ctx context.Context, req TransferReq) (*Transaction, error) {
	done, err := c.brkrs.Transfer.Allow()
	if err != nil {
		return nil, ErrInternalServer
	}
	txn, err := c.next.Transfer(ctx, req)
	done(!infraFailure(err))
	return txn, err
}

func (c *circuitBreakMiddleware) History(ctx context.Context, req HistoryReq) (*Page, error) {
	done, err := c.brkrs.History.Allow()
	if err != nil {
		return nil, ErrInternalServer
	}
	page, err := c.next.History(ctx, req)
	done(!infraFailure(err))
	return page, err
}

func (c *circuitBreakMiddleware) Balance(ctx context.Context, req BalanceReq) (*decimal.Decimal, error) {
	done, err := c.brkrs.Balance.Allow()
	if err != nil {
		return nil, ErrInternalServer
	}
	bal, err := c.next.Balance(ctx, req)
	done(!infraFailure(err))
	return bal, err
}

func (c *circuitBreakMiddleware) Statement(ctx context.Context, w io.Writer, req StatementReq) error {
	done, err := c.brkrs.Statement.Allow()
	if err != nil {
		return ErrInternalServer
	}
	err = c.next.Statement(ctx, w, req)
	done(!infraFailure(err))
	return err
}
