package teller_test

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/tellergo/teller"
	"github.com/tellergo/teller/mocks"
)

func TestValidationMWCharge(t *testing.T) {
	t.Run("rejects a non-positive amount before the engine", func(tt *testing.T) {
		as := assert.New(tt)
		ctrl := gomock.NewController(tt)
		svc := mocks.NewMockService(ctrl)
		v := teller.NewValidationMiddleware()(svc)

		req := teller.ChargeReq{
			Amount:    decimal.NewFromInt(-5),
			Principal: "alice@teller.dev",
		}
		txn, err := v.Deposit(context.Background(), req)
		as.Nil(txn)
		var br teller.ErrBadRequest
		as.ErrorAs(err, &br)
		as.Contains(br.Fields, "amount")

		txn, err = v.Withdraw(context.Background(), req)
		as.Nil(txn)
		as.ErrorAs(err, &br)
	})

	t.Run("rejects a missing principal", func(tt *testing.T) {
		as := assert.New(tt)
		ctrl := gomock.NewController(tt)
		svc := mocks.NewMockService(ctrl)
		v := teller.NewValidationMiddleware()(svc)

		txn, err := v.Deposit(context.Background(), teller.ChargeReq{
			Amount: decimal.NewFromInt(100),
		})
		as.Nil(txn)
		var br teller.ErrBadRequest
		as.ErrorAs(err, &br)
		as.Contains(br.Fields, "principal")
	})

	t.Run("passes a well-formed request through", func(tt *testing.T) {
		as := assert.New(tt)
		ctrl := gomock.NewController(tt)
		svc := mocks.NewMockService(ctrl)
		svc.EXPECT().
			Deposit(gomock.Any(), gomock.AssignableToTypeOf(teller.ChargeReq{})).
			Return(&teller.Transaction{}, nil).
			Times(1)
		v := teller.NewValidationMiddleware()(svc)

		txn, err := v.Deposit(context.Background(), teller.ChargeReq{
			Amount:    decimal.NewFromInt(100),
			Principal: "alice@teller.dev",
		})
		as.Nil(err)
		as.NotNil(txn)
	})
}

func TestValidationMWTransfer(t *testing.T) {
	t.Run("collects every missing field in one rejection", func(tt *testing.T) {
		as := assert.New(tt)
		ctrl := gomock.NewController(tt)
		svc := mocks.NewMockService(ctrl)
		v := teller.NewValidationMiddleware()(svc)

		txn, err := v.Transfer(context.Background(), teller.TransferReq{})
		as.Nil(txn)
		var br teller.ErrBadRequest
		as.ErrorAs(err, &br)
		as.Contains(br.Fields, "principal")
		as.Contains(br.Fields, "sender_account_id")
		as.Contains(br.Fields, "receiver_account_id")
		as.Contains(br.Fields, "amount")
	})

	t.Run("rejects amounts below the transfer minimum", func(tt *testing.T) {
		as := assert.New(tt)
		ctrl := gomock.NewController(tt)
		svc := mocks.NewMockService(ctrl)
		v := teller.NewValidationMiddleware()(svc)

		txn, err := v.Transfer(context.Background(), teller.TransferReq{
			SenderID:   snowflake.ParseInt64(1834563581361305763),
			ReceiverID: snowflake.ParseInt64(1834563581361305764),
			Amount:     decimal.RequireFromString("0.50"),
			Principal:  "alice@teller.dev",
		})
		as.Nil(txn)
		var br teller.ErrBadRequest
		as.ErrorAs(err, &br)
		as.Contains(br.Fields, "amount")
	})
}

func TestValidationMWHistory(t *testing.T) {
	as := assert.New(t)
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockService(ctrl)
	v := teller.NewValidationMiddleware()(svc)

	page, err := v.History(context.Background(), teller.HistoryReq{
		Principal: "alice@teller.dev",
		Page:      -1,
	})
	as.Nil(page)
	var br teller.ErrBadRequest
	as.ErrorAs(err, &br)
	as.Contains(br.Fields, "page")
}

func TestLimitMW(t *testing.T) {
	t.Run("releases the slot after each call", func(tt *testing.T) {
		as := assert.New(tt)
		ctrl := gomock.NewController(tt)
		svc := mocks.NewMockService(ctrl)
		svc.EXPECT().
			Deposit(gomock.Any(), gomock.AssignableToTypeOf(teller.ChargeReq{})).
			Return(&teller.Transaction{}, nil).
			Times(3)
		limits := teller.NewServiceLimits(1)
		l := teller.NewLimitMiddleware(limits)(svc)

		req := teller.ChargeReq{
			Amount:    decimal.NewFromInt(10),
			Principal: "alice@teller.dev",
		}
		for i := 0; i < 3; i++ {
			_, err := l.Deposit(context.Background(), req)
			as.Nil(err)
		}
	})

	t.Run("sheds when no slot frees up before the deadline", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		ctrl := gomock.NewController(tt)
		svc := mocks.NewMockService(ctrl)
		limits := teller.NewServiceLimits(1)
		l := teller.NewLimitMiddleware(limits)(svc)

		reqrd.True(limits.Deposit.TryAcquire(1))
		defer limits.Deposit.Release(1)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		txn, err := l.Deposit(ctx, teller.ChargeReq{
			Amount:    decimal.NewFromInt(10),
			Principal: "alice@teller.dev",
		})
		as.Nil(txn)
		as.ErrorIs(err, teller.ErrInternalServer)
	})
}

func TestCircuitBreakMW(t *testing.T) {
	t.Run("business rejections never trip the breaker", func(tt *testing.T) {
		as := assert.New(tt)
		ctrl := gomock.NewController(tt)
		svc := mocks.NewMockService(ctrl)
		svc.EXPECT().
			Withdraw(gomock.Any(), gomock.AssignableToTypeOf(teller.ChargeReq{})).
			Return(nil, teller.ErrInsufficientFunds{AcctID: 1834563581361305763}).
			Times(10)
		cb := teller.NewCircuitBreakMiddleware(teller.NewServiceBreaker())(svc)

		req := teller.ChargeReq{
			Amount:    decimal.NewFromInt(1000),
			Principal: "alice@teller.dev",
		}
		for i := 0; i < 10; i++ {
			_, err := cb.Withdraw(context.Background(), req)
			var insuf teller.ErrInsufficientFunds
			as.ErrorAs(err, &insuf)
		}
	})

	t.Run("consecutive infrastructure failures open the circuit", func(tt *testing.T) {
		as := assert.New(tt)
		ctrl := gomock.NewController(tt)
		svc := mocks.NewMockService(ctrl)
		storeErr := errors.New("connection refused")
		svc.EXPECT().
			Deposit(gomock.Any(), gomock.AssignableToTypeOf(teller.ChargeReq{})).
			Return(nil, storeErr).
			Times(6)
		cb := teller.NewCircuitBreakMiddleware(teller.NewServiceBreaker())(svc)

		req := teller.ChargeReq{
			Amount:    decimal.NewFromInt(10),
			Principal: "alice@teller.dev",
		}
		for i := 0; i < 6; i++ {
			_, err := cb.Deposit(context.Background(), req)
			as.ErrorIs(err, storeErr)
		}

		// circuit is now open; the engine is no longer reached
		txn, err := cb.Deposit(context.Background(), req)
		as.Nil(txn)
		as.ErrorIs(err, teller.ErrInternalServer)
	})
}
