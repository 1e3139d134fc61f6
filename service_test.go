package teller_test

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/tellergo/teller"
	"github.com/tellergo/teller/mocks"
)

func TestNewService(t *testing.T) {
	t.Run("returns an error on a nil repository", func(tt *testing.T) {
		as := assert.New(tt)
		_, err := teller.NewService(nil, nil, nil, nil)
		as.NotNil(err)
	})
}

func TestDeposit(t *testing.T) {
	t.Run("credits the account and returns the transaction summary", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		ctrl := gomock.NewController(tt)
		repo := mocks.NewMockRepository(ctrl)
		svc, err := teller.NewService(repo, nil, nil, nil)
		reqrd.Nil(err)

		acctID := snowflake.ParseInt64(7241407009730334720)
		owner := "alice@teller.dev"
		acct := &teller.Account{
			AcctID:  acctID,
			Email:   owner,
			Type:    teller.AcctSavings,
			Balance: decimal.RequireFromString("500.00"),
		}
		amount := decimal.RequireFromString("200.00")
		newBal := decimal.RequireFromString("700.00")
		txn := &teller.Transaction{AcctID: acctID, Amount: amount, Kind: teller.TxnDeposit}

		repo.EXPECT().
			AccountByOwner(gomock.Any(), owner).
			Return(acct, nil)
		repo.EXPECT().
			Credit(gomock.Any(), acctID, amount, teller.TxnDeposit).
			Return(txn, newBal, nil)
		repo.EXPECT().
			History(gomock.Any(), acctID, 0, gomock.Any()).
			Return([]teller.Transaction{*txn}, int64(1), nil)

		got, err := svc.Deposit(context.Background(), teller.ChargeReq{Amount: amount, Principal: owner})
		reqrd.Nil(err)
		as.Equal(teller.TxnDeposit, got.Kind)
		as.True(got.Amount.Equal(amount))
		as.Equal(acctID, got.AcctID)
	})

	t.Run("rejects a non-positive amount before touching the store", func(tt *testing.T) {
		as := assert.New(tt)
		ctrl := gomock.NewController(tt)
		repo := mocks.NewMockRepository(ctrl)
		svc, _ := teller.NewService(repo, nil, nil, nil)

		_, err := svc.Deposit(context.Background(), teller.ChargeReq{
			Amount:    decimal.Zero,
			Principal: "alice@teller.dev",
		})
		as.ErrorAs(err, &teller.ErrBadRequest{})
	})

	t.Run("surfaces a missing account for the principal", func(tt *testing.T) {
		as := assert.New(tt)
		ctrl := gomock.NewController(tt)
		repo := mocks.NewMockRepository(ctrl)
		svc, _ := teller.NewService(repo, nil, nil, nil)

		repo.EXPECT().
			AccountByOwner(gomock.Any(), "ghost@teller.dev").
			Return(nil, teller.ErrNotFound{})

		_, err := svc.Deposit(context.Background(), teller.ChargeReq{
			Amount:    decimal.NewFromInt(10),
			Principal: "ghost@teller.dev",
		})
		as.ErrorAs(err, &teller.ErrNotFound{})
	})
}

func TestWithdraw(t *testing.T) {
	t.Run("debits the account and returns the transaction summary", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		ctrl := gomock.NewController(tt)
		repo := mocks.NewMockRepository(ctrl)
		svc, err := teller.NewService(repo, nil, nil, nil)
		reqrd.Nil(err)

		acctID := snowflake.ParseInt64(7241407009730334720)
		owner := "alice@teller.dev"
		acct := &teller.Account{
			AcctID:  acctID,
			Email:   owner,
			Balance: decimal.RequireFromString("700.00"),
		}
		amount := decimal.RequireFromString("100.00")
		newBal := decimal.RequireFromString("600.00")
		txn := &teller.Transaction{AcctID: acctID, Amount: amount, Kind: teller.TxnWithdraw}

		repo.EXPECT().
			AccountByOwner(gomock.Any(), owner).
			Return(acct, nil)
		repo.EXPECT().
			Debit(gomock.Any(), acctID, amount, teller.TxnWithdraw).
			Return(txn, newBal, nil)
		repo.EXPECT().
			History(gomock.Any(), acctID, 0, gomock.Any()).
			Return([]teller.Transaction{*txn}, int64(1), nil)

		got, err := svc.Withdraw(context.Background(), teller.ChargeReq{Amount: amount, Principal: owner})
		reqrd.Nil(err)
		as.Equal(teller.TxnWithdraw, got.Kind)
	})

	t.Run("propagates insufficient funds from the store", func(tt *testing.T) {
		as := assert.New(tt)
		ctrl := gomock.NewController(tt)
		repo := mocks.NewMockRepository(ctrl)
		svc, _ := teller.NewService(repo, nil, nil, nil)

		acctID := snowflake.ParseInt64(7241407009730334720)
		owner := "alice@teller.dev"
		acct := &teller.Account{AcctID: acctID, Email: owner, Balance: decimal.NewFromInt(700)}

		repo.EXPECT().
			AccountByOwner(gomock.Any(), owner).
			Return(acct, nil)
		repo.EXPECT().
			Debit(gomock.Any(), acctID, decimal.NewFromInt(1000), teller.TxnWithdraw).
			Return(nil, decimal.Zero, teller.ErrInsufficientFunds{AcctID: acctID.Int64()})

		_, err := svc.Withdraw(context.Background(), teller.ChargeReq{
			Amount:    decimal.NewFromInt(1000),
			Principal: owner,
		})
		as.ErrorAs(err, &teller.ErrInsufficientFunds{})
	})
}

func TestTransfer(t *testing.T) {
	senderID := snowflake.ParseInt64(7241407009730334720)
	receiverID := snowflake.ParseInt64(7241301734201495552)
	owner := "alice@teller.dev"

	t.Run("rejects missing account ids and sub-minimum amounts", func(tt *testing.T) {
		as := assert.New(tt)
		ctrl := gomock.NewController(tt)
		repo := mocks.NewMockRepository(ctrl)
		svc, _ := teller.NewService(repo, nil, nil, nil)

		_, err := svc.Transfer(context.Background(), teller.TransferReq{
			Amount:    decimal.RequireFromString("0.50"),
			Principal: owner,
		})
		as.ErrorAs(err, &teller.ErrBadRequest{})
	})

	t.Run("forbids transfer from an account the caller does not own", func(tt *testing.T) {
		as := assert.New(tt)
		ctrl := gomock.NewController(tt)
		repo := mocks.NewMockRepository(ctrl)
		svc, _ := teller.NewService(repo, nil, nil, nil)

		// only the sender lookup may happen; the receiver must not be
		// resolved for an unauthorized caller
		repo.EXPECT().
			Account(gomock.Any(), senderID).
			Return(&teller.Account{AcctID: senderID, Email: "someone@else.dev"}, nil)

		_, err := svc.Transfer(context.Background(), teller.TransferReq{
			SenderID:   senderID,
			ReceiverID: receiverID,
			Amount:     decimal.NewFromInt(100),
			Principal:  owner,
		})
		as.ErrorAs(err, &teller.ErrForbidden{})
	})

	t.Run("forbids transfer between accounts of the same owner", func(tt *testing.T) {
		as := assert.New(tt)
		ctrl := gomock.NewController(tt)
		repo := mocks.NewMockRepository(ctrl)
		svc, _ := teller.NewService(repo, nil, nil, nil)

		repo.EXPECT().
			Account(gomock.Any(), senderID).
			Return(&teller.Account{AcctID: senderID, Email: owner}, nil)
		repo.EXPECT().
			Account(gomock.Any(), receiverID).
			Return(&teller.Account{AcctID: receiverID, Email: owner}, nil)

		_, err := svc.Transfer(context.Background(), teller.TransferReq{
			SenderID:   senderID,
			ReceiverID: receiverID,
			Amount:     decimal.NewFromInt(100),
			Principal:  owner,
		})
		as.ErrorAs(err, &teller.ErrForbidden{})
	})

	t.Run("returns the sender-side record on success", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		ctrl := gomock.NewController(tt)
		repo := mocks.NewMockRepository(ctrl)
		svc, _ := teller.NewService(repo, nil, nil, nil)

		amount := decimal.RequireFromString("100.00")
		debit := &teller.Transaction{AcctID: senderID, Amount: amount, Kind: teller.TxnTransferDebit}

		repo.EXPECT().
			Account(gomock.Any(), senderID).
			Return(&teller.Account{AcctID: senderID, Email: owner}, nil)
		repo.EXPECT().
			Account(gomock.Any(), receiverID).
			Return(&teller.Account{AcctID: receiverID, Email: "bob@teller.dev"}, nil)
		repo.EXPECT().
			Transfer(gomock.Any(), gomock.AssignableToTypeOf(teller.TransferReq{})).
			Return(debit, nil)
		repo.EXPECT().
			History(gomock.Any(), senderID, 0, gomock.Any()).
			Return([]teller.Transaction{*debit}, int64(1), nil)
		repo.EXPECT().
			History(gomock.Any(), receiverID, 0, gomock.Any()).
			Return([]teller.Transaction{}, int64(1), nil)

		got, err := svc.Transfer(context.Background(), teller.TransferReq{
			SenderID:   senderID,
			ReceiverID: receiverID,
			Amount:     amount,
			Principal:  owner,
		})
		reqrd.Nil(err)
		as.Equal(teller.TxnTransferDebit, got.Kind)
		as.Equal(senderID, got.AcctID)
	})
}

func TestHistoryUsesCache(t *testing.T) {
	t.Run("a populated cache serves history without a store query", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		ctrl := gomock.NewController(tt)
		repo := mocks.NewMockRepository(ctrl)
		cache := teller.NewMemoryCache()
		svc, err := teller.NewService(repo, cache, nil, nil)
		reqrd.Nil(err)

		acctID := snowflake.ParseInt64(7241407009730334720)
		owner := "alice@teller.dev"
		acct := &teller.Account{AcctID: acctID, Email: owner, Balance: decimal.NewFromInt(500)}
		amount := decimal.NewFromInt(200)
		txn := &teller.Transaction{AcctID: acctID, Amount: amount, Kind: teller.TxnDeposit}

		repo.EXPECT().
			AccountByOwner(gomock.Any(), owner).
			Return(acct, nil)
		repo.EXPECT().
			Credit(gomock.Any(), acctID, amount, teller.TxnDeposit).
			Return(txn, decimal.NewFromInt(700), nil)
		// exactly one history read, the post-commit cache refresh; the
		// query below is served from cache
		repo.EXPECT().
			History(gomock.Any(), acctID, 0, gomock.Any()).
			Return([]teller.Transaction{*txn}, int64(1), nil).
			Times(1)

		_, err = svc.Deposit(context.Background(), teller.ChargeReq{Amount: amount, Principal: owner})
		reqrd.Nil(err)

		page, err := svc.History(context.Background(), teller.HistoryReq{Principal: owner, Page: 0, PageSize: 10})
		reqrd.Nil(err)
		as.Len(page.Transactions, 1)
		as.Equal(int64(1), page.Total)
		as.Equal(teller.TxnDeposit, page.Transactions[0].Kind)
	})
}
