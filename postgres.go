package teller

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var (
	pgSelectBalanceForUpdateSQL = `
		SELECT balance
		FROM accounts
		WHERE acct_id = $1
		FOR UPDATE;
	`

	pgUpdateBalanceSQL = `
		UPDATE accounts
		SET balance = $1
		WHERE acct_id = $2;
	`

	pgInsertTxnSQL = `
		INSERT INTO transactions (id, acct_id, amount, kind, created_at, idemp_key)
		VALUES ($1, $2, $3, $4, $5, $6);
	`

	pgSelectTxnByIdempKeySQL = `
		SELECT id, acct_id, amount, kind, created_at
		FROM transactions
		WHERE idemp_key = $1;
	`

	pgSelectAcctSQL = `
		SELECT acct_id, email, acct_type, balance
		FROM accounts
		WHERE acct_id = $1;
	`

	pgSelectAcctByEmailSQL = `
		SELECT acct_id, email, acct_type, balance
		FROM accounts
		WHERE email = $1;
	`

	pgInsertAcctSQL = `
		INSERT INTO accounts (acct_id, email, acct_type, balance)
		VALUES ($1, $2, $3, $4);
	`

	pgSelectHistorySQL = `
		SELECT id, acct_id, amount, kind, created_at
		FROM transactions
		WHERE acct_id = $1
		ORDER BY created_at DESC, id DESC
		OFFSET $2 LIMIT $3;
	`

	pgCountHistorySQL = `
		SELECT count(*)
		FROM transactions
		WHERE acct_id = $1;
	`
)

// acquireRetries bounds retries of connection acquisition. Retrying is
// safe only there: nothing has been written yet. Once a transaction is
// open, any failure surfaces to the caller instead.
const acquireRetries = 2

type PostgresEndpoint struct {
	pool *pgxpool.Pool
	log  *zerolog.Logger
}

var (
	_ Repository = (*PostgresEndpoint)(nil)
)

func NewPostgresEndpoint(connStr string, log *zerolog.Logger) (*PostgresEndpoint, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, err
	}

	if err = pool.Ping(context.Background()); err != nil {
		return nil, err
	}

	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	endpt := &PostgresEndpoint{
		pool: pool,
		log:  log,
	}
	return endpt, err
}

func (pg *PostgresEndpoint) acquire(ctx context.Context) (*pgxpool.Conn, error) {
	var (
		conn *pgxpool.Conn
		err  error
	)
	for i := 0; i <= acquireRetries; i++ {
		conn, err = pg.pool.Acquire(ctx)
		if err == nil {
			return conn, nil
		}
	}
	return nil, err
}

func (pg *PostgresEndpoint) CreateAccount(ctx context.Context, req CreateAccountReq) error {
	conn, err := pg.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, pgInsertAcctSQL, req.AcctID, req.Email, req.Type, req.Balance)
	return err
}

func (pg *PostgresEndpoint) Account(ctx context.Context, id snowflake.ID) (*Account, error) {
	conn, err := pg.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	return scanAccount(conn.QueryRow(ctx, pgSelectAcctSQL, id), id.Int64())
}

func (pg *PostgresEndpoint) AccountByOwner(ctx context.Context, email string) (*Account, error) {
	conn, err := pg.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	return scanAccount(conn.QueryRow(ctx, pgSelectAcctByEmailSQL, email), 0)
}

func (pg *PostgresEndpoint) Credit(ctx context.Context, acctID snowflake.ID, amount decimal.Decimal, kind TxnKind) (*Transaction, decimal.Decimal, error) {
	return pg.charge(ctx, acctID, amount, kind, false)
}

func (pg *PostgresEndpoint) Debit(ctx context.Context, acctID snowflake.ID, amount decimal.Decimal, kind TxnKind) (*Transaction, decimal.Decimal, error) {
	return pg.charge(ctx, acctID, amount, kind, true)
}

func (pg *PostgresEndpoint) charge(ctx context.Context, acctID snowflake.ID, amount decimal.Decimal, kind TxnKind, debit bool) (*Transaction, decimal.Decimal, error) {
	conn, err := pg.acquire(ctx)
	if err != nil {
		return nil, decimal.Zero, err
	}
	defer conn.Release()

	tx, err := conn.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, decimal.Zero, err
	}
	defer tx.Rollback(ctx)

	var bal decimal.Decimal
	row := tx.QueryRow(ctx, pgSelectBalanceForUpdateSQL, acctID)
	if err = row.Scan(&bal); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, decimal.Zero, ErrNotFound{ID: acctID.Int64()}
		}
		return nil, decimal.Zero, err
	}

	if debit {
		if bal.LessThan(amount) {
			return nil, decimal.Zero, ErrInsufficientFunds{AcctID: acctID.Int64()}
		}
		bal = bal.Sub(amount)
	} else {
		bal = bal.Add(amount)
	}

	if _, err = tx.Exec(ctx, pgUpdateBalanceSQL, bal, acctID); err != nil {
		return nil, decimal.Zero, err
	}

	txn := Transaction{
		ID:     uuid.New(),
		AcctID: acctID,
		Amount: amount,
		Kind:   kind,
		Time:   time.Now().UTC(),
	}
	if _, err = tx.Exec(ctx, pgInsertTxnSQL, txn.ID, txn.AcctID, txn.Amount, txn.Kind, txn.Time, nil); err != nil {
		return nil, decimal.Zero, err
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, decimal.Zero, err
	}
	return &txn, bal, nil
}

func (pg *PostgresEndpoint) Transfer(ctx context.Context, req TransferReq) (*Transaction, error) {
	if req.IdempotencyKey != "" {
		txn, err := pg.txnByIdempKey(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if txn != nil {
			return txn, nil
		}
	}

	conn, err := pg.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	tx, err := conn.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// Rows lock in ascending account-id order regardless of role, so
	// two opposing transfers cannot deadlock.
	first, second := req.SenderID, req.ReceiverID
	if second < first {
		first, second = second, first
	}
	balances := make(map[snowflake.ID]decimal.Decimal, 2)
	for _, id := range []snowflake.ID{first, second} {
		var bal decimal.Decimal
		row := tx.QueryRow(ctx, pgSelectBalanceForUpdateSQL, id)
		if err = row.Scan(&bal); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, ErrNotFound{ID: id.Int64()}
			}
			return nil, err
		}
		balances[id] = bal
	}

	if balances[req.SenderID].LessThan(req.Amount) {
		return nil, ErrInsufficientFunds{AcctID: req.SenderID.Int64()}
	}

	if _, err = tx.Exec(ctx, pgUpdateBalanceSQL, balances[req.SenderID].Sub(req.Amount), req.SenderID); err != nil {
		return nil, err
	}
	if _, err = tx.Exec(ctx, pgUpdateBalanceSQL, balances[req.ReceiverID].Add(req.Amount), req.ReceiverID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	debit := Transaction{
		ID:     uuid.New(),
		AcctID: req.SenderID,
		Amount: req.Amount,
		Kind:   TxnTransferDebit,
		Time:   now,
	}
	credit := Transaction{
		ID:     uuid.New(),
		AcctID: req.ReceiverID,
		Amount: req.Amount,
		Kind:   TxnTransferCredit,
		Time:   now,
	}
	var key any
	if req.IdempotencyKey != "" {
		key = req.IdempotencyKey
	}
	batch := &pgx.Batch{}
	batch.Queue(pgInsertTxnSQL, debit.ID, debit.AcctID, debit.Amount, debit.Kind, debit.Time, key)
	batch.Queue(pgInsertTxnSQL, credit.ID, credit.AcctID, credit.Amount, credit.Kind, credit.Time, nil)
	btresults := tx.SendBatch(ctx, batch)
	for i := 0; i < 2; i++ {
		if _, err = btresults.Exec(); err != nil {
			btresults.Close()
			if dup := pg.dedupe(ctx, req, err); dup != nil {
				return dup, nil
			}
			return nil, err
		}
	}
	if err = btresults.Close(); err != nil {
		return nil, err
	}

	if err = tx.Commit(ctx); err != nil {
		if dup := pg.dedupe(ctx, req, err); dup != nil {
			return dup, nil
		}
		return nil, err
	}
	return &debit, nil
}

// dedupe resolves a unique-violation on the idempotency key: a
// concurrent retry of the same transfer already committed, so the
// original debit record is the answer.
func (pg *PostgresEndpoint) dedupe(ctx context.Context, req TransferReq, err error) *Transaction {
	var pgErr *pgconn.PgError
	if req.IdempotencyKey == "" || !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return nil
	}
	txn, lerr := pg.txnByIdempKey(ctx, req.IdempotencyKey)
	if lerr != nil {
		pg.log.Err(lerr).
			Str("idempotency_key", req.IdempotencyKey).
			Msg("duplicate transfer lookup failed")
		return nil
	}
	return txn
}

func (pg *PostgresEndpoint) txnByIdempKey(ctx context.Context, key string) (*Transaction, error) {
	conn, err := pg.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	var txn Transaction
	row := conn.QueryRow(ctx, pgSelectTxnByIdempKeySQL, key)
	if err = row.Scan(&txn.ID, &txn.AcctID, &txn.Amount, &txn.Kind, &txn.Time); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &txn, nil
}

func (pg *PostgresEndpoint) History(ctx context.Context, acctID snowflake.ID, offset, limit int) ([]Transaction, int64, error) {
	conn, err := pg.acquire(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer conn.Release()

	var total int64
	if err = conn.QueryRow(ctx, pgCountHistorySQL, acctID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := conn.Query(ctx, pgSelectHistorySQL, acctID, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	txns := make([]Transaction, 0, limit)
	for rows.Next() {
		var txn Transaction
		if err = rows.Scan(&txn.ID, &txn.AcctID, &txn.Amount, &txn.Kind, &txn.Time); err != nil {
			return nil, 0, err
		}
		txns = append(txns, txn)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, err
	}
	return txns, total, nil
}

func scanAccount(row pgx.Row, id int64) (*Account, error) {
	var acct Account
	err := row.Scan(&acct.AcctID, &acct.Email, &acct.Type, &acct.Balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound{ID: id}
		}
		return nil, err
	}
	return &acct, nil
}
