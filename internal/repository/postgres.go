// Package repository implements the PostgreSQL store of the marketplace.
// Every lifecycle transition runs as a single transaction: the offer row
// and the affected user rows are locked with SELECT ... FOR UPDATE, the
// pure ledger mutators are applied, and everything is written back or
// nothing is.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/devprosvn/REC-ONE-Lisk-sub001/internal/ledger"
	"github.com/devprosvn/REC-ONE-Lisk-sub001/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresRepository provides access to the off-chain data store.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates the repository and brings the schema up
// to date via embedded migrations.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// Close closes the connection pool.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// withRetry retries fn on serialization failures, deadlocks and transient
// connection errors. Lifecycle transitions are idempotent per offer, so a
// retried transaction either re-applies cleanly or short-circuits.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					if werr := waitRetry(ctx, delays[i]); werr != nil {
						return werr
					}
					continue
				}
			}
		}

		if isConnectionError(err) {
			if i < len(delays) {
				if werr := waitRetry(ctx, delays[i]); werr != nil {
					return werr
				}
				continue
			}
		}

		break
	}
	return err
}

// waitRetry sleeps for the backoff delay unless the context ends first.
func waitRetry(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

const userColumns = `id, wallet_address, username, total_generated, total_sold, total_bought,
	 available_balance, total_earnings_eth, total_earnings_vnd, reputation, created_at, updated_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.WalletAddress, &u.Username, &u.TotalGenerated, &u.TotalSold,
		&u.TotalBought, &u.AvailableBalance, &u.TotalEarningsETH, &u.TotalEarningsVND,
		&u.Reputation, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// EnsureUser creates a user with zeroed counters on first reference and
// returns the row either way. Wallet addresses are stored lowercased.
func (r *PostgresRepository) EnsureUser(ctx context.Context, wallet string) (*model.User, error) {
	wallet = model.NormalizeWallet(wallet)

	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (wallet_address) VALUES ($1) ON CONFLICT (wallet_address) DO NOTHING`,
		wallet,
	)
	if err != nil {
		return nil, fmt.Errorf("ensure user: %w", err)
	}

	return r.GetUserByWallet(ctx, wallet)
}

// GetUserByWallet returns a user by wallet address.
func (r *PostgresRepository) GetUserByWallet(ctx context.Context, wallet string) (*model.User, error) {
	wallet = model.NormalizeWallet(wallet)

	u, err := scanUser(r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE wallet_address = $1`, wallet))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", wallet, model.ErrNotFound)
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// lockUserByWallet upserts the user and takes its row lock inside tx.
// The lock serializes every balance mutation for that user.
func lockUserByWallet(ctx context.Context, tx pgx.Tx, wallet string) (*model.User, error) {
	wallet = model.NormalizeWallet(wallet)

	_, err := tx.Exec(ctx,
		`INSERT INTO users (wallet_address) VALUES ($1) ON CONFLICT (wallet_address) DO NOTHING`,
		wallet,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}

	u, err := scanUser(tx.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE wallet_address = $1 FOR UPDATE`, wallet))
	if err != nil {
		return nil, fmt.Errorf("lock user %s: %w", wallet, err)
	}
	return u, nil
}

func lockUserByID(ctx context.Context, tx pgx.Tx, id int64) (*model.User, error) {
	u, err := scanUser(tx.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user %d: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("lock user %d: %w", id, err)
	}
	return u, nil
}

// saveBalance writes a mutated ledger balance back to the locked user row.
func saveBalance(ctx context.Context, tx pgx.Tx, userID int64, b ledger.Balance) error {
	_, err := tx.Exec(ctx,
		`UPDATE users
		 SET total_generated = $2, total_sold = $3, total_bought = $4,
		     available_balance = $5, total_earnings_eth = $6, total_earnings_vnd = $7,
		     reputation = $8, updated_at = now()
		 WHERE id = $1`,
		userID, b.TotalGenerated, b.TotalSold, b.TotalBought,
		b.Available, b.TotalEarningsETH, b.TotalEarningsVND, b.Reputation,
	)
	if err != nil {
		return fmt.Errorf("save balance: %w", err)
	}
	return nil
}

// committedQuantity sums the quantity of a user's currently active offers.
// Called with the user's row lock held, so the sum cannot move underneath.
func committedQuantity(ctx context.Context, tx pgx.Tx, userID int64) (int64, error) {
	var committed int64
	err := tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(quantity), 0) FROM offers WHERE seller_id = $1 AND status = $2`,
		userID, string(model.OfferStatusActive),
	).Scan(&committed)
	if err != nil {
		return 0, fmt.Errorf("sum active offers: %w", err)
	}
	return committed, nil
}

// RecordGeneration credits a confirmed generation reading to the user,
// creating the user on first reference. A duplicate transaction hash is
// rejected with ErrDuplicateTransaction and changes nothing.
func (r *PostgresRepository) RecordGeneration(ctx context.Context, wallet string, quantity int64, txHash string, blockNumber int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	u, err := lockUserByWallet(ctx, tx, wallet)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO generation_events (user_id, quantity, tx_hash, block_number) VALUES ($1, $2, $3, $4)`,
		u.ID, quantity, txHash, blockNumber,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("generation tx %s: %w", txHash, model.ErrDuplicateTransaction)
		}
		return fmt.Errorf("insert generation event: %w", err)
	}

	bal := ledger.FromUser(u)
	if err := bal.RecordGeneration(quantity); err != nil {
		return err
	}
	if err := saveBalance(ctx, tx, u.ID, bal); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetChainCursor returns the last chain block the settlement consumer has seen.
func (r *PostgresRepository) GetChainCursor(ctx context.Context) (int64, error) {
	var last int64
	err := r.pool.QueryRow(ctx, `SELECT last_block FROM chain_cursor WHERE id = 1`).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("get chain cursor: %w", err)
	}
	return last, nil
}

// SetChainCursor advances the settlement cursor. Moving it backwards is
// harmless: event application is idempotent by transaction hash.
func (r *PostgresRepository) SetChainCursor(ctx context.Context, lastBlock int64) error {
	_, err := r.pool.Exec(ctx, `UPDATE chain_cursor SET last_block = $1 WHERE id = 1`, lastBlock)
	if err != nil {
		return fmt.Errorf("set chain cursor: %w", err)
	}
	return nil
}

// GetMarketStats aggregates marketplace-wide figures.
func (r *PostgresRepository) GetMarketStats(ctx context.Context) (*model.MarketStats, error) {
	var s model.MarketStats

	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(quantity), 0) FROM offers WHERE status = $1`,
		string(model.OfferStatusActive),
	).Scan(&s.ActiveOffers, &s.ListedQuantity)
	if err != nil {
		return nil, fmt.Errorf("active offer stats: %w", err)
	}

	err = r.pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(quantity), 0) FROM offers WHERE status = $1`,
		string(model.OfferStatusCompleted),
	).Scan(&s.CompletedTrades, &s.TradedQuantity)
	if err != nil {
		return nil, fmt.Errorf("completed offer stats: %w", err)
	}

	return &s, nil
}
