package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/promptpot/promptpot/internal/domain"
	"github.com/promptpot/promptpot/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db       *sql.DB
	intentMu sync.Mutex // serializes outbox writes to avoid SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		wallet_address TEXT,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_users_wallet ON users(wallet_address) WHERE wallet_address IS NOT NULL;

	CREATE TABLE IF NOT EXISTS wallet_challenges (
		user_id TEXT PRIMARY KEY,
		nonce TEXT NOT NULL,
		message TEXT NOT NULL,
		expires_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chain_snapshots (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		block_number INTEGER NOT NULL,
		observed_at INTEGER NOT NULL,
		payload BLOB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS intents (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		wallet TEXT NOT NULL,
		content TEXT NOT NULL,
		price_ether TEXT NOT NULL,
		price_wei TEXT NOT NULL,
		status TEXT NOT NULL,
		chain_key TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_intents_pending ON intents(status, wallet, created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	if err := s.addColumn("intents", "chain_key", "TEXT"); err != nil {
		return err
	}
	if _, err := s.db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_intents_chain_key
		ON intents(chain_key) WHERE chain_key IS NOT NULL`); err != nil {
		return fmt.Errorf("create chain key index: %w", err)
	}
	return nil
}

// addColumn adds a column to databases created before it existed.
func (s *SQLiteStore) addColumn(table, column, decl string) error {
	rows, err := s.db.Query(`SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return fmt.Errorf("inspect %s columns: %w", table, err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close table info rows", "error", closeErr)
		}
	}()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("scan %s column: %w", table, err)
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate %s columns: %w", table, err)
	}

	if _, err := s.db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, decl)); err != nil {
		return fmt.Errorf("add %s.%s: %w", table, column, err)
	}
	slog.Info("Migrated table", "table", table, "column", column)
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, username, wallet_address, last_seen_at, created_at, updated_at
		FROM users WHERE user_id = ?`

	var user domain.User
	var wallet sql.NullString
	var lastSeen, createdAt, updatedAt int64

	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&user.UserID, &user.Username, &wallet,
		&lastSeen, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.WalletAddress = wallet.String
	user.LastSeenAt = time.Unix(lastSeen, 0)
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)

	return &user, nil
}

// UpsertUser creates or updates a user record. The wallet binding is only
// changed through BindWallet and ClearWallet.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, username, wallet_address, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		username = excluded.username,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		user.UserID, user.Username, nullable(user.WalletAddress),
		user.LastSeenAt.Unix(), user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	query := `UPDATE users SET last_seen_at = ?, updated_at = ? WHERE user_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "user_id", userID)
	}

	return nil
}

// BindWallet attaches a verified wallet address to a user.
func (s *SQLiteStore) BindWallet(ctx context.Context, userID, wallet string) error {
	return s.setWallet(ctx, userID, nullable(wallet))
}

// ClearWallet detaches the user's wallet.
func (s *SQLiteStore) ClearWallet(ctx context.Context, userID string) error {
	return s.setWallet(ctx, userID, nil)
}

func (s *SQLiteStore) setWallet(ctx context.Context, userID string, wallet interface{}) error {
	query := `UPDATE users SET wallet_address = ?, updated_at = ? WHERE user_id = ?`
	result, err := s.db.ExecContext(ctx, query, wallet, time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("update wallet: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return nil
}

// SaveChallenge stores the pending wallet challenge for a user.
func (s *SQLiteStore) SaveChallenge(ctx context.Context, c *domain.WalletChallenge) error {
	query := `
	INSERT INTO wallet_challenges (user_id, nonce, message, expires_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		nonce = excluded.nonce,
		message = excluded.message,
		expires_at = excluded.expires_at`
	if _, err := s.db.ExecContext(ctx, query, c.UserID, c.Nonce, c.Message, c.ExpiresAt.UnixMilli()); err != nil {
		return fmt.Errorf("save challenge: %w", err)
	}
	return nil
}

// GetChallenge returns the pending challenge for a user.
func (s *SQLiteStore) GetChallenge(ctx context.Context, userID string) (*domain.WalletChallenge, error) {
	query := `SELECT user_id, nonce, message, expires_at FROM wallet_challenges WHERE user_id = ?`

	var c domain.WalletChallenge
	var expiresAt int64
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&c.UserID, &c.Nonce, &c.Message, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan challenge: %w", err)
	}
	c.ExpiresAt = time.UnixMilli(expiresAt)
	return &c, nil
}

// DeleteChallenge removes the pending challenge.
func (s *SQLiteStore) DeleteChallenge(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM wallet_challenges WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("delete challenge: %w", err)
	}
	return nil
}

// SaveSnapshot stores the latest encoded chain snapshot.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, block uint64, observedAt time.Time, payload []byte) error {
	query := `
	INSERT INTO chain_snapshots (id, block_number, observed_at, payload)
	VALUES (1, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		block_number = excluded.block_number,
		observed_at = excluded.observed_at,
		payload = excluded.payload`
	if _, err := s.db.ExecContext(ctx, query, int64(block), observedAt.UnixMilli(), payload); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot returns the stored snapshot payload, or nil if none.
func (s *SQLiteStore) LatestSnapshot(ctx context.Context) ([]byte, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM chain_snapshots WHERE id = 1`).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan snapshot: %w", err)
	}
	return payload, nil
}

// CreateIntent inserts a new outbox entry.
func (s *SQLiteStore) CreateIntent(ctx context.Context, i *domain.Intent) error {
	s.intentMu.Lock()
	defer s.intentMu.Unlock()

	query := `
	INSERT INTO intents (id, user_id, wallet, content, price_ether, price_wei, status, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		i.ID, i.UserID, i.Wallet, i.Content, i.PriceEther, i.PriceWei,
		string(i.Status), i.CreatedAt.UnixMilli(), i.UpdatedAt.UnixMilli(),
	)
	if shared.IsSQLiteConstraintError(err) {
		return fmt.Errorf("create intent %s: %w", i.ID, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("create intent: %w", err)
	}
	return nil
}

// PendingIntents lists pending intents, oldest first.
func (s *SQLiteStore) PendingIntents(ctx context.Context, wallet string) ([]*domain.Intent, error) {
	query := `
		SELECT id, user_id, wallet, content, price_ether, price_wei, status, created_at, updated_at
		FROM intents WHERE status = ?`
	args := []interface{}{string(domain.IntentPending)}
	if wallet != "" {
		query += ` AND wallet = ?`
		args = append(args, wallet)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pending intents: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close pending intents rows", "error", closeErr)
		}
	}()

	var intents []*domain.Intent
	for rows.Next() {
		var i domain.Intent
		var status string
		var createdAt, updatedAt int64
		if err := rows.Scan(
			&i.ID, &i.UserID, &i.Wallet, &i.Content, &i.PriceEther, &i.PriceWei,
			&status, &createdAt, &updatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan intent row: %w", err)
		}
		i.Status = domain.IntentStatus(status)
		i.CreatedAt = time.UnixMilli(createdAt)
		i.UpdatedAt = time.UnixMilli(updatedAt)
		intents = append(intents, &i)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending intents: %w", err)
	}

	return intents, nil
}

// UpdateIntentStatus moves an intent to a new status.
func (s *SQLiteStore) UpdateIntentStatus(ctx context.Context, id string, status domain.IntentStatus) error {
	s.intentMu.Lock()
	defer s.intentMu.Unlock()

	query := `UPDATE intents SET status = ?, updated_at = ? WHERE id = ?`
	result, err := s.db.ExecContext(ctx, query, string(status), time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("update intent status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("intent %s: %w", id, ErrNotFound)
	}
	return nil
}

// ConfirmIntent marks a pending intent confirmed and records the chain message
// that confirmed it.
func (s *SQLiteStore) ConfirmIntent(ctx context.Context, id, chainKey string) error {
	s.intentMu.Lock()
	defer s.intentMu.Unlock()

	query := `UPDATE intents SET status = ?, chain_key = ?, updated_at = ? WHERE id = ? AND status = ?`
	result, err := s.db.ExecContext(ctx, query,
		string(domain.IntentConfirmed), chainKey, time.Now().UnixMilli(),
		id, string(domain.IntentPending),
	)
	if shared.IsSQLiteConstraintError(err) {
		return fmt.Errorf("chain message %s: %w", chainKey, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("confirm intent: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("pending intent %s: %w", id, ErrNotFound)
	}
	return nil
}

// keysPerQuery stays well under SQLite's bound parameter limit.
const keysPerQuery = 500

// ClaimedChainKeys returns the keys that already confirmed an intent.
func (s *SQLiteStore) ClaimedChainKeys(ctx context.Context, keys []string) (map[string]bool, error) {
	claimed := make(map[string]bool)
	for start := 0; start < len(keys); start += keysPerQuery {
		batch := keys[start:min(start+keysPerQuery, len(keys))]

		args := make([]interface{}, len(batch))
		for i, k := range batch {
			args[i] = k
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(batch)), ",")
		query := `SELECT chain_key FROM intents WHERE chain_key IN (` + placeholders + `)`

		if err := s.collectKeys(ctx, query, args, claimed); err != nil {
			return nil, err
		}
	}
	return claimed, nil
}

func (s *SQLiteStore) collectKeys(ctx context.Context, query string, args []interface{}, into map[string]bool) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query claimed chain keys: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close chain key rows", "error", closeErr)
		}
	}()

	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return fmt.Errorf("scan chain key: %w", err)
		}
		into[key] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate chain keys: %w", err)
	}
	return nil
}

// ExpireIntents marks pending intents older than ttl as expired.
func (s *SQLiteStore) ExpireIntents(ctx context.Context, ttl time.Duration) (int64, error) {
	s.intentMu.Lock()
	defer s.intentMu.Unlock()

	now := time.Now()
	query := `UPDATE intents SET status = ?, updated_at = ? WHERE status = ? AND created_at < ?`
	result, err := s.db.ExecContext(ctx, query,
		string(domain.IntentExpired), now.UnixMilli(),
		string(domain.IntentPending), now.Add(-ttl).UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("expire intents: %w", err)
	}
	return result.RowsAffected()
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
