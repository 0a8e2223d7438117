package main

import (
	"database/sql"
	"errors"
	"log"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// DB wraps the SQLite database connection
type DB struct {
	conn *sql.DB
}

// UserRow represents a user record in the database
type UserRow struct {
	ID        int64
	Username  string
	PassHash  string
	CreatedAt time.Time
}

// MatchResult is a finished duel
type MatchResult struct {
	ID          int64     `json:"id"`
	RoomID      string    `json:"roomId"`
	Winner      string    `json:"winner"`
	Player1ID   string    `json:"player1Id"`
	Player1Name string    `json:"player1"`
	Player2ID   string    `json:"player2Id"`
	Player2Name string    `json:"player2"`
	LivesLeft   int       `json:"livesLeft"`
	LivesRight  int       `json:"livesRight"`
	Duration    float64   `json:"duration"`
	CreatedAt   time.Time `json:"createdAt"`
}

// UserRecord sums a user's finished duels
type UserRecord struct {
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
	Played   int    `json:"played"`
	Wins     int    `json:"wins"`
	Losses   int    `json:"losses"`
	Ties     int    `json:"ties"`
}

// OpenDB opens (or creates) the SQLite database
func OpenDB(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, err
	}
	if path == ":memory:" {
		// every pooled connection would get its own empty database
		conn.SetMaxOpenConns(1)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate creates tables if they don't exist
func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		pass_hash TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS auth_sessions (
		token_id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		expires_at INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS match_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id TEXT NOT NULL,
		winner TEXT NOT NULL,
		player1_id TEXT NOT NULL DEFAULT '',
		player1_name TEXT NOT NULL DEFAULT '',
		player2_id TEXT NOT NULL DEFAULT '',
		player2_name TEXT NOT NULL DEFAULT '',
		lives_left INTEGER NOT NULL DEFAULT 0,
		lives_right INTEGER NOT NULL DEFAULT 0,
		duration REAL NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS room_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		room_id TEXT,
		user_id TEXT,
		data TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_auth_sessions_user ON auth_sessions(user_id);
	CREATE INDEX IF NOT EXISTS idx_match_results_p1 ON match_results(player1_id);
	CREATE INDEX IF NOT EXISTS idx_match_results_p2 ON match_results(player2_id);
	CREATE INDEX IF NOT EXISTS idx_room_events_type ON room_events(event_type, created_at);
	`
	_, err := db.conn.Exec(schema)
	if err != nil {
		log.Printf("DB migration error: %v", err)
	}
	return err
}

// CreateUser creates a new account (returns user ID). A username that is
// already stored yields ErrUsernameTaken.
func (db *DB) CreateUser(username, passHash string) (int64, error) {
	res, err := db.conn.Exec(
		"INSERT INTO users (username, pass_hash) VALUES (?, ?)",
		username, passHash,
	)
	if isUniqueViolation(err) {
		return 0, ErrUsernameTaken
	}
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetUserByUsername returns a user by username, or nil
func (db *DB) GetUserByUsername(username string) (*UserRow, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, pass_hash, created_at FROM users WHERE username = ?",
		username,
	)
	u := &UserRow{}
	err := row.Scan(&u.ID, &u.Username, &u.PassHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

// GetUserByID returns a user by ID, or nil
func (db *DB) GetUserByID(id int64) (*UserRow, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, pass_hash, created_at FROM users WHERE id = ?",
		id,
	)
	u := &UserRow{}
	err := row.Scan(&u.ID, &u.Username, &u.PassHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

// UsernameExists checks if a username is taken
func (db *DB) UsernameExists(username string) (bool, error) {
	var count int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM users WHERE username = ?", username).Scan(&count)
	return count > 0, err
}

// GetSetting returns a stored setting, or "" when absent
func (db *DB) GetSetting(key string) string {
	var v string
	if err := db.conn.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&v); err != nil {
		return ""
	}
	return v
}

// SetSetting stores a setting
func (db *DB) SetSetting(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	return err
}

// CreateAuthSession records an issued token id
func (db *DB) CreateAuthSession(tokenID string, userID int64, expiresAt time.Time) error {
	_, err := db.conn.Exec(
		"INSERT INTO auth_sessions (token_id, user_id, expires_at) VALUES (?, ?, ?)",
		tokenID, userID, expiresAt.Unix(),
	)
	return err
}

// AuthSessionActive reports whether a token id was issued, not revoked and
// not expired
func (db *DB) AuthSessionActive(tokenID string) (bool, error) {
	var count int
	err := db.conn.QueryRow(
		"SELECT COUNT(*) FROM auth_sessions WHERE token_id = ? AND expires_at > ?",
		tokenID, time.Now().Unix(),
	).Scan(&count)
	return count > 0, err
}

// DeleteAuthSession revokes a token id
func (db *DB) DeleteAuthSession(tokenID string) error {
	_, err := db.conn.Exec("DELETE FROM auth_sessions WHERE token_id = ?", tokenID)
	return err
}

// PurgeExpiredSessions removes expired token ids and returns how many
func (db *DB) PurgeExpiredSessions() (int64, error) {
	res, err := db.conn.Exec("DELETE FROM auth_sessions WHERE expires_at <= ?", time.Now().Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RecordMatchResult stores a finished duel and returns its ID
func (db *DB) RecordMatchResult(m MatchResult) (int64, error) {
	res, err := db.conn.Exec(
		`INSERT INTO match_results (room_id, winner, player1_id, player1_name, player2_id, player2_name, lives_left, lives_right, duration)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.RoomID, m.Winner, m.Player1ID, m.Player1Name, m.Player2ID, m.Player2Name, m.LivesLeft, m.LivesRight, m.Duration,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// RecentMatches returns the latest finished duels, newest first
func (db *DB) RecentMatches(limit int) ([]MatchResult, error) {
	rows, err := db.conn.Query(`
		SELECT id, room_id, winner, player1_id, player1_name, player2_id, player2_name, lives_left, lives_right, duration, created_at
		FROM match_results
		ORDER BY id DESC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []MatchResult{}
	for rows.Next() {
		var m MatchResult
		if err := rows.Scan(&m.ID, &m.RoomID, &m.Winner, &m.Player1ID, &m.Player1Name, &m.Player2ID, &m.Player2Name,
			&m.LivesLeft, &m.LivesRight, &m.Duration, &m.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

// GetUserRecord returns win/loss/tie counts for userID
func (db *DB) GetUserRecord(userID string) (UserRecord, error) {
	rec := UserRecord{UserID: userID}
	err := db.conn.QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN (player1_id = ?1 AND winner = 'left') OR (player2_id = ?1 AND winner = 'right') THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN (player1_id = ?1 AND winner = 'right') OR (player2_id = ?1 AND winner = 'left') THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN winner = 'tie' THEN 1 ELSE 0 END), 0)
		FROM match_results
		WHERE player1_id = ?1 OR player2_id = ?1`,
		userID,
	).Scan(&rec.Played, &rec.Wins, &rec.Losses, &rec.Ties)
	return rec, err
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	return errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}
