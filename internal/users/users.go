// Package users manages accounts and API keys for the HTTP surface. Keys
// are shown once at creation and stored only as SHA-256 hashes.
package users

import (
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/ComputeHeavy/gonk/internal/gonk"
)

const keyBank = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// usernameAllowed covers [A-Za-z0-9._-].
func usernameAllowed(username string) bool {
	if username == "" {
		return false
	}
	for _, r := range username {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}

// User is one account row.
type User struct {
	ID       int64
	Username string
}

// Store holds accounts in the installation-wide sqlite database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the user database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open user database: %w", err)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		api_key_hash TEXT NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating users table: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// GenerateKey produces a fresh API key of the form gk_<32 alphanumerics>.
func GenerateKey() (string, error) {
	var b strings.Builder
	b.WriteString("gk_")
	max := big.NewInt(int64(len(keyBank)))
	for i := 0; i < 32; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generating key: %w", err)
		}
		b.WriteByte(keyBank[n.Int64()])
	}
	return b.String(), nil
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Add creates an account and returns its API key. The key is not stored and
// cannot be recovered; use Rekey to replace it.
func (s *Store) Add(username string) (string, error) {
	if !usernameAllowed(username) {
		return "", gonk.Validationf("username", "invalid username, allowed [A-Za-z0-9._-]")
	}
	key, err := GenerateKey()
	if err != nil {
		return "", err
	}
	_, err = s.db.Exec(
		"INSERT INTO users (username, api_key_hash) VALUES (?, ?)",
		username, hashKey(key))
	if err != nil {
		return "", fmt.Errorf("inserting user: %w", err)
	}
	return key, nil
}

// Rekey replaces username's API key and returns the new key.
func (s *Store) Rekey(username string) (string, error) {
	key, err := GenerateKey()
	if err != nil {
		return "", err
	}
	res, err := s.db.Exec(
		"UPDATE users SET api_key_hash = ? WHERE username = ?",
		hashKey(key), username)
	if err != nil {
		return "", fmt.Errorf("updating user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("updating user: %w", err)
	}
	if n == 0 {
		return "", gonk.NotFoundf("user", "%s", username)
	}
	return key, nil
}

// List returns all accounts in creation order.
func (s *Store) List() ([]User, error) {
	rows, err := s.db.Query("SELECT id, username FROM users ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	out := []User{}
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username); err != nil {
			return nil, fmt.Errorf("scanning user row: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// Authenticate resolves an API key to its username.
func (s *Store) Authenticate(apiKey string) (string, error) {
	var username string
	err := s.db.QueryRow(
		"SELECT username FROM users WHERE api_key_hash = ?",
		hashKey(apiKey)).Scan(&username)
	if errors.Is(err, sql.ErrNoRows) {
		return "", gonk.NotFoundf("api-key", "no matching user")
	}
	if err != nil {
		return "", fmt.Errorf("authenticating: %w", err)
	}
	return username, nil
}
