package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var (
	// ErrUsernameTaken indicates a registration for an existing username.
	ErrUsernameTaken = errors.New("username already exists")
	// ErrUserNotFound indicates a referenced username does not exist.
	ErrUserNotFound = errors.New("user not found")
)

// DB wraps the SQLite database connection
type DB struct {
	conn      *sql.DB // Read connection pool
	writeConn *sql.DB // Dedicated write connection (1 connection)
}

// Open opens a connection to the SQLite database at the given path
// and initializes the schema if needed
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL allows multiple readers and one writer at the same time
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	if err := applyPragmas(conn); err != nil {
		conn.Close()
		return nil, err
	}

	// Dedicated write connection: exactly 1 connection, no pooling
	// (SQLite allows only one writer at a time)
	writeConn, err := sql.Open("sqlite", path)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open write connection: %w", err)
	}

	writeConn.SetMaxOpenConns(1)
	writeConn.SetMaxIdleConns(1)
	writeConn.SetConnMaxLifetime(0) // Never expire

	if err := applyPragmas(writeConn); err != nil {
		conn.Close()
		writeConn.Close()
		return nil, err
	}

	db := &DB{
		conn:      conn,
		writeConn: writeConn,
	}

	if err := db.initSchema(); err != nil {
		conn.Close()
		writeConn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

func applyPragmas(conn *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		// Wait and retry instead of immediately failing with SQLITE_BUSY
		"PRAGMA busy_timeout = 5000",
		// SQLite has foreign keys disabled by default
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			return fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	db.writeConn.Close()
	return db.conn.Close()
}

// initSchema creates all tables and indexes if they don't exist
func (db *DB) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL UNIQUE,
	password TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS contacts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL,
	contact_id INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	UNIQUE(user_id, contact_id),
	FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
	FOREIGN KEY (contact_id) REFERENCES users(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	sender_id INTEGER NOT NULL,
	receiver_id INTEGER NOT NULL,
	content TEXT NOT NULL,
	file_path TEXT,
	is_file INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	FOREIGN KEY (sender_id) REFERENCES users(id) ON DELETE CASCADE,
	FOREIGN KEY (receiver_id) REFERENCES users(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_contacts_owner ON contacts(user_id, id);
CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(sender_id, receiver_id, created_at);
`

	_, err := db.conn.Exec(schema)
	return err
}

// User represents a registered account. The password is opaque to this
// layer: callers supply already-hashed credentials.
type User struct {
	ID        int64
	Username  string
	Password  string
	CreatedAt int64 // Unix timestamp in milliseconds
}

// Message represents a persisted message between two users.
type Message struct {
	ID        int64
	Sender    string
	Receiver  string
	Content   string
	FilePath  string
	IsFile    bool
	CreatedAt int64 // Unix timestamp in milliseconds
}

// nowMillis returns current time as Unix timestamp in milliseconds
func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// CreateUser creates a new user account. Returns ErrUsernameTaken if the
// username is already registered.
func (db *DB) CreateUser(username, password string) (int64, error) {
	result, err := db.writeConn.Exec(
		`INSERT INTO users (username, password, created_at) VALUES (?, ?, ?)`,
		username, password, nowMillis(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return 0, ErrUsernameTaken
		}
		return 0, err
	}
	return result.LastInsertId()
}

// Authenticate reports whether the (username, password) pair matches a
// registered account.
func (db *DB) Authenticate(username, password string) (bool, error) {
	var id int64
	err := db.conn.QueryRow(
		`SELECT id FROM users WHERE username = ? AND password = ?`,
		username, password,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// UserExists reports whether the username is registered.
func (db *DB) UserExists(username string) (bool, error) {
	var id int64
	err := db.conn.QueryRow(`SELECT id FROM users WHERE username = ?`, username).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// querier is implemented by both *sql.DB and *sql.Tx.
type querier interface {
	QueryRow(query string, args ...any) *sql.Row
}

func userID(q querier, username string) (int64, error) {
	var id int64
	err := q.QueryRow(`SELECT id FROM users WHERE username = ?`, username).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("%w: %s", ErrUserNotFound, username)
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

// AddContact inserts a directed contact relation owner → contact. Either
// username missing aborts with ErrUserNotFound. Re-adding an existing
// contact is a no-op.
func (db *DB) AddContact(owner, contact string) error {
	tx, err := db.writeConn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	ownerID, err := userID(tx, owner)
	if err != nil {
		return err
	}
	contactID, err := userID(tx, contact)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(
		`INSERT OR IGNORE INTO contacts (user_id, contact_id, created_at) VALUES (?, ?, ?)`,
		ownerID, contactID, nowMillis(),
	); err != nil {
		return err
	}

	return tx.Commit()
}

// Contacts returns the usernames the owner has added, in insertion order.
// An unknown owner simply has no contacts.
func (db *DB) Contacts(owner string) ([]string, error) {
	rows, err := db.conn.Query(`
		SELECT u.username
		FROM contacts c
		JOIN users u ON u.id = c.contact_id
		JOIN users o ON o.id = c.user_id
		WHERE o.username = ?
		ORDER BY c.id`,
		owner,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	contacts := []string{}
	for rows.Next() {
		var username string
		if err := rows.Scan(&username); err != nil {
			return nil, err
		}
		contacts = append(contacts, username)
	}
	return contacts, rows.Err()
}

// SaveMessage persists one message. Both usernames are resolved inside the
// same transaction as the insert: if either is unknown the write aborts
// with ErrUserNotFound and no row is created.
func (db *DB) SaveMessage(sender, receiver, content, filePath string, isFile bool) (*Message, error) {
	tx, err := db.writeConn.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	senderID, err := userID(tx, sender)
	if err != nil {
		return nil, err
	}
	receiverID, err := userID(tx, receiver)
	if err != nil {
		return nil, err
	}

	createdAt := nowMillis()
	result, err := tx.Exec(
		`INSERT INTO messages (sender_id, receiver_id, content, file_path, is_file, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		senderID, receiverID, content, filePath, isFile, createdAt,
	)
	if err != nil {
		return nil, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &Message{
		ID:        id,
		Sender:    sender,
		Receiver:  receiver,
		Content:   content,
		FilePath:  filePath,
		IsFile:    isFile,
		CreatedAt: createdAt,
	}, nil
}

// MessagesBetween returns the full history for the unordered pair
// {user1, user2}, both directions, ordered by creation. Either username
// missing yields ErrUserNotFound.
func (db *DB) MessagesBetween(user1, user2 string) ([]*Message, error) {
	id1, err := userID(db.conn, user1)
	if err != nil {
		return nil, err
	}
	id2, err := userID(db.conn, user2)
	if err != nil {
		return nil, err
	}

	rows, err := db.conn.Query(`
		SELECT m.id, s.username, r.username, m.content, COALESCE(m.file_path, ''), m.is_file, m.created_at
		FROM messages m
		JOIN users s ON s.id = m.sender_id
		JOIN users r ON r.id = m.receiver_id
		WHERE (m.sender_id = ? AND m.receiver_id = ?)
		   OR (m.sender_id = ? AND m.receiver_id = ?)
		ORDER BY m.created_at, m.id`,
		id1, id2, id2, id1,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []*Message{}
	for rows.Next() {
		msg := &Message{}
		if err := rows.Scan(&msg.ID, &msg.Sender, &msg.Receiver, &msg.Content, &msg.FilePath, &msg.IsFile, &msg.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}
