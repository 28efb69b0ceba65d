package project

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Archive is the append-only transcript database. The JSON document bounds
// its live history; the archive keeps every turn ever recorded so compaction
// and clears lose nothing.
type Archive struct {
	db *sql.DB
}

// OpenArchive opens (creating if necessary) the transcript database.
func OpenArchive(path string) (*Archive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open transcript db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma %q: %w", p, err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS turns (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			role       TEXT NOT NULL,
			text       TEXT NOT NULL,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_turns_created ON turns(created_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate transcript db: %w", err)
	}

	return &Archive{db: db}, nil
}

// AppendTurn records one turn.
func (a *Archive) AppendTurn(turn Turn) error {
	ts := turn.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := a.db.Exec(
		"INSERT INTO turns(role, text, created_at) VALUES(?, ?, ?)",
		string(turn.Role), turn.Text, ts.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	return nil
}

// TurnCount returns how many turns the archive holds.
func (a *Archive) TurnCount() (int, error) {
	var n int
	if err := a.db.QueryRow("SELECT COUNT(*) FROM turns").Scan(&n); err != nil {
		return 0, fmt.Errorf("count turns: %w", err)
	}
	return n, nil
}

// RecentTurns returns the newest n turns, oldest first.
func (a *Archive) RecentTurns(n int) ([]Turn, error) {
	rows, err := a.db.Query(
		"SELECT role, text, created_at FROM turns ORDER BY id DESC LIMIT ?", n,
	)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var out []Turn
	for rows.Next() {
		var role, text, created string
		if err := rows.Scan(&role, &text, &created); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		ts, _ := time.Parse(time.RFC3339Nano, created)
		out = append(out, Turn{Role: Role(role), Text: text, Timestamp: ts})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse into chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Close closes the database.
func (a *Archive) Close() error { return a.db.Close() }
