package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrRuleNotFound is returned when a custom rule does not exist.
var ErrRuleNotFound = errors.New("custom rule not found")

// ErrInvalidRuleName is returned for empty names or names containing NUL.
var ErrInvalidRuleName = errors.New("invalid rule name")

// CustomRule is one operator-defined rule.
type CustomRule struct {
	Name      string    `json:"name"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RulesDatabase stores custom rules.
type RulesDatabase struct {
	db *Database
}

// NewRulesDatabase opens the database and migrates the schema.
func NewRulesDatabase(dbPath string) (*RulesDatabase, error) {
	database, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	rdb := &RulesDatabase{db: database}
	if err := rdb.migrate(context.Background()); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate rules database: %w", err)
	}
	return rdb, nil
}

func (rdb *RulesDatabase) migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS custom_rules (
			name TEXT PRIMARY KEY NOT NULL,
			value TEXT NOT NULL DEFAULT '',
			position INTEGER NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_custom_rules_position ON custom_rules(position);
	`
	if _, err := rdb.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}
	log.Debug().Msg("database schema migrated")
	return nil
}

func validRuleName(name string) bool {
	return name != "" && !strings.ContainsRune(name, 0)
}

// ListRules returns all custom rules in insertion order.
func (rdb *RulesDatabase) ListRules(ctx context.Context) ([]CustomRule, error) {
	rows, err := rdb.db.Query(ctx,
		"SELECT name, value, updated_at FROM custom_rules ORDER BY position")
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	rules := []CustomRule{}
	for rows.Next() {
		var r CustomRule
		if err := rows.Scan(&r.Name, &r.Value, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// GetRule returns a single rule by name.
func (rdb *RulesDatabase) GetRule(ctx context.Context, name string) (CustomRule, error) {
	r := CustomRule{Name: name}
	err := rdb.db.QueryRow(ctx,
		"SELECT value, updated_at FROM custom_rules WHERE name = ?", name).
		Scan(&r.Value, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return r, ErrRuleNotFound
	}
	if err != nil {
		return r, fmt.Errorf("failed to get rule %s: %w", name, err)
	}
	return r, nil
}

// SetRule inserts or updates a rule. An updated rule keeps its position.
func (rdb *RulesDatabase) SetRule(ctx context.Context, name, value string) error {
	if !validRuleName(name) {
		return ErrInvalidRuleName
	}
	return rdb.db.Transaction(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		res, err := tx.ExecContext(ctx,
			"UPDATE custom_rules SET value = ?, updated_at = ? WHERE name = ?",
			value, now, name)
		if err != nil {
			return fmt.Errorf("failed to update rule: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return nil
		}

		var next int64
		if err := tx.QueryRowContext(ctx,
			"SELECT COALESCE(MAX(position), 0) + 1 FROM custom_rules").Scan(&next); err != nil {
			return fmt.Errorf("failed to allocate position: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO custom_rules (name, value, position, updated_at) VALUES (?, ?, ?, ?)",
			name, value, next, now); err != nil {
			return fmt.Errorf("failed to insert rule: %w", err)
		}

		log.Info().Str("rule", name).Msg("custom rule created")
		return nil
	})
}

// DeleteRule removes a rule. It returns ErrRuleNotFound when nothing was deleted.
func (rdb *RulesDatabase) DeleteRule(ctx context.Context, name string) error {
	res, err := rdb.db.Exec(ctx, "DELETE FROM custom_rules WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// Close closes the database.
func (rdb *RulesDatabase) Close() error {
	return rdb.db.Close()
}
