package source

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/specific-affinity/affinity/internal/config"
	"github.com/specific-affinity/affinity/internal/engine"
)

// PostgresConnection holds a connection to an upstream Postgres database
// used as a record source.
type PostgresConnection struct {
	DB *sql.DB
}

// NewPostgresConnection connects using the standard PG* environment
// variables.
func NewPostgresConnection() (*PostgresConnection, error) {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		config.GetEnv("PGHOST", "localhost"),
		config.GetEnv("PGPORT", "5432"),
		config.GetEnv("PGUSER", "user"),
		config.GetEnv("PGPASSWORD", "password"),
		config.GetEnv("PGDATABASE", "affinity"),
		config.GetEnv("PGSSLMODE", "disable"),
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	return &PostgresConnection{DB: db}, nil
}

// Close closes the connection.
func (c *PostgresConnection) Close() error {
	return c.DB.Close()
}

// LoadRecords reads (id, text) rows from the named table. Rows with a NULL
// or empty text field are skipped.
func (c *PostgresConnection) LoadRecords(table, idField, textField string) ([]engine.Record, error) {
	query := fmt.Sprintf(
		`SELECT %s, %s FROM %s WHERE %s IS NOT NULL AND LENGTH(TRIM(%s)) > 0 ORDER BY %s`,
		idField, textField, table, textField, textField, idField,
	)

	rows, err := c.DB.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer rows.Close()

	var records []engine.Record
	for rows.Next() {
		var r engine.Record
		if err := rows.Scan(&r.ID, &r.Text); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
