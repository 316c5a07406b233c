// Package store persists incidents, hypotheses, actions and learned patterns
// in a MySQL-compatible datastore.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/sentinelops/remedy-core/internal/config"
	"github.com/sentinelops/remedy-core/pkg/logger"
)

// Store wraps the SQL connection pool.
type Store struct {
	db     *sql.DB
	logger logger.Logger
}

// New opens the datastore, verifies connectivity and ensures the schema.
func New(cfg config.DatastoreConfig, log logger.Logger) (*Store, error) {
	db, err := sql.Open("mysql", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("open datastore: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping datastore: %w", err)
	}

	s := &Store{db: db, logger: log}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewFromDB wraps an existing handle. Used by tests with sqlmock.
func NewFromDB(db *sql.DB, log logger.Logger) *Store {
	return &Store{db: db, logger: log}
}

func dsn(cfg config.DatastoreConfig) string {
	params := "parseTime=true&charset=utf8mb4"
	if cfg.TLS {
		params += "&tls=true"
	}
	keys := make([]string, 0, len(cfg.Params))
	for k := range cfg.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		params += fmt.Sprintf("&%s=%s", k, cfg.Params[k])
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database, params)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS incidents (
		id VARCHAR(36) PRIMARY KEY,
		title VARCHAR(512) NOT NULL,
		description TEXT,
		status VARCHAR(32) NOT NULL,
		severity VARCHAR(16) NOT NULL,
		affected_service VARCHAR(255) NOT NULL,
		affected_components JSON,
		detected_at TIMESTAMP NOT NULL,
		resolved_at TIMESTAMP NULL,
		metrics_snapshot JSON,
		context JSON,
		fingerprint VARCHAR(64) NOT NULL,
		duplicate_count INT NOT NULL DEFAULT 0,
		last_duplicate_at TIMESTAMP NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		INDEX idx_incidents_fingerprint (fingerprint, detected_at),
		INDEX idx_incidents_service_status (affected_service, status, detected_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS incident_events (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		incident_id VARCHAR(36) NOT NULL,
		status VARCHAR(32) NOT NULL,
		actor VARCHAR(255) NOT NULL,
		reason TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		INDEX idx_events_incident (incident_id, created_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS hypotheses (
		id VARCHAR(36) PRIMARY KEY,
		incident_id VARCHAR(36) NOT NULL,
		description TEXT NOT NULL,
		category VARCHAR(64) NOT NULL,
		confidence_score DOUBLE NOT NULL,
		rank_position INT NOT NULL,
		evidence JSON,
		reasoning TEXT,
		model_id VARCHAR(128),
		prompt_tokens INT NOT NULL DEFAULT 0,
		completion_tokens INT NOT NULL DEFAULT 0,
		supporting_signals JSON,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		INDEX idx_hypotheses_incident (incident_id, rank_position)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS actions (
		id VARCHAR(36) PRIMARY KEY,
		incident_id VARCHAR(36) NOT NULL,
		type VARCHAR(64) NOT NULL,
		name VARCHAR(255) NOT NULL,
		description TEXT,
		target_service VARCHAR(255) NOT NULL,
		target_resource VARCHAR(255),
		risk_level VARCHAR(16) NOT NULL,
		risk_score DOUBLE NOT NULL,
		blast_radius VARCHAR(16) NOT NULL,
		requires_approval BOOLEAN NOT NULL,
		parameters JSON,
		execution_mode VARCHAR(16) NOT NULL,
		status VARCHAR(32) NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		INDEX idx_actions_incident (incident_id, created_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS incident_patterns (
		pattern_id VARCHAR(255) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		category VARCHAR(64) NOT NULL,
		signal_indicators JSON,
		confidence_adjustment DOUBLE NOT NULL DEFAULT 0,
		occurrence_count INT NOT NULL DEFAULT 0,
		success_rate DOUBLE NOT NULL DEFAULT 0,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS confidence_outcomes (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		incident_id VARCHAR(36) NOT NULL,
		service_name VARCHAR(255) NOT NULL,
		hypothesis_category VARCHAR(64) NOT NULL,
		confidence_score DOUBLE NOT NULL,
		action_type VARCHAR(64),
		action_executed BOOLEAN NOT NULL,
		outcome_success BOOLEAN NOT NULL,
		outcome_status VARCHAR(32) NOT NULL,
		verification_metrics JSON,
		time_to_resolution_seconds DOUBLE NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		INDEX idx_outcomes_service (service_name, hypothesis_category, created_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

func (s *Store) ensureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// WithTx runs fn inside a transaction, rolling back on error or panic.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// HealthCheck pings the pool.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}
