package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	_ "github.com/lib/pq"
)

// PostgresLog is an optional durable sink. The schema is managed by
// cmd/migrate; inserts only, no updates or deletes.
type PostgresLog struct {
	DB *sql.DB
}

// OpenPostgres connects to dsn and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresLog, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresLog{DB: db}, nil
}

func (p *PostgresLog) Append(ctx context.Context, rec Record) error {
	if p == nil || p.DB == nil {
		return errors.New("audit db not initialized")
	}
	var details []byte
	if rec.Details != nil {
		data, err := json.Marshal(rec.Details)
		if err != nil {
			return err
		}
		details = data
	}
	_, err := p.DB.ExecContext(ctx,
		`INSERT INTO audit_records (actor, recorded_at, target_project, operation_id, outcome, correlation_id, details)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.Actor, rec.Timestamp, rec.TargetProject, rec.OperationID, rec.Outcome, rec.CorrelationID, details)
	return err
}

func (p *PostgresLog) List(ctx context.Context) ([]Record, error) {
	if p == nil || p.DB == nil {
		return nil, errors.New("audit db not initialized")
	}
	rows, err := p.DB.QueryContext(ctx,
		`SELECT actor, recorded_at, target_project, operation_id, outcome, correlation_id, details
		 FROM audit_records ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var rec Record
		var details []byte
		if err := rows.Scan(&rec.Actor, &rec.Timestamp, &rec.TargetProject, &rec.OperationID, &rec.Outcome, &rec.CorrelationID, &details); err != nil {
			return nil, err
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &rec.Details); err != nil {
				return nil, err
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *PostgresLog) Close() error {
	if p == nil || p.DB == nil {
		return nil
	}
	return p.DB.Close()
}
