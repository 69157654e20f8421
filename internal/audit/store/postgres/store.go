package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"doorledger/internal/audit"
	id "doorledger/pkg/domain"
	txcontext "doorledger/pkg/platform/tx"
)

// Store persists audit entries in the audit_log table. Appends run on their
// own connection after the primary mutation commits; a failed append never
// rolls anything back.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Append(ctx context.Context, entry audit.Entry) error {
	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("marshal audit metadata: %w", err)
	}

	const stmt = `
		INSERT INTO audit_log (id, user_id, action, resource_type, resource_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = txcontext.Executor(ctx, s.pool).Exec(ctx, stmt,
		uuid.New(),
		uuid.UUID(entry.UserID),
		entry.Action,
		entry.ResourceType,
		entry.ResourceID,
		metadata,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (s *Store) ListByResource(ctx context.Context, resourceType, resourceID string) ([]audit.Entry, error) {
	const query = `
		SELECT user_id, action, resource_type, resource_id, metadata, created_at
		FROM audit_log
		WHERE resource_type = $1 AND resource_id = $2
		ORDER BY created_at DESC
	`
	rows, err := txcontext.Executor(ctx, s.pool).Query(ctx, query, resourceType, resourceID)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		var (
			entry    audit.Entry
			userID   uuid.UUID
			metadata []byte
		)
		if err := rows.Scan(&userID, &entry.Action, &entry.ResourceType, &entry.ResourceID, &metadata, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entry.UserID = id.UserID(userID)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &entry.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal audit metadata: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}
