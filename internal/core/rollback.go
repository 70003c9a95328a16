package core

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/agenthands/cobalt/internal/types"
)

// Rollback restores every entity captured in the audit record's before
// snapshot and marks the record rolled back, atomically. A record can be
// rolled back once; repeat calls return ErrAlreadyRolledBack.
func (c *Consolidator) Rollback(ctx context.Context, auditID, reason string) (*types.AuditRecord, error) {
	record, err := c.store.GetAuditRecord(ctx, auditID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, fmt.Errorf("%w: %s", types.ErrAuditNotFound, auditID)
	}
	if record.RolledBack() {
		return nil, fmt.Errorf("%w: %s", types.ErrAlreadyRolledBack, auditID)
	}

	lock := c.typeLocks[record.EntityType]
	if lock != nil {
		lock.Lock()
		defer lock.Unlock()
	}

	entities, err := types.DecodeSnapshot(record.BeforeSnapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to decode audit snapshot: %w", err)
	}

	now := time.Now().UTC()
	tx, err := c.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	commit := func() error {
		for _, e := range entities {
			if err := tx.UpsertEntity(ctx, e); err != nil {
				return err
			}
		}
		if err := tx.MarkAuditRolledBack(ctx, auditID, reason, now); err != nil {
			return err
		}
		return tx.Commit(ctx)
	}
	if err := commit(); err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("failed to roll back audit %s: %w", auditID, err)
	}

	record.RolledBackAt = &now
	record.RollbackReason = reason
	c.logger.Info("rolled back merge",
		zap.String("audit_id", auditID),
		zap.String("primary_id", record.PrimaryEntityID),
		zap.Int("restored", len(entities)),
		zap.String("reason", reason))
	return record, nil
}
