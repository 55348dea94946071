package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/xraph/reportflow/audit"
)

type auditModel struct {
	ID           string    `bson:"_id"`
	TenantID     string    `bson:"tenant_id"`
	Action       string    `bson:"action"`
	ResourceType string    `bson:"resource_type"`
	ResourceID   string    `bson:"resource_id"`
	CreatedAt    time.Time `bson:"created_at"`
	Doc          string    `bson:"doc"`
}

// AppendAudit inserts an audit entry.
func (s *Store) AppendAudit(ctx context.Context, e *audit.Entry) error {
	doc, err := encodeDoc(e, "audit entry")
	if err != nil {
		return err
	}
	m := &auditModel{
		ID:           e.ID.String(),
		TenantID:     e.TenantID,
		Action:       e.Action,
		ResourceType: e.ResourceType,
		ResourceID:   e.ResourceID,
		CreatedAt:    e.CreatedAt,
		Doc:          doc,
	}
	if _, err := s.col(colAudit).InsertOne(ctx, m); err != nil {
		return fmt.Errorf("reportflow/mongo: append audit: %w", err)
	}
	return nil
}

// ListAudit returns a tenant's entries newest first.
func (s *Store) ListAudit(ctx context.Context, tenantID string, opts audit.ListOpts) ([]*audit.Entry, error) {
	return findDocs[audit.Entry](ctx, s.col(colAudit), auditFilter(tenantID, opts),
		pageOpts("created_at", -1, opts.Limit, opts.Offset), "audit entry")
}

// CountAudit returns the number of entries matching opts.
func (s *Store) CountAudit(ctx context.Context, tenantID string, opts audit.ListOpts) (int64, error) {
	n, err := s.col(colAudit).CountDocuments(ctx, auditFilter(tenantID, opts))
	if err != nil {
		return 0, fmt.Errorf("reportflow/mongo: count audit: %w", err)
	}
	return n, nil
}

func auditFilter(tenantID string, opts audit.ListOpts) bson.M {
	f := bson.M{"tenant_id": tenantID}
	if opts.Action != "" {
		f["action"] = opts.Action
	}
	if opts.ResourceType != "" {
		f["resource_type"] = opts.ResourceType
	}
	if opts.ResourceID != "" {
		f["resource_id"] = opts.ResourceID
	}
	return f
}
