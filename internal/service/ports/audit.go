package ports

import (
	"context"

	"github.com/google/uuid"
)

// AuditSink records lifecycle transitions out of band. Failures are logged by
// implementations, never propagated into the operation that triggered them.
type AuditSink interface {
	Record(ctx context.Context, action string, userID uuid.UUID, data map[string]interface{}) error
}
