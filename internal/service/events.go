package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Strob0t/SiteKeeper/internal/port/broadcast"
	"github.com/Strob0t/SiteKeeper/internal/port/messagequeue"
	"github.com/Strob0t/SiteKeeper/internal/tenantctx"
)

// JobEventRelay forwards jobs.status messages from the queue to the
// connected clients of the job's tenant on this instance.
type JobEventRelay struct {
	out broadcast.Broadcaster
}

// NewJobEventRelay creates a relay that delivers through out.
func NewJobEventRelay(out broadcast.Broadcaster) *JobEventRelay {
	return &JobEventRelay{out: out}
}

// HandleJobStatus is a messagequeue.Handler for jobs.status.
func (r *JobEventRelay) HandleJobStatus(ctx context.Context, _ string, data []byte) error {
	var p messagequeue.JobStatusPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decode job status: %w", err)
	}
	if p.JobID <= 0 {
		return errors.New("job status without job id")
	}
	return tenantctx.Scope(ctx, p.TenantID, func(ctx context.Context) error {
		r.out.BroadcastEvent(ctx, p.TenantID, broadcast.EventJobStatus, p)
		return nil
	})
}
