package messagequeue

// JobStatusPayload is the schema for jobs.status messages. TenantID routes
// the event to the owning tenant's WebSocket clients only.
type JobStatusPayload struct {
	JobID         int64  `json:"job_id"`
	TenantID      int64  `json:"tenant_id"`
	UserID        int64  `json:"user_id"`
	Status        string `json:"status"`
	FailureReason string `json:"failure_reason,omitempty"`
	ResultURL     string `json:"result_url,omitempty"`
	Refunded      int64  `json:"refunded,omitempty"`
}

// JobSubmittedPayload is the schema for jobs.submitted messages.
type JobSubmittedPayload struct {
	JobID          int64  `json:"job_id"`
	TenantID       int64  `json:"tenant_id"`
	Provider       string `json:"provider"`
	ProviderTaskID string `json:"provider_task_id"`
}

// TenantsRefreshPayload is the schema for tenants.refresh messages.
type TenantsRefreshPayload struct {
	Origin string `json:"origin"`
}
