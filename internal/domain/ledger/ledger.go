// Package ledger defines immutable balance ledger entries.
package ledger

import "time"

// EntryType is the kind of balance mutation an entry records.
type EntryType string

const (
	// TypeConsume debits the cost of a generation job.
	TypeConsume EntryType = "consume"
	// TypeRefund credits back the cost of a failed job.
	TypeRefund EntryType = "refund"
	// TypeRecharge credits a manual top-up.
	TypeRecharge EntryType = "recharge"
)

// Entry records one balance mutation. Amount is always positive; the type
// carries the direction. BalanceAfter equals the user's balance immediately
// after this entry's mutation.
type Entry struct {
	ID           int64     `json:"id"`
	TenantID     int64     `json:"tenant_id"`
	UserID       int64     `json:"user_id"`
	Type         EntryType `json:"type"`
	Amount       int64     `json:"amount"`
	BalanceAfter int64     `json:"balance_after"`
	JobID        *int64    `json:"job_id,omitempty"`
	TradeNo      string    `json:"trade_no"`
	Remark       string    `json:"remark,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Credit reports whether the entry increased the balance.
func (t EntryType) Credit() bool {
	return t == TypeRefund || t == TypeRecharge
}
