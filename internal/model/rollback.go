package model

// RollbackRecord is one line in the rollback ledger: every attempt, whether
// it succeeded, failed, or was refused.
type RollbackRecord struct {
	ID        string `json:"id"`
	ActionID  string `json:"action_id"`
	Strategy  string `json:"strategy,omitempty"`
	Requester string `json:"requester"`
	Reason    string `json:"reason"`
	Success   bool   `json:"success"`
	Refused   bool   `json:"refused"`
	Message   string `json:"message,omitempty"`
	Timestamp string `json:"ts"`
}
