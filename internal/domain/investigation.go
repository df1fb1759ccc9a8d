package domain

import (
	"time"
)

// InvestigationRecord is the archived outcome of one finished
// investigation session. Live session state is never persisted; the
// archive records history only.
type InvestigationRecord struct {
	ID        string    `json:"id"`
	Identity  string    `json:"identity"`
	Alertname string    `json:"alertname"`
	Service   string    `json:"service,omitempty"`
	RemoteID  string    `json:"remote_id,omitempty"`
	State     string    `json:"state"`
	Clean     bool      `json:"clean"`
	Messages  int       `json:"messages"`
	ToolCalls int       `json:"tool_calls"`
	Report    string    `json:"report,omitempty"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}
