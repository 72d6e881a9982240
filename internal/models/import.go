package models

import "time"

// ImportResult holds the row counters of one CSV import
type ImportResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
	Skipped int `json:"skipped"`
}

func (r ImportResult) Total() int {
	return r.Created + r.Updated + r.Deleted + r.Skipped
}

// ImportCompletedEvent is published after an import transaction commits
type ImportCompletedEvent struct {
	ImportID   string       `json:"import_id"`
	Source     string       `json:"source"`
	Result     ImportResult `json:"result"`
	FinishedAt time.Time    `json:"finished_at"`
}

// ParticipationConfirmedEvent is published after a reconciliation confirm
type ParticipationConfirmedEvent struct {
	Email       string    `json:"email"`
	TicketUUIDs []string  `json:"ticket_uuids"`
	EventIDs    []int64   `json:"event_ids"`
	Touched     int       `json:"touched"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}
