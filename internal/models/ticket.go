package models

import (
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// Ticket is an externally issued registration, keyed by the UUID from the export.
type Ticket struct {
	bun.BaseModel `bun:"table:tickets"`

	TicketUUID string    `bun:"ticket_uuid,pk" json:"ticket_uuid"`
	Name       string    `bun:"name,notnull" json:"name"`
	Email      string    `bun:"email,notnull" json:"email"`
	Comment    string    `bun:"comment,notnull" json:"comment"`
	EventID    int64     `bun:"event_id,notnull" json:"event_id"`
	CreatedAt  time.Time `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt  time.Time `bun:"updated_at,notnull" json:"updated_at"`

	Event *Event `bun:"rel:belongs-to,join:event_id=id" json:"event,omitempty"`
}

// MatchesEmail compares emails the way the linker does: case-insensitive, trimmed.
func (t Ticket) MatchesEmail(email string) bool {
	return strings.EqualFold(strings.TrimSpace(t.Email), strings.TrimSpace(email))
}

// TicketListItem is a ticket row annotated with its payment state
type TicketListItem struct {
	Ticket
	IsPaid bool `json:"is_paid"`
}

type TicketFilter struct {
	EventID int64
	Query   string
	Page    int
	PerPage int
}
