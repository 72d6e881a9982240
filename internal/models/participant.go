package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// Participant is a confirmed attendance/payment for one email at one event.
// TicketUUID is empty when the attendance has no backing ticket.
type Participant struct {
	bun.BaseModel `bun:"table:participants"`

	ID         int64           `bun:"id,pk,autoincrement" json:"id"`
	Name       string          `bun:"name,notnull" json:"name" validate:"max=255"`
	Email      string          `bun:"email,notnull" json:"email" validate:"required,email"`
	EventID    int64           `bun:"event_id,notnull" json:"event_id" validate:"required,gt=0"`
	TicketUUID string          `bun:"ticket_uuid,nullzero,unique" json:"ticket_uuid,omitempty"`
	PaidAt     *time.Time      `bun:"paid_at,type:date" json:"paid_at,omitempty"`
	Amount     decimal.Decimal `bun:"amount,type:numeric(10,2),notnull" json:"amount"`
	CreatedAt  time.Time       `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt  time.Time       `bun:"updated_at,notnull" json:"updated_at"`

	Event  *Event  `bun:"rel:belongs-to,join:event_id=id" json:"event,omitempty"`
	Ticket *Ticket `bun:"rel:belongs-to,join:ticket_uuid=ticket_uuid" json:"ticket,omitempty"`
}

func (p Participant) HasTicket() bool {
	return p.TicketUUID != ""
}

// LinkReport is the outcome of a bulk autolink run
type LinkReport struct {
	Linked  int `json:"linked"`
	Skipped int `json:"skipped"`
	// Unmatched participants had no ticket and no candidate ticket either.
	Unmatched int `json:"unmatched"`
}
