package models

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

type Event struct {
	bun.BaseModel `bun:"table:events"`

	ID   int64     `bun:"id,pk,autoincrement" json:"id"`
	Name string    `bun:"name,notnull" json:"name"`
	Date time.Time `bun:"date,type:date,notnull" json:"date"`
}

func (e Event) String() string {
	return fmt.Sprintf("%s (%s)", e.Name, e.Date.Format("2006-01-02"))
}

// EventStats carries the per-event counters shown in event listings
type EventStats struct {
	Event
	TicketsCount      int `bun:"tickets_count" json:"tickets_count"`
	ParticipantsCount int `bun:"participants_count" json:"participants_count"`
}
