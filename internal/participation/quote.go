package participation

import (
	"sort"

	"github.com/shopspring/decimal"
)

type Bonus string

const (
	BonusNone Bonus = ""
	// BonusSeries: every event has at least one participation, the cheapest new item is free.
	BonusSeries Bonus = "series"
	// BonusDouble: every event has at least two participations, the two cheapest new items are free.
	BonusDouble Bonus = "double"
)

type Prices struct {
	Ticket   decimal.Decimal
	NoTicket decimal.Decimal
}

type Quote struct {
	Items    int             `json:"items"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Discount decimal.Decimal `json:"discount"`
	Total    decimal.Decimal `json:"total"`
	Bonus    Bonus           `json:"bonus,omitempty"`
}

// quote prices the new items of sel. Confirmed items are free but count
// towards the bonus, which looks at every event of the overview.
func quote(ov *Overview, sel Selection, prices Prices) Quote {
	counts := make(map[int64]int)
	universe := make(map[int64]bool)

	for _, g := range ov.TicketGroups {
		universe[g.Event.ID] = true
		for _, opt := range g.Tickets {
			if opt.Confirmed {
				counts[g.Event.ID]++
			}
		}
	}
	for _, opt := range ov.NoTicketEvents {
		universe[opt.Event.ID] = true
		if opt.Confirmed {
			counts[opt.Event.ID]++
		}
	}

	r := ov.resolve(sel)
	var items []decimal.Decimal
	for _, t := range r.tickets {
		counts[t.EventID]++
		items = append(items, prices.Ticket)
	}
	for _, e := range r.events {
		counts[e.ID]++
		items = append(items, prices.NoTicket)
	}

	q := Quote{Items: len(items), Subtotal: decimal.Zero, Discount: decimal.Zero}
	for _, p := range items {
		q.Subtotal = q.Subtotal.Add(p)
	}

	if len(items) > 0 && len(universe) > 0 {
		minCount := -1
		for id := range universe {
			if minCount < 0 || counts[id] < minCount {
				minCount = counts[id]
			}
		}

		sort.Slice(items, func(i, j int) bool { return items[i].LessThan(items[j]) })
		free := 0
		switch {
		case minCount >= 2:
			q.Bonus = BonusDouble
			free = 2
		case minCount >= 1:
			q.Bonus = BonusSeries
			free = 1
		}
		for i := 0; i < free && i < len(items); i++ {
			q.Discount = q.Discount.Add(items[i])
		}
	}

	q.Total = q.Subtotal.Sub(q.Discount)
	return q
}
