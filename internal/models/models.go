package models

import "time"

type TicketStatus string

const (
	TicketNew       TicketStatus = "new"
	TicketWaiting   TicketStatus = "waiting"
	TicketOffered   TicketStatus = "offered"
	TicketActive    TicketStatus = "active"
	TicketPaused    TicketStatus = "paused"
	TicketFinished  TicketStatus = "finished"
	TicketAbandoned TicketStatus = "abandoned"
	TicketUnserved  TicketStatus = "unserved"
)

// Terminal reports whether no further transition is allowed from s.
func (s TicketStatus) Terminal() bool {
	switch s {
	case TicketFinished, TicketAbandoned, TicketUnserved:
		return true
	}
	return false
}

// Assignable reports whether a ticket in this status may carry an
// assigned operator. Every other status requires assigned_operator NULL.
func (s TicketStatus) Assignable() bool {
	switch s {
	case TicketOffered, TicketActive, TicketPaused:
		return true
	}
	return false
}

var ticketTransitions = map[TicketStatus][]TicketStatus{
	TicketNew:     {TicketWaiting},
	TicketWaiting: {TicketOffered, TicketAbandoned, TicketUnserved},
	TicketOffered: {TicketActive, TicketWaiting, TicketAbandoned},
	TicketActive:  {TicketPaused, TicketFinished, TicketAbandoned},
	TicketPaused:  {TicketActive, TicketAbandoned},
}

// CanTransition reports whether from -> to is a legal ticket transition.
func CanTransition(from, to TicketStatus) bool {
	for _, next := range ticketTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Ticket struct {
	ID               string       `json:"id"`
	Code             int64        `json:"code"`
	Status           TicketStatus `json:"status"`
	AssignedOperator *string      `json:"assigned_operator"`
	Priority         int          `json:"priority"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// RoleAdmin operators never enter the rotation ring and never receive offers.
const RoleAdmin = "admin"

type Operator struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	Enabled   bool      `json:"enabled"`
	Reachable bool      `json:"reachable"`
	Position  *int      `json:"position"`
	UpdatedAt time.Time `json:"updated_at"`
}

type OfferState string

const (
	OfferPending  OfferState = "pending"
	OfferAccepted OfferState = "accepted"
	OfferRejected OfferState = "rejected"
	OfferExpired  OfferState = "expired"
)

type Offer struct {
	ID         string     `json:"id"`
	TicketID   string     `json:"ticket_id"`
	OperatorID string     `json:"operator_id"`
	State      OfferState `json:"state"`
	CreatedAt  time.Time  `json:"created_at"`
	Deadline   time.Time  `json:"deadline"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

const (
	TableTickets   = "tickets"
	TableOperators = "operators"
)

// ChangeEvent is one mutation pushed by the store's notification feed.
// Exactly one of Ticket or Operator is set, according to Table.
type ChangeEvent struct {
	Table    string    `json:"table"`
	Op       string    `json:"op"`
	Ticket   *Ticket   `json:"ticket,omitempty"`
	Operator *Operator `json:"operator,omitempty"`
}
