package authors

import (
	"github.com/overtonx/eventrelay/event"
)

const (
	TypeAuthorCreated = "AuthorCreated"
	TypeAuthorUpdated = "AuthorUpdated"
)

// AuthorCreatedDomainEvent is raised by Create.
type AuthorCreatedDomainEvent struct {
	event.BaseDomainEvent
	AuthorID  string
	FirstName string
	LastName  string
}

func (AuthorCreatedDomainEvent) EventType() string { return "AuthorCreatedDomainEvent" }

func (e AuthorCreatedDomainEvent) IntegrationEvent() event.IntegrationEvent {
	return AuthorCreated{
		BaseIntegrationEvent: event.NewBaseIntegrationEvent(),
		AuthorID:             e.AuthorID,
		FirstName:            e.FirstName,
		LastName:             e.LastName,
	}
}

// AuthorUpdatedDomainEvent is raised by every mutation after creation.
type AuthorUpdatedDomainEvent struct {
	event.BaseDomainEvent
	AuthorID    string
	HasContract bool
}

func (AuthorUpdatedDomainEvent) EventType() string { return "AuthorUpdatedDomainEvent" }

func (e AuthorUpdatedDomainEvent) IntegrationEvent() event.IntegrationEvent {
	return AuthorUpdated{
		BaseIntegrationEvent: event.NewBaseIntegrationEvent(),
		AuthorID:             e.AuthorID,
		HasContract:          e.HasContract,
	}
}

// AuthorCreated is published to other services when an author is created.
type AuthorCreated struct {
	event.BaseIntegrationEvent
	AuthorID  string `json:"author_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func (AuthorCreated) EventType() string { return TypeAuthorCreated }

type AuthorUpdated struct {
	event.BaseIntegrationEvent
	AuthorID    string `json:"author_id"`
	HasContract bool   `json:"has_contract"`
}

func (AuthorUpdated) EventType() string { return TypeAuthorUpdated }

// PartitionKey returns the author id of an author integration event, or "".
// Brokers keyed on it keep one author's events in order.
func PartitionKey(ev event.IntegrationEvent) string {
	switch e := ev.(type) {
	case AuthorCreated:
		return e.AuthorID
	case *AuthorCreated:
		return e.AuthorID
	case AuthorUpdated:
		return e.AuthorID
	case *AuthorUpdated:
		return e.AuthorID
	}
	return ""
}

// Register adds the author integration events to registry.
func Register(registry *event.Registry) error {
	if err := event.RegisterJSON[AuthorCreated](registry); err != nil {
		return err
	}
	return event.RegisterJSON[AuthorUpdated](registry)
}
