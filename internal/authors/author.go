// Package authors is a small aggregate used to exercise the outbox end to end:
// its mutations raise domain events that become AuthorCreated and
// AuthorUpdated integration events.
package authors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/overtonx/eventrelay/errs"
	"github.com/overtonx/eventrelay/event"
)

var (
	ErrContractAlreadySigned = errors.New("author already has a contract")
	ErrNoContract            = errors.New("author does not have a contract")
)

const (
	maxIDLength        = 11
	maxFirstNameLength = 20
	maxLastNameLength  = 40
)

type Name struct {
	First string
	Last  string
}

func NewName(first, last string) (Name, error) {
	first, last = strings.TrimSpace(first), strings.TrimSpace(last)
	switch {
	case first == "":
		return Name{}, fmt.Errorf("%w: first name cannot be empty", errs.ErrValidation)
	case last == "":
		return Name{}, fmt.Errorf("%w: last name cannot be empty", errs.ErrValidation)
	case len(first) > maxFirstNameLength:
		return Name{}, fmt.Errorf("%w: first name cannot exceed %d characters", errs.ErrValidation, maxFirstNameLength)
	case len(last) > maxLastNameLength:
		return Name{}, fmt.Errorf("%w: last name cannot exceed %d characters", errs.ErrValidation, maxLastNameLength)
	}
	return Name{First: first, Last: last}, nil
}

func (n Name) Full() string {
	return n.First + " " + n.Last
}

// Address is optional. It is kept only when street and city are both set.
type Address struct {
	Street  string
	City    string
	State   string
	ZipCode string
}

func (a *Address) normalize() *Address {
	if a == nil || strings.TrimSpace(a.Street) == "" || strings.TrimSpace(a.City) == "" {
		return nil
	}
	cp := *a
	return &cp
}

type Details struct {
	FirstName   string
	LastName    string
	Phone       string
	Address     *Address
	HasContract bool
}

type Author struct {
	event.Aggregate

	ID          string
	Name        Name
	Phone       string
	Address     *Address
	HasContract bool
}

func Create(id string, d Details) (*Author, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: author id cannot be empty", errs.ErrValidation)
	}
	if len(id) > maxIDLength {
		return nil, fmt.Errorf("%w: author id cannot exceed %d characters", errs.ErrValidation, maxIDLength)
	}

	a := &Author{ID: id}
	if err := a.apply(d); err != nil {
		return nil, err
	}

	a.Record(AuthorCreatedDomainEvent{
		BaseDomainEvent: event.NewBaseDomainEvent(),
		AuthorID:        a.ID,
		FirstName:       a.Name.First,
		LastName:        a.Name.Last,
	})
	return a, nil
}

func (a *Author) Update(d Details) error {
	if err := a.apply(d); err != nil {
		return err
	}
	a.recordUpdated()
	return nil
}

func (a *Author) SignContract() error {
	if a.HasContract {
		return ErrContractAlreadySigned
	}
	a.HasContract = true
	a.recordUpdated()
	return nil
}

func (a *Author) TerminateContract() error {
	if !a.HasContract {
		return ErrNoContract
	}
	a.HasContract = false
	a.recordUpdated()
	return nil
}

func (a *Author) apply(d Details) error {
	name, err := NewName(d.FirstName, d.LastName)
	if err != nil {
		return err
	}
	phone := strings.TrimSpace(d.Phone)
	if phone == "" {
		return fmt.Errorf("%w: phone cannot be empty", errs.ErrValidation)
	}

	a.Name = name
	a.Phone = phone
	a.Address = d.Address.normalize()
	a.HasContract = d.HasContract
	return nil
}

func (a *Author) recordUpdated() {
	a.Record(AuthorUpdatedDomainEvent{
		BaseDomainEvent: event.NewBaseDomainEvent(),
		AuthorID:        a.ID,
		HasContract:     a.HasContract,
	})
}
