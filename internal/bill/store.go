package bill

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// ChangeKind tells listeners what happened to the bill.
type ChangeKind int

const (
	// ChangeUpdate is any mutation of a live bill.
	ChangeUpdate ChangeKind = iota
	// ChangeReset is the "new bill" action.
	ChangeReset
)

// Change is delivered to listeners after every successful mutation.
type Change struct {
	Kind  ChangeKind
	State State
}

// Listener observes a Store.
type Listener func(Change)

// ItemUpdate carries the fields to change on an item. Nil fields are left
// untouched.
type ItemUpdate struct {
	Label *string
	Price *string
	Qty   *int
}

// Store is the single owner of a bill's State. Every mutation goes through
// one of its methods, which keeps assignments free of dangling ids.
//
// Store is not safe for concurrent use; callers serialize access.
type Store struct {
	state     State
	listeners []Listener
}

// NewStore creates a store holding an empty bill.
func NewStore() *Store {
	return &Store{state: NewState()}
}

// NewStoreFromState creates a store hydrated from a previously saved bill.
func NewStoreFromState(state State) *Store {
	return &Store{state: state.Clone()}
}

// OnChange registers a listener. Listeners run synchronously, in
// registration order, after the mutation has been applied.
func (s *Store) OnChange(l Listener) {
	s.listeners = append(s.listeners, l)
}

// State returns a copy of the current bill.
func (s *Store) State() State {
	return s.state.Clone()
}

// Step returns the active wizard step.
func (s *Store) Step() Step {
	return s.state.Step
}

// Total sums price × qty over all items.
func (s *Store) Total() decimal.Decimal {
	return s.state.Total()
}

func (s *Store) notify(kind ChangeKind) {
	if len(s.listeners) == 0 {
		return
	}
	change := Change{Kind: kind, State: s.state.Clone()}
	for _, l := range s.listeners {
		l(change)
	}
}

// commit installs next as the current state and notifies listeners.
func (s *Store) commit(next State) {
	s.state = next
	s.notify(ChangeUpdate)
}

func (s *State) newItem(label, price string, qty int) Item {
	item := Item{ID: s.NextItemID, Label: label, Price: price, Qty: qty}
	s.NextItemID++
	return item
}

// AddItem appends a blank row.
func (s *Store) AddItem() Item {
	next := s.state.Clone()
	item := next.newItem("", "", 1)
	next.Items = append(next.Items, item)
	s.commit(next)
	return item
}

// RemoveItem deletes an item together with its assignment entry.
func (s *Store) RemoveItem(id int) error {
	idx := s.state.itemIndex(id)
	if idx < 0 {
		return fmt.Errorf("%w: %d", ErrItemNotFound, id)
	}
	next := s.state.Clone()
	next.Items = append(next.Items[:idx], next.Items[idx+1:]...)
	delete(next.Assignments, id)
	s.commit(next)
	return nil
}

// DuplicateItem inserts a copy of the item right after it. The copy gets a
// new id, quantity 1 and nobody assigned.
func (s *Store) DuplicateItem(id int) (Item, error) {
	idx := s.state.itemIndex(id)
	if idx < 0 {
		return Item{}, fmt.Errorf("%w: %d", ErrItemNotFound, id)
	}
	next := s.state.Clone()
	src := next.Items[idx]
	dup := next.newItem(src.Label, src.Price, 1)
	next.Items = append(next.Items[:idx+1], append([]Item{dup}, next.Items[idx+1:]...)...)
	s.commit(next)
	return dup, nil
}

// UpdateItem changes the given fields of an item.
func (s *Store) UpdateItem(id int, update ItemUpdate) (Item, error) {
	idx := s.state.itemIndex(id)
	if idx < 0 {
		return Item{}, fmt.Errorf("%w: %d", ErrItemNotFound, id)
	}
	if update.Qty != nil && *update.Qty < 1 {
		return Item{}, fmt.Errorf("%w: %d", ErrInvalidQuantity, *update.Qty)
	}

	next := s.state.Clone()
	item := &next.Items[idx]
	if update.Label != nil {
		item.Label = *update.Label
	}
	if update.Price != nil {
		item.Price = strings.TrimSpace(*update.Price)
	}
	if update.Qty != nil {
		item.Qty = *update.Qty
	}
	updated := *item
	s.commit(next)
	return updated, nil
}

// ReplaceItems swaps the whole item list. Incoming ids are ignored and new
// ones assigned. An empty list is replaced by one blank row.
func (s *Store) ReplaceItems(items []Item) []Item {
	next := s.state.Clone()
	next.replaceItems(items)
	s.commit(next)
	return append([]Item(nil), next.Items...)
}

func (s *State) replaceItems(items []Item) {
	s.Items = make([]Item, 0, len(items))
	for _, in := range items {
		qty := in.Qty
		if qty < 1 {
			qty = 1
		}
		s.Items = append(s.Items, s.newItem(in.Label, in.Price, qty))
	}
	if len(s.Items) == 0 {
		s.Items = append(s.Items, s.newItem("", "", 1))
	}
	s.Assignments = map[int][]int{}
}

// AddPerson adds someone to the bill. Blank names are rejected.
func (s *Store) AddPerson(name string) (Person, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Person{}, ErrEmptyName
	}
	next := s.state.Clone()
	person := Person{ID: next.NextPersonID, Name: name}
	next.NextPersonID++
	next.People = append(next.People, person)
	s.commit(next)
	return person, nil
}

// RemovePerson deletes someone and takes them off every item they shared.
func (s *Store) RemovePerson(id int) error {
	if !s.state.hasPerson(id) {
		return fmt.Errorf("%w: %d", ErrPersonNotFound, id)
	}
	next := s.state.Clone()
	people := next.People[:0]
	for _, p := range next.People {
		if p.ID != id {
			people = append(people, p)
		}
	}
	next.People = people
	for itemID, personIDs := range next.Assignments {
		next.Assignments[itemID] = without(personIDs, id)
	}
	s.commit(next)
	return nil
}

// SetAssignment replaces who shares an item. Ids of people not on the bill
// are dropped.
func (s *Store) SetAssignment(itemID int, personIDs []int) error {
	if s.state.itemIndex(itemID) < 0 {
		return fmt.Errorf("%w: %d", ErrItemNotFound, itemID)
	}
	next := s.state.Clone()
	next.Assignments[itemID] = next.normalizeAssignees(personIDs)
	s.commit(next)
	return nil
}

// Toggle adds the person to the item if absent, removes them otherwise.
func (s *Store) Toggle(itemID, personID int) error {
	if s.state.itemIndex(itemID) < 0 {
		return fmt.Errorf("%w: %d", ErrItemNotFound, itemID)
	}
	if !s.state.hasPerson(personID) {
		return fmt.Errorf("%w: %d", ErrPersonNotFound, personID)
	}
	next := s.state.Clone()
	current := next.Assignments[itemID]
	if contains(current, personID) {
		next.Assignments[itemID] = without(current, personID)
	} else {
		next.Assignments[itemID] = next.normalizeAssignees(append(current, personID))
	}
	s.commit(next)
	return nil
}

// AssignAll puts everyone on the item.
func (s *Store) AssignAll(itemID int) error {
	ids := make([]int, 0, len(s.state.People))
	for _, p := range s.state.People {
		ids = append(ids, p.ID)
	}
	return s.SetAssignment(itemID, ids)
}

// AssignNone takes everyone off the item.
func (s *Store) AssignNone(itemID int) error {
	return s.SetAssignment(itemID, nil)
}

// Reset returns to an empty bill at the upload step.
func (s *Store) Reset() {
	s.state = NewState()
	s.notify(ChangeReset)
}

// normalizeAssignees keeps ids of people on the bill, sorted and unique.
func (s *State) normalizeAssignees(personIDs []int) []int {
	seen := make(map[int]bool, len(personIDs))
	out := make([]int, 0, len(personIDs))
	for _, id := range personIDs {
		if seen[id] || !s.hasPerson(id) {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

func contains(ids []int, id int) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func without(ids []int, id int) []int {
	out := make([]int, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
