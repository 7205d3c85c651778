// Package bill owns the state of a bill being split: its items, the people
// sharing it, who shares which item, and where the user is in the wizard.
package bill

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Step is one stage of the wizard.
type Step string

const (
	StepUpload  Step = "upload"
	StepItems   Step = "items"
	StepPeople  Step = "people"
	StepAssign  Step = "assign"
	StepSummary Step = "summary"
)

// Steps lists the wizard stages in order.
var Steps = []Step{StepUpload, StepItems, StepPeople, StepAssign, StepSummary}

// legacyStepPrefix is how older snapshots named their steps ("step-items").
const legacyStepPrefix = "step-"

// ParseStep resolves a step name. Names carrying the legacy "step-" prefix
// are accepted.
func ParseStep(name string) (Step, bool) {
	name = strings.TrimPrefix(strings.TrimSpace(name), legacyStepPrefix)
	for _, s := range Steps {
		if string(s) == name {
			return s, true
		}
	}
	return "", false
}

// Index returns the position of the step in Steps, or -1.
func (s Step) Index() int {
	for i, step := range Steps {
		if step == s {
			return i
		}
	}
	return -1
}

// Item is a priced line of the bill.
type Item struct {
	ID    int    `json:"id"`
	Label string `json:"label"`
	// Price is kept as typed text until it is needed as an amount.
	Price string `json:"price"`
	Qty   int    `json:"qty"`
}

// PriceValue parses the price text. Both "." and "," are accepted as the
// decimal separator.
func (i Item) PriceValue() (decimal.Decimal, bool) {
	text := strings.ReplaceAll(strings.TrimSpace(i.Price), ",", ".")
	if text == "" {
		return decimal.Zero, false
	}
	price, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Zero, false
	}
	return price, true
}

// HasPositivePrice reports whether the price parses to an amount above zero.
func (i Item) HasPositivePrice() bool {
	price, ok := i.PriceValue()
	return ok && price.IsPositive()
}

// Total is price × qty. Items without a positive price total zero.
func (i Item) Total() decimal.Decimal {
	price, ok := i.PriceValue()
	if !ok || !price.IsPositive() {
		return decimal.Zero
	}
	qty := i.Qty
	if qty < 1 {
		qty = 1
	}
	return price.Mul(decimal.NewFromInt(int64(qty)))
}

// isBlank reports whether the row carries neither a label nor a positive price.
func (i Item) isBlank() bool {
	return strings.TrimSpace(i.Label) == "" && !i.HasPositivePrice()
}

// Person is someone sharing the bill.
type Person struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// State is the whole bill. Assignments maps item ids to the ids of the people
// sharing that item, kept sorted and free of duplicates.
type State struct {
	Items        []Item
	People       []Person
	Assignments  map[int][]int
	Step         Step
	Furthest     Step
	NextItemID   int
	NextPersonID int
}

// NewState returns an empty bill at the upload step.
func NewState() State {
	return State{
		Items:        []Item{},
		People:       []Person{},
		Assignments:  map[int][]int{},
		Step:         StepUpload,
		Furthest:     StepUpload,
		NextItemID:   1,
		NextPersonID: 1,
	}
}

// Clone returns a deep copy.
func (s State) Clone() State {
	c := s
	c.Items = append(make([]Item, 0, len(s.Items)), s.Items...)
	c.People = append(make([]Person, 0, len(s.People)), s.People...)
	c.Assignments = make(map[int][]int, len(s.Assignments))
	for itemID, personIDs := range s.Assignments {
		c.Assignments[itemID] = append(make([]int, 0, len(personIDs)), personIDs...)
	}
	return c
}

// Total sums every item's total.
func (s State) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range s.Items {
		total = total.Add(item.Total())
	}
	return total
}

func (s State) itemIndex(id int) int {
	for i, item := range s.Items {
		if item.ID == id {
			return i
		}
	}
	return -1
}

func (s State) hasPerson(id int) bool {
	for _, p := range s.People {
		if p.ID == id {
			return true
		}
	}
	return false
}
