package persist

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/zombor/splitbill/internal/bill"
)

// Snapshot is the stored form of a bill.
type Snapshot struct {
	CurrentStep  string           `json:"currentStep"`
	FurthestStep string           `json:"furthestStep"`
	Items        []bill.Item      `json:"items"`
	People       []bill.Person    `json:"people"`
	Assignments  map[string][]int `json:"assignments"`
	NextItemID   int              `json:"nextItemId"`
	NextPersonID int              `json:"nextPersonId"`
}

// Encode serializes a bill.
func Encode(state bill.State) (string, error) {
	snap := Snapshot{
		CurrentStep:  string(state.Step),
		FurthestStep: string(state.Furthest),
		Items:        state.Items,
		People:       state.People,
		Assignments:  make(map[string][]int, len(state.Assignments)),
		NextItemID:   state.NextItemID,
		NextPersonID: state.NextPersonID,
	}
	if snap.Items == nil {
		snap.Items = []bill.Item{}
	}
	if snap.People == nil {
		snap.People = []bill.Person{}
	}
	for itemID, personIDs := range state.Assignments {
		if personIDs == nil {
			personIDs = []int{}
		}
		snap.Assignments[strconv.Itoa(itemID)] = personIDs
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("marshaling snapshot: %w", err)
	}
	return string(data), nil
}

// rawSnapshot defers decoding of every field so a field of the wrong shape
// only loses that field.
type rawSnapshot struct {
	CurrentStep  json.RawMessage `json:"currentStep"`
	FurthestStep json.RawMessage `json:"furthestStep"`
	Items        json.RawMessage `json:"items"`
	People       json.RawMessage `json:"people"`
	Assignments  json.RawMessage `json:"assignments"`
	NextItemID   json.RawMessage `json:"nextItemId"`
	NextPersonID json.RawMessage `json:"nextPersonId"`
}

type rawItem struct {
	ID    json.RawMessage `json:"id"`
	Label json.RawMessage `json:"label"`
	Price json.RawMessage `json:"price"`
	Qty   json.RawMessage `json:"qty"`
}

type rawPerson struct {
	ID   json.RawMessage `json:"id"`
	Name json.RawMessage `json:"name"`
}

// Decode rebuilds a bill from stored data. Only a record that is not a JSON
// object is an error; anything else of the wrong shape falls back to its
// default, and references to missing items or people are dropped.
func Decode(data string) (bill.State, error) {
	var raw rawSnapshot
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return bill.State{}, fmt.Errorf("unmarshaling snapshot: %w", err)
	}

	state := bill.NewState()
	state.Items = decodeItems(raw.Items)
	state.People = decodePeople(raw.People)
	state.Assignments = decodeAssignments(raw.Assignments, state.Items, state.People)

	maxItem, maxPerson := 0, 0
	for _, item := range state.Items {
		maxItem = max(maxItem, item.ID)
	}
	for _, p := range state.People {
		maxPerson = max(maxPerson, p.ID)
	}
	state.NextItemID = maxItem + 1
	if n, ok := asInt(raw.NextItemID); ok && n > maxItem {
		state.NextItemID = n
	}
	state.NextPersonID = maxPerson + 1
	if n, ok := asInt(raw.NextPersonID); ok && n > maxPerson {
		state.NextPersonID = n
	}

	if name, ok := asString(raw.CurrentStep); ok {
		if step, ok := bill.ParseStep(name); ok {
			state.Step = step
		}
	}
	state.Furthest = state.Step
	if name, ok := asString(raw.FurthestStep); ok {
		if step, ok := bill.ParseStep(name); ok && step.Index() > state.Step.Index() {
			state.Furthest = step
		}
	}

	return state, nil
}

func decodeItems(data json.RawMessage) []bill.Item {
	items := []bill.Item{}
	var raws []rawItem
	if !asArray(data, &raws) {
		return items
	}
	seen := map[int]bool{}
	for _, r := range raws {
		id, ok := asInt(r.ID)
		if !ok || id < 1 || seen[id] {
			continue
		}
		seen[id] = true
		label, _ := asString(r.Label)
		qty, ok := asInt(r.Qty)
		if !ok || qty < 1 {
			qty = 1
		}
		items = append(items, bill.Item{ID: id, Label: label, Price: asPrice(r.Price), Qty: qty})
	}
	return items
}

func decodePeople(data json.RawMessage) []bill.Person {
	people := []bill.Person{}
	var raws []rawPerson
	if !asArray(data, &raws) {
		return people
	}
	seen := map[int]bool{}
	for _, r := range raws {
		id, ok := asInt(r.ID)
		if !ok || id < 1 || seen[id] {
			continue
		}
		name, _ := asString(r.Name)
		if name = strings.TrimSpace(name); name == "" {
			continue
		}
		seen[id] = true
		people = append(people, bill.Person{ID: id, Name: name})
	}
	return people
}

func decodeAssignments(data json.RawMessage, items []bill.Item, people []bill.Person) map[int][]int {
	out := map[int][]int{}
	var raws map[string]json.RawMessage
	if len(data) == 0 || json.Unmarshal(data, &raws) != nil {
		return out
	}

	knownItems := make(map[int]bool, len(items))
	for _, item := range items {
		knownItems[item.ID] = true
	}
	knownPeople := make(map[int]bool, len(people))
	for _, p := range people {
		knownPeople[p.ID] = true
	}

	for key, value := range raws {
		itemID, err := strconv.Atoi(key)
		if err != nil || !knownItems[itemID] {
			continue
		}
		var entries []json.RawMessage
		if !asArray(value, &entries) {
			continue
		}
		ids := make([]int, 0, len(entries))
		seen := map[int]bool{}
		for _, e := range entries {
			id, ok := asInt(e)
			if !ok || !knownPeople[id] || seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
		sort.Ints(ids)
		out[itemID] = ids
	}
	return out
}

func asArray(data json.RawMessage, v any) bool {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '[' {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

func asString(data json.RawMessage) (string, bool) {
	var s string
	if len(data) == 0 || json.Unmarshal(data, &s) != nil {
		return "", false
	}
	return s, true
}

func asInt(data json.RawMessage) (int, bool) {
	var n json.Number
	if len(data) == 0 || json.Unmarshal(data, &n) != nil {
		return 0, false
	}
	i, err := strconv.Atoi(n.String())
	if err != nil {
		return 0, false
	}
	return i, true
}

// asPrice accepts a price stored as text or as a bare number.
func asPrice(data json.RawMessage) string {
	if s, ok := asString(data); ok {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if len(data) > 0 && json.Unmarshal(data, &n) == nil {
		return n.String()
	}
	return ""
}
