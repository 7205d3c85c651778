package bill

import "fmt"

const (
	msgNeedPricedItem = "add at least one item with a price before continuing"
	msgNeedPerson     = "add at least one person before continuing"
)

// Next moves one step forward if the current step's gate allows it. At the
// last step it does nothing.
func (s *Store) Next() error {
	idx := s.state.Step.Index()
	if idx < 0 || idx == len(Steps)-1 {
		return nil
	}
	next := s.state.Clone()
	if err := next.leave(); err != nil {
		return err
	}
	next.enter(Steps[idx+1])
	s.commit(next)
	return nil
}

// Back moves one step backward. At the first step it does nothing.
func (s *Store) Back() error {
	idx := s.state.Step.Index()
	if idx <= 0 {
		return nil
	}
	next := s.state.Clone()
	next.Step = Steps[idx-1]
	s.commit(next)
	return nil
}

// GoTo jumps to a step picked from the stepper. Going back, or staying, is
// always allowed. Going forward is only allowed up to the furthest step
// already reached, and every gate on the way must pass.
func (s *Store) GoTo(step Step) error {
	target := step.Index()
	if target < 0 {
		return fmt.Errorf("%w: %q", ErrUnknownStep, step)
	}
	current := s.state.Step.Index()
	if target == current {
		return nil
	}
	if target < current {
		next := s.state.Clone()
		next.Step = step
		s.commit(next)
		return nil
	}
	if target > s.state.Furthest.Index() {
		return fmt.Errorf("%w: %q", ErrStepNotReached, step)
	}

	next := s.state.Clone()
	for next.Step.Index() < target {
		if err := next.leave(); err != nil {
			return err
		}
		next.enter(Steps[next.Step.Index()+1])
	}
	s.commit(next)
	return nil
}

// Advance moves forward to a step already reached, running every gate on
// the way. A target behind the current step is refused.
func (s *Store) Advance(to Step) error {
	if to.Index() >= 0 && to.Index() < s.state.Step.Index() {
		return fmt.Errorf("%w: %q", ErrStepBehind, to)
	}
	return s.GoTo(to)
}

// GoBack moves backward, or stays put. A target ahead of the current step
// is refused.
func (s *Store) GoBack(to Step) error {
	if to.Index() > s.state.Step.Index() {
		return fmt.Errorf("%w: %q", ErrStepNotReached, to)
	}
	return s.GoTo(to)
}

func (s *State) enter(step Step) {
	s.Step = step
	if step.Index() > s.Furthest.Index() {
		s.Furthest = step
	}
}

// leave runs the forward gate of the current step on s.
func (s *State) leave() error {
	switch s.Step {
	case StepItems:
		return s.leaveItems()
	case StepPeople:
		if len(s.People) == 0 {
			return &ValidationError{Step: StepPeople, Message: msgNeedPerson}
		}
	}
	return nil
}

func (s *State) leaveItems() error {
	priced := false
	for _, item := range s.Items {
		if item.HasPositivePrice() {
			priced = true
			break
		}
	}
	if !priced {
		return &ValidationError{Step: StepItems, Message: msgNeedPricedItem}
	}

	kept := make([]Item, 0, len(s.Items))
	for _, item := range s.Items {
		if item.isBlank() {
			delete(s.Assignments, item.ID)
			continue
		}
		kept = append(kept, item)
	}
	if len(kept) == 0 {
		kept = append(kept, s.newItem("", "", 1))
	}
	s.Items = kept
	return nil
}

// SkipScan starts a bill by hand: the items become a single blank row and the
// wizard moves on to the items step.
func (s *Store) SkipScan() {
	s.LoadItems(nil)
}

// LoadItems installs recognized items and shows them on the items step, the
// way a finished scan does.
func (s *Store) LoadItems(items []Item) []Item {
	next := s.state.Clone()
	next.replaceItems(items)
	next.enter(StepItems)
	s.commit(next)
	return append([]Item(nil), next.Items...)
}
