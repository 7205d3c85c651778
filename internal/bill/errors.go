package bill

import "errors"

var (
	ErrItemNotFound    = errors.New("item not found")
	ErrPersonNotFound  = errors.New("person not found")
	ErrEmptyName       = errors.New("name must not be empty")
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
	ErrUnknownStep     = errors.New("unknown step")
	ErrStepNotReached  = errors.New("step not reached yet")
	ErrStepBehind      = errors.New("step is behind the current one")
)

// ValidationError is a wizard gate refusing to move forward. Message is meant
// for the user.
type ValidationError struct {
	Step    Step
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
