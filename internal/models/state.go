// Package models defines state management structures for the support flow.
package models

// StateStack holds the current state and at most one suspended state.
// A sub-dialog (location disambiguation, saved-address selection) suspends
// the caller and resumes it when done.
type StateStack struct {
	Current   State `json:"current"`
	Suspended State `json:"suspended,omitempty"`
}

// Set replaces the current state without touching the suspended one.
func (s *StateStack) Set(state State) {
	s.Current = state
}

// Suspend pushes the current state and enters next.
func (s *StateStack) Suspend(next State) error {
	if s.Suspended != "" {
		return ErrStateAlreadyPending
	}
	s.Suspended = s.Current
	s.Current = next
	return nil
}

// Resume pops the suspended state and makes it current.
func (s *StateStack) Resume() (State, error) {
	if s.Suspended == "" {
		return s.Current, ErrNoSuspendedState
	}
	s.Current = s.Suspended
	s.Suspended = ""
	return s.Current, nil
}

// Clear resets the stack to a single state.
func (s *StateStack) Clear(state State) {
	s.Current = state
	s.Suspended = ""
}

// Depth returns the number of states on the stack.
func (s StateStack) Depth() int {
	if s.Suspended != "" {
		return 2
	}
	return 1
}

// Cursor tracks the field being prompted. Correcting is set when the
// field is re-entered from the correction menu, in which case a valid
// value returns to Confirming instead of advancing.
type Cursor struct {
	Field      FieldKey `json:"field,omitempty"`
	Correcting bool     `json:"correcting,omitempty"`
}

// PendingLocation holds an address value awaiting a jurisdiction choice.
type PendingLocation struct {
	Field FieldKey `json:"field"`
	Value string   `json:"value"`
}
