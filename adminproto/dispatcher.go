package adminproto

import (
	"errors"
	"fmt"
)

// ErrTagNotAllowed is returned when a frame's tag is not set in the
// receiving side's dispatching_allowed set, or a caller tries to send a
// tag not set in sending_allowed — spec.md §4.8's "fatal protocol error"
// on misuse.
var ErrTagNotAllowed = errors.New("adminproto: tag not allowed in current session state")

// Handler processes one decoded message for its tag.
type Handler func(payload []byte) error

// Dispatcher is the compile-time tag→handler table of spec.md §4.8,
// guarded at runtime by a DispatchingAllowed TagSet.
type Dispatcher struct {
	handlers          map[Tag]Handler
	dispatchingAllowed *TagSet
}

// NewDispatcher builds a Dispatcher. allowed is the initial
// dispatching_allowed set (typically just TagAdminLogin pre-login).
func NewDispatcher(allowed *TagSet) *Dispatcher {
	if allowed == nil {
		allowed = NewTagSet()
	}
	return &Dispatcher{handlers: make(map[Tag]Handler), dispatchingAllowed: allowed}
}

// Register installs the handler for tag. It does not itself gate
// dispatch; call Allow once the tag should actually be deliverable.
func (d *Dispatcher) Register(tag Tag, h Handler) {
	d.handlers[tag] = h
}

// Allow marks tag as dispatchable.
func (d *Dispatcher) Allow(tag Tag) { d.dispatchingAllowed.Allow(tag) }

// Revoke marks tag as no longer dispatchable (e.g. admin_login is
// revoked once a session has logged in, so a replay can't re-trigger it).
func (d *Dispatcher) Revoke(tag Tag) { d.dispatchingAllowed.Revoke(tag) }

// Dispatch invokes the handler for tag with the still-encoded payload;
// decoding is the handler's job. An unknown tag or one not in
// dispatching_allowed is a fatal protocol error, per spec.md §4.8.
func (d *Dispatcher) Dispatch(tag Tag, payload []byte) error {
	if !d.dispatchingAllowed.IsAllowed(tag) {
		return fmt.Errorf("%w: %s", ErrTagNotAllowed, tag.Name())
	}
	h, ok := d.handlers[tag]
	if !ok {
		return fmt.Errorf("adminproto: no handler registered for tag %s", tag.Name())
	}
	return h(payload)
}
