package core

import "github.com/cuemby/hassd/pkg/ids"

// Context carries the causality chain for an event or service call: who
// triggered it, and which parent event (if any) led to it. It is threaded,
// unmodified, through every action it causes.
type Context struct {
	ID       string  `json:"id"`
	UserID   *string `json:"user_id,omitempty"`
	ParentID *string `json:"parent_id,omitempty"`
}

// NewContext creates a fresh root context with a new ULID.
func NewContext(now Clock) Context {
	return Context{ID: ids.New(now())}
}

// Child creates a new context caused by c, propagating UserID and recording
// c's id as the parent.
func (c Context) Child(now Clock) Context {
	parent := c.ID
	return Context{ID: ids.New(now()), UserID: c.UserID, ParentID: &parent}
}

// WithUser returns a copy of c with UserID set.
func (c Context) WithUser(userID string) Context {
	c.UserID = &userID
	return c
}
