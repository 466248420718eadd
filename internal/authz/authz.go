// Package authz decides what an authenticated actor may do to a specific
// class schedule.
package authz

import (
	"context"
	"fmt"

	"academyportal/internal/apperr"
	"academyportal/internal/schedule"
)

// Actor is the identity resolved from a session, once per request. A nil
// *Actor is an anonymous caller.
type Actor struct {
	UserID   int64
	Email    string
	IsAdmin  bool
	MemberID *int64
}

// HasMember reports whether the actor has a member profile.
func (a *Actor) HasMember() bool {
	return a != nil && a.MemberID != nil
}

// Capability is what an actor is, relative to one schedule.
type Capability int

const (
	Anonymous Capability = iota
	Self
	InstructorOf
	Admin
)

func (c Capability) String() string {
	switch c {
	case Self:
		return "self"
	case InstructorOf:
		return "instructor"
	case Admin:
		return "admin"
	default:
		return "anonymous"
	}
}

// CanManage reports whether the capability allows issuing tokens and
// recording attendance for other members.
func (c Capability) CanManage() bool {
	return c == Admin || c == InstructorOf
}

// Grant is the outcome of resolving an actor against a schedule.
type Grant struct {
	Capability Capability
	Schedule   *schedule.Schedule
}

// Guard resolves capabilities. It only reads state and is safe for
// concurrent use.
type Guard struct {
	schedules schedule.Catalog
}

// NewGuard creates a guard backed by the schedule catalog.
func NewGuard(schedules schedule.Catalog) *Guard {
	return &Guard{schedules: schedules}
}

// Resolve loads the schedule and works out the actor's capability for it.
// Admin short-circuits; otherwise ownership is checked before falling back
// to Self. An authenticated actor without a member profile resolves to
// Anonymous for non-admin purposes.
func (g *Guard) Resolve(ctx context.Context, actor *Actor, scheduleID int64) (Grant, error) {
	if actor == nil {
		return Grant{}, apperr.ErrUnauthenticated
	}
	s, err := g.schedules.Get(ctx, scheduleID)
	if err != nil {
		return Grant{}, err
	}
	if s == nil {
		return Grant{}, fmt.Errorf("schedule %d: %w", scheduleID, apperr.ErrNotFound)
	}

	switch {
	case actor.IsAdmin:
		return Grant{Capability: Admin, Schedule: s}, nil
	case s.OwnedBy(actor.MemberID):
		return Grant{Capability: InstructorOf, Schedule: s}, nil
	case actor.HasMember():
		return Grant{Capability: Self, Schedule: s}, nil
	default:
		return Grant{Capability: Anonymous, Schedule: s}, nil
	}
}

// AuthorizeManage requires Admin or InstructorOf(scheduleID).
func (g *Guard) AuthorizeManage(ctx context.Context, actor *Actor, scheduleID int64) (Grant, error) {
	grant, err := g.Resolve(ctx, actor, scheduleID)
	if err != nil {
		return Grant{}, err
	}
	if !grant.Capability.CanManage() {
		return Grant{}, fmt.Errorf("schedule %d as %s: %w", scheduleID, grant.Capability, apperr.ErrForbidden)
	}
	return grant, nil
}

// AuthorizeRecordFor allows managers to record anyone and members to record
// only themselves.
func (g *Guard) AuthorizeRecordFor(ctx context.Context, actor *Actor, scheduleID, memberID int64) (Grant, error) {
	grant, err := g.Resolve(ctx, actor, scheduleID)
	if err != nil {
		return Grant{}, err
	}
	if grant.Capability.CanManage() {
		return grant, nil
	}
	if grant.Capability == Self && *actor.MemberID == memberID {
		return grant, nil
	}
	return Grant{}, fmt.Errorf("record member %d on schedule %d: %w", memberID, scheduleID, apperr.ErrForbidden)
}

// AuthorizeAdmin requires an admin actor.
func AuthorizeAdmin(actor *Actor) error {
	if actor == nil {
		return apperr.ErrUnauthenticated
	}
	if !actor.IsAdmin {
		return apperr.ErrForbidden
	}
	return nil
}
