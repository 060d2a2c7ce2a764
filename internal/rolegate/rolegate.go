// Package rolegate maps the signed-in user to the dashboard variant they
// may see and hides the aggregates that variant must not show.
package rolegate

import (
	"context"

	"youth-mis/internal/data"
	"youth-mis/internal/model"
	"youth-mis/internal/session"
)

type View string

const (
	ViewStudent         View = "student"
	ViewTrainer         View = "trainer"
	ViewStaff           View = "staff"
	ViewAdmin           View = "admin"
	ViewUnauthenticated View = "unauthenticated"
	ViewProfilePending  View = "profile-pending"
)

// SelectView is total and pure. An unrecognized role gets the student view.
func SelectView(s *model.Session, p *model.Profile) View {
	if s == nil {
		return ViewUnauthenticated
	}
	if p == nil {
		return ViewProfilePending
	}
	role, ok := model.ParseRole(p.Role)
	if !ok {
		return ViewStudent
	}
	switch role {
	case model.RoleTrainer:
		return ViewTrainer
	case model.RoleStaff:
		return ViewStaff
	case model.RoleAdmin:
		return ViewAdmin
	}
	return ViewStudent
}

var visible = map[View][]data.StatField{
	ViewStudent: {data.StatPrograms, data.StatOpenJobs},
	ViewTrainer: {data.StatStudents, data.StatActiveTrainers, data.StatPrograms, data.StatOpenJobs, data.StatPendingReports},
	ViewStaff:   data.AllStats(),
	ViewAdmin:   data.AllStats(),
}

// VisibleStats lists the aggregates shown on v, in display order.
func VisibleStats(v View) []data.StatField {
	return append([]data.StatField(nil), visible[v]...)
}

// Filter returns a copy of s holding only what v may show.
func Filter(v View, s data.Stats) data.Stats {
	out := data.Stats{Values: map[data.StatField]float64{}, Available: map[data.StatField]bool{}}
	for _, f := range visible[v] {
		if val, ok := s.Get(f); ok {
			out.Values[f] = val
			out.Available[f] = true
		}
	}
	return out
}

// Sessions is the part of the session store the router reads.
type Sessions interface {
	Snapshot() session.State
	ResolveProfile(ctx context.Context) (model.Profile, error)
}

// Router selects the view for the current session. It never resolves a
// profile on its own; Retry is the only way to try again.
type Router struct {
	sessions Sessions
}

func NewRouter(s Sessions) *Router {
	return &Router{sessions: s}
}

func (r *Router) Current() View {
	st := r.sessions.Snapshot()
	return SelectView(st.Session, st.Profile)
}

// Retry makes exactly one profile-resolution attempt and returns the view
// that results, with the resolution error if it failed.
func (r *Router) Retry(ctx context.Context) (View, error) {
	if r.Current() == ViewUnauthenticated {
		return ViewUnauthenticated, session.ErrNotSignedIn
	}
	_, err := r.sessions.ResolveProfile(ctx)
	return r.Current(), err
}
