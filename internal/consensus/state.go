// Package consensus turns crowd classifications into per-subject label scores
// and per-user reliability weights.
//
// Users and subjects are kept in separate id-keyed maps and refer to each
// other by id only. Each refinement pass recomputes subject scores as a
// weighted running average over their classifications, then recomputes user
// weights as the running average of the scores their labels received, and
// finally rescales weights to a mean of one.
package consensus

import (
	"context"
	"maps"
	"slices"

	"github.com/d-kessler/CountertopDarkMatter/internal/datastore/entities"
)

// Persisted model aliases.
type (
	Classification = entities.Classification
	User           = entities.User
	Subject        = entities.Subject
)

// State holds every user and subject known to the engine.
type State struct {
	labels   []string
	Users    map[int64]*User
	Subjects map[int64]*Subject

	// seen holds every classification id already merged into state
	seen map[int64]struct{}
}

// NewState returns an empty state over the closed label set.
func NewState(labels []string) *State {
	return &State{
		labels:   slices.Clone(labels),
		Users:    make(map[int64]*User),
		Subjects: make(map[int64]*Subject),
		seen:     make(map[int64]struct{}),
	}
}

// LoadState reads persisted users and subjects. Subject score and count maps
// are completed with zero entries for any configured label they lack.
//
// A classification id counts as ingested when it is in the classification
// log or in any user or subject history, so a batch is never merged twice
// even if an earlier run stopped between writes.
func LoadState(ctx context.Context, stores Stores, labels []string) (*State, error) {
	state := NewState(labels)

	logged, err := stores.Classifications.ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	storedUsers, err := stores.Users.ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	storedSubjects, err := stores.Subjects.ReadAll(ctx)
	if err != nil {
		return nil, err
	}

	for _, c := range logged {
		state.seen[c.ClassificationID] = struct{}{}
	}
	for i := range storedUsers {
		u := storedUsers[i]
		state.Users[u.UserID] = &u
		for _, c := range u.Classifications {
			state.seen[c.ClassificationID] = struct{}{}
		}
	}
	for i := range storedSubjects {
		s := storedSubjects[i]
		state.completeLabels(&s)
		state.Subjects[s.SubjectID] = &s
		for _, c := range s.Classifications {
			state.seen[c.ClassificationID] = struct{}{}
		}
	}
	return state, nil
}

// Labels returns the configured label set.
func (s *State) Labels() []string {
	return s.labels
}

// HasClassification reports whether id was merged in this or an earlier run.
func (s *State) HasClassification(id int64) bool {
	_, ok := s.seen[id]
	return ok
}

// UserIDs returns user ids in ascending order.
func (s *State) UserIDs() []int64 {
	return slices.Sorted(maps.Keys(s.Users))
}

// SubjectIDs returns subject ids in ascending order.
func (s *State) SubjectIDs() []int64 {
	return slices.Sorted(maps.Keys(s.Subjects))
}

// UserList returns copies of all users ordered by id.
func (s *State) UserList() []User {
	out := make([]User, 0, len(s.Users))
	for _, id := range s.UserIDs() {
		out = append(out, *s.Users[id])
	}
	return out
}

// SubjectList returns copies of all subjects ordered by id.
func (s *State) SubjectList() []Subject {
	out := make([]Subject, 0, len(s.Subjects))
	for _, id := range s.SubjectIDs() {
		out = append(out, *s.Subjects[id])
	}
	return out
}

// WeightRange returns the smallest and largest user weight, or zeros
// without users.
func (s *State) WeightRange() (lo, hi float64) {
	first := true
	for _, u := range s.Users {
		if first {
			lo, hi = u.Weight, u.Weight
			first = false
			continue
		}
		lo = min(lo, u.Weight)
		hi = max(hi, u.Weight)
	}
	return lo, hi
}

func (s *State) user(id int64) *User {
	u, ok := s.Users[id]
	if !ok {
		u = &User{UserID: id, Weight: 1}
		s.Users[id] = u
	}
	return u
}

func (s *State) subject(id int64) *Subject {
	subj, ok := s.Subjects[id]
	if !ok {
		subj = &Subject{SubjectID: id}
		s.completeLabels(subj)
		s.Subjects[id] = subj
	}
	return subj
}

func (s *State) completeLabels(subj *Subject) {
	if subj.Score == nil {
		subj.Score = make(map[string]float64, len(s.labels))
	}
	if subj.NUsers == nil {
		subj.NUsers = make(map[string]int, len(s.labels))
	}
	for _, label := range s.labels {
		if _, ok := subj.Score[label]; !ok {
			subj.Score[label] = 0
		}
		if _, ok := subj.NUsers[label]; !ok {
			subj.NUsers[label] = 0
		}
	}
}
