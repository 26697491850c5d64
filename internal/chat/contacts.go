package chat

import (
	"sort"
	"sync"
)

// Roles supplied by the external identity provider.
const (
	RoleStudent     = "student"
	RoleTeacher     = "teacher"
	RoleSchoolAdmin = "school_admin"
	RoleSuperAdmin  = "super_admin"
)

// Profile is the identity-provider view of a user, used for chat-availability
// queries. It is trusted verbatim and refreshed on every session handshake.
type Profile struct {
	ID       string
	Name     string
	Role     string
	SchoolID string
	ClassIDs []string
}

// ContactDirectory answers "who can this user start a chat with", replacing
// the old client-side filtering of a global user list with a directory query
// parameterized by role, school and class membership.
type ContactDirectory struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

// NewContactDirectory constructs a directory, optionally pre-seeded.
func NewContactDirectory(seed ...Profile) *ContactDirectory {
	d := &ContactDirectory{profiles: make(map[string]Profile, len(seed))}
	for _, p := range seed {
		if p.ID != "" {
			d.profiles[p.ID] = p
		}
	}
	return d
}

// Upsert records or refreshes a profile.
func (d *ContactDirectory) Upsert(p Profile) {
	if p.ID == "" {
		return
	}
	d.mu.Lock()
	d.profiles[p.ID] = p
	d.mu.Unlock()
}

// Get returns the profile for id, if known.
func (d *ContactDirectory) Get(id string) (Profile, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.profiles[id]
	return p, ok
}

// AvailableTo returns the contacts selfID may start a chat with, sorted by
// name:
//   - students: teachers and classmates sharing at least one class
//   - teachers: their students, any teacher, school admins
//   - admins: everyone in their school
//
// All matches are scoped to the caller's school.
func (d *ContactDirectory) AvailableTo(selfID string) []Profile {
	d.mu.RLock()
	self, ok := d.profiles[selfID]
	if !ok {
		d.mu.RUnlock()
		return nil
	}

	out := make([]Profile, 0, 16)
	for id, p := range d.profiles {
		if id == selfID {
			continue
		}
		if p.SchoolID != self.SchoolID {
			continue
		}
		if availableMatch(self, p) {
			out = append(out, p)
		}
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func availableMatch(self, other Profile) bool {
	switch self.Role {
	case RoleStudent:
		return (other.Role == RoleTeacher || other.Role == RoleStudent) &&
			sharesClass(self.ClassIDs, other.ClassIDs)
	case RoleTeacher:
		if other.Role == RoleStudent {
			return sharesClass(self.ClassIDs, other.ClassIDs)
		}
		return other.Role == RoleTeacher || other.Role == RoleSchoolAdmin
	default:
		// Admins can chat with everyone in their school.
		return true
	}
}

func sharesClass(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
