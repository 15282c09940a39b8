package rbac

// Well-known levels. Lookup is by exact level; the numeric order is a label,
// not a comparison scale.
const (
	LevelGuest      = 0
	LevelMember     = 10
	LevelModerator  = 50
	LevelSuperAdmin = 100
)

// ActionAll is the wildcard slug granting every permission.
const ActionAll = "*"

// RoleUnknown is returned when a stored level maps to no role.
const RoleUnknown = "Unknown"

// Role represents one access tier loaded from the rules file.
type Role struct {
	Level   int      `json:"level" validate:"gte=0"`
	Name    string   `json:"name" validate:"required"`
	Actions []string `json:"actions"`
}

// Allows reports whether the role grants the given action slug.
func (r Role) Allows(action string) bool {
	for _, a := range r.Actions {
		if a == ActionAll || a == action {
			return true
		}
	}
	return false
}

// Profile carries the optional rich fields stored per principal. Zero values
// mean "not supplied" and never overwrite stored data.
type Profile struct {
	Username     string `json:"username,omitempty"`
	FirstName    string `json:"first_name,omitempty"`
	LastName     string `json:"last_name,omitempty"`
	LanguageCode string `json:"language_code,omitempty"`
	IsPremium    bool   `json:"is_premium,omitempty"`
	IsSpecial    bool   `json:"is_special,omitempty"`
}

// UserEntry is one principal's current standing in the registry.
type UserEntry struct {
	Name  string `json:"name"`
	Level int    `json:"level"`
	Profile
}

// merge applies the supplied profile fields onto the entry and reports
// whether anything changed. The boolean flags only ever latch on: the
// platform omits them entirely when false, so false here means unsupplied.
func (e *UserEntry) merge(p Profile) bool {
	changed := false
	if p.Username != "" && e.Username != p.Username {
		e.Username = p.Username
		changed = true
	}
	if p.FirstName != "" && e.FirstName != p.FirstName {
		e.FirstName = p.FirstName
		changed = true
	}
	if p.LastName != "" && e.LastName != p.LastName {
		e.LastName = p.LastName
		changed = true
	}
	if p.LanguageCode != "" && e.LanguageCode != p.LanguageCode {
		e.LanguageCode = p.LanguageCode
		changed = true
	}
	if p.IsPremium && !e.IsPremium {
		e.IsPremium = true
		changed = true
	}
	if p.IsSpecial && !e.IsSpecial {
		e.IsSpecial = true
		changed = true
	}
	return changed
}
