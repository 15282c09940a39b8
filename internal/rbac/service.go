package rbac

import (
	"log/slog"
	"sort"
	"strconv"
)

// Service answers permission questions and mutates the user registry. All
// read operations are total: an unknown principal degrades to the lowest
// tier, never an error.
type Service struct {
	logger    *slog.Logger
	table     *RoleTable
	registry  *Registry
	operators map[int64]struct{}
	onPersist func()
}

// NewService constructs a Service over a loaded role table and registry.
// Operators is the out-of-band allow-list that bypasses every role check.
func NewService(logger *slog.Logger, table *RoleTable, registry *Registry, operators []int64) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	ops := make(map[int64]struct{}, len(operators))
	for _, id := range operators {
		ops[id] = struct{}{}
	}
	return &Service{
		logger:    logger,
		table:     table,
		registry:  registry,
		operators: ops,
	}
}

// OnPersist installs a hook invoked after every successful registry persist.
func (s *Service) OnPersist(hook func()) {
	s.onPersist = hook
}

// IsOperator reports whether the principal is on the configured allow-list.
func (s *Service) IsOperator(id int64) bool {
	_, ok := s.operators[id]
	return ok
}

// Entry returns the stored registry entry for a principal.
func (s *Service) Entry(id int64) (UserEntry, bool) {
	return s.registry.Get(id)
}

// LevelOf returns the stored level, or LevelGuest for unknown principals.
func (s *Service) LevelOf(id int64) int {
	entry, ok := s.registry.Get(id)
	if !ok {
		return LevelGuest
	}
	return entry.Level
}

// RoleNameOf resolves the principal's level to a role name, or RoleUnknown
// when the level maps to no role.
func (s *Service) RoleNameOf(id int64) string {
	role, ok := s.table.ByLevel(s.LevelOf(id))
	if !ok {
		return RoleUnknown
	}
	return role.Name
}

// ActionsOf returns the action slugs the principal's role permits, or an
// empty slice when the level is unmapped.
func (s *Service) ActionsOf(id int64) []string {
	role, ok := s.table.ByLevel(s.LevelOf(id))
	if !ok {
		return nil
	}
	return role.Actions
}

// HasPermission reports whether the principal may perform the action.
// Allow-listed operators pass unconditionally; otherwise the principal's
// role must contain the slug verbatim or the wildcard. A level with no role
// denies everything. Side-effect free and safe on every inbound event.
func (s *Service) HasPermission(id int64, action string) bool {
	if s.IsOperator(id) {
		s.logger.Info("permission granted via operator allow-list",
			slog.Int64("principal", id), slog.String("action", action))
		return true
	}
	level := s.LevelOf(id)
	role, ok := s.table.ByLevel(level)
	if !ok {
		s.logger.Warn("no role for level, denying",
			slog.Int64("principal", id), slog.Int("level", level), slog.String("action", action))
		return false
	}
	granted := role.Allows(action)
	if granted {
		s.logger.Debug("permission granted",
			slog.Int64("principal", id), slog.Int("level", level), slog.String("action", action))
	} else {
		s.logger.Warn("permission denied",
			slog.Int64("principal", id), slog.Int("level", level), slog.String("action", action))
	}
	return granted
}

// SetLevel creates or updates a principal's entry and persists the registry.
// An empty name falls back to the decimal id for new entries and leaves the
// stored name untouched for existing ones.
func (s *Service) SetLevel(id int64, level int, name string, profile Profile) error {
	entry, ok := s.registry.Get(id)
	if !ok {
		entry = UserEntry{Name: name, Level: level}
		if entry.Name == "" {
			entry.Name = strconv.FormatInt(id, 10)
		}
		entry.merge(profile)
		s.logger.Info("created registry entry",
			slog.Int64("principal", id), slog.Int("level", level), slog.String("name", entry.Name))
	} else {
		old := entry.Level
		entry.Level = level
		if name != "" {
			entry.Name = name
		}
		entry.merge(profile)
		s.logger.Info("updated registry entry",
			slog.Int64("principal", id), slog.Int("old_level", old), slog.Int("new_level", level))
	}
	if id < 0 {
		entry.IsSpecial = true
	}
	s.registry.Set(id, entry)
	return s.persist()
}

// Superadmins returns every principal stored at the top tier, sorted for
// deterministic fan-out order.
func (s *Service) Superadmins() []int64 {
	ids := s.registry.IDsAtLevel(LevelSuperAdmin)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// SyncOperator reconciles an allow-listed principal's stored entry: level
// forced to the top tier, name and profile refreshed. Persists only when
// something actually changed, since this runs on every inbound event from a
// configured operator.
func (s *Service) SyncOperator(id int64, name string, profile Profile) error {
	entry, ok := s.registry.Get(id)
	changed := false
	if !ok {
		entry = UserEntry{Name: name, Level: LevelSuperAdmin}
		if entry.Name == "" {
			entry.Name = strconv.FormatInt(id, 10)
		}
		entry.merge(profile)
		changed = true
		s.logger.Info("created operator entry", slog.Int64("principal", id), slog.String("name", entry.Name))
	} else {
		if entry.Level != LevelSuperAdmin {
			entry.Level = LevelSuperAdmin
			changed = true
		}
		if name != "" && entry.Name != name {
			entry.Name = name
			changed = true
		}
		if entry.merge(profile) {
			changed = true
		}
	}
	if !changed {
		return nil
	}
	s.registry.Set(id, entry)
	return s.persist()
}

func (s *Service) persist() error {
	if err := s.registry.Persist(); err != nil {
		return err
	}
	if s.onPersist != nil {
		s.onPersist()
	}
	return nil
}
