package condition

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Role tells a manager how to treat an empty condition set.
type Role string

const (
	// RoleStart managers with no conditions are satisfied.
	RoleStart Role = "start"
	// RoleStop managers with no conditions never fire.
	RoleStop Role = "stop"
)

// Manager owns the start or stop gate of one schedule entry.
//
// Plugin-defined conditions are always required. User conditions are combined
// with AND when RequiresAll is set and with OR otherwise, and the resulting
// block is ANDed with the plugin-defined ones.
type Manager struct {
	role       Role
	plugin     []*Condition
	user       []*Condition
	requireAll bool

	// oneTime marks the gate as single-shot regardless of its conditions.
	oneTime   bool
	triggered bool
}

func NewManager(role Role) *Manager {
	if role != RoleStop {
		role = RoleStart
	}
	return &Manager{role: role, requireAll: true}
}

func NewStartManager() *Manager { return NewManager(RoleStart) }
func NewStopManager() *Manager  { return NewManager(RoleStop) }

// Evaluation is the full result of one gate evaluation.
type Evaluation struct {
	Satisfied bool
	Met       int
	Total     int
	Progress  float64
	Errs      []error
}

func (m *Manager) Role() Role { return m.role }

func (m *Manager) RequiresAll() bool { return m.requireAll }

func (m *Manager) SetRequireAll(v bool) { m.requireAll = v }

// Add registers c. Plugin-defined conditions cannot be removed through Remove.
func (m *Manager) Add(c *Condition, pluginDefined bool) {
	if c == nil {
		return
	}
	if pluginDefined {
		m.plugin = append(m.plugin, c)
		return
	}
	m.user = append(m.user, c)
}

// Remove drops a user condition. It refuses plugin-defined ones.
func (m *Manager) Remove(c *Condition) error {
	for _, p := range m.plugin {
		if p == c {
			return ErrPluginDefined
		}
	}
	for i, u := range m.user {
		if u == c {
			m.user = append(m.user[:i:i], m.user[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

// ClearUserConditions removes every user condition and keeps plugin-defined ones.
func (m *Manager) ClearUserConditions() { m.user = nil }

func (m *Manager) IsPluginDefinedCondition(c *Condition) bool {
	for _, p := range m.plugin {
		if p == c {
			return true
		}
	}
	return false
}

func (m *Manager) PluginConditions() []*Condition { return append([]*Condition(nil), m.plugin...) }
func (m *Manager) UserConditions() []*Condition   { return append([]*Condition(nil), m.user...) }

// Conditions lists plugin-defined conditions first, then user conditions.
func (m *Manager) Conditions() []*Condition {
	out := make([]*Condition, 0, len(m.plugin)+len(m.user))
	out = append(out, m.plugin...)
	return append(out, m.user...)
}

func (m *Manager) Empty() bool { return len(m.plugin) == 0 && len(m.user) == 0 }

// Root assembles the effective logical tree. It returns nil for an empty manager.
func (m *Manager) Root() *Condition {
	parts := append([]*Condition(nil), m.plugin...)
	switch {
	case len(m.user) == 1:
		parts = append(parts, m.user[0])
	case len(m.user) > 1:
		if m.requireAll {
			parts = append(parts, And(m.user...))
		} else {
			parts = append(parts, Or(m.user...))
		}
	}
	switch len(parts) {
	case 0:
		return nil
	case 1:
		return parts[0]
	default:
		return And(parts...)
	}
}

// Evaluate reports the gate state for snap.
func (m *Manager) Evaluate(snap *Snapshot) Evaluation {
	root := m.Root()
	if root == nil {
		if m.role == RoleStart {
			return Evaluation{Satisfied: true, Progress: 100}
		}
		return Evaluation{}
	}
	met, total := root.Counts(snap)
	return Evaluation{
		Satisfied: root.IsSatisfied(snap),
		Met:       met,
		Total:     total,
		Progress:  root.Progress(snap),
		Errs:      root.Errors(snap),
	}
}

func (m *Manager) Describe() string {
	root := m.Root()
	if root == nil {
		if m.role == RoleStart {
			return "no start conditions"
		}
		return "no stop conditions"
	}
	return root.Describe()
}

// SetOneTime marks the gate single-shot: once triggered it stays closed until
// ResetTrigger.
func (m *Manager) SetOneTime(v bool) { m.oneTime = v }

func (m *Manager) OneTime() bool { return m.oneTime }

// MarkTriggered records that the entry consumed this gate.
func (m *Manager) MarkTriggered() { m.triggered = true }

// ResetTrigger re-arms the one-time latch.
func (m *Manager) ResetTrigger() { m.triggered = false }

// CopyTrigger takes over the one-time latch of from.
func (m *Manager) CopyTrigger(from *Manager) {
	if from != nil {
		m.triggered = from.triggered
	}
}

// HasTriggeredOneTimeStartConditions reports whether a single-shot gate has fired.
func (m *Manager) HasTriggeredOneTimeStartConditions() bool {
	return m.triggered && m.singleShot()
}

// CanStartTriggerAgain is false after a single-shot gate fired, until ResetTrigger.
// The latch is independent of the leaves' own state because a crossed
// threshold stays satisfied indefinitely.
func (m *Manager) CanStartTriggerAgain() bool {
	return !m.HasTriggeredOneTimeStartConditions()
}

func (m *Manager) singleShot() bool {
	if m.oneTime {
		return true
	}
	root := m.Root()
	return root != nil && !root.CanTriggerAgain()
}

// Reset resets every condition. See Condition.Reset.
func (m *Manager) Reset(snap *Snapshot, reroll bool, r Rand) {
	for _, c := range m.Conditions() {
		c.Reset(snap, reroll, r)
	}
}

func (m *Manager) Pause(now time.Time) {
	for _, c := range m.Conditions() {
		c.Pause(now)
	}
}

func (m *Manager) Resume(now time.Time) {
	for _, c := range m.Conditions() {
		c.Resume(now)
	}
}

func (m *Manager) RecordRun(now time.Time) {
	for _, c := range m.Conditions() {
		c.RecordRun(now)
	}
}

// Validate checks every condition tree.
func (m *Manager) Validate() error {
	var errs []error
	for i, c := range m.Conditions() {
		if err := c.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s condition %d: %w", m.role, i, err))
		}
	}
	return errors.Join(errs...)
}

// Clone deep-copies the manager and its conditions.
func (m *Manager) Clone() *Manager {
	b, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	out := &Manager{}
	if err := json.Unmarshal(b, out); err != nil {
		return nil
	}
	return out
}

type managerJSON struct {
	Role       Role          `json:"role"`
	RequireAll bool          `json:"require_all"`
	OneTime    bool          `json:"one_time,omitempty"`
	Triggered  bool          `json:"triggered,omitempty"`
	Conditions []managedJSON `json:"conditions"`
}

type managedJSON struct {
	PluginDefined bool       `json:"plugin_defined"`
	Condition     *Condition `json:"condition"`
}

func (m *Manager) MarshalJSON() ([]byte, error) {
	w := managerJSON{
		Role:       m.role,
		RequireAll: m.requireAll,
		OneTime:    m.oneTime,
		Triggered:  m.triggered,
		Conditions: make([]managedJSON, 0, len(m.plugin)+len(m.user)),
	}
	for _, c := range m.plugin {
		w.Conditions = append(w.Conditions, managedJSON{PluginDefined: true, Condition: c})
	}
	for _, c := range m.user {
		w.Conditions = append(w.Conditions, managedJSON{Condition: c})
	}
	return json.Marshal(w)
}

func (m *Manager) UnmarshalJSON(b []byte) error {
	var w managerJSON
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	out := NewManager(w.Role)
	out.requireAll = w.RequireAll
	out.oneTime = w.OneTime
	out.triggered = w.Triggered
	for i, mc := range w.Conditions {
		if mc.Condition == nil {
			return fmt.Errorf("%w: %s condition %d is empty", ErrInvalid, out.role, i)
		}
		out.Add(mc.Condition, mc.PluginDefined)
	}
	*m = *out
	return nil
}
