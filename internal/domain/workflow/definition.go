package workflow

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Stage is a node in a workflow graph
type Stage struct {
	Status          Status `json:"status" yaml:"status"`
	DisplayName     string `json:"display_name" yaml:"display_name"`
	Description     string `json:"description,omitempty" yaml:"description,omitempty"`
	AssignedRole    string `json:"assigned_role" yaml:"assigned_role"`
	SLAHours        int    `json:"sla_hours" yaml:"sla_hours"` // 0 means no SLA
	SortOrder       int    `json:"sort_order" yaml:"sort_order"`
	RequiresComment bool   `json:"requires_comment" yaml:"requires_comment"`
	IsTerminal      bool   `json:"is_terminal" yaml:"is_terminal"`
}

// SLA returns the stage deadline window, zero when the stage has no SLA
func (s Stage) SLA() time.Duration {
	return time.Duration(s.SLAHours) * time.Hour
}

// Transition is a permitted edge between two stages
type Transition struct {
	FromStatus      Status `json:"from_status"`
	ToStatus        Status `json:"to_status"`
	Action          Action `json:"action"`
	RequiredRole    string `json:"required_role"`
	RequiresComment bool   `json:"requires_comment"`
	Condition       string `json:"condition,omitempty"`
}

// Authorizes reports whether role may fire the edge. adminRole, when set, is always allowed.
func (t Transition) Authorizes(role, adminRole string) bool {
	if adminRole != "" && role == adminRole {
		return true
	}
	return role == t.RequiredRole
}

type edgeKey struct {
	from   Status
	to     Status
	action Action
}

// Definition is one immutable version of a workflow graph for an application type.
// Build it with NewDefinition or DefinitionBuilder; both validate the graph.
type Definition struct {
	ID              string
	Name            string
	ApplicationType string
	Version         int
	IsActive        bool
	CreatedAt       time.Time

	stages      []Stage
	transitions []Transition
	stageIndex  map[Status]int
	edgeIndex   map[edgeKey]int
}

// NewDefinition validates the graph and returns an indexed definition
func NewDefinition(id, name, applicationType string, version int, stages []Stage, transitions []Transition) (*Definition, error) {
	d := &Definition{
		ID:              id,
		Name:            name,
		ApplicationType: applicationType,
		Version:         version,
		stages:          append([]Stage(nil), stages...),
		transitions:     append([]Transition(nil), transitions...),
	}

	sort.SliceStable(d.stages, func(i, j int) bool {
		return d.stages[i].SortOrder < d.stages[j].SortOrder
	})

	if err := d.validate(); err != nil {
		return nil, err
	}

	return d, nil
}

// validate checks structural invariants and builds the lookup tables.
// All problems are reported together.
func (d *Definition) validate() error {
	var errs []error

	if d.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if d.ApplicationType == "" {
		errs = append(errs, errors.New("application type is required"))
	}
	if len(d.stages) == 0 {
		errs = append(errs, errors.New("at least one stage is required"))
	}

	d.stageIndex = make(map[Status]int, len(d.stages))
	for i, s := range d.stages {
		if !s.Status.IsValid() {
			errs = append(errs, fmt.Errorf("stage %d: unknown status %q", i, s.Status))
			continue
		}
		if _, dup := d.stageIndex[s.Status]; dup {
			errs = append(errs, fmt.Errorf("stage %s: duplicate status", s.Status))
			continue
		}
		if s.SLAHours < 0 {
			errs = append(errs, fmt.Errorf("stage %s: sla hours must be >= 0", s.Status))
		}
		d.stageIndex[s.Status] = i
	}

	d.edgeIndex = make(map[edgeKey]int, len(d.transitions))
	for i, t := range d.transitions {
		label := fmt.Sprintf("transition %s -[%s]-> %s", t.FromStatus, t.Action, t.ToStatus)

		from, fromOK := d.stageIndex[t.FromStatus]
		if !fromOK {
			errs = append(errs, fmt.Errorf("%s: from status has no stage", label))
		}
		if _, ok := d.stageIndex[t.ToStatus]; !ok {
			errs = append(errs, fmt.Errorf("%s: to status has no stage", label))
		}
		if !t.Action.IsValid() {
			errs = append(errs, fmt.Errorf("%s: unknown action", label))
		} else if t.Action.IsSideAction() {
			errs = append(errs, fmt.Errorf("%s: %s cannot label an edge", label, t.Action))
		}
		if t.RequiredRole == "" {
			errs = append(errs, fmt.Errorf("%s: required role is empty", label))
		}
		if fromOK && d.stages[from].IsTerminal {
			errs = append(errs, fmt.Errorf("%s: terminal stage cannot have outgoing transitions", label))
		}

		key := edgeKey{from: t.FromStatus, to: t.ToStatus, action: t.Action}
		if _, dup := d.edgeIndex[key]; dup {
			errs = append(errs, fmt.Errorf("%s: duplicate transition", label))
			continue
		}
		d.edgeIndex[key] = i
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w %q: %w", ErrInvalidDefinition, d.Name, errors.Join(errs...))
	}
	return nil
}

// Stage returns the stage for a status
func (d *Definition) Stage(status Status) (Stage, bool) {
	i, ok := d.stageIndex[status]
	if !ok {
		return Stage{}, false
	}
	return d.stages[i], true
}

// Transition returns the edge (from, to, action) if the graph has one
func (d *Definition) Transition(from, to Status, action Action) (Transition, bool) {
	i, ok := d.edgeIndex[edgeKey{from: from, to: to, action: action}]
	if !ok {
		return Transition{}, false
	}
	return d.transitions[i], true
}

// TransitionsFrom returns every edge leaving status, in declaration order
func (d *Definition) TransitionsFrom(status Status) []Transition {
	var out []Transition
	for _, t := range d.transitions {
		if t.FromStatus == status {
			out = append(out, t)
		}
	}
	return out
}

// Stages returns a copy of the stages ordered by sort order
func (d *Definition) Stages() []Stage {
	return append([]Stage(nil), d.stages...)
}

// Transitions returns a copy of the edges in declaration order
func (d *Definition) Transitions() []Transition {
	return append([]Transition(nil), d.transitions...)
}
