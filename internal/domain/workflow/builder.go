package workflow

// DefinitionBuilder assembles a workflow graph stage by stage
type DefinitionBuilder interface {
	// Stage adds a stage to the graph
	Stage(stage Stage) DefinitionBuilder

	// Configure returns the edge configuration for transitions leaving status
	Configure(status Status) StageConfiguration

	// Build validates the graph and returns the definition
	Build(id string, version int) (*Definition, error)
}

// StageConfiguration configures the edges leaving one stage
type StageConfiguration interface {
	// Permit allows role to move to toStatus with action
	Permit(action Action, toStatus Status, role string) StageConfiguration

	// PermitWithComment is Permit with a mandatory comment
	PermitWithComment(action Action, toStatus Status, role string) StageConfiguration

	// PermitIf is Permit with a free-form condition recorded on the edge
	PermitIf(action Action, toStatus Status, role string, condition string) StageConfiguration
}

// stageConfig implements StageConfiguration
type stageConfig struct {
	builder    *definitionBuilder
	fromStatus Status
}

// definitionBuilder implements DefinitionBuilder
type definitionBuilder struct {
	name            string
	applicationType string
	stages          []Stage
	transitions     []Transition
	configurations  map[Status]*stageConfig
}

// NewDefinitionBuilder creates a builder for an application type
func NewDefinitionBuilder(name, applicationType string) DefinitionBuilder {
	return &definitionBuilder{
		name:            name,
		applicationType: applicationType,
		configurations:  make(map[Status]*stageConfig),
	}
}

// Stage adds a stage to the graph
func (b *definitionBuilder) Stage(stage Stage) DefinitionBuilder {
	if stage.SortOrder == 0 {
		stage.SortOrder = len(b.stages) + 1
	}
	b.stages = append(b.stages, stage)
	return b
}

// Configure returns the edge configuration for the given status
func (b *definitionBuilder) Configure(status Status) StageConfiguration {
	config, exists := b.configurations[status]
	if !exists {
		config = &stageConfig{
			builder:    b,
			fromStatus: status,
		}
		b.configurations[status] = config
	}

	return config
}

// Build validates the graph. Unknown statuses and dangling edges surface here,
// not when an instance later tries to use them.
func (b *definitionBuilder) Build(id string, version int) (*Definition, error) {
	return NewDefinition(id, b.name, b.applicationType, version, b.stages, b.transitions)
}

// Permit allows role to move to toStatus with action
func (c *stageConfig) Permit(action Action, toStatus Status, role string) StageConfiguration {
	return c.add(Transition{Action: action, ToStatus: toStatus, RequiredRole: role})
}

// PermitWithComment is Permit with a mandatory comment
func (c *stageConfig) PermitWithComment(action Action, toStatus Status, role string) StageConfiguration {
	return c.add(Transition{Action: action, ToStatus: toStatus, RequiredRole: role, RequiresComment: true})
}

// PermitIf is Permit with a free-form condition recorded on the edge
func (c *stageConfig) PermitIf(action Action, toStatus Status, role string, condition string) StageConfiguration {
	return c.add(Transition{Action: action, ToStatus: toStatus, RequiredRole: role, Condition: condition})
}

func (c *stageConfig) add(t Transition) StageConfiguration {
	t.FromStatus = c.fromStatus
	c.builder.transitions = append(c.builder.transitions, t)
	return c
}
