package workflow

import "errors"

var (
	// ErrNoSuchTransition is returned when the bound definition has no edge (current, to, action)
	ErrNoSuchTransition = errors.New("no such transition")

	// ErrUnauthorized is returned when the actor role does not match the edge's required role
	ErrUnauthorized = errors.New("unauthorized")

	// ErrCommentRequired is returned when the edge or destination stage requires a comment
	ErrCommentRequired = errors.New("comment required")

	// ErrAlreadyCompleted is returned for any mutation of a completed instance
	ErrAlreadyCompleted = errors.New("workflow instance already completed")

	// ErrSLANotDue is returned when breaching or escalating a stage before its deadline
	ErrSLANotDue = errors.New("stage sla is not due")

	// ErrStageChanged is returned when the instance left the stage a caller acted on
	ErrStageChanged = errors.New("workflow instance changed stage")

	// ErrNotAssigned is returned when unassigning an instance that has no assignee
	ErrNotAssigned = errors.New("workflow instance is not assigned")

	// ErrNoActiveDefinition is returned when an application type has no active definition
	ErrNoActiveDefinition = errors.New("no active workflow definition")

	// ErrStageNotFound is returned when a status has no stage in the definition
	ErrStageNotFound = errors.New("stage not found")

	// ErrInvalidDefinition is returned when a definition fails structural validation
	ErrInvalidDefinition = errors.New("invalid workflow definition")

	// ErrInstanceNotFound is returned when a workflow instance does not exist
	ErrInstanceNotFound = errors.New("workflow instance not found")

	// ErrInstanceExists is returned when a loan application already has a workflow instance
	ErrInstanceExists = errors.New("workflow instance already exists")
)
