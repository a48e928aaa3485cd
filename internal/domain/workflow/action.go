package workflow

// Action tags a transition edge with the user intent that fires it
type Action string

const (
	ActionCreate          Action = "Create"
	ActionSubmit          Action = "Submit"
	ActionApprove         Action = "Approve"
	ActionReject          Action = "Reject"
	ActionReturn          Action = "Return"
	ActionEscalate        Action = "Escalate"
	ActionComplete        Action = "Complete"
	ActionAssign          Action = "Assign"
	ActionUnassign        Action = "Unassign"
	ActionMoveToNextStage Action = "MoveToNextStage"
	ActionCancel          Action = "Cancel"
)

var validActions = map[Action]bool{
	ActionCreate:          true,
	ActionSubmit:          true,
	ActionApprove:         true,
	ActionReject:          true,
	ActionReturn:          true,
	ActionEscalate:        true,
	ActionComplete:        true,
	ActionAssign:          true,
	ActionUnassign:        true,
	ActionMoveToNextStage: true,
	ActionCancel:          true,
}

// sideActions never move an instance between stages; they are logged as
// zero-width transitions and may not appear on a definition edge.
var sideActions = map[Action]bool{
	ActionCreate:   true,
	ActionAssign:   true,
	ActionUnassign: true,
	ActionEscalate: true,
}

// String returns the string representation of the action
func (a Action) String() string {
	return string(a)
}

// IsValid returns true if the action is one of the defined constants
func (a Action) IsValid() bool {
	return validActions[a]
}

// IsSideAction reports whether the action is only ever recorded as a zero-width log entry
func (a Action) IsSideAction() bool {
	return sideActions[a]
}
