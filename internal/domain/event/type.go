package event

// Type identifies the type of domain event
type Type string

const (
	// Workflow instance events
	TypeWorkflowInstanceCreated   Type = "workflow.instance_created"
	TypeWorkflowTransitioned      Type = "workflow.transitioned"
	TypeWorkflowInstanceCompleted Type = "workflow.instance_completed"
	TypeWorkflowAssigned          Type = "workflow.assigned"
	TypeWorkflowSlaBreached       Type = "workflow.sla_breached"
	TypeWorkflowEscalated         Type = "workflow.escalated"

	// Committee review events
	TypeCommitteeReviewCreated    Type = "committee.review_created"
	TypeCommitteeMemberAdded      Type = "committee.member_added"
	TypeCommitteeVotingStarted    Type = "committee.voting_started"
	TypeCommitteeVoteCast         Type = "committee.vote_cast"
	TypeCommitteeVotingCompleted  Type = "committee.voting_completed"
	TypeCommitteeCommentAdded     Type = "committee.comment_added"
	TypeCommitteeDecisionRecorded Type = "committee.decision_recorded"
	TypeCommitteeReviewClosed     Type = "committee.review_closed"

	// Raised outside this module once every credit check on a loan application is in
	TypeCreditChecksCompleted Type = "credit_checks.completed"
)

// Outbound lists every event type this module publishes
var Outbound = []Type{
	TypeWorkflowInstanceCreated,
	TypeWorkflowTransitioned,
	TypeWorkflowInstanceCompleted,
	TypeWorkflowAssigned,
	TypeWorkflowSlaBreached,
	TypeWorkflowEscalated,
	TypeCommitteeReviewCreated,
	TypeCommitteeMemberAdded,
	TypeCommitteeVotingStarted,
	TypeCommitteeVoteCast,
	TypeCommitteeVotingCompleted,
	TypeCommitteeCommentAdded,
	TypeCommitteeDecisionRecorded,
	TypeCommitteeReviewClosed,
}

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	if t == TypeCreditChecksCompleted {
		return true
	}
	return t.IsOutbound()
}

// IsOutbound reports whether the type is published by this module
func (t Type) IsOutbound() bool {
	for _, o := range Outbound {
		if o == t {
			return true
		}
	}
	return false
}

// Payload keys
const (
	KeyFromStatus      = "from_status"
	KeyToStatus        = "to_status"
	KeyFinalStatus     = "final_status"
	KeyAction          = "action"
	KeyActorUserID     = "actor_user_id"
	KeyActorRole       = "actor_role"
	KeyComment         = "comment"
	KeyAssignedToUser  = "assigned_to_user"
	KeyApplicationType = "application_type"
	KeyDefinitionID    = "definition_id"
	KeySLADueAt        = "sla_due_at"
	KeyEscalationLevel = "escalation_level"
	KeyReason          = "reason"

	KeyReviewID       = "review_id"
	KeyCommitteeType  = "committee_type"
	KeyUserID         = "user_id"
	KeyIsChairperson  = "is_chairperson"
	KeyDeadline       = "deadline"
	KeyVote           = "vote"
	KeyCommentID      = "comment_id"
	KeyVisibility     = "visibility"
	KeyApprovalCount  = "approval_count"
	KeyRejectionCount = "rejection_count"
	KeyAbstainCount   = "abstain_count"
	KeyDecision       = "decision"
	KeyRationale      = "rationale"
	KeyDecidedBy      = "decided_by"
	KeyApprovedAmount = "approved_amount"
	KeyApprovedTenor  = "approved_tenor_months"
	KeyApprovedRate   = "approved_rate"
	KeyConditions     = "conditions"
)
