package committee

// ReviewStatus is the linear lifecycle of a committee review
type ReviewStatus string

const (
	StatusPending        ReviewStatus = "Pending"
	StatusInProgress     ReviewStatus = "InProgress"
	StatusVotingComplete ReviewStatus = "VotingComplete"
	StatusDecided        ReviewStatus = "Decided"
	StatusClosed         ReviewStatus = "Closed"
)

// String returns the string representation of the status
func (s ReviewStatus) String() string {
	return string(s)
}

// IsValid returns true if the status is one of the defined constants
func (s ReviewStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusVotingComplete, StatusDecided, StatusClosed:
		return true
	default:
		return false
	}
}

// Vote is a member's write-once ballot
type Vote string

const (
	VoteApprove Vote = "Approve"
	VoteReject  Vote = "Reject"
	VoteAbstain Vote = "Abstain"
)

// IsValid returns true if the vote is one of the defined constants
func (v Vote) IsValid() bool {
	switch v {
	case VoteApprove, VoteReject, VoteAbstain:
		return true
	default:
		return false
	}
}

// Decision is the committee's recorded outcome
type Decision string

const (
	DecisionApproved Decision = "Approved"
	DecisionRejected Decision = "Rejected"
	DecisionDeferred Decision = "Deferred"
)

// IsValid returns true if the decision is one of the defined constants
func (d Decision) IsValid() bool {
	switch d {
	case DecisionApproved, DecisionRejected, DecisionDeferred:
		return true
	default:
		return false
	}
}

// Visibility controls who may read a comment
type Visibility string

const (
	VisibilityCommittee Visibility = "Committee"
	VisibilityInternal  Visibility = "Internal"
	VisibilityApplicant Visibility = "Applicant"
)

// IsValid returns true if the visibility is one of the defined constants
func (v Visibility) IsValid() bool {
	switch v {
	case VisibilityCommittee, VisibilityInternal, VisibilityApplicant:
		return true
	default:
		return false
	}
}
