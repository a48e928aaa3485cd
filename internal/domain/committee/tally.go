package committee

import "time"

// Tallies are derived from member state on every call and never stored.

// ApprovalCount returns the number of Approve ballots
func (r *Review) ApprovalCount() int {
	return r.countVotes(VoteApprove)
}

// RejectionCount returns the number of Reject ballots
func (r *Review) RejectionCount() int {
	return r.countVotes(VoteReject)
}

// AbstainCount returns the number of Abstain ballots
func (r *Review) AbstainCount() int {
	return r.countVotes(VoteAbstain)
}

// VotedCount returns the number of members who have voted
func (r *Review) VotedCount() int {
	n := 0
	for _, m := range r.Members {
		if m.HasVoted() {
			n++
		}
	}
	return n
}

// PendingVotes returns the number of members yet to vote
func (r *Review) PendingVotes() int {
	return len(r.Members) - r.VotedCount()
}

// HasQuorum reports whether enough ballots are in for a valid decision
func (r *Review) HasQuorum() bool {
	return r.VotedCount() >= r.RequiredVotes
}

// HasMajorityApproval reports whether approvals reach the configured minimum
func (r *Review) HasMajorityApproval() bool {
	return r.ApprovalCount() >= r.MinimumApprovalVotes
}

// IsOverdue reports whether now is past the review deadline
func (r *Review) IsOverdue(now time.Time) bool {
	return now.After(r.Deadline)
}

func (r *Review) countVotes(v Vote) int {
	n := 0
	for _, m := range r.Members {
		if m.Vote != nil && *m.Vote == v {
			n++
		}
	}
	return n
}
