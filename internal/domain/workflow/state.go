package workflow

// Status is a loan application status code. The set is closed and shared with
// the loan application's own status field; which statuses a given application
// type actually visits is decided by its Definition, not here.
type Status string

const (
	StatusDraft                Status = "Draft"
	StatusSubmitted            Status = "Submitted"
	StatusDataGathering        Status = "DataGathering"
	StatusCreditAnalysis       Status = "CreditAnalysis"
	StatusBranchReview         Status = "BranchReview"
	StatusBranchApproved       Status = "BranchApproved"
	StatusHOReview             Status = "HOReview"
	StatusRegionalReview       Status = "RegionalReview"
	StatusCommitteeCirculation Status = "CommitteeCirculation"
	StatusCommitteeApproved    Status = "CommitteeApproved"
	StatusCommitteeRejected    Status = "CommitteeRejected"
	StatusApproved             Status = "Approved"
	StatusOfferGenerated       Status = "OfferGenerated"
	StatusOfferAccepted        Status = "OfferAccepted"
	StatusDocumentationPending Status = "DocumentationPending"
	StatusDisbursed            Status = "Disbursed"
	StatusRejected             Status = "Rejected"
	StatusCancelled            Status = "Cancelled"
)

var validStatuses = map[Status]bool{
	StatusDraft:                true,
	StatusSubmitted:            true,
	StatusDataGathering:        true,
	StatusCreditAnalysis:       true,
	StatusBranchReview:         true,
	StatusBranchApproved:       true,
	StatusHOReview:             true,
	StatusRegionalReview:       true,
	StatusCommitteeCirculation: true,
	StatusCommitteeApproved:    true,
	StatusCommitteeRejected:    true,
	StatusApproved:             true,
	StatusOfferGenerated:       true,
	StatusOfferAccepted:        true,
	StatusDocumentationPending: true,
	StatusDisbursed:            true,
	StatusRejected:             true,
	StatusCancelled:            true,
}

// String returns the string representation of the status
func (s Status) String() string {
	return string(s)
}

// IsValid returns true if the status belongs to the loan application status set
func (s Status) IsValid() bool {
	return validStatuses[s]
}
