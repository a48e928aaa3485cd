package committee

import "errors"

var (
	ErrInvalidReview       = errors.New("invalid committee review")
	ErrInvalidState        = errors.New("operation not permitted in current review status")
	ErrDuplicateMember     = errors.New("user is already a committee member")
	ErrNotMember           = errors.New("user is not a committee member")
	ErrAlreadyVoted        = errors.New("member has already voted")
	ErrInvalidVote         = errors.New("invalid vote")
	ErrInsufficientMembers = errors.New("not enough committee members to start voting")
	ErrNotChairperson      = errors.New("only the chairperson may decide before voting completes")
	ErrInvalidTerms        = errors.New("invalid approved terms")
	ErrInvalidComment      = errors.New("invalid comment")
	ErrCommentNotFound     = errors.New("comment not found")
	ErrNotCommentAuthor    = errors.New("only the author may edit a comment")
	ErrReviewNotFound      = errors.New("committee review not found")
)
