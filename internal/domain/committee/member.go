package committee

import "time"

// Member is a seat on a committee review
type Member struct {
	ID            string     `json:"id"`
	ReviewID      string     `json:"review_id"`
	UserID        string     `json:"user_id"`
	DisplayName   string     `json:"display_name"`
	Role          string     `json:"role"`
	IsChairperson bool       `json:"is_chairperson"`
	Vote          *Vote      `json:"vote,omitempty"`
	VotedAt       *time.Time `json:"voted_at,omitempty"`
	VoteComment   string     `json:"vote_comment,omitempty"`
	FirstViewedAt *time.Time `json:"first_viewed_at,omitempty"`
	LastViewedAt  *time.Time `json:"last_viewed_at,omitempty"`
	ViewCount     int        `json:"view_count"`
	AddedAt       time.Time  `json:"added_at"`
}

// HasVoted reports whether the member has cast a ballot
func (m Member) HasVoted() bool {
	return m.Vote != nil
}

// HasViewed reports whether the member has opened the review pack
func (m Member) HasViewed() bool {
	return m.FirstViewedAt != nil
}
