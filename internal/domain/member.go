package domain

// MemberSummary is a read-only view of a peer for room listings.
// No transport or engine state here.
type MemberSummary struct {
	ID        UserID `json:"id"`
	Name      string `json:"name"`
	Producers int    `json:"producers"`
	Consumers int    `json:"consumers"`
}
