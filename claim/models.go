package claim

import "time"

// Claim is the domain representation of one warranty claim. It mirrors the
// warranty_claims table.
//
// A claim moves unprocessed -> processed exactly once; ServiceNotes moves
// nil -> non-nil exactly once, and only after approval.
type Claim struct {
	ID               int64
	ProductID        int64
	CustomerID       string
	IssueDescription string
	SubmittedAt      time.Time
	Processed        bool
	Approved         bool
	ProcessedAt      *time.Time
	ProcessedBy      *string
	ServiceNotes     *string
	ServicedAt       *time.Time
	ServicedBy       *string
}

// productState is the slice of the product row the claim workflow locks and
// inspects before writing.
type productState struct {
	OwnerID            string
	WarrantyStart      *time.Time
	WarrantyExpiration *time.Time
	ClaimLimit         int
	ClaimCount         int
}
