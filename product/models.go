package product

import (
	"crypto/sha256"
	"time"
)

// Record is the domain representation of one manufactured unit. It mirrors
// the products table and carries no JSON annotations so it can be reused by
// different presentation layers.
//
// WarrantyStart and WarrantyExpiration are nil until the warranty-activating
// transfer happens; they are set together, exactly once, and never reset.
type Record struct {
	ID                 int64
	SerialNumber       string
	Model              string
	ManufacturerID     string
	OwnerID            string
	ManufacturedAt     time.Time
	WarrantyDuration   time.Duration
	WarrantyStart      *time.Time
	WarrantyExpiration *time.Time
	ClaimLimit         int
	ClaimCount         int
}

// RegisterParams enumerates the manufacturer-supplied fields of a new record.
type RegisterParams struct {
	InitialOwnerID   string
	SerialNumber     string
	Model            string
	WarrantyDuration time.Duration
	ClaimLimit       int
}

// SerialHash returns the collision-resistant digest under which a serial
// number is indexed. Registrations are deduplicated on the digest so the
// uniqueness check never scans raw strings.
func SerialHash(serialNumber string) []byte {
	sum := sha256.Sum256([]byte(serialNumber))
	return sum[:]
}
