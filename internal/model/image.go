package model

import "time"

// ImageRecord is a row of the image metadata table shared with the web application.
type ImageRecord struct {
	ID               int64      `gorm:"column:imageid;primaryKey"`
	OwnerID          *int64     `gorm:"column:owneruserid"`
	Caption          *string    `gorm:"column:caption"`
	OriginalLocation string     `gorm:"column:originalurl"`
	DerivedLocation  *string    `gorm:"column:thumbnailurl"` // empty until a preview is recorded
	LeaseOwner       *string    `gorm:"column:lease_owner"`
	LeaseExpiresAt   *time.Time `gorm:"column:lease_expires_at"`
}

// Derived returns the derived location or an empty string.
func (r ImageRecord) Derived() string {
	if r.DerivedLocation == nil {
		return ""
	}
	return *r.DerivedLocation
}

// IsPending reports whether the record still needs a preview under the given policy.
func (r ImageRecord) IsPending(p PendingPolicy) bool {
	d := r.Derived()
	if d == "" {
		return true
	}
	return p == PendingEqualsOriginal && d == r.OriginalLocation
}
