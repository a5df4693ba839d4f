package models

import "time"

// ApprovalModeManual makes new bookings wait in PENDING until the provider confirms.
const ApprovalModeManual = "manual"

// Profile is the subset of a provider profile the engine reads.
type Profile struct {
	ProviderName string `bson:"providerName" json:"providerName"`
	Email        string `bson:"email" json:"email,omitempty"`
}

// Preferences holds the scheduling preferences of a provider.
type Preferences struct {
	Timezone            string `bson:"timezone" json:"timezone"`
	BookingApprovalMode string `bson:"bookingApprovalMode" json:"bookingApprovalMode"` // "manual" or "auto"
}

// Security carries delivery tokens for push notifications.
type Security struct {
	FCMToken string `bson:"fcmToken,omitempty" json:"-"`
}

// Provider is a provider document as stored by the external profile service.
type Provider struct {
	ID          string      `bson:"id" json:"id"`
	Profile     Profile     `bson:"profile" json:"profile"`
	Preferences Preferences `bson:"preferences" json:"preferences"`
	Security    Security    `bson:"security" json:"-"`
}

// RequiresApproval reports whether new bookings start as PENDING.
func (p Provider) RequiresApproval() bool {
	return p.Preferences.BookingApprovalMode == ApprovalModeManual
}

// Location resolves the provider's timezone, falling back to the given default.
func (p Provider) Location(fallback *time.Location) *time.Location {
	if p.Preferences.Timezone != "" {
		if loc, err := time.LoadLocation(p.Preferences.Timezone); err == nil {
			return loc
		}
	}
	if fallback == nil {
		return time.UTC
	}
	return fallback
}
