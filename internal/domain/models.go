// Package domain defines the persistence models for the deferred deep-link
// attribution engine. These types are mapped with GORM and form the core
// data layer of the application.
package domain

import "time"

// AttributionRecord is the short-lived server-side record linking a share
// event to a pending app install. It is created when the redirect page
// reports that the installed-app open attempt failed, and it is claimed at
// most once by the freshly installed app.
//
// Fields:
//   - Reference: UUID primary key; embedded in the store redirect URL as the
//     referrer parameter and used for exact-match resolution.
//   - ShortCode: 8-char uppercase+digit fallback key; more likely to survive
//     aggressive URL mangling than the full reference. Unique among rows.
//   - ContentID / AuxiliaryID: the shared content, plus an optional secondary
//     pointer (e.g. a specific image within the content).
//   - PayloadHash: hex SHA-256 of the original share token, kept for audit
//     without storing the token itself.
//   - Title: human-readable label, denormalized at creation time.
//   - SubjectID: the user who performed the original share.
//   - ExpiresAt: hard expiry (CreatedAt + TTL); rows past it never resolve.
//   - Consumed / ConsumedAt: monotonic false→true claim state. ConsumedAt is
//     set exactly when Consumed flips; neither is ever reset.
//   - UserAgent / IP / InstallSource: device info captured at creation, used
//     by the IP-based fallback resolution path. IP is stored normalized.
type AttributionRecord struct {
	Reference     string     `json:"reference"      gorm:"type:char(36);primaryKey"`
	ShortCode     string     `json:"short_code"     gorm:"type:char(8);not null;uniqueIndex:ux_attr_short_code"`
	ContentID     string     `json:"content_id"     gorm:"type:varchar(64);not null;index"`
	AuxiliaryID   string     `json:"auxiliary_id,omitempty" gorm:"type:varchar(64)"`
	PayloadHash   string     `json:"-"              gorm:"type:char(64);not null"`
	Title         string     `json:"title"          gorm:"type:varchar(255);not null"`
	SubjectID     string     `json:"subject_id"     gorm:"type:varchar(64);not null;index"`
	CreatedAt     time.Time  `json:"created_at"     gorm:"index"`
	ExpiresAt     time.Time  `json:"expires_at"     gorm:"not null;index"`
	Consumed      bool       `json:"consumed"       gorm:"not null;default:false;index"`
	ConsumedAt    *time.Time `json:"consumed_at,omitempty"`
	UserAgent     string     `json:"-"              gorm:"type:varchar(512)"`
	IP            string     `json:"-"              gorm:"type:varchar(64);index"`
	InstallSource string     `json:"-"              gorm:"type:varchar(64)"`
}

// TableName returns the database table name for AttributionRecord.
func (AttributionRecord) TableName() string { return "attribution_records" }

// Live reports whether the record is still claimable at the given instant:
// not consumed and not past its hard expiry. The store re-validates both
// conditions inside the atomic claim; this helper only serves read paths.
func (r *AttributionRecord) Live(now time.Time) bool {
	return !r.Consumed && now.Before(r.ExpiresAt)
}

// Content is the minimal catalog entry backing the content-lookup
// collaborator: shares reference a content row, and its title is
// denormalized into tokens and attribution records at issuance time.
type Content struct {
	ID        string    `json:"id"         gorm:"type:varchar(64);primaryKey"`
	Title     string    `json:"title"      gorm:"type:varchar(255);not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Content.
func (Content) TableName() string { return "contents" }
