// Package dataset owns the dataset lifecycle: validated ingestion with
// anonymization, aggregation and retention-rule enforcement, owner-scoped
// reads, and the public projection.
package dataset

import (
	"envds.org/internal/privacy"
	"envds.org/internal/retention"
)

// Classification domains.
const (
	TypeAir       = "air"
	TypeWater     = "water"
	TypeNoise     = "noise"
	TypeEmissions = "emissions"

	SensitivityPublic     = "PUBLIC"
	SensitivitySensitive  = "SENSITIVE"
	SensitivityRestricted = "RESTRICTED"
)

// ValidDataType reports membership in the data-type domain.
func ValidDataType(s string) bool {
	switch s {
	case TypeAir, TypeWater, TypeNoise, TypeEmissions:
		return true
	}
	return false
}

// ValidSensitivity reports membership in the sensitivity domain.
func ValidSensitivity(s string) bool {
	switch s {
	case SensitivityPublic, SensitivitySensitive, SensitivityRestricted:
		return true
	}
	return false
}

const (
	// MaxRows bounds one submission.
	MaxRows = 2000
	// sampleSize is how many anonymized rows stay readable next to the
	// encrypted payload.
	sampleSize = 50
	// rulesLookupLimit bounds the rule scan at ingestion time.
	rulesLookupLimit = 200
	// listLimit bounds owner/admin dataset listings.
	listLimit = 50
	// publicListLimit bounds the unauthenticated projection listing.
	publicListLimit = 200
)

// Dataset is the stored form of one submission. RawEncrypted is present
// only for non-PUBLIC sensitivity levels and never leaves the service
// undecrypted.
type Dataset struct {
	ID                  string           `json:"id"`
	OwnerID             string           `json:"ownerId"`
	OwnerEmail          string           `json:"ownerEmail"`
	DataType            string           `json:"dataType"`
	SensitivityLevel    string           `json:"sensitivityLevel"`
	CreatedAtMs         int64            `json:"createdAtMs"`
	RetentionPeriodDays int              `json:"retentionPeriodDays"`
	RetentionAction     retention.Action `json:"retentionAction"`
	MatchedRuleID       string           `json:"matchedRuleId,omitempty"`
	RetentionEnforced   bool             `json:"retentionEnforced"`
	ExpiresAtMs         int64            `json:"expiresAtMs"`
	RecordCount         int              `json:"recordCount"`
	FieldNames          []string         `json:"fieldNames"`
	Aggregates          privacy.Summary  `json:"aggregates"`
	RawEncrypted        string           `json:"rawEncrypted,omitempty"`
	SampleRows          []privacy.Record `json:"sampleRows"`
}

// PublicEntry is one row of the unauthenticated projection listing.
type PublicEntry struct {
	ID          string          `json:"id"`
	DataType    string          `json:"dataType"`
	CreatedAtMs int64           `json:"createdAtMs"`
	Aggregates  privacy.Summary `json:"aggregates"`
}

// Stats feeds the admin dashboard. CompliancePct is a synthetic
// placeholder estimate, not a derived compliance metric.
type Stats struct {
	TotalDatasets        int            `json:"totalDatasets"`
	TotalRecords         int            `json:"totalRecords"`
	RecordsBySensitivity map[string]int `json:"recordsBySensitivity"`
	ActiveRetentionRules int            `json:"activeRetentionRules"`
	CompliancePct        int            `json:"compliancePct"`
}
