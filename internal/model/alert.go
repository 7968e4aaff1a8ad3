package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// AlertKind represents the kind of subject an alert watches
type AlertKind string

const (
	AlertKindCurrency AlertKind = "currency"
	AlertKindCrypto   AlertKind = "crypto"
)

// AlertStatus represents the lifecycle state of an alert
type AlertStatus string

const (
	AlertStatusActive    AlertStatus = "active"
	AlertStatusTriggered AlertStatus = "triggered"
	AlertStatusPaused    AlertStatus = "paused"
)

// ConditionKind tags the direction of an alert condition
type ConditionKind string

const (
	ConditionAbove ConditionKind = "above"
	ConditionBelow ConditionKind = "below"
)

// AlertCondition is a tagged threshold comparison. Both directions are
// inclusive: above fires at rate >= threshold, below at rate <= threshold.
type AlertCondition struct {
	Kind      ConditionKind `json:"kind"`
	Threshold float64       `json:"threshold"`
}

// Above builds an inclusive upper-bound condition
func Above(threshold float64) AlertCondition {
	return AlertCondition{Kind: ConditionAbove, Threshold: threshold}
}

// Below builds an inclusive lower-bound condition
func Below(threshold float64) AlertCondition {
	return AlertCondition{Kind: ConditionBelow, Threshold: threshold}
}

// Valid reports whether the condition carries a known tag
func (c AlertCondition) Valid() bool {
	return c.Kind == ConditionAbove || c.Kind == ConditionBelow
}

func (c AlertCondition) String() string {
	return fmt.Sprintf("%s(%g)", c.Kind, c.Threshold)
}

// Alert represents a persisted user rule comparing a live rate against
// a threshold
type Alert struct {
	ID   string    `json:"id"`
	Kind AlertKind `json:"kind"`

	// Currency pair, set when Kind == currency
	Base   string `json:"base,omitempty"`
	Target string `json:"target,omitempty"`

	// Crypto identity, set when Kind == crypto
	CryptoID     string `json:"crypto_id,omitempty"`
	CryptoSymbol string `json:"crypto_symbol,omitempty"`

	Condition AlertCondition `json:"condition"`

	// TargetValue is the exact decimal the user entered. The float64
	// threshold inside Condition drives comparison; this field keeps the
	// display precision.
	TargetValue decimal.Decimal `json:"target_value"`

	Enabled bool        `json:"enabled"`
	Status  AlertStatus `json:"status"`

	TriggeredAt         *time.Time `json:"triggered_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	AutoResetAfterHours *int       `json:"auto_reset_after_hours,omitempty"`
}

// Subject returns the quote subject this alert watches: "BASE/TARGET" for
// currency pairs, the crypto id otherwise. Pair subjects are directional;
// USD/ILS never matches ILS/USD.
func (a *Alert) Subject() string {
	if a.Kind == AlertKindCrypto {
		return a.CryptoID
	}
	return a.Base + "/" + a.Target
}

// IsActive reports whether the alert participates in evaluation
func (a *Alert) IsActive() bool {
	return a.Enabled && a.Status == AlertStatusActive
}

// AutoResetExpired reports whether a triggered alert's reset window has
// elapsed at the given instant. Alerts without an auto-reset window never
// expire.
func (a *Alert) AutoResetExpired(now time.Time) bool {
	if a.Status != AlertStatusTriggered || a.TriggeredAt == nil || a.AutoResetAfterHours == nil {
		return false
	}
	return now.Sub(*a.TriggeredAt) >= time.Duration(*a.AutoResetAfterHours)*time.Hour
}

// Provenance identifies which data source produced a snapshot
type Provenance string

const (
	ProvenanceScheduledFetch Provenance = "scheduled_fetch"
	ProvenanceForegroundPoll Provenance = "foreground_poll"
	ProvenanceStream         Provenance = "stream"
)

// RateSnapshot is one fresh rate observation from any source. Snapshots are
// ephemeral; they are evaluated and discarded, never persisted.
type RateSnapshot struct {
	Subject    string     `json:"subject"`
	Rate       float64    `json:"rate"`
	Timestamp  time.Time  `json:"timestamp"`
	Provenance Provenance `json:"provenance"`
}

// TriggerEvent records the one-time active -> triggered transition of an
// alert. It is handed to the notification dispatcher and discarded.
type TriggerEvent struct {
	ID          string       `json:"id"`
	AlertID     string       `json:"alert_id"`
	AlertKind   AlertKind    `json:"alert_kind"`
	Snapshot    RateSnapshot `json:"snapshot"`
	Rate        float64      `json:"rate"`
	TriggeredAt time.Time    `json:"triggered_at"`
}

// Marshal serializes the event for publishing
func (e *TriggerEvent) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
