package domain

import (
	"encoding/json"
	"fmt"
	"time"

	id "doorledger/pkg/domain"
)

type CommissionType string

const (
	CommissionFlatPerHead CommissionType = "flat_per_head"
	CommissionPercentage  CommissionType = "percentage"
)

// CommissionRule is a closed sum over the supported commission shapes. The
// tag and payload travel together so an EventPromoter can never hold a
// percentage config under a flat_per_head tag.
type CommissionRule interface {
	Type() CommissionType
	// Payout computes the commission in integer minor units for a head count
	// and the attributable revenue (also minor units). Integer math keeps the
	// computation repeatable: two runs over the same inputs produce identical
	// amounts.
	Payout(heads int64, revenue int64) int64

	sealed()
}

// FlatPerHead pays a fixed amount per attributed registration.
type FlatPerHead struct {
	AmountPerHead int64 `json:"amount_per_head"`
}

func (FlatPerHead) Type() CommissionType { return CommissionFlatPerHead }

func (r FlatPerHead) Payout(heads, _ int64) int64 { return heads * r.AmountPerHead }

func (FlatPerHead) sealed() {}

// Percentage pays a share of attributable revenue. The rate is in basis
// points (10000 = 100%) so payout math stays in integers end to end.
type Percentage struct {
	RateBasisPoints int64 `json:"rate_basis_points"`
}

func (Percentage) Type() CommissionType { return CommissionPercentage }

func (r Percentage) Payout(_, revenue int64) int64 { return revenue * r.RateBasisPoints / 10000 }

func (Percentage) sealed() {}

// MarshalCommissionRule serializes a rule's payload for storage next to its
// type tag.
func MarshalCommissionRule(rule CommissionRule) ([]byte, error) {
	return json.Marshal(rule)
}

// ParseCommissionRule rebuilds a rule from its stored tag and payload.
// Unknown tags are rejected; the sum type is closed.
func ParseCommissionRule(kind CommissionType, config []byte) (CommissionRule, error) {
	switch kind {
	case CommissionFlatPerHead:
		var rule FlatPerHead
		if err := json.Unmarshal(config, &rule); err != nil {
			return nil, fmt.Errorf("parse flat_per_head config: %w", err)
		}
		return rule, nil
	case CommissionPercentage:
		var rule Percentage
		if err := json.Unmarshal(config, &rule); err != nil {
			return nil, fmt.Errorf("parse percentage config: %w", err)
		}
		return rule, nil
	default:
		return nil, fmt.Errorf("unknown commission type %q", kind)
	}
}

// EventPromoter is a promoter's authorization and commission rule for one
// event.
type EventPromoter struct {
	EventID    id.EventID
	PromoterID id.PromoterID
	Commission CommissionRule
	CreatedAt  time.Time
}

// PromoterProfile is the ledger's view of a promoter record owned by the
// surrounding product. Attribution fallback walks from an event's organizer
// or venue to the profile owned by the same user.
type PromoterProfile struct {
	ID          id.PromoterID
	OwnerUserID id.UserID
}
