package subscription

import (
	"strings"
	"time"
)

const (
	StatusActive  = "active"
	StatusExpired = "expired"
)

// Plan is a purchasable subscription tier. Prices are in minor units (paise).
type Plan struct {
	Name           string
	DisplayName    string
	PriceMinor     int64
	DurationMonths int
	AccessUnits    int
	Features       []string
}

var catalog = []Plan{
	{
		Name:           "basic",
		DisplayName:    "Basic",
		PriceMinor:     19900,
		DurationMonths: 1,
		AccessUnits:    10,
		Features:       []string{"Unlock 10 farmer contacts", "Valid for 1 month"},
	},
	{
		Name:           "premium",
		DisplayName:    "Premium",
		PriceMinor:     39900,
		DurationMonths: 3,
		AccessUnits:    25,
		Features:       []string{"Unlock 25 farmer contacts", "Valid for 3 months", "Priority support"},
	},
	{
		Name:           "unlimited",
		DisplayName:    "Unlimited",
		PriceMinor:     99900,
		DurationMonths: 12,
		AccessUnits:    100,
		Features:       []string{"Unlock 100 farmer contacts", "Valid for 12 months", "Priority support"},
	},
}

// Plans returns the catalog in display order.
func Plans() []Plan {
	out := make([]Plan, len(catalog))
	copy(out, catalog)
	return out
}

// LookupPlan finds a plan by name, ignoring case.
func LookupPlan(name string) (Plan, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, p := range catalog {
		if p.Name == name {
			return p, true
		}
	}
	return Plan{}, false
}

// Entitlement is a purchased subscription. Only UnitsRemaining and Status
// change after creation.
type Entitlement struct {
	ID             string
	IdentityID     string
	Plan           string
	DurationMonths int
	UnitsGranted   int
	UnitsRemaining int
	Amount         int64
	Currency       string
	PaymentRef     string
	OrderID        string
	Status         string
	StartedAt      time.Time
	EndsAt         time.Time
	CreatedAt      time.Time
}

// ActiveAt reports whether the entitlement grants access at t.
func (e Entitlement) ActiveAt(t time.Time) bool {
	return e.Status == StatusActive && t.Before(e.EndsAt)
}

// UnlockResult reports a farmer unlock.
type UnlockResult struct {
	FarmerID        string
	FarmerName      string
	FarmerEmail     string
	FarmerPhone     string
	UnitsRemaining  int
	AlreadyUnlocked bool
}
