package shipping

import (
	"context"
	"slices"
	"strings"
	"time"
)

// FlatRateProvider returns predefined flat-rate shipping options.
// Used when real carrier integration is not needed.
type FlatRateProvider struct {
	rates []FlatRate
	now   func() time.Time
}

// FlatRate defines a single flat-rate shipping option.
type FlatRate struct {
	Carrier     string // defaults to "Flat Rate"
	ServiceName string
	ServiceCode string
	CostCents   int64
	DaysMin     int
	DaysMax     int
	// FreeOverCents makes the rate free when the subtotal exceeds it. Zero disables.
	FreeOverCents int64
	// Countries restricts the rate to ISO country codes. Empty means everywhere.
	Countries           []string
	RequiresPickupPoint bool
}

// NewFlatRateProvider creates a new flat-rate shipping provider.
func NewFlatRateProvider(rates []FlatRate) Provider {
	return &FlatRateProvider{rates: rates, now: time.Now}
}

// DefaultFlatRates is the table used by the local backend when none is configured.
func DefaultFlatRates() []FlatRate {
	return []FlatRate{
		{ServiceName: "Standard Shipping", ServiceCode: "standard", CostCents: 500, DaysMin: 3, DaysMax: 5},
		{ServiceName: "Express Shipping", ServiceCode: "express", CostCents: 1500, DaysMin: 1, DaysMax: 2},
		{
			Carrier:             "Pickup Point",
			ServiceName:         "Pickup Point Delivery",
			ServiceCode:         "pickup",
			CostCents:           300,
			DaysMin:             2,
			DaysMax:             4,
			RequiresPickupPoint: true,
		},
	}
}

// GetRates converts flat rates to Rate objects for the destination.
func (p *FlatRateProvider) GetRates(ctx context.Context, params RateParams) ([]Rate, error) {
	country := strings.ToUpper(strings.TrimSpace(params.DestinationAddress.Country))
	if country == "" {
		return nil, ErrDestinationRequired
	}

	result := make([]Rate, 0, len(p.rates))
	for _, fr := range p.rates {
		if len(fr.Countries) > 0 && !slices.ContainsFunc(fr.Countries, func(c string) bool {
			return strings.EqualFold(c, country)
		}) {
			continue
		}

		cost := fr.CostCents
		if fr.FreeOverCents > 0 && params.SubtotalCents > fr.FreeOverCents {
			cost = 0
		}
		carrier := fr.Carrier
		if carrier == "" {
			carrier = "Flat Rate"
		}

		result = append(result, Rate{
			RateID:                fr.ServiceCode,
			Carrier:               carrier,
			ServiceName:           fr.ServiceName,
			ServiceCode:           fr.ServiceCode,
			CostCents:             cost,
			Currency:              params.Currency,
			EstimatedDaysMin:      fr.DaysMin,
			EstimatedDaysMax:      fr.DaysMax,
			EstimatedDeliveryDate: p.now().AddDate(0, 0, fr.DaysMax),
			RequiresPickupPoint:   fr.RequiresPickupPoint,
		})
	}

	if len(result) == 0 {
		return nil, ErrNoRates
	}
	return result, nil
}
