package session

import (
	"encoding/json"
	"fmt"

	"github.com/dukerupert/checkout-embed/internal/domain"
)

// CurrentVersion is the envelope version written by this package.
const CurrentVersion = 1

// State is the persisted checkout progress.
type State struct {
	FormData   domain.FormData `json:"formData"`
	Step       domain.Step     `json:"step"`
	CheckoutID string          `json:"checkoutId"`
}

// envelope wraps State with a version tag.
type envelope struct {
	Version int             `json:"version"`
	State   json.RawMessage `json:"state"`
}

// errUnsupportedVersion marks payloads that are discarded rather than migrated.
type errUnsupportedVersion int

func (e errUnsupportedVersion) Error() string {
	return fmt.Sprintf("unsupported state version %d", int(e))
}

func encode(st State) ([]byte, error) {
	raw, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	return json.Marshal(envelope{Version: CurrentVersion, State: raw})
}

// decode parses an envelope of any known version and migrates it to State.
func decode(data []byte) (State, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return State{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if len(env.State) == 0 {
		return State{}, fmt.Errorf("envelope has no state")
	}

	switch env.Version {
	case CurrentVersion:
		var st State
		if err := json.Unmarshal(env.State, &st); err != nil {
			return State{}, fmt.Errorf("unmarshal state: %w", err)
		}
		return st, nil
	case 0:
		return migrateV0(env.State)
	default:
		return State{}, errUnsupportedVersion(env.Version)
	}
}

// v0 payloads were written by the widget before the envelope carried a
// version. Customer addresses were either flat strings with a separate
// apartment field or the nested address object, and shipping was either a
// selected rate or a bare method name.
type v0State struct {
	FormData struct {
		Customer   *v0Customer               `json:"customer"`
		Shipping   *domain.ShippingSelection `json:"shipping"`
		CustomerID string                    `json:"customerId"`
	} `json:"formData"`
	Step       string `json:"step"`
	CheckoutID string `json:"checkoutId"`
}

type v0Customer struct {
	Email            string          `json:"email"`
	MarketingConsent bool            `json:"marketingConsent"`
	FirstName        string          `json:"firstName"`
	LastName         string          `json:"lastName"`
	Phone            string          `json:"phone"`
	Address          json.RawMessage `json:"address"`
	Apartment        string          `json:"apartment"`
	City             string          `json:"city"`
	State            string          `json:"state"`
	ZipCode          string          `json:"zipCode"`
	Country          string          `json:"country"`
}

func migrateV0(raw json.RawMessage) (State, error) {
	var old v0State
	if err := json.Unmarshal(raw, &old); err != nil {
		return State{}, fmt.Errorf("unmarshal v0 state: %w", err)
	}

	st := State{
		Step:       domain.Step(old.Step),
		CheckoutID: old.CheckoutID,
	}
	if !st.Step.Valid() {
		st.Step = domain.StepCustomer
	}

	st.FormData.CustomerID = old.FormData.CustomerID
	if s := old.FormData.Shipping; s != nil && s.RateID != "" {
		st.FormData.Shipping = s
	}

	if c := old.FormData.Customer; c != nil {
		cust := &domain.CustomerData{
			Email:            c.Email,
			MarketingConsent: c.MarketingConsent,
			FirstName:        c.FirstName,
			LastName:         c.LastName,
			Phone:            c.Phone,
		}

		var line1 string
		if len(c.Address) > 0 && json.Unmarshal(c.Address, &line1) == nil {
			cust.Address = domain.Address{
				Line1:   line1,
				Line2:   c.Apartment,
				City:    c.City,
				State:   c.State,
				ZipCode: c.ZipCode,
				Country: c.Country,
			}
		} else if len(c.Address) > 0 {
			if err := json.Unmarshal(c.Address, &cust.Address); err != nil {
				return State{}, fmt.Errorf("unmarshal v0 address: %w", err)
			}
		}
		st.FormData.Customer = cust
	}

	return st, nil
}
