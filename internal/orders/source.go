package orders

import (
	"context"
	"encoding/json"
	"time"
)

// OrderLine is one order position as the order source reports it.
type OrderLine struct {
	Price  float64 `json:"price"`
	Amount float64 `json:"amount"`

	// CostPrice is absent for lines the CRM has no purchase price for; when
	// any line lacks it the order-level Opt cost is used instead.
	CostPrice *float64 `json:"costPrice"`
}

// RawOrder is an order as fetched from the order source, before any pricing
// interpretation.
type RawOrder struct {
	ID            json.Number `json:"id"`
	TabletkiOrder string      `json:"tabletkiOrder"`
	StatusID      int         `json:"statusId"`

	City     string `json:"city"`
	Supplier string `json:"supplier"`

	// OrderTime is civil local time, "YYYY-MM-DD HH:MM:SS".
	OrderTime string `json:"orderTime"`

	// Opt is the order-level wholesale cost fallback.
	Opt float64 `json:"opt"`

	Products []OrderLine `json:"products"`
}

// OrderID returns the source order id as a string key.
func (o *RawOrder) OrderID() string {
	return o.ID.String()
}

// Time parses the source order timestamp in the given civil timezone.
// Returns nil when the field is absent or malformed.
func (o *RawOrder) Time(loc *time.Location) *time.Time {
	if o.OrderTime == "" {
		return nil
	}
	t, err := time.ParseInLocation("2006-01-02 15:04:05", o.OrderTime, loc)
	if err != nil {
		return nil
	}
	return &t
}

// Source fetches raw orders for a time window.
type Source interface {
	FetchOrders(ctx context.Context, start, end time.Time) ([]RawOrder, error)
}

// FilterOrders keeps the orders belonging to (city, supplier aliases).
// Filtering fails open: an order whose city or supplier field is empty is
// kept, because an unextractable dimension is ambiguity, not a mismatch.
// Exclusion happens only on a confirmed mismatch.
func FilterOrders(all []RawOrder, city string, supplierAliases []string) []RawOrder {
	var out []RawOrder
	for _, o := range all {
		if o.City != "" && o.City != city {
			continue
		}
		if o.Supplier != "" && !contains(supplierAliases, o.Supplier) {
			continue
		}
		out = append(out, o)
	}
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
