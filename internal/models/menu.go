package models

type MenuItem struct {
	Name     string   `json:"name"`
	Price    *float64 `json:"price,omitempty"`
	Category string   `json:"category,omitempty"`
}
