package model

import "time"

// ListingTrial is one raw listing attempt record. Produced upstream by the
// registration pipeline; this engine only reads and aggregates them.
type ListingTrial struct {
	ID              string    `json:"id"`
	CategoryCode    string    `json:"category_code"`
	ProductID       string    `json:"product_id"`
	Marketplace     string    `json:"marketplace"`
	Success         bool      `json:"success"`
	ExactMatch      bool      `json:"exact_match"`
	FallbackUsed    bool      `json:"fallback_used"`
	RejectionReason *string   `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// RevenueRecord is one settled order used for the profitability term.
type RevenueRecord struct {
	ID           string    `json:"id"`
	CategoryCode string    `json:"category_code"`
	Revenue      float64   `json:"revenue"`
	Cost         float64   `json:"cost"`
	CreatedAt    time.Time `json:"created_at"`
}

// Product is a sourced product; titles feed keyword-to-category resolution.
type Product struct {
	ID           string    `json:"id"`
	CategoryCode string    `json:"category_code"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
}
