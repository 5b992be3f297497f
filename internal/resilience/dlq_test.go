package resilience

import (
	"errors"
	"testing"

	"github.com/kestrel-commerce/sourcing-cli/internal/model"
)

func TestDLQEntry_CanRetry(t *testing.T) {
	tests := []struct {
		name       string
		retryCount int
		maxRetries int
		want       bool
	}{
		{"below max", 0, 3, true},
		{"at max", 3, 3, false},
		{"above max", 5, 3, false},
		{"one below max", 2, 3, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := DLQEntry{
				RetryCount: tt.retryCount,
				MaxRetries: tt.maxRetries,
			}
			if got := e.CanRetry(); got != tt.want {
				t.Errorf("CanRetry() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"transient error", NewTransientError(errors.New("503"), 503), "transient"},
		{"permanent error", errors.New("invalid input"), "permanent"},
		{"connection reset", errors.New("connection reset by peer"), "transient"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.want {
				t.Errorf("ClassifyError() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDLQEntry_CarriesProductAndMarket(t *testing.T) {
	e := DLQEntry{
		Product:      model.Product{ID: "P-100", Title: "usb c hub"},
		Market:       "coupang",
		CategoryCode: "CAT-ELEC-01",
	}
	if e.Product.ID != "P-100" {
		t.Errorf("expected product id, got %q", e.Product.ID)
	}
	if e.Market != "coupang" {
		t.Errorf("expected market, got %q", e.Market)
	}
}

func TestClassifyError_MarketplaceStatus(t *testing.T) {
	transient := &MarketplaceError{Market: "coupang", StatusCode: 503, Message: "maintenance"}
	if got := ClassifyError(transient); got != "transient" {
		t.Errorf("ClassifyError(503) = %q, want transient", got)
	}

	permanent := &MarketplaceError{Market: "coupang", StatusCode: 403, Message: "brand authorization required"}
	if got := ClassifyError(permanent); got != "permanent" {
		t.Errorf("ClassifyError(403) = %q, want permanent", got)
	}
}
