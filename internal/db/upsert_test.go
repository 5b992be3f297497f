package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsert_EmptyRows(t *testing.T) {
	u := Upsert{Table: "listing_trials", Columns: []string{"id"}, Keys: []string{"id"}}
	n, err := u.Run(context.Background(), nil, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestUpsert_NoColumns(t *testing.T) {
	u := Upsert{Table: "listing_trials", Keys: []string{"id"}}
	_, err := u.Run(context.Background(), nil, [][]any{{"a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns")
}

func TestUpsert_NoKeys(t *testing.T) {
	u := Upsert{Table: "listing_trials", Columns: []string{"id", "category_code"}}
	_, err := u.Run(context.Background(), nil, [][]any{{"a", "b"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys")
}

func TestTableIdent(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"listing_trials", `"listing_trials"`},
		{"sourcing.listing_trials", `"sourcing"."listing_trials"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, tableIdent(tt.input).Sanitize())
		})
	}
}

func TestQuoteJoin(t *testing.T) {
	assert.Equal(t, `"id", "category_code", "success"`, quoteJoin([]string{"id", "category_code", "success"}))
}
