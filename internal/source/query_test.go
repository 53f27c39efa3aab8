package source

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBuildQuery(t *testing.T) {
	tests := []struct {
		since    time.Time
		name     string
		want     string
		keywords []string
	}{
		{
			name: "default keywords",
			want: `subject:(receipt OR "order confirmation" OR invoice)`,
		},
		{
			name:  "default keywords with date bound",
			since: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			want:  `subject:(receipt OR "order confirmation" OR invoice) after:2024/01/01`,
		},
		{
			name:     "custom keywords",
			keywords: []string{"receipt", "thanks for your order"},
			want:     `subject:(receipt OR "thanks for your order")`,
		},
		{
			name:     "already quoted keyword stays as is",
			keywords: []string{`"order shipped"`},
			want:     `subject:("order shipped")`,
		},
		{
			name:     "blank keywords fall back to defaults",
			keywords: []string{"", "   "},
			want:     `subject:(receipt OR "order confirmation" OR invoice)`,
		},
		{
			name:     "single digit month and day are zero padded",
			keywords: []string{"invoice"},
			since:    time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC),
			want:     `subject:(invoice) after:2024/03/05`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildQuery(tt.keywords, tt.since))
		})
	}
}
