package verifyflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSynthesizeName(t *testing.T) {
	tests := []struct {
		name      string
		first     string
		last      string
		full      string
		email     string
		wantFirst string
		wantLast  string
	}{
		{
			name:  "ExplicitNamesWin",
			first: "Juan", last: "Dela Cruz", full: "ignored entirely",
			email:     "a@dorsu.edu.ph",
			wantFirst: "Juan", wantLast: "Dela Cruz",
		},
		{
			name:  "ExplicitFirstOnly",
			first: "Juan", email: "a@dorsu.edu.ph",
			wantFirst: "Juan", wantLast: "",
		},
		{
			name: "FullNameLastTokenIsGivenName",
			full: "Dela Cruz Juan", email: "a@dorsu.edu.ph",
			wantFirst: "Juan", wantLast: "Dela Cruz",
		},
		{
			name: "FullNameSingleToken",
			full: "Juan", email: "a@dorsu.edu.ph",
			wantFirst: "Juan", wantLast: "",
		},
		{
			name:  "EmailLocalPartFallback",
			email: "maria.santos@dorsu.edu.ph",
			wantFirst: "Maria.santos", wantLast: "",
		},
		{
			name:  "EmailWithoutAt",
			email: "plainuser",
			wantFirst: "Plainuser", wantLast: "",
		},
		{
			name:  "WhitespaceOnlyExplicitNamesIgnored",
			first: "  ", last: " ", full: "Santos Maria",
			email:     "m@dorsu.edu.ph",
			wantFirst: "Maria", wantLast: "Santos",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first, last := SynthesizeName(tt.first, tt.last, tt.full, tt.email)
			assert.Equal(t, tt.wantFirst, first)
			assert.Equal(t, tt.wantLast, last)
		})
	}
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Juan Dela Cruz", DisplayName("Juan", "Dela Cruz"))
	assert.Equal(t, "Juan", DisplayName("Juan", ""))
	assert.Equal(t, "Dela Cruz", DisplayName("", "Dela Cruz"))
	assert.Equal(t, "", DisplayName("", ""))
}
