package feed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCorrelationIDRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		corr CorrelationID
		wire string
	}{
		{"plain ticker", CorrelationID{Instrument: "AAPL US Equity", JobID: 42}, "AAPL US Equity|42"},
		{"single char", CorrelationID{Instrument: "X", JobID: 1}, "X|1"},
		{"pipe in instrument", CorrelationID{Instrument: "A|B", JobID: 7}, "A|B|7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wire, tt.corr.String())

			parsed, err := ParseCorrelationID(tt.wire)
			require.NoError(t, err)
			assert.Equal(t, tt.corr, parsed)
		})
	}
}

func TestParseCorrelationIDInvalid(t *testing.T) {
	tests := []string{
		"",
		"no-separator",
		"|42",
		"X|",
		"X|not-a-number",
	}

	for _, wire := range tests {
		t.Run(wire, func(t *testing.T) {
			_, err := ParseCorrelationID(wire)
			assert.ErrorIs(t, err, ErrBadCorrelation)
		})
	}
}
