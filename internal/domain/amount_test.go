package domain

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatEther(t *testing.T) {
	tests := []struct {
		name string
		wei  *big.Int
		want string
	}{
		{"nil", nil, ""},
		{"zero", big.NewInt(0), "0.0"},
		{"one ether", new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil), "1.0"},
		{"hundredth", big.NewInt(10_000_000_000_000_000), "0.01"},
		{"one wei", big.NewInt(1), "0.000000000000000001"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatEther(tt.wei))
		})
	}
}

func TestParseEtherRoundTrip(t *testing.T) {
	wei, ok := new(big.Int).SetString("1234500000000000000", 10)
	require.True(t, ok)

	got, err := ParseEther(FormatEther(wei))
	require.NoError(t, err)
	assert.Equal(t, 0, wei.Cmp(got))
}

func TestParseEtherRejects(t *testing.T) {
	for _, in := range []string{"", "abc", "-1", "0.0000000000000000001"} {
		_, err := ParseEther(in)
		assert.Error(t, err, "input %q", in)
	}
}
