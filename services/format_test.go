package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatPrice(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{250000, "250,000.00"},
		{0, "0.00"},
		{999.5, "999.50"},
		{1234567.891, "1,234,567.89"},
		{320000.004, "320,000.00"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatPrice(tt.in), "FormatPrice(%v)", tt.in)
	}
}

func TestFormatCurrency(t *testing.T) {
	assert.Equal(t, "$250,000.00", FormatCurrency(250000))
}

func TestFormatCount(t *testing.T) {
	assert.Equal(t, "1,500", FormatCount(1500))
	assert.Equal(t, "100", FormatCount(100))
	assert.Equal(t, "10,000", FormatCount(10000))
}

func TestFormatTimestamp(t *testing.T) {
	ts := time.Date(2024, 3, 5, 14, 7, 9, 123456000, time.FixedZone("CET", 3600))
	assert.Equal(t, "2024-03-05T13:07:09.123456Z", FormatTimestamp(ts))
}
