package validate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validNationalID carries a correct Verhoeff check digit in its last position.
const validNationalID = "234567890124"

func TestValidateNationalID(t *testing.T) {
	require.NoError(t, ValidateNationalID(validNationalID))
	require.NoError(t, ValidateNationalID("2345 6789 0124"))

	tests := []struct {
		name string
		id   string
	}{
		{"too short", "23456789012"},
		{"non numeric", "23456789012X"},
		{"bad checksum", "234567890125"},
		{"all same digit", "111111111111"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, ValidateNationalID(tt.id))
		})
	}
}

func TestValidateTaxID(t *testing.T) {
	require.NoError(t, ValidateTaxID("BNZAA2318J"))
	require.NoError(t, ValidateTaxID("bnzaa2318j"))

	tests := []struct {
		name string
		id   string
	}{
		{"wrong shape", "BZ2318J"},
		{"digits first", "1234ABCDE F"},
		{"placeholder", "ABCDE1234F"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, ValidateTaxID(tt.id))
		})
	}
}

func TestValidateFullName(t *testing.T) {
	require.NoError(t, ValidateFullName("Priya Sharma"))
	require.NoError(t, ValidateFullName("Anand Kumar Verma"))

	tests := []struct {
		name  string
		value string
	}{
		{"single word", "Priya"},
		{"double space", "Priya  Sharma"},
		{"digits", "Priya Sharma2"},
		{"too short", "Al"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, ValidateFullName(tt.value))
		})
	}
}

func TestValidateDateOfBirth(t *testing.T) {
	now := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, ValidateDateOfBirth("1990-04-02", now))
	require.NoError(t, ValidateDateOfBirth("2008-09-01", now)) // 18th birthday today
	require.NoError(t, ValidateDateOfBirth("2008-02-29", now)) // leap-day birth date

	tests := []struct {
		name string
		dob  string
	}{
		{"not a date", "02/04/1990"},
		{"under 18", "2008-09-02"},
		{"over 120", "1900-01-01"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, ValidateDateOfBirth(tt.dob, now))
		})
	}
}

func TestValidatePhone(t *testing.T) {
	require.NoError(t, ValidatePhone("9876543210"))
	require.NoError(t, ValidatePhone("98765 43210"))
	require.NoError(t, ValidatePhone("+91 98765-43210"))

	tests := []struct {
		name  string
		phone string
	}{
		{"too short", "987654321"},
		{"letters", "98765abcde"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, ValidatePhone(tt.phone))
		})
	}
}
