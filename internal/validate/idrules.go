package validate

import (
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

var (
	ErrInvalidNationalID = eris.New("validate: invalid national id number")
	ErrInvalidTaxID      = eris.New("validate: invalid tax id number")
	ErrInvalidName       = eris.New("validate: invalid full name")
	ErrInvalidDOB        = eris.New("validate: invalid date of birth")
	ErrInvalidPhone      = eris.New("validate: invalid phone number")
)

var (
	nationalIDRe = regexp.MustCompile(`^[0-9]{12}$`)
	taxIDRe      = regexp.MustCompile(`^[A-Z]{5}[0-9]{4}[A-Z]$`)
	nameRe       = regexp.MustCompile(`^[A-Za-z]+( [A-Za-z]+)*$`)
	phoneRe      = regexp.MustCompile(`^[0-9]{10}$`)
)

// Verhoeff dihedral tables.
var (
	verhoeffD = [10][10]int{
		{0, 1, 2, 3, 4, 5, 6, 7, 8, 9},
		{1, 2, 3, 4, 0, 6, 7, 8, 9, 5},
		{2, 3, 4, 0, 1, 7, 8, 9, 5, 6},
		{3, 4, 0, 1, 2, 8, 9, 5, 6, 7},
		{4, 0, 1, 2, 3, 9, 5, 6, 7, 8},
		{5, 9, 8, 7, 6, 0, 4, 3, 2, 1},
		{6, 5, 9, 8, 7, 1, 0, 4, 3, 2},
		{7, 6, 5, 9, 8, 2, 1, 0, 4, 3},
		{8, 7, 6, 5, 9, 3, 2, 1, 0, 4},
		{9, 8, 7, 6, 5, 4, 3, 2, 1, 0},
	}
	verhoeffP = [8][10]int{
		{0, 1, 2, 3, 4, 5, 6, 7, 8, 9},
		{1, 5, 7, 6, 2, 8, 3, 0, 9, 4},
		{5, 8, 0, 3, 7, 9, 6, 1, 4, 2},
		{8, 9, 1, 6, 0, 4, 3, 5, 2, 7},
		{9, 4, 5, 3, 1, 2, 6, 8, 7, 0},
		{4, 2, 8, 6, 5, 7, 3, 9, 0, 1},
		{2, 7, 9, 3, 8, 0, 6, 4, 1, 5},
		{7, 0, 4, 6, 9, 1, 3, 2, 5, 8},
	}
)

// verhoeffValid reports whether the digit string carries a valid Verhoeff
// checksum in its last position.
func verhoeffValid(digits string) bool {
	c := 0
	n := len(digits)
	for i := 0; i < n; i++ {
		d := int(digits[n-1-i] - '0')
		c = verhoeffD[c][verhoeffP[i%8][d]]
	}
	return c == 0
}

// obviouslyFake reports trivially invalid digit strings: all one digit, or a
// straight ascending run.
func obviouslyFake(digits string) bool {
	same := true
	ascending := true
	for i := 1; i < len(digits); i++ {
		if digits[i] != digits[0] {
			same = false
		}
		if digits[i] != digits[i-1]+1 {
			ascending = false
		}
	}
	return same || ascending
}

// ValidateNationalID checks the 12-digit national identity number format and
// its Verhoeff check digit.
func ValidateNationalID(id string) error {
	id = strings.ReplaceAll(strings.TrimSpace(id), " ", "")
	if !nationalIDRe.MatchString(id) {
		return eris.Wrap(ErrInvalidNationalID, "must be 12 digits")
	}
	if obviouslyFake(id) {
		return eris.Wrap(ErrInvalidNationalID, "repeated or sequential digits")
	}
	if !verhoeffValid(id) {
		return eris.Wrap(ErrInvalidNationalID, "checksum failure")
	}
	return nil
}

// ValidateTaxID checks the tax identity number format (five letters, four
// digits, one letter) and rejects well-known placeholder values.
func ValidateTaxID(id string) error {
	id = strings.ToUpper(strings.TrimSpace(id))
	if !taxIDRe.MatchString(id) {
		return eris.Wrap(ErrInvalidTaxID, "format must be AAAAA9999A")
	}
	switch id {
	case "AAAAA0000A", "ABCDE1234F", "XXXXX0000X":
		return eris.Wrap(ErrInvalidTaxID, "placeholder value")
	}
	return nil
}

// ValidateFullName enforces the name rules: letters and single spaces only,
// at least two words, total length 3 to 100.
func ValidateFullName(name string) error {
	name = strings.TrimSpace(name)
	if len(name) < 3 || len(name) > 100 {
		return eris.Wrap(ErrInvalidName, "length must be 3-100 characters")
	}
	if !nameRe.MatchString(name) {
		return eris.Wrap(ErrInvalidName, "letters and single spaces only")
	}
	if len(strings.Fields(name)) < 2 {
		return eris.Wrap(ErrInvalidName, "at least two words required")
	}
	return nil
}

// ValidateDateOfBirth parses an ISO date and enforces the age window 18-120
// as of now.
func ValidateDateOfBirth(dob string, now time.Time) error {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(dob))
	if err != nil {
		return eris.Wrap(ErrInvalidDOB, "must be YYYY-MM-DD")
	}
	age := now.Year() - t.Year()
	if now.Month() < t.Month() || (now.Month() == t.Month() && now.Day() < t.Day()) {
		age--
	}
	if age < 18 {
		return eris.Wrap(ErrInvalidDOB, "must be at least 18 years old")
	}
	if age > 120 {
		return eris.Wrap(ErrInvalidDOB, "implausible age")
	}
	return nil
}

// ValidatePhone checks a 10-digit subscriber number, tolerating spaces and
// dashes in the input.
func ValidatePhone(phone string) error {
	cleaned := strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' {
			return -1
		}
		return r
	}, strings.TrimSpace(phone))
	cleaned = strings.TrimPrefix(cleaned, "+91")
	if !phoneRe.MatchString(cleaned) {
		return eris.Wrap(ErrInvalidPhone, "must be 10 digits")
	}
	return nil
}
