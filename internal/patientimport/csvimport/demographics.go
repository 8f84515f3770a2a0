package csvimport

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var (
	errMissingValue = errors.New("missing value")
	errInvalidDob   = errors.New("invalid date of birth")
	errInvalidSex   = errors.New("invalid gender")
	errInvalidState = errors.New("invalid state")
	errInvalidZip   = errors.New("invalid zip")
)

var nonDigitRegex = regexp.MustCompile(`\D`)

var dobLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"20060102",
	"01-02-2006",
}

var minDob = time.Date(1900, time.January, 1, 0, 0, 0, 0, time.UTC)

func normalizeName(value string) (string, error) {
	value = strings.Join(strings.Fields(value), " ")
	if value == "" {
		return "", errMissingValue
	}
	return TitleCase(value), nil
}

// normalizeDob parses the supported layouts strictly and returns an ISO date
func normalizeDob(value string, now time.Time) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", errMissingValue
	}
	for _, layout := range dobLayouts {
		t, err := time.Parse(layout, value)
		if err != nil {
			continue
		}
		if t.Before(minDob) || t.After(now) {
			return "", errInvalidDob
		}
		return t.Format("2006-01-02"), nil
	}
	return "", errInvalidDob
}

func normalizeGender(value string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "":
		return "", errMissingValue
	case "m", "male":
		return "M", nil
	case "f", "female":
		return "F", nil
	case "o", "other":
		return "O", nil
	case "u", "un", "unk", "unknown":
		return "U", nil
	default:
		return "", errInvalidSex
	}
}

// normalizePhone keeps the ten digit national number; anything else is dropped
func normalizePhone(value string) (string, bool) {
	digits := nonDigitRegex.ReplaceAllString(value, "")
	if len(digits) == 11 && digits[0] == '1' {
		digits = digits[1:]
	}
	if len(digits) != 10 {
		return "", false
	}
	return digits, true
}

func normalizeEmail(validate *validator.Validate, value string) (string, bool) {
	email := strings.ToLower(strings.TrimSpace(value))
	if email == "" {
		return "", false
	}
	if err := validate.Var(email, "email"); err != nil {
		return "", false
	}
	return email, true
}

func normalizeSSN(value string) (string, bool) {
	digits := nonDigitRegex.ReplaceAllString(value, "")
	if len(digits) != 9 {
		return "", false
	}
	return digits, true
}

// normalizeZip keeps five digits; spreadsheet-mangled four digit zips regain their leading zero
func normalizeZip(value string) (string, error) {
	digits := nonDigitRegex.ReplaceAllString(value, "")
	switch len(digits) {
	case 0:
		return "", errMissingValue
	case 4:
		return "0" + digits, nil
	case 5:
		return digits, nil
	case 9:
		return digits[:5], nil
	default:
		return "", errInvalidZip
	}
}

func normalizeState(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", errMissingValue
	}
	upper := strings.ToUpper(value)
	if _, ok := stateCodes[upper]; ok {
		return upper, nil
	}
	key := strings.ToLower(strings.Join(strings.Fields(value), " "))
	for code, name := range stateCodes {
		if strings.ToLower(name) == key {
			return code, nil
		}
	}
	return "", errInvalidState
}

var stateCodes = map[string]string{
	"AL": "Alabama", "AK": "Alaska", "AZ": "Arizona", "AR": "Arkansas", "CA": "California",
	"CO": "Colorado", "CT": "Connecticut", "DE": "Delaware", "DC": "District of Columbia",
	"FL": "Florida", "GA": "Georgia", "HI": "Hawaii", "ID": "Idaho", "IL": "Illinois",
	"IN": "Indiana", "IA": "Iowa", "KS": "Kansas", "KY": "Kentucky", "LA": "Louisiana",
	"ME": "Maine", "MD": "Maryland", "MA": "Massachusetts", "MI": "Michigan", "MN": "Minnesota",
	"MS": "Mississippi", "MO": "Missouri", "MT": "Montana", "NE": "Nebraska", "NV": "Nevada",
	"NH": "New Hampshire", "NJ": "New Jersey", "NM": "New Mexico", "NY": "New York",
	"NC": "North Carolina", "ND": "North Dakota", "OH": "Ohio", "OK": "Oklahoma", "OR": "Oregon",
	"PA": "Pennsylvania", "RI": "Rhode Island", "SC": "South Carolina", "SD": "South Dakota",
	"TN": "Tennessee", "TX": "Texas", "UT": "Utah", "VT": "Vermont", "VA": "Virginia",
	"WA": "Washington", "WV": "West Virginia", "WI": "Wisconsin", "WY": "Wyoming",
	"AS": "American Samoa", "GU": "Guam", "MP": "Northern Mariana Islands", "PR": "Puerto Rico",
	"VI": "Virgin Islands",
}
