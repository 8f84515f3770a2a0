package csvimport

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/metriport/metriport-sub005/internal/patientimport/domain"
)

// MaxIndexedEntries bounds the numbered address/contact repeats
const MaxIndexedEntries = 10

var headerStripRegex = regexp.MustCompile(`[!@#$%^&*()+=\[\]\\';,./{}|":<>?~_\s]`)

// NormalizeHeader removes punctuation and whitespace and lower-cases a header name
func NormalizeHeader(header string) string {
	header = strings.TrimPrefix(header, "\ufeff")
	return strings.ToLower(headerStripRegex.ReplaceAllString(header, ""))
}

const (
	fieldExternalID          = "externalid"
	fieldFirstName           = "firstname"
	fieldLastName            = "lastname"
	fieldDob                 = "dob"
	fieldGender              = "gender"
	fieldAddressLine1        = "addressline1"
	fieldAddressLine2        = "addressline2"
	fieldCity                = "city"
	fieldState               = "state"
	fieldZip                 = "zip"
	fieldPhone               = "phone"
	fieldEmail               = "email"
	fieldSSN                 = "ssn"
	fieldDriversLicenceNo    = "driverslicenceno"
	fieldDriversLicenceState = "driverslicencestate"
)

var singleFields = map[string]string{
	"externalid":          fieldExternalID,
	"id":                  fieldExternalID,
	"firstname":           fieldFirstName,
	"lastname":            fieldLastName,
	"dob":                 fieldDob,
	"dateofbirth":         fieldDob,
	"gender":              fieldGender,
	"ssn":                 fieldSSN,
	"driverslicenceno":    fieldDriversLicenceNo,
	"driverslicenseno":    fieldDriversLicenceNo,
	"driverslicencestate": fieldDriversLicenceState,
	"driverslicensestate": fieldDriversLicenceState,
}

var indexedFields = map[string]string{
	"addressline1": fieldAddressLine1,
	"address1":     fieldAddressLine1,
	"addressline2": fieldAddressLine2,
	"address2":     fieldAddressLine2,
	"city":         fieldCity,
	"state":        fieldState,
	"zip":          fieldZip,
	"zipcode":      fieldZip,
	"phone":        fieldPhone,
	"phone1":       fieldPhone,
	"email":        fieldEmail,
	"email1":       fieldEmail,
}

var requiredFields = []string{
	fieldFirstName,
	fieldLastName,
	fieldDob,
	fieldGender,
	fieldZip,
	fieldCity,
	fieldState,
	fieldAddressLine1,
}

// Column maps a CSV column to a recognized field. Index 0 is the unsuffixed column; repeats
// use 1..MaxIndexedEntries.
type Column struct {
	Position int
	Field    string
	Index    int
}

// Key is the field name with its repeat index, e.g. "zip", "zip-1" or "zip-3"
func (c Column) Key() string {
	return indexedKey(c.Field, c.Index)
}

func indexedKey(field string, index int) string {
	if index <= 0 {
		return field
	}
	return field + "-" + strconv.Itoa(index)
}

// recognize resolves a normalized header to a field and repeat index. Repeats are written
// "zip-2" or "zip2"; the second form is only read when the base name does not itself end in a
// digit, so "addressline1" and "phone1" stay unsuffixed.
func recognize(normalized string) (Column, bool) {
	if field, ok := singleFields[normalized]; ok {
		return Column{Field: field}, true
	}
	if field, ok := indexedFields[normalized]; ok {
		return Column{Field: field}, true
	}

	name, suffix := normalized, ""
	if pos := strings.LastIndex(normalized, "-"); pos > 0 {
		name, suffix = normalized[:pos], normalized[pos+1:]
	} else {
		name = strings.TrimRightFunc(normalized, unicode.IsDigit)
		suffix = normalized[len(name):]
	}

	index, err := strconv.Atoi(suffix)
	if err != nil || index < 1 || index > MaxIndexedEntries {
		return Column{}, false
	}
	field, ok := indexedFields[name]
	if !ok {
		return Column{}, false
	}
	return Column{Field: field, Index: index}, true
}

// Schema is the recognized column layout of a file
type Schema struct {
	Headers []string
	Columns []Column
}

// ParseHeaders normalizes the header row and checks it against the recognized schema.
// The leading run of recognized columns must hold every required field, unsuffixed or as its
// first repeat, with no column given twice;
// columns after the first unrecognized one are carried along but ignored.
func ParseHeaders(raw []string) (*Schema, error) {
	schema := &Schema{Headers: make([]string, len(raw))}
	seen := make(map[string]bool, len(raw))
	inPrefix := true

	for i, h := range raw {
		normalized := NormalizeHeader(h)
		schema.Headers[i] = normalized
		if !inPrefix {
			continue
		}

		col, ok := recognize(normalized)
		if !ok {
			inPrefix = false
			continue
		}
		col.Position = i

		if seen[col.Key()] {
			return nil, fmt.Errorf("%w: duplicate column %q", domain.ErrHeaderMismatch, h)
		}
		seen[col.Key()] = true
		schema.Columns = append(schema.Columns, col)
	}

	var missing []string
	for _, f := range requiredFields {
		if !seen[indexedKey(f, 0)] && !seen[indexedKey(f, 1)] {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", domain.ErrHeaderMismatch, strings.Join(missing, ", "))
	}

	return schema, nil
}
