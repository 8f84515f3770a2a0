package csvimport

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/metriport/metriport-sub005/internal/patientimport/domain"
)

// MaxRows is the largest number of data rows accepted in one file
const MaxRows = 100_000

const defaultCountry = "USA"

// Row is one parsed data row
type Row struct {
	RowNumber int
	Values    []string
	Raw       string
	Payload   *domain.PatientPayload
	Errors    []domain.ParsingError
}

// Valid reports whether the row can proceed to patient creation
func (r Row) Valid() bool {
	return len(r.Errors) == 0 && r.Payload != nil
}

// Result is the outcome of parsing a whole file
type Result struct {
	Headers []string
	Rows    []Row
}

// ValidCount returns the number of rows without errors
func (r *Result) ValidCount() int {
	n := 0
	for _, row := range r.Rows {
		if row.Valid() {
			n++
		}
	}
	return n
}

// Validator turns raw CSV into normalized patient payloads
type Validator struct {
	validate *validator.Validate
	now      func() time.Time
}

// NewValidator creates a Validator
func NewValidator() *Validator {
	return &Validator{
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      time.Now,
	}
}

// Parse reads the header and every data row. Header problems and oversized files are
// returned as errors; row problems are reported on the row.
func (v *Validator) Parse(raw []byte) (*Result, error) {
	reader := csv.NewReader(bytes.NewReader(raw))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty file", domain.ErrHeaderMismatch)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrHeaderMismatch, err)
	}

	schema, err := ParseHeaders(header)
	if err != nil {
		return nil, err
	}

	result := &Result{Headers: schema.Headers}
	offset := reader.InputOffset()
	now := v.now()

	for {
		record, readErr := reader.Read()
		if errors.Is(readErr, io.EOF) {
			break
		}

		end := reader.InputOffset()
		line := strings.Trim(string(raw[offset:end]), "\r\n")
		offset = end

		if readErr != nil {
			var parseErr *csv.ParseError
			if !errors.As(readErr, &parseErr) {
				return nil, fmt.Errorf("failed to read csv: %w", readErr)
			}
			row, err := v.appendRow(result, line, []string{line})
			if err != nil {
				return nil, err
			}
			row.Errors = []domain.ParsingError{{Field: "row", Error: "malformed csv line: " + parseErr.Err.Error()}}
			continue
		}

		if isBlank(record) {
			continue
		}

		row, err := v.appendRow(result, line, record)
		if err != nil {
			return nil, err
		}

		if len(record) != len(schema.Headers) {
			row.Errors = []domain.ParsingError{{
				Field: "row",
				Error: fmt.Sprintf("expected %d columns, found %d", len(schema.Headers), len(record)),
			}}
			continue
		}

		row.Payload, row.Errors = v.mapRow(schema, record, now)
	}

	return result, nil
}

func (v *Validator) appendRow(result *Result, line string, values []string) (*Row, error) {
	if len(result.Rows) >= MaxRows {
		return nil, fmt.Errorf("%w: limit is %d", domain.ErrTooManyRows, MaxRows)
	}
	result.Rows = append(result.Rows, Row{
		RowNumber: len(result.Rows) + 1,
		Values:    values,
		Raw:       line,
	})
	return &result.Rows[len(result.Rows)-1], nil
}

func isBlank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// fieldReader gives access to the recognized cells of a record
type fieldReader map[string]string

func (f fieldReader) get(field string, index int) string {
	return strings.TrimSpace(f[indexedKey(field, index)])
}

func (v *Validator) mapRow(schema *Schema, record []string, now time.Time) (*domain.PatientPayload, []domain.ParsingError) {
	fields := make(fieldReader, len(schema.Columns))
	for _, col := range schema.Columns {
		fields[col.Key()] = record[col.Position]
	}

	var errs []domain.ParsingError
	addErr := func(field string, err error) {
		msg := err.Error()
		if errors.Is(err, errMissingValue) {
			msg = "missing required field"
		}
		errs = append(errs, domain.ParsingError{Field: field, Error: msg})
	}

	payload := &domain.PatientPayload{ExternalID: fields.get(fieldExternalID, 0)}

	var err error
	if payload.FirstName, err = normalizeName(fields.get(fieldFirstName, 0)); err != nil {
		addErr("firstName", err)
	}
	if payload.LastName, err = normalizeName(fields.get(fieldLastName, 0)); err != nil {
		addErr("lastName", err)
	}
	if payload.Dob, err = normalizeDob(fields.get(fieldDob, 0), now); err != nil {
		addErr("dob", err)
	}
	if payload.GenderAtBirth, err = normalizeGender(fields.get(fieldGender, 0)); err != nil {
		addErr("gender", err)
	}

	addresses, addrErrs := collectAddresses(fields)
	errs = append(errs, addrErrs...)
	if len(addresses) == 0 && len(addrErrs) == 0 {
		errs = append(errs, domain.ParsingError{Field: "address", Error: "patient has no address"})
	}
	payload.Address = addresses
	payload.Contact = v.collectContacts(fields)
	payload.PersonalIdentifiers, errs = collectIdentifiers(fields, errs)

	if len(errs) > 0 {
		return nil, errs
	}
	return payload, nil
}

func collectAddresses(fields fieldReader) ([]domain.Address, []domain.ParsingError) {
	var addresses []domain.Address
	var errs []domain.ParsingError

	for i := 0; i <= MaxIndexedEntries; i++ {
		line1 := fields.get(fieldAddressLine1, i)
		line2 := fields.get(fieldAddressLine2, i)
		city := fields.get(fieldCity, i)
		state := fields.get(fieldState, i)
		zip := fields.get(fieldZip, i)
		if line1 == "" && line2 == "" && city == "" && state == "" && zip == "" {
			continue
		}

		addr := domain.Address{Country: defaultCountry}
		var entryErrs []domain.ParsingError
		fail := func(field string, err error) {
			msg := err.Error()
			if errors.Is(err, errMissingValue) {
				msg = "missing required field"
			}
			entryErrs = append(entryErrs, domain.ParsingError{Field: indexedKey(field, i), Error: msg})
		}

		parts := SplitAddressLine(line1)
		switch {
		case len(parts) == 0:
			fail("addressLine1", errMissingValue)
		case line2 != "":
			addr.AddressLine1 = strings.Join(parts, ", ")
			addr.AddressLine2 = NormalizeAddressLine(line2)
		default:
			addr.AddressLine1 = parts[0]
			if len(parts) > 1 {
				addr.AddressLine2 = parts[1]
			}
		}

		if city == "" {
			fail("city", errMissingValue)
		} else {
			addr.City = TitleCase(strings.Join(strings.Fields(city), " "))
		}

		var err error
		if addr.State, err = normalizeState(state); err != nil {
			fail("state", err)
		}
		if addr.Zip, err = normalizeZip(zip); err != nil {
			fail("zip", err)
		}

		if len(entryErrs) > 0 {
			errs = append(errs, entryErrs...)
			continue
		}
		if !containsAddress(addresses, addr) {
			addresses = append(addresses, addr)
		}
	}

	return addresses, errs
}

func containsAddress(list []domain.Address, addr domain.Address) bool {
	for _, a := range list {
		if a == addr {
			return true
		}
	}
	return false
}

// collectContacts never fails: unparsable phones and emails are dropped
func (v *Validator) collectContacts(fields fieldReader) []domain.Contact {
	var contacts []domain.Contact
	for i := 0; i <= MaxIndexedEntries; i++ {
		var c domain.Contact
		if phone, ok := normalizePhone(fields.get(fieldPhone, i)); ok {
			c.Phone = phone
		}
		if email, ok := normalizeEmail(v.validate, fields.get(fieldEmail, i)); ok {
			c.Email = email
		}
		if c == (domain.Contact{}) {
			continue
		}
		duplicate := false
		for _, existing := range contacts {
			if existing == c {
				duplicate = true
				break
			}
		}
		if !duplicate {
			contacts = append(contacts, c)
		}
	}
	return contacts
}

func collectIdentifiers(fields fieldReader, errs []domain.ParsingError) ([]domain.PersonalIdentifier, []domain.ParsingError) {
	var ids []domain.PersonalIdentifier

	if ssn, ok := normalizeSSN(fields.get(fieldSSN, 0)); ok {
		ids = append(ids, domain.PersonalIdentifier{Type: domain.IdentifierSSN, Value: ssn})
	}

	licence := strings.ToUpper(strings.Join(strings.Fields(fields.get(fieldDriversLicenceNo, 0)), ""))
	licenceState := fields.get(fieldDriversLicenceState, 0)
	if licence != "" {
		state, err := normalizeState(licenceState)
		if err != nil {
			errs = append(errs, domain.ParsingError{Field: "driversLicenceState", Error: "invalid or missing driver's licence state"})
		} else {
			ids = append(ids, domain.PersonalIdentifier{Type: domain.IdentifierDriversLicense, Value: licence, State: state})
		}
	}

	return ids, errs
}
