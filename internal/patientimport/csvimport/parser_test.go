package csvimport

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metriport/metriport-sub005/internal/patientimport/domain"
)

const testHeader = "firstname,lastname,dob,gender,zip,city,state,addressline1,addressline2,phone1,email1,externalid"

func newTestValidator() *Validator {
	v := NewValidator()
	v.now = func() time.Time { return time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC) }
	return v
}

func csvOf(lines ...string) []byte {
	return []byte(strings.Join(lines, "\n") + "\n")
}

func TestValidator_Parse_ValidRows(t *testing.T) {
	raw := csvOf(
		testHeader,
		"john,doe,01/02/1980,M,02101,boston,MA,123 Main St Apt 4,,(617) 555-1234,John@Example.com,ext-1",
		"JANE,SMITH,1975-07-04,female,10001,new york,new york,PO BOX 666,,123,not-an-email,",
	)

	result, err := newTestValidator().Parse(raw)
	require.NoError(t, err)
	require.Len(t, result.Rows, 2)
	assert.Equal(t, 2, result.ValidCount())

	first := result.Rows[0]
	assert.Equal(t, 1, first.RowNumber)
	assert.Equal(t, "john,doe,01/02/1980,M,02101,boston,MA,123 Main St Apt 4,,(617) 555-1234,John@Example.com,ext-1", first.Raw)
	require.True(t, first.Valid())
	assert.Equal(t, &domain.PatientPayload{
		ExternalID:    "ext-1",
		FirstName:     "John",
		LastName:      "Doe",
		Dob:           "1980-01-02",
		GenderAtBirth: "M",
		Address: []domain.Address{{
			AddressLine1: "123 Main St",
			AddressLine2: "Apt 4",
			City:         "Boston",
			State:        "MA",
			Zip:          "02101",
			Country:      "USA",
		}},
		Contact: []domain.Contact{{Phone: "6175551234", Email: "john@example.com"}},
	}, first.Payload)

	second := result.Rows[1]
	assert.Equal(t, 2, second.RowNumber)
	require.True(t, second.Valid())
	assert.Equal(t, "Po Box 666", second.Payload.Address[0].AddressLine1)
	assert.Equal(t, "NY", second.Payload.Address[0].State)
	assert.Empty(t, second.Payload.Contact)
}

func TestValidator_Parse_RowErrors(t *testing.T) {
	raw := csvOf(
		testHeader,
		",doe,13/45/1980,X,02101,boston,MA,123 Main St,,,,",
		"",
		",,,,,,,,,,,",
		"ann,lee,1990-05-05,F,02101,boston,MA",
		`ann,le"e,1990-05-05,F,02101,boston,MA,1 Elm St,,,,`,
		"bob,ray,1990-05-05,M,,,,,,,,",
	)

	result, err := newTestValidator().Parse(raw)
	require.NoError(t, err)
	require.Len(t, result.Rows, 4, "blank lines are skipped")
	assert.Equal(t, 0, result.ValidCount())

	fields := func(row Row) []string {
		var out []string
		for _, e := range row.Errors {
			out = append(out, e.Field)
		}
		return out
	}

	assert.Equal(t, []string{"firstName", "dob", "gender"}, fields(result.Rows[0]))
	assert.Nil(t, result.Rows[0].Payload)

	assert.Equal(t, 2, result.Rows[1].RowNumber)
	assert.Equal(t, "expected 12 columns, found 7", result.Rows[1].Errors[0].Error)

	assert.Equal(t, 3, result.Rows[2].RowNumber)
	assert.Contains(t, result.Rows[2].Errors[0].Error, "malformed csv line")
	assert.Equal(t, `ann,le"e,1990-05-05,F,02101,boston,MA,1 Elm St,,,,`, result.Rows[2].Raw)

	assert.Equal(t, []string{"address"}, fields(result.Rows[3]))
}

func TestValidator_Parse_IndexedAddressesAndContacts(t *testing.T) {
	header := testHeader + ",addressline1-2,city-2,state-2,zip-2,phone1-2,email1-2,ssn,driverslicenceno,driverslicencestate,notes"
	raw := csvOf(
		header,
		"john,doe,1980-01-02,M,02101,boston,MA,1 Elm St,,6175551234,,,1 ELM ST,Boston,ma,02101,617-555-1234,,123-45-6789,s123 456,ma,anything",
		"ann,lee,1980-01-02,F,02101,boston,MA,1 Elm St,,,,,2 Oak Rd,,MA,02101,,,,,,",
		"bob,ray,1980-01-02,M,02101,boston,MA,1 Elm St,,,,,,,,,,,,D55,,",
	)

	result, err := newTestValidator().Parse(raw)
	require.NoError(t, err)
	require.Len(t, result.Rows, 3)

	john := result.Rows[0]
	require.True(t, john.Valid(), "%v", john.Errors)
	assert.Len(t, john.Payload.Address, 1, "identical repeated address is collapsed")
	assert.Equal(t, []domain.Contact{{Phone: "6175551234"}}, john.Payload.Contact)
	assert.Equal(t, []domain.PersonalIdentifier{
		{Type: domain.IdentifierSSN, Value: "123456789"},
		{Type: domain.IdentifierDriversLicense, Value: "S123456", State: "MA"},
	}, john.Payload.PersonalIdentifiers)

	ann := result.Rows[1]
	require.False(t, ann.Valid())
	assert.Equal(t, []domain.ParsingError{{Field: "city-2", Error: "missing required field"}}, ann.Errors)

	bob := result.Rows[2]
	require.False(t, bob.Valid())
	assert.Equal(t, "driversLicenceState", bob.Errors[0].Field)
}

func TestValidator_Parse_AddressLine2OverridesSplit(t *testing.T) {
	raw := csvOf(
		testHeader,
		"john,doe,1980-01-02,M,02101,boston,MA,123 Main St Apt 4,rear entrance,,,",
	)

	result, err := newTestValidator().Parse(raw)
	require.NoError(t, err)
	require.True(t, result.Rows[0].Valid())

	addr := result.Rows[0].Payload.Address[0]
	assert.Equal(t, "123 Main St, Apt 4", addr.AddressLine1)
	assert.Equal(t, "Rear Entrance", addr.AddressLine2)
}

func TestValidator_Parse_HeaderMismatch(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"missing required column", "firstname,lastname,dob,gender,zip,city,state"},
		{"required column after unrecognized", "firstname,lastname,notes,dob,gender,zip,city,state,addressline1"},
		{"duplicate column", "firstname,first name,lastname,dob,gender,zip,city,state,addressline1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestValidator().Parse(csvOf(tt.header, "a,b,c,d,e,f,g,h,i"))
			assert.ErrorIs(t, err, domain.ErrHeaderMismatch)
		})
	}

	_, err := newTestValidator().Parse(nil)
	assert.ErrorIs(t, err, domain.ErrHeaderMismatch)
}

func TestParseHeaders_NormalizesNames(t *testing.T) {
	schema, err := ParseHeaders([]string{"\ufeffFirst Name", "Last_Name", "D.O.B", "Gender", "Zip Code", "City", "State", "Address 1", "Phone 1-3", "Comments"})
	require.NoError(t, err)

	assert.Equal(t, []string{"firstname", "lastname", "dob", "gender", "zipcode", "city", "state", "address1", "phone1-3", "comments"}, schema.Headers)
	require.Len(t, schema.Columns, 9)
	assert.Equal(t, "phone-3", schema.Columns[8].Key())
	assert.Equal(t, fieldZip, schema.Columns[4].Field)
}
