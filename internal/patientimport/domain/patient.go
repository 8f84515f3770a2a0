package domain

// PatientPayload is the normalized demographics sent to create-patient
type PatientPayload struct {
	ExternalID          string               `json:"externalId,omitempty"`
	FirstName           string               `json:"firstName"`
	LastName            string               `json:"lastName"`
	Dob                 string               `json:"dob"`
	GenderAtBirth       string               `json:"genderAtBirth"`
	Address             []Address            `json:"address"`
	Contact             []Contact            `json:"contact,omitempty"`
	PersonalIdentifiers []PersonalIdentifier `json:"personalIdentifiers,omitempty"`
}

// Address is a normalized postal address
type Address struct {
	AddressLine1 string `json:"addressLine1"`
	AddressLine2 string `json:"addressLine2,omitempty"`
	City         string `json:"city"`
	State        string `json:"state"`
	Zip          string `json:"zip"`
	Country      string `json:"country"`
}

// Contact holds at most one phone and one email
type Contact struct {
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

// PersonalIdentifier types
const (
	IdentifierSSN            = "ssn"
	IdentifierDriversLicense = "driversLicense"
)

// PersonalIdentifier is an SSN or a driver's license
type PersonalIdentifier struct {
	Type  string `json:"type"`
	Value string `json:"value"`
	State string `json:"state,omitempty"`
}
