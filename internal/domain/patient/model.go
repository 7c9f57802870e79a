package patient

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrInvalid reports rejected input.
var ErrInvalid = errors.New("invalid patient")

type Gender string

const (
	GenderMale    Gender = "male"
	GenderFemale  Gender = "female"
	GenderOther   Gender = "other"
	GenderUnknown Gender = "unknown"
)

func (g Gender) Valid() bool {
	switch g {
	case GenderMale, GenderFemale, GenderOther, GenderUnknown:
		return true
	}
	return false
}

// Patient is owned by exactly one tenant. TCKN is unique within the tenant.
type Patient struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	TenantID   uuid.UUID  `db:"tenant_id" json:"tenant_id"`
	TCKN       string     `db:"tckn" json:"tckn"`
	GivenName  string     `db:"given_name" json:"given_name"`
	FamilyName string     `db:"family_name" json:"family_name"`
	BirthDate  *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	Gender     *Gender    `db:"gender" json:"gender,omitempty"`
	Phone      *string    `db:"phone" json:"phone,omitempty"`
	Email      *string    `db:"email" json:"email,omitempty"`
	Address    *string    `db:"address" json:"address,omitempty"`
	City       *string    `db:"city" json:"city,omitempty"`
	BloodType  *string    `db:"blood_type" json:"blood_type,omitempty"`
	Active     bool       `db:"is_active" json:"is_active"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}

func (p *Patient) OwnerTenantID() uuid.UUID  { return p.TenantID }
func (p *Patient) AssignTenant(id uuid.UUID) { p.TenantID = id }

func (p *Patient) FullName() string {
	return strings.TrimSpace(p.GivenName + " " + p.FamilyName)
}

// Age in whole years at now, or -1 without a birth date.
func (p *Patient) Age(now time.Time) int {
	if p.BirthDate == nil {
		return -1
	}
	b := p.BirthDate.UTC()
	age := now.Year() - b.Year()
	if now.Month() < b.Month() || (now.Month() == b.Month() && now.Day() < b.Day()) {
		age--
	}
	return age
}

// ValidateTCKN checks a Turkish national identity number: eleven digits, no
// leading zero, and the two trailing check digits.
func ValidateTCKN(tckn string) error {
	if len(tckn) != 11 {
		return fmt.Errorf("%w: tckn must have 11 digits", ErrInvalid)
	}
	var d [11]int
	for i, r := range tckn {
		if r < '0' || r > '9' {
			return fmt.Errorf("%w: tckn must be numeric", ErrInvalid)
		}
		d[i] = int(r - '0')
	}
	if d[0] == 0 {
		return fmt.Errorf("%w: tckn must not start with 0", ErrInvalid)
	}
	if d[9] != checkDigit10(d) || d[10] != checkDigit11(d) {
		return fmt.Errorf("%w: tckn checksum mismatch", ErrInvalid)
	}
	return nil
}

func checkDigit10(d [11]int) int {
	odd := d[0] + d[2] + d[4] + d[6] + d[8]
	even := d[1] + d[3] + d[5] + d[7]
	return ((odd*7-even)%10 + 10) % 10
}

func checkDigit11(d [11]int) int {
	sum := 0
	for i := 0; i < 10; i++ {
		sum += d[i]
	}
	return sum % 10
}

// CreateRequest is the input for Service.Create.
type CreateRequest struct {
	TCKN       string     `json:"tckn"`
	GivenName  string     `json:"given_name"`
	FamilyName string     `json:"family_name"`
	BirthDate  *time.Time `json:"birth_date,omitempty"`
	Gender     *Gender    `json:"gender,omitempty"`
	Phone      *string    `json:"phone,omitempty"`
	Email      *string    `json:"email,omitempty"`
	Address    *string    `json:"address,omitempty"`
	City       *string    `json:"city,omitempty"`
	BloodType  *string    `json:"blood_type,omitempty"`
}

// UpdateRequest replaces demographic fields. TCKN is immutable.
type UpdateRequest struct {
	GivenName  *string `json:"given_name,omitempty"`
	FamilyName *string `json:"family_name,omitempty"`
	Phone      *string `json:"phone,omitempty"`
	Email      *string `json:"email,omitempty"`
	Address    *string `json:"address,omitempty"`
	City       *string `json:"city,omitempty"`
	BloodType  *string `json:"blood_type,omitempty"`
}

// SearchFilter narrows a patient listing. Empty fields match everything.
type SearchFilter struct {
	TCKN   string
	Name   string
	Active *bool
}
