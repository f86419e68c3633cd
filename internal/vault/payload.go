// Package vault implements the client-side encrypted vault: enrollment,
// unlock sessions, entry and document management, and passphrase rotation.
// The backing record store only ever sees ciphertext and envelope metadata.
package vault

import (
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/vaultguard/internal/common"
)

// Category classifies the sensitive payload of a vault entry.
type Category string

const (
	CategoryLogin       Category = "login"
	CategoryCreditCard  Category = "credit_card"
	CategoryBankAccount Category = "bank_account"
	CategoryNote        Category = "note"
	CategoryTOTP        Category = "totp"
	CategoryIdentity    Category = "identity"
)

// MaxCustomFields caps the number of user-defined key/value pairs a payload
// may carry in addition to its typed fields.
const MaxCustomFields = 5

// CustomField is a user-defined key/value pair.
type CustomField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Payload is the decrypted form of an entry's sensitive field set: a tagged
// variant keyed by Category, with typed details and a bounded list of custom
// fields. It exists only transiently in memory; at rest it is ciphertext.
type Payload struct {
	Category Category        `json:"category"`
	Custom   []CustomField   `json:"custom,omitempty"`
	Details  json.RawMessage `json:"details"`
}

// TypedDetails is implemented by every category's field struct.
type TypedDetails interface {
	GetCategory() Category
}

// Login stores credentials.
type Login struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Notes    string `json:"notes,omitempty"`
}

func (x Login) GetCategory() Category { return CategoryLogin }

// CreditCard stores payment card details.
type CreditCard struct {
	Number     string `json:"number"`
	Expiration string `json:"expiration"`
	CVV        string `json:"cvv"`
	Holder     string `json:"holder"`
}

func (x CreditCard) GetCategory() Category { return CategoryCreditCard }

// BankAccount stores bank identifiers.
type BankAccount struct {
	BankName      string `json:"bank_name"`
	AccountNumber string `json:"account_number"`
	RoutingNumber string `json:"routing_number,omitempty"`
	IBAN          string `json:"iban,omitempty"`
	Notes         string `json:"notes,omitempty"`
}

func (x BankAccount) GetCategory() Category { return CategoryBankAccount }

// Note stores free-form text.
type Note struct {
	Text string `json:"text"`
}

func (x Note) GetCategory() Category { return CategoryNote }

// TOTPSeed stores a provisioned two-factor shared secret.
type TOTPSeed struct {
	Issuer       string `json:"issuer"`
	Account      string `json:"account"`
	Base32Secret string `json:"base32_secret"`
}

func (x TOTPSeed) GetCategory() Category { return CategoryTOTP }

// Identity stores personal identity details.
type Identity struct {
	FullName       string `json:"full_name"`
	DocumentNumber string `json:"document_number,omitempty"`
	DateOfBirth    string `json:"date_of_birth,omitempty"`
	Nationality    string `json:"nationality,omitempty"`
}

func (x Identity) GetCategory() Category { return CategoryIdentity }

// Wrap builds a Payload from typed details plus optional custom fields.
func Wrap(details TypedDetails, custom ...CustomField) (Payload, error) {
	if len(custom) > MaxCustomFields {
		return Payload{}, fmt.Errorf("%w: at most %d custom fields", common.ErrInvalidArgument, MaxCustomFields)
	}
	b, err := json.Marshal(details)
	if err != nil {
		return Payload{}, err
	}
	return Payload{Category: details.GetCategory(), Custom: custom, Details: b}, nil
}

// Unwrap decodes the variant selected by Category. Unknown categories decode
// to a generic map so older payloads remain readable.
func (p Payload) Unwrap() (any, error) {
	switch p.Category {
	case CategoryLogin:
		var v Login
		return v, json.Unmarshal(p.Details, &v)
	case CategoryCreditCard:
		var v CreditCard
		return v, json.Unmarshal(p.Details, &v)
	case CategoryBankAccount:
		var v BankAccount
		return v, json.Unmarshal(p.Details, &v)
	case CategoryNote:
		var v Note
		return v, json.Unmarshal(p.Details, &v)
	case CategoryTOTP:
		var v TOTPSeed
		return v, json.Unmarshal(p.Details, &v)
	case CategoryIdentity:
		var v Identity
		return v, json.Unmarshal(p.Details, &v)
	default:
		var m map[string]any
		if err := json.Unmarshal(p.Details, &m); err != nil {
			return nil, err
		}
		return m, nil
	}
}
