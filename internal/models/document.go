package models

import (
	"strings"
	"time"
)

// DocType identifies which identity document an image shows.
type DocType string

const (
	DocTypePassportFront DocType = "passport_front"
	DocTypePassportBack  DocType = "passport_back"
	DocTypeAadhaar       DocType = "aadhar"
	DocTypePan           DocType = "pan"
	DocTypeUnknown       DocType = "unknown"
)

// DocTypes lists the classifiable types, unknown last.
var DocTypes = []DocType{DocTypePassportFront, DocTypePassportBack, DocTypeAadhaar, DocTypePan, DocTypeUnknown}

// ParseDocType maps a raw label onto a DocType, defaulting to unknown.
func ParseDocType(s string) DocType {
	t := DocType(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range DocTypes {
		if t == known {
			return t
		}
	}
	return DocTypeUnknown
}

// DocumentRecord is the full set of extracted sections for one applicant.
// It is stored as one Firestore document and projected into spreadsheet rows.
type DocumentRecord struct {
	ID            string         `firestore:"-" json:"id,omitempty"`
	PassportFront *PassportFront `firestore:"passport_front,omitempty" json:"passport_front,omitempty"`
	PassportBack  *PassportBack  `firestore:"passport_back,omitempty" json:"passport_back,omitempty"`
	Aadhaar       *Aadhaar       `firestore:"aadhar,omitempty" json:"aadhar,omitempty"`
	Pan           *Pan           `firestore:"pan,omitempty" json:"pan,omitempty"`
	Photo         *Photo         `firestore:"photo,omitempty" json:"photo,omitempty"`
	Payment       *Payment       `firestore:"payment,omitempty" json:"payment,omitempty"`
	CreatedAt     time.Time      `firestore:"createdAt,omitempty" json:"createdAt,omitempty"`
	UpdatedAt     time.Time      `firestore:"updatedAt,omitempty" json:"updatedAt,omitempty"`
}

type PassportFront struct {
	PassportNumber string `firestore:"passportNumber,omitempty" json:"passportNumber,omitempty"`
	FirstName      string `firestore:"firstName,omitempty" json:"firstName,omitempty"`
	LastName       string `firestore:"lastName,omitempty" json:"lastName,omitempty"`
	Nationality    string `firestore:"nationality,omitempty" json:"nationality,omitempty"`
	Sex            string `firestore:"sex,omitempty" json:"sex,omitempty"`
	DateOfBirth    string `firestore:"dateOfBirth,omitempty" json:"dateOfBirth,omitempty"`
	PlaceOfBirth   string `firestore:"placeOfBirth,omitempty" json:"placeOfBirth,omitempty"`
	PlaceOfIssue   string `firestore:"placeOfIssue,omitempty" json:"placeOfIssue,omitempty"`
	MaritalStatus  string `firestore:"maritalStatus,omitempty" json:"maritalStatus,omitempty"`
	DateOfIssue    string `firestore:"dateOfIssue,omitempty" json:"dateOfIssue,omitempty"`
	DateOfExpiry   string `firestore:"dateOfExpiry,omitempty" json:"dateOfExpiry,omitempty"`
	ImageURL       string `firestore:"imageUrl,omitempty" json:"imageUrl,omitempty"`
}

type PassportBack struct {
	FatherName   string `firestore:"fatherName,omitempty" json:"fatherName,omitempty"`
	MotherName   string `firestore:"motherName,omitempty" json:"motherName,omitempty"`
	SpouseName   string `firestore:"spouseName,omitempty" json:"spouseName,omitempty"`
	Address      string `firestore:"address,omitempty" json:"address,omitempty"`
	Email        string `firestore:"email,omitempty" json:"email,omitempty"`
	MobileNumber string `firestore:"mobileNumber,omitempty" json:"mobileNumber,omitempty"`
	Ref          string `firestore:"ref,omitempty" json:"ref,omitempty"`
	FF6E         string `firestore:"ff6E,omitempty" json:"ff6E,omitempty"`
	FFEK         string `firestore:"ffEK,omitempty" json:"ffEK,omitempty"`
	FFEY         string `firestore:"ffEY,omitempty" json:"ffEY,omitempty"`
	FFSQ         string `firestore:"ffSQ,omitempty" json:"ffSQ,omitempty"`
	FFAI         string `firestore:"ffAI,omitempty" json:"ffAI,omitempty"`
	FFQR         string `firestore:"ffQR,omitempty" json:"ffQR,omitempty"`
	ImageURL     string `firestore:"imageUrl,omitempty" json:"imageUrl,omitempty"`
}

type Aadhaar struct {
	AadhaarNumber string `firestore:"aadhaarNumber,omitempty" json:"aadhaarNumber,omitempty"`
	Name          string `firestore:"name,omitempty" json:"name,omitempty"`
	DateOfBirth   string `firestore:"dateOfBirth,omitempty" json:"dateOfBirth,omitempty"`
	Gender        string `firestore:"gender,omitempty" json:"gender,omitempty"`
	Address       string `firestore:"address,omitempty" json:"address,omitempty"`
	ImageURL      string `firestore:"imageUrl,omitempty" json:"imageUrl,omitempty"`
}

type Pan struct {
	PanNumber   string `firestore:"panNumber,omitempty" json:"panNumber,omitempty"`
	Name        string `firestore:"name,omitempty" json:"name,omitempty"`
	FatherName  string `firestore:"fatherName,omitempty" json:"fatherName,omitempty"`
	DateOfBirth string `firestore:"dateOfBirth,omitempty" json:"dateOfBirth,omitempty"`
	ImageURL    string `firestore:"imageUrl,omitempty" json:"imageUrl,omitempty"`
}

// Photo is the standalone traveler photo. Nothing is extracted from it.
type Photo struct {
	ImageURL string `firestore:"imageUrl,omitempty" json:"imageUrl,omitempty"`
	PublicID string `firestore:"publicId,omitempty" json:"publicId,omitempty"`
}

// Payment records how the submission gate was satisfied.
// BypassPassword is only carried on the wire and is never persisted.
type Payment struct {
	PaymentDone          bool    `firestore:"paymentDone" json:"paymentDone"`
	Amount               float64 `firestore:"amount" json:"amount"`
	PaymentID            string  `firestore:"paymentId,omitempty" json:"paymentId,omitempty"`
	TransactionReference string  `firestore:"transactionReference,omitempty" json:"transactionReference,omitempty"`
	BypassPasswordUsed   bool    `firestore:"bypassPasswordUsed" json:"bypassPasswordUsed"`
	PromoCodeUsed        bool    `firestore:"promoCodeUsed" json:"promoCodeUsed"`
	PromoCode            string  `firestore:"promoCode,omitempty" json:"promoCode,omitempty"`
	BypassPassword       string  `firestore:"-" json:"bypassPassword,omitempty"`
}

// UniqueFields are the identity numbers used for duplicate detection.
type UniqueFields struct {
	PassportNumber string
	AadhaarNumber  string
	PanNumber      string
}

// UniqueFields returns the trimmed identity numbers of the record.
func (d *DocumentRecord) UniqueFields() UniqueFields {
	var u UniqueFields
	if d == nil {
		return u
	}
	if d.PassportFront != nil {
		u.PassportNumber = strings.TrimSpace(d.PassportFront.PassportNumber)
	}
	if d.Aadhaar != nil {
		u.AadhaarNumber = strings.TrimSpace(d.Aadhaar.AadhaarNumber)
	}
	if d.Pan != nil {
		u.PanNumber = strings.TrimSpace(d.Pan.PanNumber)
	}
	return u
}

// IsEmpty reports whether none of the document sections carries data.
// Whitespace-only values count as empty. Payment is not a document section.
func (d *DocumentRecord) IsEmpty() bool {
	if d == nil {
		return true
	}
	if d.PassportFront != nil && !blank(d.PassportFront.PassportNumber, d.PassportFront.FirstName, d.PassportFront.LastName,
		d.PassportFront.Nationality, d.PassportFront.Sex, d.PassportFront.DateOfBirth, d.PassportFront.PlaceOfBirth,
		d.PassportFront.PlaceOfIssue, d.PassportFront.MaritalStatus, d.PassportFront.DateOfIssue,
		d.PassportFront.DateOfExpiry, d.PassportFront.ImageURL) {
		return false
	}
	if d.PassportBack != nil && !blank(d.PassportBack.FatherName, d.PassportBack.MotherName, d.PassportBack.SpouseName,
		d.PassportBack.Address, d.PassportBack.Email, d.PassportBack.MobileNumber, d.PassportBack.Ref,
		d.PassportBack.FF6E, d.PassportBack.FFEK, d.PassportBack.FFEY, d.PassportBack.FFSQ, d.PassportBack.FFAI,
		d.PassportBack.FFQR, d.PassportBack.ImageURL) {
		return false
	}
	if d.Aadhaar != nil && !blank(d.Aadhaar.AadhaarNumber, d.Aadhaar.Name, d.Aadhaar.DateOfBirth,
		d.Aadhaar.Gender, d.Aadhaar.Address, d.Aadhaar.ImageURL) {
		return false
	}
	if d.Pan != nil && !blank(d.Pan.PanNumber, d.Pan.Name, d.Pan.FatherName, d.Pan.DateOfBirth, d.Pan.ImageURL) {
		return false
	}
	if d.Photo != nil && !blank(d.Photo.ImageURL, d.Photo.PublicID) {
		return false
	}
	return true
}

func blank(values ...string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// UploadRecord tracks an uploaded file in the uploads collection.
type UploadRecord struct {
	FileHash         string    `firestore:"fileHash,omitempty"`
	OriginalFilename string    `firestore:"originalFilename,omitempty"`
	ObjectName       string    `firestore:"objectName,omitempty"`
	ContentType      string    `firestore:"contentType,omitempty"`
	Status           string    `firestore:"status,omitempty"`
	ErrorDetails     string    `firestore:"errorDetails,omitempty"`
	PageCount        int       `firestore:"pageCount,omitempty"`
	CreatedAt        time.Time `firestore:"createdAt,omitempty"`
}

// Upload lifecycle states.
const (
	UploadStatusStored    = "STORED"
	UploadStatusSplitting = "SPLITTING"
	UploadStatusReady     = "READY"
	UploadStatusFailed    = "FAILED"
)
