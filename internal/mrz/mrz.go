// Package mrz implements the ICAO 9303 TD3 machine readable zone: fixed-width
// encoding, filler padding, and the 7-3-1 weighted modulo-10 check digits the
// verification path recomputes for tamper detection.
//
// Everything here is pure. Payload assembly and persistence live in the
// issuance module; this package only knows about characters and weights.
package mrz

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	// LineLength is the fixed width of each TD3 line.
	LineLength = 44

	filler = '<'

	dateLayout = "060102"
)

var weights = [3]int{7, 3, 1}

// Data carries the document fields encoded into the zone.
type Data struct {
	DocumentType   string // single letter, e.g. "P"
	IssuingState   string // ICAO 3-letter code
	Surname        string
	GivenNames     string
	DocumentNumber string // up to 9 characters
	Nationality    string // ICAO 3-letter code
	BirthDate      time.Time
	Sex            string // "M", "F" or "" (encoded as filler)
	ExpiryDate     time.Time
	PersonalNumber string // up to 14 characters, may be empty
}

// Zone is the encoded two-line machine readable zone plus the individual
// check digits, kept so callers can store and compare them field by field.
type Zone struct {
	Line1 string
	Line2 string

	DocumentNumberCheck int
	BirthDateCheck      int
	ExpiryDateCheck     int
	PersonalNumberCheck int
	CompositeCheck      int
}

// String returns the zone as printed on the document: two lines joined by a
// newline.
func (z Zone) String() string { return z.Line1 + "\n" + z.Line2 }

// FieldChecks reports, per check-digit-bearing field group, whether the stored
// digit matches a recomputation from the stored characters.
type FieldChecks struct {
	DocumentNumber bool
	BirthDate      bool
	ExpiryDate     bool
	PersonalNumber bool
	Composite      bool
}

// AllValid reports whether every check digit matched.
func (c FieldChecks) AllValid() bool {
	return c.DocumentNumber && c.BirthDate && c.ExpiryDate && c.PersonalNumber && c.Composite
}

// charValue maps an MRZ character onto its checksum value: digits map to
// themselves, A-Z to 10-35, filler to 0.
func charValue(c byte) (int, error) {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0'), nil
	case c >= 'A' && c <= 'Z':
		return int(c-'A') + 10, nil
	case c == filler:
		return 0, nil
	default:
		return 0, fmt.Errorf("invalid MRZ character %q", c)
	}
}

// CheckDigit computes the 7-3-1 weighted modulo-10 check digit over s.
func CheckDigit(s string) (int, error) {
	sum := 0
	for i := 0; i < len(s); i++ {
		v, err := charValue(s[i])
		if err != nil {
			return 0, err
		}
		sum += v * weights[i%3]
	}
	return sum % 10, nil
}

var transliterateStrip = regexp.MustCompile(`[^A-Z0-9<]`)

// transliterate maps a free-text field into the MRZ character set: uppercase,
// spaces, hyphens and apostrophes become filler, everything else outside
// A-Z0-9 is dropped.
func transliterate(s string) string {
	s = strings.ToUpper(s)
	replacer := strings.NewReplacer(" ", string(filler), "-", string(filler), "'", "")
	s = replacer.Replace(s)
	return transliterateStrip.ReplaceAllString(s, "")
}

// padRight pads s with filler to width, truncating if longer.
func padRight(s string, width int) string {
	if len(s) >= width {
		return s[:width]
	}
	return s + strings.Repeat(string(filler), width-len(s))
}

// Encode builds the two-line TD3 zone from document fields.
func Encode(d Data) (Zone, error) {
	docType := transliterate(d.DocumentType)
	if docType == "" {
		return Zone{}, fmt.Errorf("document type is required")
	}
	issuing := transliterate(d.IssuingState)
	nationality := transliterate(d.Nationality)
	if len(issuing) != 3 || len(nationality) != 3 {
		return Zone{}, fmt.Errorf("issuing state and nationality must be 3-letter codes")
	}
	docNum := transliterate(d.DocumentNumber)
	if docNum == "" || len(docNum) > 9 {
		return Zone{}, fmt.Errorf("document number must be 1-9 MRZ characters")
	}
	personal := transliterate(d.PersonalNumber)
	if len(personal) > 14 {
		return Zone{}, fmt.Errorf("personal number must be at most 14 MRZ characters")
	}
	if d.BirthDate.IsZero() || d.ExpiryDate.IsZero() {
		return Zone{}, fmt.Errorf("birth and expiry dates are required")
	}

	sex := transliterate(d.Sex)
	if sex == "" {
		sex = string(filler)
	}
	if sex != "M" && sex != "F" && sex != string(filler) {
		return Zone{}, fmt.Errorf("sex must be M, F or empty")
	}

	// Line 1: type, issuing state, then SURNAME<<GIVEN<NAMES padded to 39.
	name := transliterate(d.Surname) + "<<" + transliterate(d.GivenNames)
	line1 := padRight(docType, 2) + issuing + padRight(name, 39)

	docNumField := padRight(docNum, 9)
	birth := d.BirthDate.Format(dateLayout)
	expiry := d.ExpiryDate.Format(dateLayout)
	personalField := padRight(personal, 14)

	docCheck, err := CheckDigit(docNumField)
	if err != nil {
		return Zone{}, err
	}
	birthCheck, err := CheckDigit(birth)
	if err != nil {
		return Zone{}, err
	}
	expiryCheck, err := CheckDigit(expiry)
	if err != nil {
		return Zone{}, err
	}
	personalCheck, err := CheckDigit(personalField)
	if err != nil {
		return Zone{}, err
	}

	composite, err := CheckDigit(fmt.Sprintf("%s%d%s%d%s%d%s%d",
		docNumField, docCheck, birth, birthCheck, expiry, expiryCheck, personalField, personalCheck))
	if err != nil {
		return Zone{}, err
	}

	line2 := fmt.Sprintf("%s%d%s%s%d%s%s%d%s%d%d",
		docNumField, docCheck, nationality, birth, birthCheck, sex, expiry, expiryCheck,
		personalField, personalCheck, composite)

	if len(line1) != LineLength || len(line2) != LineLength {
		return Zone{}, fmt.Errorf("internal encoding error: line lengths %d/%d", len(line1), len(line2))
	}

	return Zone{
		Line1:               line1,
		Line2:               line2,
		DocumentNumberCheck: docCheck,
		BirthDateCheck:      birthCheck,
		ExpiryDateCheck:     expiryCheck,
		PersonalNumberCheck: personalCheck,
		CompositeCheck:      composite,
	}, nil
}

// Validate recomputes every check digit of an encoded line 2 and compares it
// with the stored digits. It never reveals which field differed to callers of
// the public endpoint; that mapping stays internal.
func Validate(line2 string) (FieldChecks, error) {
	if len(line2) != LineLength {
		return FieldChecks{}, fmt.Errorf("line 2 must be %d characters, got %d", LineLength, len(line2))
	}
	for i := 0; i < len(line2); i++ {
		if _, err := charValue(line2[i]); err != nil {
			return FieldChecks{}, err
		}
	}

	var checks FieldChecks
	checks.DocumentNumber = checkSpan(line2, 0, 9, 9)
	checks.BirthDate = checkSpan(line2, 13, 19, 19)
	checks.ExpiryDate = checkSpan(line2, 21, 27, 27)
	checks.PersonalNumber = checkSpan(line2, 28, 42, 42)

	composite := line2[0:10] + line2[13:20] + line2[21:28] + line2[28:43]
	got, err := CheckDigit(composite)
	if err != nil {
		return FieldChecks{}, err
	}
	checks.Composite = got == int(line2[43]-'0')

	return checks, nil
}

// checkSpan recomputes the check digit over line2[start:end] and compares it
// to the digit stored at checkPos.
func checkSpan(line2 string, start, end, checkPos int) bool {
	got, err := CheckDigit(line2[start:end])
	if err != nil {
		return false
	}
	stored := line2[checkPos]
	if stored < '0' || stored > '9' {
		return false
	}
	return got == int(stored-'0')
}
