// Package qr parses and generates the QR payloads printed on student ID
// cards and parent pickup cards.
package qr

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"time"
)

// Student codes look like STU_<id>_<millis>, where <id> is the student's
// internal identifier (lowercase hex and hyphens, i.e. a uuid). Parent codes
// are QR_ followed by exactly 8 uppercase alphanumerics.
var (
	studentCodeRe = regexp.MustCompile(`^STU_([0-9a-f-]+)_\d+$`)
	parentCodeRe  = regexp.MustCompile(`^QR_[A-Z0-9]{8}$`)
)

const parentTokenChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// ExtractStudentID returns the student id embedded in a scanned code, or ""
// when the payload is not a student code. The match is anchored: trailing
// garbage or a missing prefix yields no match, never an error.
func ExtractStudentID(code string) string {
	m := studentCodeRe.FindStringSubmatch(code)
	if m == nil {
		return ""
	}
	return m[1]
}

// IsParentCode reports whether a scanned code is a parent pickup code.
func IsParentCode(code string) bool {
	return parentCodeRe.MatchString(code)
}

// NewStudentCode builds the payload encoded on a student's ID card. The
// trailing timestamp makes reissued cards distinguishable; the resolver
// ignores it.
func NewStudentCode(studentID string) string {
	return fmt.Sprintf("STU_%s_%d", studentID, time.Now().UnixMilli())
}

// NewParentCode generates a fresh parent pickup code.
func NewParentCode() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = parentTokenChars[int(b)%len(parentTokenChars)]
	}
	return "QR_" + string(buf), nil
}
