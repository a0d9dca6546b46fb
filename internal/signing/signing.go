// Package signing issues and verifies intake receipts: an HMAC over the upload
// id, the SHA-256 of the accepted bytes and an expiry, so downstream services
// can confirm a file passed validation without calling back.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"
)

var (
	// ErrInvalidReceipt is returned when a signature does not match.
	ErrInvalidReceipt = errors.New("receipt signature invalid")
	// ErrExpiredReceipt is returned for a well-signed receipt past its expiry.
	ErrExpiredReceipt = errors.New("receipt expired")
)

// Receipt is what the API hands back for an accepted upload.
type Receipt struct {
	UploadID  string `json:"upload_id"`
	SHA256    string `json:"sha256"`
	Expires   int64  `json:"expires"`
	Signature string `json:"signature"`
}

// Signer generates and validates HMAC based signatures.
type Signer struct {
	secret []byte
}

// NewSigner creates a Signer.
func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret}
}

// Sign returns the hex signature over uploadID, digest and expiry.
func (s *Signer) Sign(uploadID, digest string, expiresUnix int64) string {
	mac := hmac.New(sha256.New, s.secret)
	// The canonical payload keeps field order fixed.
	payload := fmt.Sprintf("%s:%s:%d", uploadID, digest, expiresUnix)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// Issue builds a signed receipt valid for ttl from now.
func (s *Signer) Issue(uploadID, digest string, ttl time.Duration, now time.Time) Receipt {
	exp := now.Add(ttl).Unix()
	return Receipt{
		UploadID:  uploadID,
		SHA256:    digest,
		Expires:   exp,
		Signature: s.Sign(uploadID, digest, exp),
	}
}

// Validate checks the signature of a receipt given as strings, as it
// arrives in a query string.
func (s *Signer) Validate(uploadID, digest, expires, signature string, now time.Time) error {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad expiry", ErrInvalidReceipt)
	}
	expected := s.Sign(uploadID, digest, exp)
	// hmac.Equal compares in constant time.
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidReceipt
	}
	if now.Unix() > exp {
		return ErrExpiredReceipt
	}
	return nil
}
