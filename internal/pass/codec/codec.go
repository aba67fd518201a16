// Package codec encodes passes into self-describing QR payloads and verifies
// received ones. The codec is stateless: it never consults the registry, so
// decode success says nothing about current pass status.
package codec

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"gatepass/internal/domain"
	"gatepass/pkg/domerr"
)

// DefaultMaxTokenAge bounds the blast radius of a photographed or reused
// token. A token older than this fails decode regardless of the pass deadline.
const DefaultMaxTokenAge = 7 * 24 * time.Hour

// Payload is the wire shape rendered into a 2-D barcode by an external
// collaborator. IssuedAt is epoch milliseconds.
type Payload struct {
	PassID       string    `json:"pass_id"`
	HolderHash   string    `json:"holder_hash"`
	SlotStart    time.Time `json:"slot_start"`
	ExitDeadline time.Time `json:"exit_deadline"`
	GroupSize    int       `json:"group_size"`
	IssuedAt     int64     `json:"issued_at"`
	Checksum     string    `json:"checksum"`
}

// Codec mints and verifies tokens.
type Codec struct {
	maxAge time.Duration
}

func New(maxAge time.Duration) *Codec {
	if maxAge <= 0 {
		maxAge = DefaultMaxTokenAge
	}
	return &Codec{maxAge: maxAge}
}

// HashHolder one-way hashes the holder identifier so a leaked token never
// exposes the raw credential ID.
func HashHolder(holderID string) string {
	sum := sha256.Sum256([]byte(holderID))
	return fmt.Sprintf("%x", sum)[:16]
}

// checksum is a short, order-sensitive digest over pass identity fields,
// used for tamper detection. It is a weak integrity check, not a
// cryptographic signature: the payload is plaintext-readable and the digest
// offers no forgery resistance. The holder identifier enters via its hash so
// Decode can recompute the value from payload fields alone.
func checksum(passID, holderHash string, groupSize int) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s|%s|%d", passID, holderHash, groupSize)))
	return fmt.Sprintf("%x", sum)[:8]
}

// Encode builds the signed payload for a pass and serializes it into a
// base64url token suitable for QR rendering.
func (c *Codec) Encode(pass domain.Pass, now time.Time) (string, error) {
	holderHash := HashHolder(pass.HolderID)
	payload := Payload{
		PassID:       pass.ID,
		HolderHash:   holderHash,
		SlotStart:    pass.SlotStart,
		ExitDeadline: pass.ExitDeadline,
		GroupSize:    pass.GroupSize,
		IssuedAt:     now.UnixMilli(),
		Checksum:     checksum(pass.ID, holderHash, pass.GroupSize),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal token payload: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Decode parses and verifies a token. It checks structure, staleness against
// MaxTokenAge (boundary-inclusive: a token aged exactly the limit is still
// valid), and the checksum. Pass status is the registry's concern.
func (c *Codec) Decode(token string, now time.Time) (Payload, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Payload{}, domerr.Wrap(err, domerr.CodeMalformedToken, "token is not valid base64")
	}

	var payload Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Payload{}, domerr.Wrap(err, domerr.CodeMalformedToken, "token payload is not valid JSON")
	}
	if payload.PassID == "" || payload.HolderHash == "" || payload.Checksum == "" ||
		payload.GroupSize == 0 || payload.IssuedAt == 0 ||
		payload.SlotStart.IsZero() || payload.ExitDeadline.IsZero() {
		return Payload{}, domerr.New(domerr.CodeMalformedToken, "token payload missing required fields")
	}

	age := now.Sub(time.UnixMilli(payload.IssuedAt))
	if age > c.maxAge {
		return Payload{}, domerr.New(domerr.CodeTokenStale, "token exceeds maximum age")
	}

	if checksum(payload.PassID, payload.HolderHash, payload.GroupSize) != payload.Checksum {
		return Payload{}, domerr.New(domerr.CodeChecksumMismatch, "token checksum does not match payload")
	}

	return payload, nil
}
