package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainEntitlement separates entitlement fingerprints from any other hash.
const DomainEntitlement = "disburse/entitlement/v1"

func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// EntitlementHash fingerprints an entitlement input. Codes are normalized and
// schedules ordered by date first, so inputs that build identical schedules
// hash identically.
func EntitlementHash(proposed []ProposedSchedule) (string, error) {
	schedules := make([]any, 0, len(proposed))
	for _, p := range NormalizeSchedules(proposed) {
		values := make([]any, 0, len(p.Values))
		for _, v := range p.Values {
			values = append(values, map[string]any{
				"code":   v.ValueCode,
				"type":   string(v.ValueType),
				"amount": v.ValueAmount,
			})
		}
		schedules = append(schedules, map[string]any{
			"disbursement_date":      p.DisbursementDate,
			"negotiated_expiry_date": p.NegotiatedExpiryDate,
			"values":                 values,
		})
	}

	canonical, err := MarshalCanonical(map[string]any{"schedules": schedules})
	if err != nil {
		return "", fmt.Errorf("entitlement hash: %w", err)
	}
	return hashWithDomain(DomainEntitlement, canonical), nil
}
