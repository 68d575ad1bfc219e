package domain

import (
	"fmt"
	"time"
)

// SocksPort is the port every Mullvad SOCKS5 relay listens on.
const SocksPort = 1080

// ProxyRecord describes a single Mullvad exit node from the public relay
// registry. Hostname is the identity key across snapshots; the validation
// fields stay empty until a checker has probed the record.
type ProxyRecord struct {
	Country      string `json:"country"`
	City         string `json:"city"`
	RelayAddress string `json:"relay_address"`
	Hostname     string `json:"hostname"`
	ProxyURL     string `json:"proxy_url"`

	Valid       *bool      `json:"valid,omitempty"`
	CheckedAt   *time.Time `json:"checked_at,omitempty"`
	ErrorCode   string     `json:"error_code,omitempty"`
	ErrorReason string     `json:"error_reason,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// NewProxyRecord builds a record with the proxy URL derived from the relay
// address, keeping the `proxy_url == socks5://relay:1080` invariant in one
// place.
func NewProxyRecord(country, city, relayAddress, hostname string) ProxyRecord {
	return ProxyRecord{
		Country:      country,
		City:         city,
		RelayAddress: relayAddress,
		Hostname:     hostname,
		ProxyURL:     SocksURL(relayAddress),
	}
}

// SocksURL derives the SOCKS5 connection string for a relay address.
func SocksURL(relayAddress string) string {
	return fmt.Sprintf("socks5://%s:%d", relayAddress, SocksPort)
}

// IsValid reports whether the record has been probed and accepted.
func (p *ProxyRecord) IsValid() bool {
	return p.Valid != nil && *p.Valid
}

// MarkValid stamps the record as accepted by the target API.
func (p *ProxyRecord) MarkValid(at time.Time) {
	valid := true
	p.Valid = &valid
	p.CheckedAt = &at
}

// MarkInvalid stamps the record as rejected, keeping the failure text for the
// audit snapshot.
func (p *ProxyRecord) MarkInvalid(at time.Time, reason string) {
	valid := false
	p.Valid = &valid
	p.CheckedAt = &at
	p.Error = reason
}

// MarkBlocked records a well-formed error response from the target API. The
// record stays not-valid without being flagged as a driver failure.
func (p *ProxyRecord) MarkBlocked(at time.Time, code, reason string) {
	valid := false
	p.Valid = &valid
	p.CheckedAt = &at
	p.ErrorCode = code
	p.ErrorReason = reason
}

// MergeResults folds checker results back into the candidate list by
// hostname. Workers return fresh records instead of mutating shared state, so
// the merge is the single place where validation outcomes land. Candidates
// without a matching result pass through untouched; result order does not
// matter.
func MergeResults(candidates, results []ProxyRecord) []ProxyRecord {
	byHostname := make(map[string]ProxyRecord, len(results))
	for _, result := range results {
		byHostname[result.Hostname] = result
	}

	merged := make([]ProxyRecord, 0, len(candidates))
	for _, candidate := range candidates {
		if result, ok := byHostname[candidate.Hostname]; ok {
			merged = append(merged, result)
		} else {
			merged = append(merged, candidate)
		}
	}

	return merged
}

// FilterValid returns the subset of records accepted by validation.
func FilterValid(records []ProxyRecord) []ProxyRecord {
	valid := make([]ProxyRecord, 0, len(records))
	for _, record := range records {
		if record.IsValid() {
			valid = append(valid, record)
		}
	}
	return valid
}
