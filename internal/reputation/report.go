package reputation

import (
	"encoding/json"
	"fmt"
	"strings"
)

const ReasonFlagged = "Verification failed. If you are using a VPN or proxy, turn it off and try again."

// Detections is the structured verdict block returned for one address.
type Detections struct {
	Proxy       bool  `json:"proxy"`
	VPN         bool  `json:"vpn"`
	Tor         bool  `json:"tor"`
	Hosting     bool  `json:"hosting"`
	Compromised bool  `json:"compromised"`
	Scraper     bool  `json:"scraper"`
	Anonymous   bool  `json:"anonymous"`
	Risk        int64 `json:"risk"`
}

func (d *Detections) any() bool {
	return d.Proxy || d.VPN || d.Tor || d.Hosting || d.Compromised || d.Scraper || d.Anonymous
}

// Details holds what the provider reported about one address.
type Details struct {
	Detections *Detections
	// Fields keeps every other key, including the older "proxy": "yes" form.
	Fields map[string]json.RawMessage
}

// Report is a parsed lookup response. Raw is kept verbatim for the audit record.
type Report struct {
	Status    string
	QueryTime *int64
	Addresses map[string]Details
	Raw       json.RawMessage
}

var legacyFlags = []string{"proxy", "vpn", "tor", "hosting", "compromised", "scraper", "anonymous"}

// ParseReport decodes a response whose per-address blocks sit at the top
// level keyed by the address itself.
func ParseReport(raw []byte) (*Report, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, err
	}

	report := &Report{
		Addresses: make(map[string]Details),
		Raw:       append(json.RawMessage(nil), raw...),
	}
	for key, value := range top {
		switch key {
		case "status":
			if err := json.Unmarshal(value, &report.Status); err != nil {
				return nil, fmt.Errorf("status: %w", err)
			}
		case "query_time":
			var qt int64
			if err := json.Unmarshal(value, &qt); err == nil {
				report.QueryTime = &qt
			}
		case "message":
		default:
			details, ok := parseDetails(value)
			if ok {
				report.Addresses[key] = details
			}
		}
	}
	if report.Status == "" {
		return nil, fmt.Errorf("response has no status")
	}
	return report, nil
}

func parseDetails(raw json.RawMessage) (Details, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Details{}, false
	}

	details := Details{Fields: fields}
	if d, ok := fields["detections"]; ok {
		var detections Detections
		if err := json.Unmarshal(d, &detections); err == nil {
			details.Detections = &detections
		}
		delete(fields, "detections")
	}
	return details, true
}

// Failed reports whether the provider itself refused or errored.
func (r *Report) Failed() bool {
	switch strings.ToLower(r.Status) {
	case "error", "denied":
		return true
	default:
		return false
	}
}

// Flagged returns the flag that marks a reported address as an anonymizing
// or abusive network, if any.
func (r *Report) Flagged() (string, bool) {
	for _, details := range r.Addresses {
		if d := details.Detections; d != nil && d.any() {
			return "detections", true
		}
		for _, key := range legacyFlags {
			raw, ok := details.Fields[key]
			if !ok {
				continue
			}
			var value string
			if json.Unmarshal(raw, &value) == nil && strings.EqualFold(value, "yes") {
				return key, true
			}
		}
	}
	return "", false
}
