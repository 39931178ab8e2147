package domain

import "time"

// AddressChangeEvent is published by the Resolver and consumed by the Event
// Bus whenever a hostname's resolved address set changes.
type AddressChangeEvent struct {
	Hostname      string
	OldAddresses  []string
	NewAddresses  []string
	Timestamp     time.Time
	Source        string // "query" or "refresh"
	TTLSeconds    int
	RecordType    string // "A" or "AAAA"
	Authoritative bool
}

// sameAddressSet reports whether a and b contain the same addresses as
// multisets (order-independent, duplicate-count-sensitive).
func sameAddressSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	counts := make(map[string]int, len(a))
	for _, addr := range a {
		counts[addr]++
	}
	for _, addr := range b {
		counts[addr]--
	}
	for _, c := range counts {
		if c != 0 {
			return false
		}
	}
	return true
}

// NewAddressChangeEvent builds an event, or returns ok=false if old and new
// are equal as multisets (the invariant that only genuine changes publish).
func NewAddressChangeEvent(hostname string, oldAddrs, newAddrs []string, source, recordType string, ttlSeconds int, authoritative bool) (AddressChangeEvent, bool) {
	if sameAddressSet(oldAddrs, newAddrs) {
		return AddressChangeEvent{}, false
	}
	return AddressChangeEvent{
		Hostname:      hostname,
		OldAddresses:  oldAddrs,
		NewAddresses:  newAddrs,
		Timestamp:     time.Now(),
		Source:        source,
		TTLSeconds:    ttlSeconds,
		RecordType:    recordType,
		Authoritative: authoritative,
	}, true
}
