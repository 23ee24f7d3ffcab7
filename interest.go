package ane

import "github.com/sirupsen/logrus"

type interestKey struct {
	station StationKey
	addr    Address
}

// InterestRegistry records, at the arbiter of a centralized domain, which
// stations want frames sent to which addresses.  It is filled only by
// NotifyInterest events; an address never announced is not wanted.
type InterestRegistry struct {
	entries map[interestKey]bool

	// stations that want every frame (promiscuous stations, headends)
	everything map[StationKey]bool

	// log lookups for which no notification was ever received
	strict bool
}

// createInterestRegistry is a constructor
func createInterestRegistry(strict bool) *InterestRegistry {
	return &InterestRegistry{
		entries:    make(map[interestKey]bool),
		everything: make(map[StationKey]bool),
		strict:     strict,
	}
}

// NotifyInterest records whether station wants frames for addr
func (ir *InterestRegistry) NotifyInterest(station StationKey, addr Address, interested bool) {
	ir.entries[interestKey{station: station, addr: addr}] = interested
}

// NotifyInterestInAll records whether station wants every frame
func (ir *InterestRegistry) NotifyInterestInAll(station StationKey, interested bool) {
	ir.everything[station] = interested
}

// IsInterested reports whether station wants a frame sent to addr
func (ir *InterestRegistry) IsInterested(station StationKey, addr Address) bool {
	if ir.everything[station] {
		return true
	}
	interested, present := ir.entries[interestKey{station: station, addr: addr}]
	if !present && ir.strict {
		logrus.Warnf("interest of %s in %s was never announced", station, addr)
	}
	return interested
}

// Len is the number of address entries held
func (ir *InterestRegistry) Len() int {
	return len(ir.entries)
}
