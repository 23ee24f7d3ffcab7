package ane

import (
	"fmt"
	"net/netip"
	"strings"
)

// Address is an IPv4 interface address as carried in a frame envelope.
// Every station is given one, including stations whose upper layers are IPv6.
type Address uint32

// AnyDest is the global broadcast address
const AnyDest Address = 0xffffffff

// String renders the address in dotted-quad form
func (a Address) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", byte(a>>24), byte(a>>16), byte(a>>8), byte(a))
}

// ParseAddress accepts "a.b.c.d" and returns the Address
func ParseAddress(s string) (Address, error) {
	ip, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if !ip.Is4() {
		return 0, fmt.Errorf("address %s is not IPv4", s)
	}
	b := ip.As4()
	return Address(uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])), nil
}

// ParseInterfaceAddress accepts "a.b.c.d/n" and returns the address and prefix length.
// A bare address is given prefix length 24.
func ParseInterfaceAddress(s string) (Address, int, error) {
	if !strings.Contains(s, "/") {
		addr, err := ParseAddress(s)
		return addr, 24, err
	}
	pfx, err := netip.ParsePrefix(strings.TrimSpace(s))
	if err != nil {
		return 0, 0, err
	}
	addr, err := ParseAddress(pfx.Addr().String())
	if err != nil {
		return 0, 0, err
	}
	return addr, pfx.Bits(), nil
}

// subnetBroadcast returns the directed broadcast address of the subnet
// holding addr under the given prefix length
func subnetBroadcast(addr Address, prefixLen int) Address {
	if prefixLen <= 0 {
		return AnyDest
	}
	if prefixLen >= 32 {
		return addr
	}
	hostMask := Address(uint32(1)<<(32-prefixLen) - 1)
	return addr | hostMask
}
