package tracker

import (
	"fmt"
	"net"
	"strconv"
)

// Peer is the address of a remote peer. Two peers are equal if their addresses are equal.
// Peer is comparable and can be used as a map key.
type Peer struct {
	IP   [net.IPv4len]byte
	Port uint16
}

// NewPeer returns a Peer from a TCP address. Only IPv4 addresses are supported.
func NewPeer(addr *net.TCPAddr) (Peer, error) {
	ip4 := addr.IP.To4()
	if ip4 == nil {
		return Peer{}, fmt.Errorf("not an IPv4 address: %s", addr.IP)
	}
	if addr.Port <= 0 || addr.Port > 65535 {
		return Peer{}, fmt.Errorf("invalid port: %d", addr.Port)
	}
	p := Peer{Port: uint16(addr.Port)}
	copy(p.IP[:], ip4)
	return p, nil
}

// ParsePeer parses an "ip:port" string.
func ParsePeer(s string) (Peer, error) {
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return Peer{}, err
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return Peer{}, fmt.Errorf("invalid ip: %q", host)
	}
	n, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return Peer{}, fmt.Errorf("invalid port: %q", port)
	}
	return NewPeer(&net.TCPAddr{IP: ip, Port: int(n)})
}

// Addr returns the peer address as net.TCPAddr.
func (p Peer) Addr() *net.TCPAddr {
	return &net.TCPAddr{IP: net.IP(p.IP[:]), Port: int(p.Port)}
}

// String returns the address in "ip:port" form.
func (p Peer) String() string {
	return p.Addr().String()
}

// Less orders peers by IP, then by port.
func (p Peer) Less(o Peer) bool {
	for i := range p.IP {
		if p.IP[i] != o.IP[i] {
			return p.IP[i] < o.IP[i]
		}
	}
	return p.Port < o.Port
}
