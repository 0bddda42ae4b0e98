package engine

import "net/netip"

// session tracks the one device the client talks to. The target is set by
// an accepted DEVINFO reply and cleared only when the connection closes.
type session struct {
	target netip.Addr
}

// bind makes addr the target. It reports the previous target when the
// binding moved to a different device.
func (s *session) bind(addr netip.Addr) (prev netip.Addr, rebound bool) {
	prev = s.target
	s.target = addr
	return prev, prev.IsValid() && prev != addr
}

func (s *session) bound() bool {
	return s.target.IsValid()
}

func (s *session) matches(addr netip.Addr) bool {
	return s.target.IsValid() && s.target == addr
}

func (s *session) clear() {
	s.target = netip.Addr{}
}
