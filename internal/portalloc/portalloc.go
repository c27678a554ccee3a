// Package portalloc picks a free loopback TCP port for the backend service.
//
// Ports are tried in ascending order so the service address stays the same
// across runs whenever the low end of the range is free.
package portalloc

import (
	"errors"
	"fmt"
	"net"
	"strconv"
)

// Host is the interface ports are probed and later served on.
const Host = "127.0.0.1"

// ErrAllPortsExhausted is returned when every port in the range is bound.
var ErrAllPortsExhausted = errors.New("all ports in range are in use")

// ErrInvalidRange is returned for an empty or out-of-bounds range.
var ErrInvalidRange = errors.New("invalid port range")

// Range is a closed interval of candidate ports.
type Range struct {
	Low  int
	High int
}

// DefaultRange is the fixed range used by the shell.
var DefaultRange = Range{Low: 5555, High: 5655}

func (r Range) Validate() error {
	if r.Low <= 0 || r.High > 65535 || r.Low > r.High {
		return fmt.Errorf("%w: [%d, %d]", ErrInvalidRange, r.Low, r.High)
	}
	return nil
}

// Contains reports whether p lies within the range.
func (r Range) Contains(p int) bool { return p >= r.Low && p <= r.High }

// Size is the number of candidate ports.
func (r Range) Size() int { return r.High - r.Low + 1 }

func (r Range) String() string { return fmt.Sprintf("%d-%d", r.Low, r.High) }

// FindAvailable returns the lowest port in r that can be bound on Host.
// The probe listener is closed before returning.
func FindAvailable(r Range) (int, error) {
	if err := r.Validate(); err != nil {
		return 0, err
	}
	for p := r.Low; p <= r.High; p++ {
		if Available(p) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrAllPortsExhausted, r)
}

// Available reports whether port can currently be bound on Host.
func Available(port int) bool {
	l, err := net.Listen("tcp", net.JoinHostPort(Host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = l.Close()
	return true
}

// URL returns the http base URL of a service on port.
func URL(port int) string {
	return "http://" + net.JoinHostPort(Host, strconv.Itoa(port))
}
