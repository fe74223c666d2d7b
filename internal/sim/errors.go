package sim

import "errors"

var (
	// ErrNoLeaderElected is returned by InjectClientRequest when no node
	// currently holds the leader role.
	ErrNoLeaderElected = errors.New("no leader elected")

	ErrInvalidSpeed       = errors.New("speed must be greater than zero")
	ErrInvalidTransitRate = errors.New("transit rate must be greater than zero")
	ErrInvalidNodeCount   = errors.New("node count must be at least 1")
)
