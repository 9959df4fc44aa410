package host

import (
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultStartTimeout bounds the wait for a profile's end of init.
const DefaultStartTimeout = 30 * time.Second

// Config configures a Coordinator.
type Config struct {
	// StartTimeout bounds the wait for each profile to complete its
	// init. A profile that times out is blacklisted.
	StartTimeout time.Duration

	// BREDR enables SDP records for profiles that request BR/EDR
	// discoverability.
	BREDR bool

	// Radio drives power cycles. With no Radio, a power cycle is
	// carried out internally by tearing down and starting again.
	Radio Radio

	Logger *logrus.Logger
}

func (c Config) withDefaults() Config {
	if c.StartTimeout <= 0 {
		c.StartTimeout = DefaultStartTimeout
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	return c
}
