// Package config holds the supervisor's immutable start-up configuration
// and the validation rules bootstrap applies to it.
package config

import (
	"fmt"
	"time"

	"github.com/ankit-kulkarni/einhornd/internal/socketprep"
)

// DefaultRetries is the command-line default for -r/--retries. A
// lineage is respawned only while attempts+1 < retries, so under the
// default a failing worker is abandoned without any respawn.
const DefaultRetries = 1

// DefaultSocketPath is the control socket path used when -d/--socket-path
// is not given.
const DefaultSocketPath = "/tmp/einhorn.sock"

// Config is immutable once bootstrap hands it to the supervisor loop.
type Config struct {
	Program string
	Args    []string

	Count     int
	Childhood time.Duration
	Grace     time.Duration
	Retries   int
	ManualAck bool

	Family socketprep.Family
	Binds  []socketprep.BindSpec

	DropEnv    []string
	SocketPath string

	Verbose bool
	Syslog  bool
}

// Validate applies the supervisor's sanity rules for bootstrap
// configuration. It never mutates c. The -4/-6 mutual exclusion is checked
// by bootstrap before a Config is built, since Family holds a single value.
func (c *Config) Validate() error {
	if c.Program == "" {
		return fmt.Errorf("no worker program given")
	}
	if c.Count < 0 {
		return fmt.Errorf("worker count must be >= 0, got %d", c.Count)
	}
	if c.Retries < 0 {
		return fmt.Errorf("retries must be >= 0, got %d", c.Retries)
	}
	if len(c.Binds) == 0 {
		return fmt.Errorf("at least one -b/--bind is required")
	}
	if c.SocketPath == "" {
		return fmt.Errorf("control socket path must not be empty")
	}
	return nil
}
