package domain

import "time"

// Snapshot is a historical record of a Config that was accepted by
// Resolver.LoadConfig, kept by a ConfigVersionStore for later inspection or
// rollback. This is the secondary "config versioning" feature (component H).
type Snapshot struct {
	ID        string
	Config    Config
	CreatedAt time.Time
	Reason    string // "initial", "reload", or "explicit"
}
