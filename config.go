package syncache

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// EnvOptions are the operational tunables readable from the environment.
// Structural options (Provider, Transport, Rules, stores) stay in code;
// the environment only adjusts knobs an operator would turn per deploy.
type EnvOptions struct {
	NetworkTimeout time.Duration `env:"SYNCACHE_NETWORK_TIMEOUT"`
	RetryTimeout   time.Duration `env:"SYNCACHE_RETRY_TIMEOUT"`
	MaxAttempts    int           `env:"SYNCACHE_MAX_ATTEMPTS"`
	BackoffInitial time.Duration `env:"SYNCACHE_BACKOFF_INITIAL"`
	BackoffMax     time.Duration `env:"SYNCACHE_BACKOFF_MAX"`
	SyncInterval   time.Duration `env:"SYNCACHE_SYNC_INTERVAL"`
	UpdateInterval time.Duration `env:"SYNCACHE_UPDATE_INTERVAL"`
	ManifestKey    string        `env:"SYNCACHE_MANIFEST_KEY"`
	PrefetchLimit  int           `env:"SYNCACHE_PREFETCH_LIMIT"`
	MaxEntries     int           `env:"SYNCACHE_MAX_ENTRIES"`
	MaxBytes       int64         `env:"SYNCACHE_MAX_BYTES"`
	StartOnline    bool          `env:"SYNCACHE_START_ONLINE"`
}

// ParseEnv reads EnvOptions from the process environment.
func ParseEnv() (EnvOptions, error) {
	return env.ParseAs[EnvOptions]()
}

// Apply overlays the set (non-zero) environment values onto o.
func (e EnvOptions) Apply(o *Options) {
	o.NetworkTimeout = coalesce(e.NetworkTimeout, o.NetworkTimeout)
	o.RetryTimeout = coalesce(e.RetryTimeout, o.RetryTimeout)
	o.MaxAttempts = coalesce(e.MaxAttempts, o.MaxAttempts)
	o.BackoffInitial = coalesce(e.BackoffInitial, o.BackoffInitial)
	o.BackoffMax = coalesce(e.BackoffMax, o.BackoffMax)
	o.SyncInterval = coalesce(e.SyncInterval, o.SyncInterval)
	o.UpdateInterval = coalesce(e.UpdateInterval, o.UpdateInterval)
	o.ManifestKey = coalesce(e.ManifestKey, o.ManifestKey)
	o.PrefetchLimit = coalesce(e.PrefetchLimit, o.PrefetchLimit)
	o.MaxEntries = coalesce(e.MaxEntries, o.MaxEntries)
	o.MaxBytes = coalesce(e.MaxBytes, o.MaxBytes)
	if e.StartOnline {
		o.StartOnline = true
	}
}
