package syncache

import (
	"testing"
	"time"
)

func TestParseEnvAndApply(t *testing.T) {
	t.Setenv("SYNCACHE_NETWORK_TIMEOUT", "3s")
	t.Setenv("SYNCACHE_MAX_ATTEMPTS", "7")
	t.Setenv("SYNCACHE_MANIFEST_KEY", "/v2/manifest.json")
	t.Setenv("SYNCACHE_START_ONLINE", "true")

	e, err := ParseEnv()
	if err != nil {
		t.Fatalf("ParseEnv: %v", err)
	}

	opts := Options{RetryTimeout: 9 * time.Second}
	e.Apply(&opts)

	if opts.NetworkTimeout != 3*time.Second {
		t.Fatalf("NetworkTimeout = %v", opts.NetworkTimeout)
	}
	if opts.MaxAttempts != 7 {
		t.Fatalf("MaxAttempts = %d", opts.MaxAttempts)
	}
	if opts.ManifestKey != "/v2/manifest.json" {
		t.Fatalf("ManifestKey = %q", opts.ManifestKey)
	}
	if !opts.StartOnline {
		t.Fatal("StartOnline not applied")
	}
	// unset env values must not clobber configured options
	if opts.RetryTimeout != 9*time.Second {
		t.Fatalf("RetryTimeout = %v", opts.RetryTimeout)
	}
}

func TestEnvApplyEmptyIsNoop(t *testing.T) {
	var e EnvOptions
	opts := Options{MaxEntries: 128, SyncInterval: -1}
	e.Apply(&opts)
	if opts.MaxEntries != 128 || opts.SyncInterval != -1 {
		t.Fatalf("opts mutated: %+v", opts)
	}
}
