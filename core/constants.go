package core

import "time"

// Environment Variables
const (
	// EnvRedisURL is the fallback Redis connection URL read when PAYCORE_REDIS_URL is unset.
	EnvRedisURL = "REDIS_URL"

	// EnvNamespace is the Kubernetes namespace used for log and metric labeling.
	EnvNamespace = "NAMESPACE"

	// EnvPort is the HTTP server port.
	EnvPort = "PORT"

	// EnvDevMode is the development mode flag.
	EnvDevMode = "DEV_MODE"
)

// Cache Defaults
const (
	// DefaultCacheKeyPrefix is the key prefix used for payment-state cache entries.
	// Format: <prefix><payment-id>
	DefaultCacheKeyPrefix = "paycore:payment:"

	// DefaultReplayKeyPrefix namespaces nonce fingerprints used for replay detection.
	DefaultReplayKeyPrefix = "paycore:replay:"

	// DefaultLockoutKeyPrefix namespaces progressive-lockout counters per team.
	DefaultLockoutKeyPrefix = "paycore:lockout:"

	// DefaultCacheTTL is the default time-to-live for cached payment state.
	DefaultCacheTTL = 1 * time.Hour
)
