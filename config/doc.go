// Package config parses runtime tuning options from the REZZAN_* family
// of environment variables (REZZAN_DISABLED, REZZAN_NONCE_SIZE,
// REZZAN_QUARANTINE_SIZE, REZZAN_POOL_SIZE, REZZAN_POPULATE,
// REZZAN_DEBUG, REZZAN_CHECKS, REZZAN_STATS, REZZAN_PRINTF), the same
// variables the sanitizer runtime this project's semantics are modeled
// on reads at startup.
//
// The example corpus this project is grown from carries no
// environment-config library (no envconfig, viper, or kelseyhightower
// style struct-tag decoder), so parsing is done directly against
// os.Getenv and strconv.
package config
