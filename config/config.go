package config

import (
	"os"
	"strconv"

	"github.com/cockroachdb/errors"

	"github.com/Teemperor/ReZZan/token"
)

// The REZZAN_* environment variables, read once at startup. Unrecognized
// values are fatal, matching the "unrecognized configuration is fatal"
// policy: better to fail loudly at startup than run with a
// misinterpreted setting.
const (
	VarDisabled       = "REZZAN_DISABLED"
	VarNonceSize      = "REZZAN_NONCE_SIZE"
	VarQuarantineSize = "REZZAN_QUARANTINE_SIZE"
	VarPoolSize       = "REZZAN_POOL_SIZE"
	VarPopulate       = "REZZAN_POPULATE"
	VarDebug          = "REZZAN_DEBUG"
	VarChecks         = "REZZAN_CHECKS"
	VarStats          = "REZZAN_STATS"
	VarPrintf         = "REZZAN_PRINTF"
)

// Vars lists every environment variable Load reads, in the order they
// appear in the table above.
var Vars = []string{
	VarDisabled, VarNonceSize, VarQuarantineSize, VarPoolSize, VarPopulate,
	VarDebug, VarChecks, VarStats, VarPrintf,
}

const (
	defaultPoolBytes       = 1 << 31   // 2 GiB
	defaultQuarantineBytes = 256 << 20 // 256 MiB
)

// Options controls how a Heap is constructed and how it behaves at
// runtime.
type Options struct {
	// Disabled, when true, bypasses the sanitizer entirely: every
	// allocation is delegated straight to the host allocator.
	Disabled bool
	// Mode selects the token encoding: 61-bit (default, byte-accurate
	// trailing overflow detection) or 64-bit (full nonce entropy).
	Mode token.Mode
	// QuarantineBytes is the delayed-reuse threshold: a released region
	// only becomes eligible for reuse once total quarantine usage
	// exceeds this many bytes.
	QuarantineBytes uint64
	// PoolBytes is the size of the arena's reserved address range.
	PoolBytes uint64
	// Populate eagerly faults in newly committed arena pages instead of
	// leaving that to the first touch.
	Populate bool
	// Debug, when true, emits a trace line per operation.
	Debug bool
	// Checks, when true, runs expensive post-allocation self-checks.
	Checks bool
	// Stats, when true, prints a usage summary at process exit.
	Stats bool
	// Printf, when true, sanitizes %s arguments in the formatted-print
	// interceptor.
	Printf bool
}

// Default returns the option set used when no REZZAN_* variable is set.
func Default() Options {
	return Options{
		Disabled:        false,
		Mode:            token.Mode61,
		QuarantineBytes: defaultQuarantineBytes,
		PoolBytes:       defaultPoolBytes,
		Populate:        false,
		Debug:           false,
		Checks:          false,
		Stats:           false,
		Printf:          false,
	}
}

// Load reads Options from the process environment. Every REZZAN_*
// variable is read independently; an unset variable keeps its default,
// and a malformed value is reported as an error rather than silently
// ignored.
func Load() (Options, error) {
	opts := Default()

	disabled, ok, err := readBool(VarDisabled)
	if err != nil {
		return opts, err
	} else if ok {
		opts.Disabled = disabled
	}

	if nonce, ok, err := readUint(VarNonceSize); err != nil {
		return opts, err
	} else if ok {
		switch nonce {
		case 64:
			opts.Mode = token.Mode64
		case 61:
			opts.Mode = token.Mode61
		default:
			return opts, errors.Newf("%s: invalid nonce size %d, must be 61 or 64", VarNonceSize, nonce)
		}
	}

	if v, ok, err := readUint(VarQuarantineSize); err != nil {
		return opts, err
	} else if ok {
		opts.QuarantineBytes = v
	}

	if v, ok, err := readUint(VarPoolSize); err != nil {
		return opts, err
	} else if ok {
		opts.PoolBytes = v
	}

	if v, ok, err := readBool(VarPopulate); err != nil {
		return opts, err
	} else if ok {
		opts.Populate = v
	}

	if v, ok, err := readBool(VarDebug); err != nil {
		return opts, err
	} else if ok {
		opts.Debug = v
	}

	if v, ok, err := readBool(VarChecks); err != nil {
		return opts, err
	} else if ok {
		opts.Checks = v
	}

	if v, ok, err := readBool(VarStats); err != nil {
		return opts, err
	} else if ok {
		opts.Stats = v
	}

	if v, ok, err := readBool(VarPrintf); err != nil {
		return opts, err
	} else if ok {
		opts.Printf = v
	}

	return opts, nil
}

// readBool reads a "non-zero means enabled" REZZAN_* flag.
func readBool(name string) (val bool, present bool, err error) {
	raw, ok := os.LookupEnv(name)
	if !ok {
		return false, false, nil
	}
	n, err := strconv.ParseInt(raw, 0, 64)
	if err != nil {
		return false, false, errors.Wrapf(err, "%s: invalid value %q", name, raw)
	}
	return n != 0, true, nil
}

// readUint reads a REZZAN_* size value.
func readUint(name string) (val uint64, present bool, err error) {
	raw, ok := os.LookupEnv(name)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.ParseUint(raw, 0, 64)
	if err != nil {
		return 0, false, errors.Wrapf(err, "%s: invalid value %q", name, raw)
	}
	return n, true, nil
}
