package cfg

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// DeadlockReportLevel selects how much detail a detected deadlock's
// report carries.
type DeadlockReportLevel string

const (
	DeadlockReportOff   DeadlockReportLevel = "off"
	DeadlockReportBasic DeadlockReportLevel = "basic"
	DeadlockReportFull  DeadlockReportLevel = "full"
)

func (l DeadlockReportLevel) Validate() error {
	switch l {
	case DeadlockReportOff, DeadlockReportBasic, DeadlockReportFull:
		return nil
	default:
		return fmt.Errorf("deadlock report level must be one of off/basic/full, got %q", l)
	}
}

// InfiniteWaitThresholdSeconds: a configured timeout at or above this
// value means "never time out", matching the original engine's use of
// a sentinel rather than a dedicated boolean.
const InfiniteWaitThresholdSeconds = 100_000_000

// LockSysConfig holds every knob the lock manager's external interface
// exposes in §6: deadlock detection on/off, report verbosity, the
// default wait timeout, and the hash table cell count used at Create.
type LockSysConfig struct {
	DeadlockDetect     bool                `envconfig:"DEADLOCK_DETECT" default:"true"`
	DeadlockReport     DeadlockReportLevel `envconfig:"DEADLOCK_REPORT" default:"basic"`
	LockWaitTimeoutSec int64               `envconfig:"LOCK_WAIT_TIMEOUT_SEC" default:"50"`
	CellCount          uint64              `envconfig:"CELL_COUNT" default:"16384"`
}

// IsInfiniteWait reports whether the configured timeout should be
// treated as "never expires".
func (c LockSysConfig) IsInfiniteWait() bool {
	return c.LockWaitTimeoutSec >= InfiniteWaitThresholdSeconds
}

func (c LockSysConfig) Validate() error {
	if err := c.DeadlockReport.Validate(); err != nil {
		return err
	}
	if c.CellCount == 0 {
		return fmt.Errorf("cell count must be positive")
	}
	return nil
}

// LoadConfig reads a LockSysConfig from environment variables prefixed
// ROWLOCK_ (loading a .env file at envPath first, if one exists, and
// tolerating its absence — the environment remains authoritative).
func LoadConfig(envPath string) (LockSysConfig, error) {
	if envPath != "" {
		_ = godotenv.Load(envPath)
	}

	var cfg LockSysConfig
	if err := envconfig.Process("ROWLOCK", &cfg); err != nil {
		return LockSysConfig{}, fmt.Errorf("loading lock system config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return LockSysConfig{}, fmt.Errorf("validating lock system config: %w", err)
	}

	return cfg, nil
}

func DefaultConfig() LockSysConfig {
	return LockSysConfig{
		DeadlockDetect:     true,
		DeadlockReport:     DeadlockReportBasic,
		LockWaitTimeoutSec: 50,
		CellCount:          16384,
	}
}
