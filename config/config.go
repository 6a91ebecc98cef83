// Package config loads the protocol parameters of a lending reserve from a
// TOML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
)

// Lending is the on-disk shape of a reserve's protocol parameters. Rates and
// ratios are expressed in basis points; amounts are base-unit decimal strings.
type Lending struct {
	Pool                 string `toml:"Pool"`
	LiquidationAuthority string `toml:"LiquidationAuthority"`
	Admin                string `toml:"Admin"`

	PrimeRateBps          uint64 `toml:"PrimeRateBps"`
	BaseRateBps           uint64 `toml:"BaseRateBps,omitempty"`
	OptimalRateBps        uint64 `toml:"OptimalRateBps,omitempty"`
	MaxRateBps            uint64 `toml:"MaxRateBps,omitempty"`
	OptimalUtilizationBps uint64 `toml:"OptimalUtilizationBps"`
	ProtocolFeeBps        uint64 `toml:"ProtocolFeeBps"`

	LiquidationThresholdBps  uint64 `toml:"LiquidationThresholdBps"`
	HealthFactorThresholdBps uint64 `toml:"HealthFactorThresholdBps"`
	GracePeriodSecs          int64  `toml:"GracePeriodSecs"`
	DustThreshold            string `toml:"DustThreshold"`
	BufferRatioBps           uint64 `toml:"BufferRatioBps"`
	MaxPriceAgeSecs          int64  `toml:"MaxPriceAgeSecs"`

	Pauses Pauses `toml:"Pauses"`
}

// Pauses holds the module switch and the per-action switches.
type Pauses struct {
	Lending   bool `toml:"Lending"`
	Deposit   bool `toml:"Deposit"`
	Withdraw  bool `toml:"Withdraw"`
	Borrow    bool `toml:"Borrow"`
	Repay     bool `toml:"Repay"`
	Liquidate bool `toml:"Liquidate"`
}

// DefaultLending returns the parameters written when no file exists. The
// authority and admin must still be filled in before the file validates.
func DefaultLending() *Lending {
	return &Lending{
		Pool:                     "0x0000000000000000000000000000000000001e4d",
		PrimeRateBps:             1_000,
		OptimalUtilizationBps:    8_000,
		ProtocolFeeBps:           0,
		LiquidationThresholdBps:  8_000,
		HealthFactorThresholdBps: 10_000,
		GracePeriodSecs:          3 * 24 * 60 * 60,
		DustThreshold:            "1000000",
		BufferRatioBps:           2_000,
		MaxPriceAgeSecs:          0,
	}
}

// Load loads the lending parameters from the given path, writing the defaults
// first when the file does not exist. Unknown keys are rejected.
func Load(path string) (*Lending, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}

	cfg := &Lending{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("config: %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}
	cfg.normalize()
	return cfg, nil
}

func (l *Lending) normalize() {
	l.Pool = strings.TrimSpace(l.Pool)
	l.LiquidationAuthority = strings.TrimSpace(l.LiquidationAuthority)
	l.Admin = strings.TrimSpace(l.Admin)
	l.DustThreshold = strings.TrimSpace(l.DustThreshold)
	if l.DustThreshold == "" {
		l.DustThreshold = DefaultLending().DustThreshold
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Lending, error) {
	cfg := DefaultLending()
	if err := Persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Persist writes cfg to path, creating parent directories as needed.
func Persist(path string, cfg *Lending) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func parseAddress(field, value string) (common.Address, error) {
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("invalid %s %q", field, value)
	}
	return common.HexToAddress(value), nil
}
