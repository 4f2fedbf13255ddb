package strategy

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"backtesting-engine/internal/errs"
)

// Config represents a strategy configuration entry in YAML.
type Config struct {
	Type       string                 `yaml:"type" json:"type"`
	Symbol     string                 `yaml:"symbol" json:"symbol,omitempty"`
	Parameters map[string]interface{} `yaml:"parameters" json:"parameters,omitempty"`
}

// ConfigFile represents the top-level YAML structure.
type ConfigFile struct {
	Strategies []Config `yaml:"strategies"`
}

// LoadConfig reads strategies from a YAML file.
func LoadConfig(path string) ([]Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read strategy config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes a YAML strategy document.
func ParseConfig(data []byte) ([]Config, error) {
	var file ConfigFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: parse strategy config: %v", errs.ErrInvalidConfiguration, err)
	}
	return file.Strategies, nil
}

// Build instantiates the strategy described by cfg. Parameters not given
// keep the strategy type's defaults.
func Build(cfg Config) (Strategy, error) {
	var (
		s   Strategy
		err error
	)
	switch strings.ToLower(cfg.Type) {
	case "sma":
		p := DefaultSMAConfig()
		if err = decodeParams(cfg, &p); err == nil {
			s, err = NewSMAStrategyWithConfig(p)
		}
	case "momentum":
		p := DefaultMomentumConfig()
		if err = decodeParams(cfg, &p); err == nil {
			s, err = NewMomentumStrategy(p)
		}
	case "rsi":
		p := DefaultRSIConfig()
		if err = decodeParams(cfg, &p); err == nil {
			s, err = NewRSIStrategy(p)
		}
	case "ma_cross":
		p := DefaultMACrossConfig()
		if err = decodeParams(cfg, &p); err == nil {
			s, err = NewMACrossStrategy(p)
		}
	case "bollinger":
		p := DefaultBollingerConfig()
		if err = decodeParams(cfg, &p); err == nil {
			s, err = NewBollingerStrategy(p)
		}
	case "volume_profile":
		p := DefaultVolumeProfileConfig()
		if err = decodeParams(cfg, &p); err == nil {
			s, err = NewVolumeProfileStrategy(p)
		}
	default:
		return nil, fmt.Errorf("%w: unknown strategy type %q", errs.ErrInvalidConfiguration, cfg.Type)
	}
	if err != nil {
		return nil, err
	}
	return OnlySymbol(s, cfg.Symbol), nil
}

// BuildAll instantiates every config in order.
func BuildAll(cfgs []Config) ([]Strategy, error) {
	out := make([]Strategy, 0, len(cfgs))
	for i, cfg := range cfgs {
		s, err := Build(cfg)
		if err != nil {
			return nil, fmt.Errorf("strategy %d (%s): %w", i, cfg.Type, err)
		}
		out = append(out, s)
	}
	return out, nil
}

func decodeParams(cfg Config, dst interface{}) error {
	if len(cfg.Parameters) == 0 {
		return nil
	}
	paramsJSON, err := json.Marshal(cfg.Parameters)
	if err != nil {
		return fmt.Errorf("%w: marshal parameters for %s: %v", errs.ErrInvalidConfiguration, cfg.Type, err)
	}
	if err := json.Unmarshal(paramsJSON, dst); err != nil {
		return fmt.Errorf("%w: parameters for %s: %v", errs.ErrInvalidConfiguration, cfg.Type, err)
	}
	return nil
}
