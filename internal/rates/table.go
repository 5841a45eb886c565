package rates

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"enp-settlement/internal/money"
)

// Table is a checkpoint × vehicle-type rate table loaded from yaml.
//
//	default: "10.00"
//	checkpoints:
//	  checkpoint-a:
//	    default: "15.00"
//	    passenger: "15.00"
//	    commercial: "20.00"
//	    heavy: "25.00"
type Table struct {
	defaultRate money.Amount
	hasDefault  bool
	checkpoints map[string]checkpointRates
}

type checkpointRates struct {
	defaultRate money.Amount
	hasDefault  bool
	byType      map[string]money.Amount
}

type tableFile struct {
	Default     string                       `yaml:"default"`
	Checkpoints map[string]map[string]string `yaml:"checkpoints"`
}

// LoadTable reads a rate table from a yaml file.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseTable(data)
}

// ParseTable parses yaml rate table content.
func ParseTable(data []byte) (*Table, error) {
	var file tableFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	table := &Table{checkpoints: make(map[string]checkpointRates)}
	if file.Default != "" {
		rate, err := parseRate(file.Default)
		if err != nil {
			return nil, fmt.Errorf("rates: default: %w", err)
		}
		table.defaultRate = rate
		table.hasDefault = true
	}
	for checkpoint, entries := range file.Checkpoints {
		cp := checkpointRates{byType: make(map[string]money.Amount)}
		for vehicleType, value := range entries {
			rate, err := parseRate(value)
			if err != nil {
				return nil, fmt.Errorf("rates: %s/%s: %w", checkpoint, vehicleType, err)
			}
			if vehicleType == "default" {
				cp.defaultRate = rate
				cp.hasDefault = true
				continue
			}
			cp.byType[vehicleType] = rate
		}
		table.checkpoints[checkpoint] = cp
	}
	return table, nil
}

// RateFor resolves the amount, falling back from
// checkpoint+vehicle-type to checkpoint default to table default.
func (t *Table) RateFor(ctx context.Context, checkpointID, vehicleType string) (money.Amount, error) {
	_ = ctx
	if t == nil {
		return 0, ErrNoRate
	}
	if cp, ok := t.checkpoints[checkpointID]; ok {
		if rate, ok := cp.byType[vehicleType]; ok {
			return rate, nil
		}
		if cp.hasDefault {
			return cp.defaultRate, nil
		}
	}
	if t.hasDefault {
		return t.defaultRate, nil
	}
	return 0, ErrNoRate
}

func parseRate(value string) (money.Amount, error) {
	rate, err := money.Parse(value)
	if err != nil {
		return 0, err
	}
	if !rate.IsPositive() {
		return 0, fmt.Errorf("rate must be positive: %s", value)
	}
	return rate, nil
}
