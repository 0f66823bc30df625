package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// CommissionTable describes the commission fee structure.
type CommissionTable struct {
	FixedAmount    float64 `yaml:"fixed_amount"`
	FixedThreshold float64 `yaml:"fixed_threshold"`
	PercentageRate float64 `yaml:"percentage_rate"`
}

// ForwardingTable describes the tiered forwarding price structure.
type ForwardingTable struct {
	BaseCost            float64 `yaml:"base_cost"`
	PerKgRateEurope     float64 `yaml:"per_kg_rate_europe"`
	PerKgRateTurkey     float64 `yaml:"per_kg_rate_turkey"`
	PerKgRateKazakhstan float64 `yaml:"per_kg_rate_kazakhstan"`
	TurkeyThreshold     float64 `yaml:"turkey_threshold"`
	KazakhstanThreshold float64 `yaml:"kazakhstan_threshold"`
	LightThreshold      float64 `yaml:"light_threshold"`
	LightHandlingFee    float64 `yaml:"light_handling_fee"`
	HeavyHandlingFee    float64 `yaml:"heavy_handling_fee"`
}

// FeeTable bundles commission and forwarding pricing.
type FeeTable struct {
	Commission CommissionTable `yaml:"commission"`
	Forwarding ForwardingTable `yaml:"forwarding"`
}

// WeightPattern maps a title regexp to an estimated weight in kilograms.
type WeightPattern struct {
	Pattern string  `yaml:"pattern"`
	Weight  float64 `yaml:"weight"`
}

// WeightTable holds the title pattern weight estimates.
type WeightTable struct {
	DefaultWeight float64         `yaml:"default_weight"`
	Patterns      []WeightPattern `yaml:"patterns"`
}

// DefaultFeeTable returns the standard fee structure used when no YAML file is
// present.
func DefaultFeeTable() FeeTable {
	return FeeTable{
		Commission: CommissionTable{
			FixedAmount:    15.0,
			FixedThreshold: 150.0,
			PercentageRate: 0.10,
		},
		Forwarding: ForwardingTable{
			BaseCost:            13.99,
			PerKgRateEurope:     30.86,
			PerKgRateTurkey:     35.27,
			PerKgRateKazakhstan: 41.89,
			TurkeyThreshold:     200.0,
			KazakhstanThreshold: 1000.0,
			LightThreshold:      1.36,
			LightHandlingFee:    3.0,
			HeavyHandlingFee:    5.0,
		},
	}
}

// DefaultWeightTable returns the fallback weight estimate table.
func DefaultWeightTable() WeightTable {
	return WeightTable{
		DefaultWeight: 0.60,
		Patterns: []WeightPattern{
			{Pattern: `\b(sneaker|shoe|boot)s?\b`, Weight: 1.4},
			{Pattern: `\b(jacket|coat|parka)s?\b`, Weight: 1.2},
			{Pattern: `\b(hoodie|sweatshirt|sweater|knit)s?\b`, Weight: 0.8},
			{Pattern: `\b(jean|pant|trouser|denim)s?\b`, Weight: 0.7},
			{Pattern: `\b(t-?shirt|tee|top)s?\b`, Weight: 0.3},
			{Pattern: `\b(cap|hat|beanie)s?\b`, Weight: 0.25},
			{Pattern: `\b(belt|wallet|cardholder)s?\b`, Weight: 0.3},
			{Pattern: `\b(bag|backpack|tote)s?\b`, Weight: 1.0},
		},
	}
}

// LoadFeeTable reads the fee table from a YAML file, falling back to defaults
// when the file does not exist.
func LoadFeeTable(path string) (FeeTable, error) {
	table := DefaultFeeTable()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return table, nil
		}
		return table, fmt.Errorf("read fee table: %w", err)
	}
	if err := yaml.Unmarshal(data, &table); err != nil {
		return DefaultFeeTable(), fmt.Errorf("parse fee table: %w", err)
	}
	return table, nil
}

// LoadWeightTable reads the shipping weight table from a YAML file, falling
// back to defaults when the file does not exist.
func LoadWeightTable(path string) (WeightTable, error) {
	table := DefaultWeightTable()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return table, nil
		}
		return table, fmt.Errorf("read weight table: %w", err)
	}
	if err := yaml.Unmarshal(data, &table); err != nil {
		return DefaultWeightTable(), fmt.Errorf("parse weight table: %w", err)
	}
	return table, nil
}
