package tokens

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type fileFormat struct {
	Tokens []RuleConfig `yaml:"tokens"`
}

// DefaultConfigs are the rules used when no rules file is configured.
func DefaultConfigs() []RuleConfig {
	return []RuleConfig{
		{Symbol: "ICP", Decimals: 8, MinTransfer: "0.0001", Fee: "0.0001", AddressScheme: SchemeICP},
		{Symbol: "ckBTC", Decimals: 8, MinTransfer: "0.00001", Fee: "0.0000001", AddressScheme: SchemeICP},
		{Symbol: "ckETH", Decimals: 18, MinTransfer: "0.00001", Fee: "0.000002", AddressScheme: SchemeEVM},
		{Symbol: "ckUSDC", Decimals: 6, MinTransfer: "0.01", Fee: "0.01", AddressScheme: SchemeICP},
		{Symbol: "SOL", Decimals: 9, MinTransfer: "0.001", Fee: "0.000005", AddressScheme: SchemeSolana},
	}
}

// Default returns the built-in table.
func Default() *Table {
	t, err := NewTable(DefaultConfigs())
	if err != nil {
		panic(fmt.Sprintf("built-in token rules are invalid: %v", err))
	}
	return t
}

// Parse reads a YAML document of the form
//
//	tokens:
//	  - symbol: ICP
//	    decimals: 8
//	    min_transfer: "0.0001"
//	    fee: "0.0001"
//	    address_scheme: icp
//	    fee_multipliers:
//	      WITHDRAW: "2"
func Parse(data []byte) (*Table, error) {
	var f fileFormat
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to decode token rules: %w", err)
	}
	if len(f.Tokens) == 0 {
		return nil, fmt.Errorf("token rules define no tokens")
	}
	return NewTable(f.Tokens)
}

// LoadFile reads the rule table from a YAML file.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read token rules: %w", err)
	}
	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load token rules from %s: %w", path, err)
	}
	return t, nil
}

// Load returns the table from path, or the built-in table when path is empty.
func Load(path string) (*Table, error) {
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}
