package config

import (
	"fmt"
	"os"
	"strings"
)

// ContractConfig a target contract the relayer may call
type ContractConfig struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
	ABI     string `yaml:"abi"`     // inline ABI JSON
	ABIFile string `yaml:"abiFile"` // path to ABI JSON, used when abi is empty
}

// ABIJSON returns the contract ABI, reading abiFile when no inline ABI is set
func (c ContractConfig) ABIJSON() (string, error) {
	if strings.TrimSpace(c.ABI) != "" {
		return c.ABI, nil
	}
	if c.ABIFile == "" {
		return "", fmt.Errorf("contract %s has no ABI configured", c.label())
	}

	data, err := os.ReadFile(c.ABIFile)
	if err != nil {
		return "", fmt.Errorf("failed to read ABI file for contract %s: %w", c.label(), err)
	}
	return string(data), nil
}

func (c ContractConfig) label() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Address
}
