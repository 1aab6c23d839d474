package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// JSONB type for storing free-form JSON documents
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return marshalText(j)
}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	return unmarshalColumn(value, j)
}

// RequestContext describes the contract call a request asks the relayer to make.
// Arguments are string encoded and converted to ABI types at submission time.
type RequestContext struct {
	ContractAddress string     `json:"contract_address"`
	FunctionName    string     `json:"function_name"`
	Arguments       []string   `json:"arguments"`
	Expiry          *time.Time `json:"expiry,omitempty"`
}

// Value implements the driver.Valuer interface
func (c RequestContext) Value() (driver.Value, error) {
	return marshalText(c)
}

// Scan implements the sql.Scanner interface
func (c *RequestContext) Scan(value interface{}) error {
	if value == nil {
		*c = RequestContext{}
		return nil
	}
	return unmarshalColumn(value, c)
}

// TxReceipt mined transaction receipt with every numeric field as a plain number.
// Big integers that may exceed uint64 are kept as decimal strings.
type TxReceipt struct {
	Status            uint64 `json:"status"`
	BlockNumber       uint64 `json:"block_number"`
	BlockHash         string `json:"block_hash"`
	TransactionIndex  uint64 `json:"transaction_index"`
	GasUsed           uint64 `json:"gas_used"`
	CumulativeGasUsed uint64 `json:"cumulative_gas_used"`
	EffectiveGasPrice string `json:"effective_gas_price"`
	ContractAddress   string `json:"contract_address,omitempty"`
	LogCount          int    `json:"log_count"`
	Confirmations     uint64 `json:"confirmations"`
}

// Value implements the driver.Valuer interface
func (r TxReceipt) Value() (driver.Value, error) {
	return marshalText(r)
}

// Scan implements the sql.Scanner interface
func (r *TxReceipt) Scan(value interface{}) error {
	if value == nil {
		*r = TxReceipt{}
		return nil
	}
	return unmarshalColumn(value, r)
}

func marshalText(v interface{}) (driver.Value, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func unmarshalColumn(value interface{}, dest interface{}) error {
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, dest)
	case string:
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("unsupported column type %T", value)
	}
}
