package models

import (
	"time"
)

// RequestStatus lifecycle status of a delegated transaction request
type RequestStatus string

const (
	RequestStatusNew       RequestStatus = "new"       // created, waiting for authorization
	RequestStatusConfirmed RequestStatus = "confirmed" // authorized, waiting to be published
	RequestStatusMining    RequestStatus = "mining"    // broadcast, waiting for confirmations
	RequestStatusMined     RequestStatus = "mined"     // final
	RequestStatusFailed    RequestStatus = "failed"    // final, Reason is set
)

// AllRequestStatuses lists every known status in lifecycle order
var AllRequestStatuses = []RequestStatus{
	RequestStatusNew,
	RequestStatusConfirmed,
	RequestStatusMining,
	RequestStatusMined,
	RequestStatusFailed,
}

// IsTerminal reports whether no further transition can happen
func (s RequestStatus) IsTerminal() bool {
	return s == RequestStatusMined || s == RequestStatusFailed
}

// IsValid reports whether s is one of the known statuses
func (s RequestStatus) IsValid() bool {
	for _, known := range AllRequestStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// DelegateRequest a pre-authorized contract call relayed by the relayer wallet.
// Seq is the insertion order of the store and the authoritative processing order.
type DelegateRequest struct {
	Seq    uint64        `json:"seq" gorm:"primaryKey;autoIncrement"`
	ID     string        `json:"id" gorm:"uniqueIndex;size:64;not null"`
	Status RequestStatus `json:"status" gorm:"not null;default:new;index;size:16"`

	// Opaque payload used to build the chain call
	Signer           string         `json:"signer" gorm:"size:42;index"`
	Context          RequestContext `json:"context" gorm:"type:text"`
	Fee              string         `json:"fee" gorm:"size:78"`
	SignatureOptions JSONB          `json:"signature_options,omitempty" gorm:"type:text"`

	// Set by the reconciler
	Nonce           *uint64    `json:"nonce,omitempty" gorm:"index"`
	TransactionHash string     `json:"transaction_hash,omitempty" gorm:"size:66;index"`
	TxReceipt       *TxReceipt `json:"tx_receipt,omitempty" gorm:"type:text"`
	Reason          string     `json:"reason,omitempty" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ExpiresAt time.Time `json:"expires_at" gorm:"index"`
}

// TableName 指定表名
func (DelegateRequest) TableName() string {
	return "delegate_requests"
}

// NonceOr returns the recorded nonce, or fallback when none is recorded yet
func (r *DelegateRequest) NonceOr(fallback uint64) uint64 {
	if r.Nonce == nil {
		return fallback
	}
	return *r.Nonce
}

// RequestUpdate partial update of the reconciler-owned fields.
// Nil fields are left untouched.
type RequestUpdate struct {
	Status          *RequestStatus
	Nonce           *uint64
	TransactionHash *string
	TxReceipt       *TxReceipt
	Reason          *string
}

// Columns returns the column -> value assignments for a single UPDATE statement
func (u RequestUpdate) Columns() map[string]interface{} {
	updates := make(map[string]interface{}, 6)
	if u.Status != nil {
		updates["status"] = *u.Status
	}
	if u.Nonce != nil {
		updates["nonce"] = *u.Nonce
	}
	if u.TransactionHash != nil {
		updates["transaction_hash"] = *u.TransactionHash
	}
	if u.TxReceipt != nil {
		updates["tx_receipt"] = u.TxReceipt
	}
	if u.Reason != nil {
		updates["reason"] = *u.Reason
	}
	return updates
}

// IsEmpty reports whether the update changes nothing
func (u RequestUpdate) IsEmpty() bool {
	return u.Status == nil && u.Nonce == nil && u.TransactionHash == nil && u.TxReceipt == nil && u.Reason == nil
}

// Apply copies the update onto r, used to keep in-memory copies in sync
func (u RequestUpdate) Apply(r *DelegateRequest) {
	if u.Status != nil {
		r.Status = *u.Status
	}
	if u.Nonce != nil {
		n := *u.Nonce
		r.Nonce = &n
	}
	if u.TransactionHash != nil {
		r.TransactionHash = *u.TransactionHash
	}
	if u.TxReceipt != nil {
		r.TxReceipt = u.TxReceipt
	}
	if u.Reason != nil {
		r.Reason = *u.Reason
	}
}

// StatusPtr helper for building RequestUpdate literals
func StatusPtr(s RequestStatus) *RequestStatus { return &s }

// Uint64Ptr helper for building RequestUpdate literals
func Uint64Ptr(v uint64) *uint64 { return &v }

// StringPtr helper for building RequestUpdate literals
func StringPtr(v string) *string { return &v }
