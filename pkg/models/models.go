package models

import (
	"strings"
	"time"
)

// AccountRecord is the persisted view of one derived account on one chain.
type AccountRecord struct {
	Address         string    `json:"address"`
	PublicKey       string    `json:"public_key"`
	AddressIndex    int       `json:"address_index"`
	ChainID         string    `json:"chain_id"`
	ContractVersion int       `json:"contract_version"`
	ContractName    string    `json:"contract_name,omitempty"`
	Deployed        bool      `json:"deployed"`
	UpgradeRequired bool      `json:"upgrade_required"`
	DeployRequired  bool      `json:"deploy_required"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Key identifies a record across chains.
func (r AccountRecord) Key() string {
	return AccountKey(r.ChainID, r.Address)
}

func AccountKey(chainID, address string) string {
	return strings.TrimSpace(chainID) + "/" + NormalizeAddress(address)
}

// NormalizeAddress trims whitespace and rewrites hex felts to lowercase
// without leading zeros, so "0x00AB" and "0xab" name the same account.
// Anything else is compared byte-for-byte.
func NormalizeAddress(address string) string {
	address = strings.TrimSpace(address)
	if len(address) < 3 || (address[:2] != "0x" && address[:2] != "0X") {
		return address
	}
	digits := strings.ToLower(address[2:])
	for _, c := range digits {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return address
		}
	}
	digits = strings.TrimLeft(digits, "0")
	if digits == "" {
		digits = "0"
	}
	return "0x" + digits
}

func NormalizeAccountRecord(r AccountRecord) AccountRecord {
	r.Address = NormalizeAddress(r.Address)
	r.PublicKey = strings.TrimSpace(r.PublicKey)
	r.ChainID = strings.TrimSpace(r.ChainID)
	// A record cannot need an upgrade before it exists on chain.
	if r.DeployRequired {
		r.UpgradeRequired = false
	}
	return r
}

// AccountPage is one page of derived accounts in index order.
type AccountPage struct {
	Accounts []AccountRecord `json:"accounts"`
	From     int             `json:"from"`
	To       int             `json:"to"`
}

// RecoverResult summarises a recovery scan.
type RecoverResult struct {
	Accounts     []AccountRecord `json:"accounts"`
	Scanned      int             `json:"scanned"`
	LastDeployed int             `json:"last_deployed"`
}

type HealthStatus struct {
	Status    string    `json:"status"`
	ChainID   string    `json:"chain_id"`
	Transport string    `json:"transport"`
	Accounts  int       `json:"accounts"`
	CheckedAt time.Time `json:"checked_at"`
}
