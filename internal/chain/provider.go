package chain

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"walletsnap/go-backend/internal/account"
	"walletsnap/go-backend/internal/platform/apperr"
)

// ErrContractNotFound is returned by readers when no contract is deployed at
// the queried address.
var ErrContractNotFound = errors.New("contract not found")

// VersionReader reads the version string an account contract reports.
type VersionReader interface {
	GetVersion(ctx context.Context, address string) (string, error)
}

// Invalidator is implemented by readers that keep answers between calls.
type Invalidator interface {
	Invalidate(address string)
}

// Provider implements account.ChainStateProvider on top of a VersionReader:
// an address is deployed when its contract answers getVersion, and upgraded
// when the minor version reaches the requested target.
type Provider struct {
	reader VersionReader
}

var (
	_ account.ChainStateProvider = (*Provider)(nil)
	_ account.Refresher          = (*Provider)(nil)
)

func NewProvider(reader VersionReader) *Provider {
	return &Provider{reader: reader}
}

// Refresh drops any answer the reader chain holds for address.
func (p *Provider) Refresh(address string) {
	if inv, ok := p.reader.(Invalidator); ok {
		inv.Invalidate(address)
	}
}

func (p *Provider) IsDeployed(ctx context.Context, address string) (bool, error) {
	if _, err := p.reader.GetVersion(ctx, address); err != nil {
		if errors.Is(err, ErrContractNotFound) {
			return false, nil
		}
		return false, apperr.ProviderQuery("get version of "+address, err)
	}
	return true, nil
}

func (p *Provider) IsUpgraded(ctx context.Context, address string, target int, refresh bool) (bool, error) {
	if refresh {
		p.Refresh(address)
	}
	raw, err := p.reader.GetVersion(ctx, address)
	if err != nil {
		if errors.Is(err, ErrContractNotFound) {
			return false, apperr.ContractNotDeployed(address)
		}
		return false, apperr.ProviderQuery("get version of "+address, err)
	}
	v, err := ParseVersion(raw)
	if err != nil {
		return false, apperr.ProviderQuery("decode version of "+address, err)
	}
	return v.Minor >= target, nil
}

// Version is a decoded major.minor.patch contract version.
type Version struct {
	Major int
	Minor int
	Patch int
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// ParseVersion accepts either the plain "0.3.0" form or the felt-encoded
// short string contracts return ("0x302e332e30").
func ParseVersion(raw string) (Version, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		decoded, err := decodeShortString(raw[2:])
		if err != nil {
			return Version{}, err
		}
		raw = decoded
	}
	parts := strings.Split(raw, ".")
	if len(parts) < 2 || len(parts) > 3 {
		return Version{}, fmt.Errorf("invalid version %q", raw)
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 {
			return Version{}, fmt.Errorf("invalid version %q", raw)
		}
		nums[i] = n
	}
	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

func decodeShortString(hexDigits string) (string, error) {
	if len(hexDigits)%2 == 1 {
		hexDigits = "0" + hexDigits
	}
	out := make([]byte, 0, len(hexDigits)/2)
	for i := 0; i < len(hexDigits); i += 2 {
		b, err := strconv.ParseUint(hexDigits[i:i+2], 16, 8)
		if err != nil {
			return "", fmt.Errorf("invalid short string: %w", err)
		}
		if b == 0 && len(out) == 0 {
			continue
		}
		out = append(out, byte(b))
	}
	return string(out), nil
}

// EncodeShortString is the inverse of the felt decoding ParseVersion does.
func EncodeShortString(s string) string {
	var b strings.Builder
	b.WriteString("0x")
	for i := 0; i < len(s); i++ {
		fmt.Fprintf(&b, "%02x", s[i])
	}
	return b.String()
}
