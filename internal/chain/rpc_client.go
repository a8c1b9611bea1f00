package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/multiformats/go-multiaddr"
	"golang.org/x/crypto/sha3"
)

const (
	// codeContractNotFound is the node error code for a missing contract.
	codeContractNotFound = 20
	maxRPCResponseBytes  = 1 << 20
	defaultRPCTimeout    = 10 * time.Second
)

var (
	getVersionSelector = entryPointSelector("getVersion")

	// ErrInvalidAddress is returned for addresses a node would reject
	// without answering: anything but a 0x-prefixed felt below 2^251.
	ErrInvalidAddress = errors.New("address is not a felt")
)

// RPCClient reads contract versions from a node over JSON-RPC.
type RPCClient struct {
	endpoint string
	http     *http.Client
	nextID   atomic.Int64
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type callRequest struct {
	ContractAddress    string   `json:"contract_address"`
	EntryPointSelector string   `json:"entry_point_selector"`
	Calldata           []string `json:"calldata"`
}

type callParams struct {
	Request callRequest `json:"request"`
	BlockID string      `json:"block_id"`
}

// NewRPCClient accepts an http(s) URL or a multiaddr such as
// /dns4/node.example/tcp/443/https.
func NewRPCClient(endpoint string, timeout time.Duration) (*RPCClient, error) {
	u, err := ParseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = defaultRPCTimeout
	}
	return &RPCClient{
		endpoint: u,
		http:     &http.Client{Timeout: timeout},
	}, nil
}

func (c *RPCClient) Endpoint() string {
	return c.endpoint
}

func (c *RPCClient) GetVersion(ctx context.Context, address string) (string, error) {
	if !isFelt(address) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	params := callParams{
		Request: callRequest{
			ContractAddress:    address,
			EntryPointSelector: getVersionSelector,
			Calldata:           []string{},
		},
		BlockID: "latest",
	}
	var result []string
	if err := c.call(ctx, "starknet_call", params, &result); err != nil {
		var rerr *rpcError
		if errors.As(err, &rerr) && (rerr.Code == codeContractNotFound || strings.Contains(rerr.Message, "Contract not found")) {
			return "", ErrContractNotFound
		}
		return "", err
	}
	if len(result) == 0 {
		return "", errors.New("empty getVersion result")
	}
	return result[0], nil
}

func (c *RPCClient) call(ctx context.Context, method string, params any, out any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxRPCResponseBytes))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected http status %d", method, resp.StatusCode)
	}

	var decoded rpcResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if decoded.Error != nil {
		return decoded.Error
	}
	if err := json.Unmarshal(decoded.Result, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}

// ParseEndpoint normalizes a node endpoint to an http(s) URL.
func ParseEndpoint(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("rpc endpoint is required")
	}
	if !strings.HasPrefix(raw, "/") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", fmt.Errorf("invalid rpc endpoint: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return "", fmt.Errorf("invalid rpc endpoint scheme %q", u.Scheme)
		}
		if u.Host == "" {
			return "", errors.New("invalid rpc endpoint: missing host")
		}
		return u.String(), nil
	}

	addr, err := multiaddr.NewMultiaddr(raw)
	if err != nil {
		return "", fmt.Errorf("invalid rpc multiaddr: %w", err)
	}
	host := ""
	for _, code := range []int{multiaddr.P_DNS, multiaddr.P_DNS4, multiaddr.P_DNS6, multiaddr.P_IP4, multiaddr.P_IP6} {
		if v, err := addr.ValueForProtocol(code); err == nil && v != "" {
			host = v
			if code == multiaddr.P_IP6 {
				host = "[" + v + "]"
			}
			break
		}
	}
	if host == "" {
		return "", errors.New("rpc multiaddr has no host component")
	}
	port, err := addr.ValueForProtocol(multiaddr.P_TCP)
	if err != nil {
		return "", errors.New("rpc multiaddr has no tcp component")
	}
	scheme := "http"
	if _, err := addr.ValueForProtocol(multiaddr.P_HTTPS); err == nil {
		scheme = "https"
	} else if _, err := addr.ValueForProtocol(multiaddr.P_TLS); err == nil {
		scheme = "https"
	}
	return (&url.URL{Scheme: scheme, Host: host + ":" + port, Path: "/"}).String(), nil
}

func isFelt(s string) bool {
	if len(s) < 3 || s[:2] != "0x" {
		return false
	}
	v, ok := new(big.Int).SetString(s[2:], 16)
	return ok && v.Sign() >= 0 && v.BitLen() <= 251
}

// entryPointSelector is keccak256(name) truncated to 250 bits.
func entryPointSelector(name string) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(name))
	v := new(big.Int).SetBytes(h.Sum(nil))
	mask := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 250), big.NewInt(1))
	v.And(v, mask)
	return "0x" + v.Text(16)
}
