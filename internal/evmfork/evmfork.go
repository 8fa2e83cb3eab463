// Package evmfork implements C7: a thin client over an EVM-compatible
// JSON-RPC fork (anvil-style dev node), per spec.md §4.7.
package evmfork

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	simtypes "github.com/airchains-network/tx-simulator/internal/types"
)

// Client wraps an rpc.Client/ethclient.Client pair over a single fork
// endpoint, grounded directly on the teacher's eth.Client.
type Client struct {
	rpcClient *rpc.Client
	eth       *ethclient.Client
	upstream  *ethclient.Client // optional separate URL for live fee-data, §4.1 step 3
	log       *zap.Logger

	mu         sync.Mutex
	forkBlock  uint64
	forkURL    string
}

// Dial connects to the fork RPC and optionally a live upstream endpoint
// used only for fee-data reads. upstreamURL may be empty.
func Dial(ctx context.Context, forkURL, upstreamURL string, log *zap.Logger) (*Client, error) {
	rc, err := rpc.DialContext(ctx, forkURL)
	if err != nil {
		return nil, fmt.Errorf("evmfork: dial rpc: %w", err)
	}
	ec := ethclient.NewClient(rc)

	blockNum, err := ec.BlockNumber(ctx)
	if err != nil {
		rc.Close()
		return nil, fmt.Errorf("evmfork: read current block: %w", err)
	}

	c := &Client{rpcClient: rc, eth: ec, log: log, forkBlock: blockNum, forkURL: forkURL}

	if upstreamURL != "" {
		uc, err := ethclient.DialContext(ctx, upstreamURL)
		if err != nil {
			log.Warn("upstream fee-data endpoint unreachable, will fall back to fork", zap.Error(err))
		} else {
			c.upstream = uc
		}
	}
	return c, nil
}

// ForkBlock returns the remembered fork block number, §3's "cached fork
// origin."
func (c *Client) ForkBlock() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.forkBlock
}

// Snapshot takes a fork snapshot via evm_snapshot and returns its ID,
// §4.1 step 1 / §4.7.
func (c *Client) Snapshot(ctx context.Context) (string, error) {
	var id string
	if err := c.rpcClient.CallContext(ctx, &id, "evm_snapshot"); err != nil {
		return "", fmt.Errorf("evmfork: evm_snapshot: %w", err)
	}
	return id, nil
}

// Revert reverts to a snapshot via evm_revert. A false result is a
// recoverable failure per §4.7 ("revert returns a boolean; false is a
// recoverable failure - fall through to reset").
func (c *Client) Revert(ctx context.Context, id string) (bool, error) {
	var ok bool
	if err := c.rpcClient.CallContext(ctx, &ok, "evm_revert", id); err != nil {
		return false, fmt.Errorf("evmfork: evm_revert: %w", err)
	}
	return ok, nil
}

// Reset calls anvil_reset, with fork parameters when the original fork
// URL is known, else parameterless, per §4.7.
func (c *Client) Reset(ctx context.Context) error {
	var err error
	if c.forkURL != "" {
		err = c.rpcClient.CallContext(ctx, nil, "anvil_reset", map[string]interface{}{
			"forking": map[string]interface{}{"jsonRpcUrl": c.forkURL, "blockNumber": c.forkBlock},
		})
	} else {
		err = c.rpcClient.CallContext(ctx, nil, "anvil_reset")
	}
	if err != nil {
		return fmt.Errorf("evmfork: anvil_reset: %w", err)
	}
	return nil
}

// Impersonate enables anvil_impersonateAccount for addr.
func (c *Client) Impersonate(ctx context.Context, addr simtypes.Address) error {
	if err := c.rpcClient.CallContext(ctx, nil, "anvil_impersonateAccount", string(addr)); err != nil {
		return fmt.Errorf("evmfork: anvil_impersonateAccount: %w", err)
	}
	return nil
}

// StopImpersonating disables impersonation. Failures here are swallowed
// by the caller per §7's best-effort policy; StopImpersonating itself
// still reports the error so the caller can log it.
func (c *Client) StopImpersonating(ctx context.Context, addr simtypes.Address) error {
	if err := c.rpcClient.CallContext(ctx, nil, "anvil_stopImpersonatingAccount", string(addr)); err != nil {
		return fmt.Errorf("evmfork: anvil_stopImpersonatingAccount: %w", err)
	}
	return nil
}

// SendAsSender submits the call as an already-impersonated sender via
// eth_sendTransaction and waits for its receipt.
func (c *Client) SendAsSender(ctx context.Context, from, to simtypes.Address, data []byte, value, gasLimit *big.Int) (*types.Receipt, error) {
	callArgs := map[string]interface{}{
		"from": normalizeHex(string(from)),
		"to":   normalizeHex(string(to)),
		"data": "0x" + commonBytesToHex(data),
	}
	if value != nil {
		callArgs["value"] = hexBig(value)
	}
	if gasLimit != nil {
		callArgs["gas"] = hexBig(gasLimit)
	}

	var txHash common.Hash
	if err := c.rpcClient.CallContext(ctx, &txHash, "eth_sendTransaction", callArgs); err != nil {
		return nil, fmt.Errorf("evmfork: eth_sendTransaction: %w", err)
	}

	// anvil/ganache-style forks mine the injected tx synchronously; a
	// receipt is available immediately.
	receipt, err := c.eth.TransactionReceipt(ctx, txHash)
	if err != nil {
		return nil, fmt.Errorf("evmfork: transaction receipt: %w", err)
	}
	return receipt, nil
}

// FeeData reads the current gas price, preferring the live upstream
// connection and falling back to the fork itself on failure, per §4.1
// step 3.
func (c *Client) FeeData(ctx context.Context) (*big.Int, error) {
	if c.upstream != nil {
		if price, err := c.upstream.SuggestGasPrice(ctx); err == nil {
			return price, nil
		}
	}
	return c.eth.SuggestGasPrice(ctx)
}

// NativeBalance implements snapshot.AccountModelReader.
func (c *Client) NativeBalance(ctx context.Context, addr simtypes.Address) (*big.Int, error) {
	return c.eth.BalanceAt(ctx, common.HexToAddress(string(addr)), nil)
}

// erc20BalanceOfSelector is balanceOf(address), keccak4("balanceOf(address)").
const erc20BalanceOfSelector = "70a08231"

// TokenBalance implements snapshot.AccountModelReader via a raw
// balanceOf(address) eth_call, avoiding an ABI dependency for a single
// well-known selector.
func (c *Client) TokenBalance(ctx context.Context, token, holder simtypes.Address) (*big.Int, error) {
	data := erc20BalanceOfSelector + leftPad32(strings.TrimPrefix(string(holder), "0x"))
	callArgs := map[string]interface{}{
		"to":   normalizeHex(string(token)),
		"data": "0x" + data,
	}
	var result string
	if err := c.rpcClient.CallContext(ctx, &result, "eth_call", callArgs, "latest"); err != nil {
		return nil, fmt.Errorf("evmfork: balanceOf eth_call: %w", err)
	}
	if result == "" || result == "0x" {
		return big.NewInt(0), nil
	}
	out := new(big.Int)
	out.SetString(strings.TrimPrefix(result, "0x"), 16)
	return out, nil
}

// symbolSelector/decimalsSelector are the well-known ERC20 metadata reads,
// used the same way erc20BalanceOfSelector is: one fixed selector, no ABI
// dependency.
const (
	symbolSelector   = "95d89b41"
	decimalsSelector = "313ce567"
)

// TokenMeta reads symbol()/decimals() for an ERC20-shaped token contract.
// A failed or malformed read on either leaves that field at its zero value;
// the caller (the cache-backed resolver in internal/engine) falls back to
// the §3/§7 unknown-metadata default.
func (c *Client) TokenMeta(ctx context.Context, token simtypes.Address) (symbol string, decimals uint8, err error) {
	symRaw, symErr := c.ethCall(ctx, string(token), symbolSelector)
	if symErr == nil {
		symbol = decodeABIString(symRaw)
	}
	decRaw, decErr := c.ethCall(ctx, string(token), decimalsSelector)
	if decErr == nil && len(decRaw) > 0 {
		decimals = uint8(new(big.Int).SetBytes(decRaw).Uint64())
	}
	if symErr != nil && decErr != nil {
		return "", 0, fmt.Errorf("evmfork: token metadata unreadable: %v / %v", symErr, decErr)
	}
	return symbol, decimals, nil
}

func (c *Client) ethCall(ctx context.Context, to, selectorHex string) ([]byte, error) {
	callArgs := map[string]interface{}{
		"to":   normalizeHex(to),
		"data": "0x" + selectorHex,
	}
	var result string
	if err := c.rpcClient.CallContext(ctx, &result, "eth_call", callArgs, "latest"); err != nil {
		return nil, fmt.Errorf("evmfork: eth_call %s: %w", selectorHex, err)
	}
	if result == "" || result == "0x" {
		return nil, nil
	}
	out := make([]byte, 0)
	h := strings.TrimPrefix(result, "0x")
	for i := 0; i+1 < len(h); i += 2 {
		var b byte
		fmt.Sscanf(h[i:i+2], "%02x", &b)
		out = append(out, b)
	}
	return out, nil
}

// decodeABIString unpacks a dynamic ABI `string` return value: a 32-byte
// offset slot (ignored, always 0x20 for a single return value), a 32-byte
// length slot, then the UTF-8 bytes themselves.
func decodeABIString(raw []byte) string {
	if len(raw) < 64 {
		return ""
	}
	length := new(big.Int).SetBytes(raw[32:64]).Uint64()
	if uint64(len(raw)) < 64+length {
		return ""
	}
	return string(raw[64 : 64+length])
}

// IsConnected is a best-effort health probe; any error means false, §4.7.
func (c *Client) IsConnected(ctx context.Context) bool {
	_, err := c.eth.BlockNumber(ctx)
	return err == nil
}

// Close releases the underlying connections.
func (c *Client) Close() {
	if c.upstream != nil {
		c.upstream.Close()
	}
	c.eth.Close()
}

func normalizeHex(s string) string {
	if !strings.HasPrefix(s, "0x") {
		return "0x" + s
	}
	return s
}

func hexBig(v *big.Int) string {
	return "0x" + v.Text(16)
}

func commonBytesToHex(b []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hextable[c>>4]
		out[i*2+1] = hextable[c&0x0f]
	}
	return string(out)
}

func leftPad32(hexStr string) string {
	for len(hexStr) < 64 {
		hexStr = "0" + hexStr
	}
	return hexStr
}
