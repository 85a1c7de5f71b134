// Package chain wraps an Ethereum JSON-RPC client for the tool layer:
// queries, value transfers and contract deployment. Chain semantics stay in
// go-ethereum; this package only assembles and submits requests.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"evm-mcp/internal/wallet"
)

// Backend is the subset of the JSON-RPC client this package uses.
// *ethclient.Client satisfies it; tests drive Client through a fake.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	Close()
}

// Client talks to one network over JSON-RPC and signs with the shared
// wallet manager.
type Client struct {
	eth     Backend
	wallets *wallet.Manager
	log     *zap.Logger

	network string
	chainID *big.Int
}

// Dial connects to rpcURL and wraps the connection in a Client. A non-zero
// expectedChainID must match the node's reported chain ID; this catches a
// config pointing at the wrong network before anything is signed.
func Dial(ctx context.Context, network, rpcURL string, expectedChainID int64, wallets *wallet.Manager, log *zap.Logger) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}
	c, err := NewClient(ctx, eth, network, expectedChainID, wallets, log)
	if err != nil {
		eth.Close()
		return nil, err
	}
	return c, nil
}

// NewClient wraps an already-connected backend. The chain ID is fetched
// once so later signing does not need a round trip.
func NewClient(ctx context.Context, eth Backend, network string, expectedChainID int64, wallets *wallet.Manager, log *zap.Logger) (*Client, error) {
	chainID, err := eth.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}
	if expectedChainID != 0 && chainID.Int64() != expectedChainID {
		return nil, fmt.Errorf("network %s reports chain id %s, config expects %d", network, chainID, expectedChainID)
	}
	log.Info("connected to network",
		zap.String("network", network),
		zap.String("chain_id", chainID.String()))
	return &Client{eth: eth, wallets: wallets, log: log, network: network, chainID: chainID}, nil
}

// Network returns the configured network name.
func (c *Client) Network() string { return c.network }

// ChainID returns the chain ID fetched at dial time.
func (c *Client) ChainID() *big.Int { return new(big.Int).Set(c.chainID) }

// Close releases the underlying RPC connection.
func (c *Client) Close() { c.eth.Close() }

// Balance returns the current balance of addr in wei.
func (c *Client) Balance(ctx context.Context, addr string) (*big.Int, error) {
	if !common.IsHexAddress(addr) {
		return nil, fmt.Errorf("invalid address %q", addr)
	}
	return c.eth.BalanceAt(ctx, common.HexToAddress(addr), nil)
}

// BlockNumber returns the latest block number.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return c.eth.BlockNumber(ctx)
}

// BlockByNumber returns the block at number, or the latest block when
// number is nil.
func (c *Client) BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error) {
	return c.eth.BlockByNumber(ctx, number)
}

// TransactionByHash returns the transaction and whether it is still pending.
func (c *Client) TransactionByHash(ctx context.Context, hash string) (*types.Transaction, bool, error) {
	return c.eth.TransactionByHash(ctx, common.HexToHash(hash))
}

// Receipt returns the mined receipt for hash.
func (c *Client) Receipt(ctx context.Context, hash string) (*types.Receipt, error) {
	return c.eth.TransactionReceipt(ctx, common.HexToHash(hash))
}

// GasPrice returns the suggested gas price in wei.
func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	return c.eth.SuggestGasPrice(ctx)
}

// Code returns the deployed bytecode at addr.
func (c *Client) Code(ctx context.Context, addr string) ([]byte, error) {
	if !common.IsHexAddress(addr) {
		return nil, fmt.Errorf("invalid address %q", addr)
	}
	return c.eth.CodeAt(ctx, common.HexToAddress(addr), nil)
}

// ReadContract performs an eth_call of method on the contract at addr and
// returns the unpacked outputs. abiJSON is the contract's ABI document.
func (c *Client) ReadContract(ctx context.Context, addr, abiJSON, method string, args ...interface{}) ([]interface{}, error) {
	if !common.IsHexAddress(addr) {
		return nil, fmt.Errorf("invalid address %q", addr)
	}
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	to := common.HexToAddress(addr)
	raw, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	out, err := parsed.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("unpack %s result: %w", method, err)
	}
	return out, nil
}

// SendETH transfers amount wei from a managed wallet to an address and
// returns the transaction hash.
func (c *Client) SendETH(ctx context.Context, from, password, to string, amount *big.Int) (string, error) {
	if !common.IsHexAddress(from) {
		return "", fmt.Errorf("invalid sender address %q", from)
	}
	if !common.IsHexAddress(to) {
		return "", fmt.Errorf("invalid recipient address %q", to)
	}
	fromAddr := common.HexToAddress(from)
	toAddr := common.HexToAddress(to)

	nonce, err := c.eth.PendingNonceAt(ctx, fromAddr)
	if err != nil {
		return "", fmt.Errorf("fetch nonce: %w", err)
	}
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("fetch gas price: %w", err)
	}

	tx := types.NewTransaction(nonce, toAddr, amount, 21000, gasPrice, nil)
	signed, err := c.wallets.SignTx(fromAddr, password, tx, c.chainID)
	if err != nil {
		return "", err
	}
	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("send transaction: %w", err)
	}
	c.log.Info("sent transfer",
		zap.String("from", from),
		zap.String("to", to),
		zap.String("tx", signed.Hash().Hex()))
	return signed.Hash().Hex(), nil
}
