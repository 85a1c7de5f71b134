// Package mcp registers the server's tools on a mark3labs MCP server and
// serves them over the configured transport.
package mcp

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"evm-mcp/internal/chain"
	"evm-mcp/internal/compiler"
	"evm-mcp/internal/config"
	"evm-mcp/internal/store"
	"evm-mcp/internal/wallet"
)

// ChainService is what the tool handlers need from the chain layer.
// *chain.Client implements it; tests substitute a fake.
type ChainService interface {
	Network() string
	ChainID() *big.Int
	Balance(ctx context.Context, addr string) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
	TransactionByHash(ctx context.Context, hash string) (*types.Transaction, bool, error)
	Receipt(ctx context.Context, hash string) (*types.Receipt, error)
	GasPrice(ctx context.Context) (*big.Int, error)
	Code(ctx context.Context, addr string) ([]byte, error)
	ReadContract(ctx context.Context, addr, abiJSON, method string, args ...interface{}) ([]interface{}, error)
	SendETH(ctx context.Context, from, password, to string, amount *big.Int) (string, error)
	Deploy(ctx context.Context, artifact *compiler.CompiledArtifact, from, password string, args ...interface{}) (*chain.DeployResult, error)
}

var _ ChainService = (*chain.Client)(nil)

// ToolManager holds the backing services the tool handlers call into.
// Chain and history may be nil when no network or store is configured;
// handlers for those tools then report a request-level error.
type ToolManager struct {
	compiler *compiler.Compiler
	wallets  *wallet.Manager
	chain    ChainService
	history  *store.Store
	cfg      *config.Config
	log      *zap.Logger
}

// NewToolManager creates a tool manager over the given services.
func NewToolManager(c *compiler.Compiler, w *wallet.Manager, ch ChainService, h *store.Store, cfg *config.Config, log *zap.Logger) *ToolManager {
	return &ToolManager{compiler: c, wallets: w, chain: ch, history: h, cfg: cfg, log: log}
}

// RegisterTools registers all available tools with the MCP server.
func (tm *ToolManager) RegisterTools(s *server.MCPServer) error {
	// Wallet tools
	s.AddTool(mcp.NewTool("create_wallet",
		mcp.WithDescription("Create a new wallet in the server keystore"),
		mcp.WithString("password",
			mcp.Required(),
			mcp.Description("Password encrypting the new keystore file"),
		),
	), tm.handleCreateWallet)

	s.AddTool(mcp.NewTool("import_wallet",
		mcp.WithDescription("Import an existing private key into the server keystore"),
		mcp.WithString("private_key",
			mcp.Required(),
			mcp.Description("Hex-encoded private key, with or without 0x prefix"),
		),
		mcp.WithString("password",
			mcp.Required(),
			mcp.Description("Password encrypting the keystore file"),
		),
	), tm.handleImportWallet)

	s.AddTool(mcp.NewTool("list_wallets",
		mcp.WithDescription("List all wallets in the server keystore"),
	), tm.handleListWallets)

	// Query tools
	s.AddTool(mcp.NewTool("get_balance",
		mcp.WithDescription("Get the ETH balance of an address in wei"),
		mcp.WithString("address",
			mcp.Required(),
			mcp.Description("Account address (0x-prefixed hex)"),
		),
	), tm.handleGetBalance)

	s.AddTool(mcp.NewTool("get_block_number",
		mcp.WithDescription("Get the latest block number"),
	), tm.handleGetBlockNumber)

	s.AddTool(mcp.NewTool("get_block",
		mcp.WithDescription("Get a block by number (latest when omitted)"),
		mcp.WithNumber("number",
			mcp.Description("Block number"),
		),
	), tm.handleGetBlock)

	s.AddTool(mcp.NewTool("get_transaction",
		mcp.WithDescription("Get a transaction by hash"),
		mcp.WithString("hash",
			mcp.Required(),
			mcp.Description("Transaction hash"),
		),
	), tm.handleGetTransaction)

	s.AddTool(mcp.NewTool("get_transaction_receipt",
		mcp.WithDescription("Get the receipt of a mined transaction"),
		mcp.WithString("hash",
			mcp.Required(),
			mcp.Description("Transaction hash"),
		),
	), tm.handleGetReceipt)

	s.AddTool(mcp.NewTool("get_gas_price",
		mcp.WithDescription("Get the suggested gas price in wei"),
	), tm.handleGetGasPrice)

	s.AddTool(mcp.NewTool("get_chain_id",
		mcp.WithDescription("Get the chain ID of the connected network"),
	), tm.handleGetChainID)

	s.AddTool(mcp.NewTool("get_code",
		mcp.WithDescription("Get the deployed bytecode at an address"),
		mcp.WithString("address",
			mcp.Required(),
			mcp.Description("Contract address"),
		),
	), tm.handleGetCode)

	s.AddTool(mcp.NewTool("read_contract",
		mcp.WithDescription("Call a read-only contract method and return the decoded result"),
		mcp.WithString("address",
			mcp.Required(),
			mcp.Description("Contract address"),
		),
		mcp.WithString("abi",
			mcp.Required(),
			mcp.Description("Contract ABI as a JSON document"),
		),
		mcp.WithString("method",
			mcp.Required(),
			mcp.Description("Method name to call"),
		),
		mcp.WithArray("args",
			mcp.Description("Method arguments; addresses as 0x strings, integers as decimal strings"),
		),
	), tm.handleReadContract)

	s.AddTool(mcp.NewTool("send_eth",
		mcp.WithDescription("Send ETH from a managed wallet"),
		mcp.WithString("from",
			mcp.Required(),
			mcp.Description("Sender address managed by the server keystore"),
		),
		mcp.WithString("password",
			mcp.Required(),
			mcp.Description("Password of the sender's keystore file"),
		),
		mcp.WithString("to",
			mcp.Required(),
			mcp.Description("Recipient address"),
		),
		mcp.WithString("amount_wei",
			mcp.Required(),
			mcp.Description("Amount in wei (decimal string)"),
		),
	), tm.handleSendETH)

	tm.registerDeployTools(s)

	// History tools (available when the deployment store is configured)
	s.AddTool(mcp.NewTool("list_deployments",
		mcp.WithDescription("List recorded contract deployments"),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of records (default 50)"),
		),
		mcp.WithString("filter",
			mcp.Description("jsonpath field selector, e.g. $.network"),
		),
		mcp.WithString("filter_value",
			mcp.Description("Value the filter field must equal"),
		),
	), tm.handleListDeployments)

	s.AddTool(mcp.NewTool("get_deployment",
		mcp.WithDescription("Get a recorded deployment by its ID"),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Deployment record ID"),
		),
	), tm.handleGetDeployment)

	s.AddTool(mcp.NewTool("add_address",
		mcp.WithDescription("Store a named address in the address book"),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Entry name"),
		),
		mcp.WithString("address",
			mcp.Required(),
			mcp.Description("Account or contract address"),
		),
	), tm.handleAddAddress)

	s.AddTool(mcp.NewTool("lookup_address",
		mcp.WithDescription("Look up a named address-book entry"),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Entry name"),
		),
	), tm.handleLookupAddress)

	s.AddTool(mcp.NewTool("list_addresses",
		mcp.WithDescription("List all address-book entries"),
	), tm.handleListAddresses)

	return nil
}

// Tool handlers

func (tm *ToolManager) handleCreateWallet(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	password, err := request.RequireString("password")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	acc, err := tm.wallets.Create(password)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to create wallet: %v", err)), nil
	}
	return jsonResult(acc)
}

func (tm *ToolManager) handleImportWallet(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := request.RequireString("private_key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	password, err := request.RequireString("password")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	acc, err := tm.wallets.ImportPrivateKey(key, password)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to import wallet: %v", err)), nil
	}
	return jsonResult(acc)
}

func (tm *ToolManager) handleListWallets(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(tm.wallets.List())
}

func (tm *ToolManager) handleGetBalance(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if tm.chain == nil {
		return mcp.NewToolResultError("No network is configured"), nil
	}
	address, err := request.RequireString("address")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	balance, err := tm.chain.Balance(ctx, address)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get balance of %s: %v", address, err)), nil
	}
	return jsonResult(map[string]string{"address": address, "balance_wei": balance.String()})
}

func (tm *ToolManager) handleGetBlockNumber(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if tm.chain == nil {
		return mcp.NewToolResultError("No network is configured"), nil
	}
	n, err := tm.chain.BlockNumber(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get block number: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("%d", n)), nil
}

func (tm *ToolManager) handleGetBlock(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if tm.chain == nil {
		return mcp.NewToolResultError("No network is configured"), nil
	}
	var number *big.Int
	if n := request.GetFloat("number", -1); n >= 0 {
		number = big.NewInt(int64(n))
	}
	block, err := tm.chain.BlockByNumber(ctx, number)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get block: %v", err)), nil
	}
	return jsonResult(map[string]interface{}{
		"number":       block.NumberU64(),
		"hash":         block.Hash().Hex(),
		"parent_hash":  block.ParentHash().Hex(),
		"timestamp":    block.Time(),
		"gas_used":     block.GasUsed(),
		"gas_limit":    block.GasLimit(),
		"transactions": len(block.Transactions()),
	})
}

func (tm *ToolManager) handleGetTransaction(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if tm.chain == nil {
		return mcp.NewToolResultError("No network is configured"), nil
	}
	hash, err := request.RequireString("hash")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	tx, pending, err := tm.chain.TransactionByHash(ctx, hash)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get transaction %s: %v", hash, err)), nil
	}
	out := map[string]interface{}{
		"hash":      tx.Hash().Hex(),
		"nonce":     tx.Nonce(),
		"value_wei": tx.Value().String(),
		"gas":       tx.Gas(),
		"pending":   pending,
	}
	if to := tx.To(); to != nil {
		out["to"] = to.Hex()
	}
	return jsonResult(out)
}

func (tm *ToolManager) handleGetReceipt(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if tm.chain == nil {
		return mcp.NewToolResultError("No network is configured"), nil
	}
	hash, err := request.RequireString("hash")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	receipt, err := tm.chain.Receipt(ctx, hash)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get receipt for %s: %v", hash, err)), nil
	}
	out := map[string]interface{}{
		"tx_hash":      receipt.TxHash.Hex(),
		"status":       receipt.Status,
		"block_number": receipt.BlockNumber.String(),
		"gas_used":     receipt.GasUsed,
		"logs":         len(receipt.Logs),
	}
	if receipt.ContractAddress != (common.Address{}) {
		out["contract_address"] = receipt.ContractAddress.Hex()
	}
	return jsonResult(out)
}

func (tm *ToolManager) handleGetGasPrice(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if tm.chain == nil {
		return mcp.NewToolResultError("No network is configured"), nil
	}
	price, err := tm.chain.GasPrice(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get gas price: %v", err)), nil
	}
	return mcp.NewToolResultText(price.String()), nil
}

func (tm *ToolManager) handleGetChainID(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if tm.chain == nil {
		return mcp.NewToolResultError("No network is configured"), nil
	}
	return jsonResult(map[string]string{
		"network":  tm.chain.Network(),
		"chain_id": tm.chain.ChainID().String(),
	})
}

func (tm *ToolManager) handleGetCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if tm.chain == nil {
		return mcp.NewToolResultError("No network is configured"), nil
	}
	address, err := request.RequireString("address")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	code, err := tm.chain.Code(ctx, address)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get code at %s: %v", address, err)), nil
	}
	return jsonResult(map[string]string{
		"address": address,
		"code":    "0x" + hex.EncodeToString(code),
	})
}

func (tm *ToolManager) handleReadContract(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if tm.chain == nil {
		return mcp.NewToolResultError("No network is configured"), nil
	}
	address, err := request.RequireString("address")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	abiJSON, err := request.RequireString("abi")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	method, err := request.RequireString("method")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	args := convertCallArgs(request.GetStringSlice("args", nil))
	out, err := tm.chain.ReadContract(ctx, address, abiJSON, method, args...)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Contract call failed: %v", err)), nil
	}
	rendered := make([]string, len(out))
	for i, v := range out {
		rendered[i] = fmt.Sprint(v)
	}
	return jsonResult(map[string]interface{}{"method": method, "result": rendered})
}

func (tm *ToolManager) handleSendETH(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if tm.chain == nil {
		return mcp.NewToolResultError("No network is configured"), nil
	}
	from, err := request.RequireString("from")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	password, err := request.RequireString("password")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	to, err := request.RequireString("to")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	amountStr, err := request.RequireString("amount_wei")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	amount, ok := new(big.Int).SetString(amountStr, 10)
	if !ok || amount.Sign() < 0 {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid amount_wei %q", amountStr)), nil
	}
	if res := tm.requireManagedWallet(from); res != nil {
		return res, nil
	}
	hash, err := tm.chain.SendETH(ctx, from, password, to, amount)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Transfer failed: %v", err)), nil
	}
	return jsonResult(map[string]string{"tx_hash": hash})
}

func (tm *ToolManager) handleListDeployments(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if tm.history == nil {
		return mcp.NewToolResultError("Deployment history store is not configured"), nil
	}
	limit := int(request.GetFloat("limit", 50))
	filter := request.GetString("filter", "")
	want := request.GetString("filter_value", "")
	if filter != "" && want == "" {
		return mcp.NewToolResultError("filter_value is required when filter is set"), nil
	}
	records, err := tm.history.ListDeployments(limit, filter, want)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list deployments: %v", err)), nil
	}
	return jsonResult(records)
}

func (tm *ToolManager) handleGetDeployment(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if tm.history == nil {
		return mcp.NewToolResultError("Deployment history store is not configured"), nil
	}
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rec, err := tm.history.GetDeployment(id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get deployment %q: %v", id, err)), nil
	}
	return jsonResult(rec)
}

func (tm *ToolManager) handleAddAddress(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if tm.history == nil {
		return mcp.NewToolResultError("Deployment history store is not configured"), nil
	}
	name, err := request.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	address, err := request.RequireString("address")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !common.IsHexAddress(address) {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid address %q", address)), nil
	}
	if err := tm.history.PutAddress(name, address); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to store address: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Stored %q -> %s", name, address)), nil
}

func (tm *ToolManager) handleLookupAddress(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if tm.history == nil {
		return mcp.NewToolResultError("Deployment history store is not configured"), nil
	}
	name, err := request.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	address, err := tm.history.LookupAddress(name)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to look up %q: %v", name, err)), nil
	}
	return jsonResult(map[string]string{"name": name, "address": address})
}

func (tm *ToolManager) handleListAddresses(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if tm.history == nil {
		return mcp.NewToolResultError("Deployment history store is not configured"), nil
	}
	entries, err := tm.history.ListAddresses()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list addresses: %v", err)), nil
	}
	return jsonResult(entries)
}

// requireManagedWallet rejects signing requests for addresses the keystore
// does not hold before any RPC round trip is made.
func (tm *ToolManager) requireManagedWallet(from string) *mcp.CallToolResult {
	if !common.IsHexAddress(from) {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid sender address %q", from))
	}
	if !tm.wallets.Has(common.HexToAddress(from)) {
		return mcp.NewToolResultError(fmt.Sprintf("No managed wallet for %s", from))
	}
	return nil
}

// convertCallArgs maps string tool arguments onto the Go types abi.Pack
// expects: 0x addresses, decimal integers as *big.Int, everything else as a
// plain string.
func convertCallArgs(raw []string) []interface{} {
	out := make([]interface{}, 0, len(raw))
	for _, s := range raw {
		switch {
		case common.IsHexAddress(s):
			out = append(out, common.HexToAddress(s))
		default:
			if n, ok := new(big.Int).SetString(strings.TrimSpace(s), 10); ok {
				out = append(out, n)
			} else {
				out = append(out, s)
			}
		}
	}
	return out
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
