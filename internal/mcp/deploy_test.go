package mcp

import (
	"context"
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"evm-mcp/internal/chain"
	"evm-mcp/internal/compiler"
	"evm-mcp/internal/config"
	"evm-mcp/internal/store"
	"evm-mcp/internal/wallet"
)

const (
	testFrom = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	testKey  = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
)

type deployCall struct {
	artifact *compiler.CompiledArtifact
	from     string
	args     []interface{}
}

type sendCall struct {
	from, to string
	amount   *big.Int
}

// fakeChain satisfies ChainService without a node, recording what the
// handlers asked it to do.
type fakeChain struct {
	network  string
	chainID  *big.Int
	balance  *big.Int
	gasPrice *big.Int
	code     []byte
	readOut  []interface{}

	deploys []deployCall
	sends   []sendCall
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		network:  "testnet",
		chainID:  big.NewInt(31337),
		balance:  big.NewInt(500),
		gasPrice: big.NewInt(1_000_000_000),
	}
}

func (f *fakeChain) Network() string   { return f.network }
func (f *fakeChain) ChainID() *big.Int { return new(big.Int).Set(f.chainID) }

func (f *fakeChain) Balance(ctx context.Context, addr string) (*big.Int, error) {
	return f.balance, nil
}

func (f *fakeChain) BlockNumber(ctx context.Context) (uint64, error) { return 42, nil }

func (f *fakeChain) BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error) {
	return types.NewBlockWithHeader(&types.Header{Number: big.NewInt(42)}), nil
}

func (f *fakeChain) TransactionByHash(ctx context.Context, hash string) (*types.Transaction, bool, error) {
	to := common.HexToAddress(testFrom)
	return types.NewTransaction(3, to, big.NewInt(7), 21000, f.gasPrice, nil), true, nil
}

func (f *fakeChain) Receipt(ctx context.Context, hash string) (*types.Receipt, error) {
	return &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      common.HexToHash(hash),
		BlockNumber: big.NewInt(41),
		GasUsed:     21000,
	}, nil
}

func (f *fakeChain) GasPrice(ctx context.Context) (*big.Int, error) { return f.gasPrice, nil }

func (f *fakeChain) Code(ctx context.Context, addr string) ([]byte, error) { return f.code, nil }

func (f *fakeChain) ReadContract(ctx context.Context, addr, abiJSON, method string, args ...interface{}) ([]interface{}, error) {
	return f.readOut, nil
}

func (f *fakeChain) SendETH(ctx context.Context, from, password, to string, amount *big.Int) (string, error) {
	f.sends = append(f.sends, sendCall{from: from, to: to, amount: amount})
	return "0x3333333333333333333333333333333333333333333333333333333333333333", nil
}

func (f *fakeChain) Deploy(ctx context.Context, artifact *compiler.CompiledArtifact, from, password string, args ...interface{}) (*chain.DeployResult, error) {
	f.deploys = append(f.deploys, deployCall{artifact: artifact, from: from, args: args})
	return &chain.DeployResult{
		ContractName: artifact.ContractName,
		Address:      "0x5FbDB2315678afecb367f032d93F642f64180aa3",
		TxHash:       "0x1111111111111111111111111111111111111111111111111111111111111111",
		Network:      f.network,
	}, nil
}

// cannedOutput builds the compiler response for one contract so deploy
// handlers have an artifact to hand to the chain.
func cannedOutput(sourceKey, contractName, abiJSON string) *compiler.Output {
	c := compiler.Contract{ABI: json.RawMessage(abiJSON)}
	c.EVM.Bytecode.Object = "6080604052"
	return &compiler.Output{Contracts: map[string]map[string]compiler.Contract{
		sourceKey: {contractName: c},
	}}
}

// newConnectedToolManager builds a ToolManager over a fake chain, a real
// temp deployment store and an imported test wallet.
func newConnectedToolManager(t *testing.T) (*ToolManager, *fakeChain, *countingRunner) {
	t.Helper()
	base := t.TempDir()

	templates := filepath.Join(base, "templates")
	require.NoError(t, os.MkdirAll(templates, 0o755))
	for _, name := range []string{"ERC20", "ERC721", "ERC1155"} {
		path := filepath.Join(templates, name+".sol")
		require.NoError(t, os.WriteFile(path, []byte("pragma solidity ^0.8.20;\ncontract "+name+"Token {}\n"), 0o644))
	}

	runner := &countingRunner{}
	contracts := compiler.New(templates, filepath.Join(base, "lib"), runner, zap.NewNop())

	wallets := wallet.NewManager(filepath.Join(base, "keystore"), zap.NewNop())
	_, err := wallets.ImportPrivateKey(testKey, "pw")
	require.NoError(t, err)

	hist, err := store.Open(filepath.Join(base, "history"))
	require.NoError(t, err)
	t.Cleanup(hist.Close)

	fc := newFakeChain()
	tm := NewToolManager(contracts, wallets, fc, hist, config.Default(), zap.NewNop())
	return tm, fc, runner
}

func TestDeployERC20Tool(t *testing.T) {
	tm, fc, runner := newConnectedToolManager(t)
	runner.out = cannedOutput("ERC20.sol", "ERC20Token",
		`[{"type":"constructor","inputs":[{"name":"name_","type":"string"},{"name":"symbol_","type":"string"},{"name":"initialSupply","type":"uint256"}]}]`)

	res, err := tm.handleDeployERC20(context.Background(), callReq("deploy_erc20", map[string]any{
		"from":           testFrom,
		"password":       "pw",
		"name":           "Token",
		"symbol":         "TOK",
		"initial_supply": "1000",
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, textOf(t, res))

	var result chain.DeployResult
	require.NoError(t, json.Unmarshal([]byte(textOf(t, res)), &result))
	assert.Equal(t, "ERC20Token", result.ContractName)
	assert.Equal(t, "testnet", result.Network)

	require.Len(t, fc.deploys, 1)
	call := fc.deploys[0]
	assert.Equal(t, testFrom, call.from)
	assert.Equal(t, "ERC20Token", call.artifact.ContractName)
	require.Len(t, call.args, 3)
	assert.Equal(t, "Token", call.args[0])
	assert.Equal(t, "TOK", call.args[1])
	wantSupply := new(big.Int).Mul(big.NewInt(1000), tokenDecimalsFactor)
	assert.Equal(t, wantSupply, call.args[2])

	// The deployment is recorded in history.
	records, err := tm.history.ListDeployments(10, "", "")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, compiler.StandardERC20, records[0].Template)
	assert.Equal(t, result.Address, records[0].Address)
	assert.Equal(t, testFrom, records[0].Deployer)
}

func TestDeployERC1155Tool(t *testing.T) {
	tm, fc, runner := newConnectedToolManager(t)
	runner.out = cannedOutput("ERC1155.sol", "ERC1155Token",
		`[{"type":"constructor","inputs":[{"name":"uri_","type":"string"}]}]`)

	res, err := tm.handleDeployERC1155(context.Background(), callReq("deploy_erc1155", map[string]any{
		"from":     testFrom,
		"password": "pw",
		"uri":      "https://example.com/{id}.json",
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, textOf(t, res))

	require.Len(t, fc.deploys, 1)
	require.Len(t, fc.deploys[0].args, 1)
	assert.Equal(t, "https://example.com/{id}.json", fc.deploys[0].args[0])
}

func TestDeployRejectsUnmanagedWallet(t *testing.T) {
	tm, fc, runner := newConnectedToolManager(t)
	runner.out = cannedOutput("ERC721.sol", "ERC721Token", `[]`)

	res, err := tm.handleDeployERC721(context.Background(), callReq("deploy_erc721", map[string]any{
		"from":     "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
		"password": "pw",
		"name":     "Art",
		"symbol":   "ART",
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, textOf(t, res), "No managed wallet")
	assert.Empty(t, fc.deploys)
}

func TestSendETHTool(t *testing.T) {
	tm, fc, _ := newConnectedToolManager(t)

	recipient := "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	res, err := tm.handleSendETH(context.Background(), callReq("send_eth", map[string]any{
		"from":       testFrom,
		"password":   "pw",
		"to":         recipient,
		"amount_wei": "1000",
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, textOf(t, res))
	assert.Contains(t, textOf(t, res), "tx_hash")

	require.Len(t, fc.sends, 1)
	assert.Equal(t, testFrom, fc.sends[0].from)
	assert.Equal(t, recipient, fc.sends[0].to)
	assert.Equal(t, big.NewInt(1000), fc.sends[0].amount)
}

func TestSendETHToolRejectsUnmanagedWallet(t *testing.T) {
	tm, fc, _ := newConnectedToolManager(t)

	res, err := tm.handleSendETH(context.Background(), callReq("send_eth", map[string]any{
		"from":       "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
		"password":   "pw",
		"to":         testFrom,
		"amount_wei": "1",
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, textOf(t, res), "No managed wallet")
	assert.Empty(t, fc.sends)
}

func TestQueryToolsWithFakeChain(t *testing.T) {
	tm, fc, _ := newConnectedToolManager(t)
	fc.code = []byte{0x60, 0x80}
	fc.readOut = []interface{}{big.NewInt(9)}

	res, err := tm.handleGetBalance(context.Background(), callReq("get_balance", map[string]any{
		"address": testFrom,
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Contains(t, textOf(t, res), `"balance_wei": "500"`)

	res, err = tm.handleGetBlockNumber(context.Background(), callReq("get_block_number", nil))
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Equal(t, "42", textOf(t, res))

	res, err = tm.handleGetBlock(context.Background(), callReq("get_block", map[string]any{
		"number": float64(42),
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Contains(t, textOf(t, res), `"number": 42`)

	res, err = tm.handleGetTransaction(context.Background(), callReq("get_transaction", map[string]any{
		"hash": "0x2222222222222222222222222222222222222222222222222222222222222222",
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Contains(t, textOf(t, res), `"pending": true`)

	res, err = tm.handleGetReceipt(context.Background(), callReq("get_transaction_receipt", map[string]any{
		"hash": "0x2222222222222222222222222222222222222222222222222222222222222222",
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Contains(t, textOf(t, res), `"block_number": "41"`)

	res, err = tm.handleGetGasPrice(context.Background(), callReq("get_gas_price", nil))
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Equal(t, "1000000000", textOf(t, res))

	res, err = tm.handleGetChainID(context.Background(), callReq("get_chain_id", nil))
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Contains(t, textOf(t, res), `"chain_id": "31337"`)

	res, err = tm.handleGetCode(context.Background(), callReq("get_code", map[string]any{
		"address": testFrom,
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Contains(t, textOf(t, res), `"code": "0x6080"`)

	res, err = tm.handleReadContract(context.Background(), callReq("read_contract", map[string]any{
		"address": testFrom,
		"abi":     `[]`,
		"method":  "totalSupply",
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Contains(t, textOf(t, res), "9")
}

func TestGetDeploymentTool(t *testing.T) {
	tm, _, _ := newConnectedToolManager(t)

	rec := &store.Deployment{
		ID:           "00000000000000000001",
		Template:     compiler.StandardERC20,
		ContractName: "ERC20Token",
		Address:      "0x5FbDB2315678afecb367f032d93F642f64180aa3",
		Network:      "testnet",
	}
	require.NoError(t, tm.history.PutDeployment(rec))

	res, err := tm.handleGetDeployment(context.Background(), callReq("get_deployment", map[string]any{
		"id": rec.ID,
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Contains(t, textOf(t, res), rec.Address)

	res, err = tm.handleGetDeployment(context.Background(), callReq("get_deployment", map[string]any{
		"id": "missing",
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestListAddressesTool(t *testing.T) {
	tm, _, _ := newConnectedToolManager(t)
	require.NoError(t, tm.history.PutAddress("treasury", testFrom))
	require.NoError(t, tm.history.PutAddress("deployer", "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"))

	res, err := tm.handleListAddresses(context.Background(), callReq("list_addresses", nil))
	require.NoError(t, err)
	require.False(t, res.IsError)

	var entries map[string]string
	require.NoError(t, json.Unmarshal([]byte(textOf(t, res)), &entries))
	assert.Len(t, entries, 2)
	assert.Equal(t, testFrom, entries["treasury"])
}
