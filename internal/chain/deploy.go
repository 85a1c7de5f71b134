package chain

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"evm-mcp/internal/compiler"
)

// DeployResult describes a submitted contract-creation transaction. Address
// is derived from sender and nonce, so it is known before the transaction
// is mined.
type DeployResult struct {
	ContractName string `json:"contract_name"`
	Address      string `json:"address"`
	TxHash       string `json:"tx_hash"`
	Network      string `json:"network"`
}

// Deploy submits a contract-creation transaction for a compiled artifact,
// packing args through the artifact's constructor ABI, and returns the
// predicted address and transaction hash.
func (c *Client) Deploy(ctx context.Context, artifact *compiler.CompiledArtifact, from, password string, args ...interface{}) (*DeployResult, error) {
	if !common.IsHexAddress(from) {
		return nil, fmt.Errorf("invalid deployer address %q", from)
	}
	fromAddr := common.HexToAddress(from)

	parsed, err := abi.JSON(bytes.NewReader(artifact.ABI))
	if err != nil {
		return nil, fmt.Errorf("parse %s abi: %w", artifact.ContractName, err)
	}
	packed, err := parsed.Pack("", args...)
	if err != nil {
		return nil, fmt.Errorf("pack constructor arguments: %w", err)
	}
	bytecode, err := hex.DecodeString(strings.TrimPrefix(artifact.Bytecode, "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode %s bytecode: %w", artifact.ContractName, err)
	}
	data := append(bytecode, packed...)

	nonce, err := c.eth.PendingNonceAt(ctx, fromAddr)
	if err != nil {
		return nil, fmt.Errorf("fetch nonce: %w", err)
	}
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch gas price: %w", err)
	}
	gasLimit, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{From: fromAddr, Data: data})
	if err != nil {
		return nil, fmt.Errorf("estimate gas: %w", err)
	}

	tx := types.NewContractCreation(nonce, big.NewInt(0), gasLimit, gasPrice, data)
	signed, err := c.wallets.SignTx(fromAddr, password, tx, c.chainID)
	if err != nil {
		return nil, err
	}
	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send deployment transaction: %w", err)
	}

	address := crypto.CreateAddress(fromAddr, nonce)
	c.log.Info("deployed contract",
		zap.String("contract", artifact.ContractName),
		zap.String("address", address.Hex()),
		zap.String("tx", signed.Hash().Hex()))

	return &DeployResult{
		ContractName: artifact.ContractName,
		Address:      address.Hex(),
		TxHash:       signed.Hash().Hex(),
		Network:      c.network,
	}, nil
}
