package mcp

import (
	"context"
	"fmt"
	"math/big"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"evm-mcp/internal/compiler"
	"evm-mcp/internal/store"
)

// tokenDecimalsFactor scales whole-token supplies to the templates' 18
// decimal places.
var tokenDecimalsFactor = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

func (tm *ToolManager) registerDeployTools(s *server.MCPServer) {
	s.AddTool(mcp.NewTool("deploy_erc20",
		mcp.WithDescription("Compile and deploy the ERC20 token template"),
		mcp.WithString("from",
			mcp.Required(),
			mcp.Description("Deployer address managed by the server keystore"),
		),
		mcp.WithString("password",
			mcp.Required(),
			mcp.Description("Password of the deployer's keystore file"),
		),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Token name"),
		),
		mcp.WithString("symbol",
			mcp.Required(),
			mcp.Description("Token symbol"),
		),
		mcp.WithString("initial_supply",
			mcp.Required(),
			mcp.Description("Initial supply in whole tokens (decimal string)"),
		),
	), tm.handleDeployERC20)

	s.AddTool(mcp.NewTool("deploy_erc721",
		mcp.WithDescription("Compile and deploy the ERC721 NFT template"),
		mcp.WithString("from",
			mcp.Required(),
			mcp.Description("Deployer address managed by the server keystore"),
		),
		mcp.WithString("password",
			mcp.Required(),
			mcp.Description("Password of the deployer's keystore file"),
		),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Collection name"),
		),
		mcp.WithString("symbol",
			mcp.Required(),
			mcp.Description("Collection symbol"),
		),
	), tm.handleDeployERC721)

	s.AddTool(mcp.NewTool("deploy_erc1155",
		mcp.WithDescription("Compile and deploy the ERC1155 multi-token template"),
		mcp.WithString("from",
			mcp.Required(),
			mcp.Description("Deployer address managed by the server keystore"),
		),
		mcp.WithString("password",
			mcp.Required(),
			mcp.Description("Password of the deployer's keystore file"),
		),
		mcp.WithString("uri",
			mcp.Required(),
			mcp.Description("Metadata URI template, e.g. https://example.com/{id}.json"),
		),
	), tm.handleDeployERC1155)
}

func (tm *ToolManager) handleDeployERC20(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	from, password, res := tm.deployCredentials(request)
	if res != nil {
		return res, nil
	}
	name, err := request.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	symbol, err := request.RequireString("symbol")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	supplyStr, err := request.RequireString("initial_supply")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	supply, ok := new(big.Int).SetString(supplyStr, 10)
	if !ok || supply.Sign() < 0 {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid initial_supply %q", supplyStr)), nil
	}
	supply = new(big.Int).Mul(supply, tokenDecimalsFactor)

	artifact, err := tm.compiler.GetERC20(ctx)
	if err != nil {
		return compileError(err), nil
	}
	return tm.deploy(ctx, artifact, compiler.StandardERC20, from, password, name, symbol, supply)
}

func (tm *ToolManager) handleDeployERC721(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	from, password, res := tm.deployCredentials(request)
	if res != nil {
		return res, nil
	}
	name, err := request.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	symbol, err := request.RequireString("symbol")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	artifact, err := tm.compiler.GetERC721(ctx)
	if err != nil {
		return compileError(err), nil
	}
	return tm.deploy(ctx, artifact, compiler.StandardERC721, from, password, name, symbol)
}

func (tm *ToolManager) handleDeployERC1155(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	from, password, res := tm.deployCredentials(request)
	if res != nil {
		return res, nil
	}
	uri, err := request.RequireString("uri")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	artifact, err := tm.compiler.GetERC1155(ctx)
	if err != nil {
		return compileError(err), nil
	}
	return tm.deploy(ctx, artifact, compiler.StandardERC1155, from, password, uri)
}

// deployCredentials extracts the shared from/password arguments and checks
// that the server is connected to a network and holds the deployer's wallet.
func (tm *ToolManager) deployCredentials(request mcp.CallToolRequest) (from, password string, res *mcp.CallToolResult) {
	if tm.chain == nil {
		return "", "", mcp.NewToolResultError("No network is configured")
	}
	from, err := request.RequireString("from")
	if err != nil {
		return "", "", mcp.NewToolResultError(err.Error())
	}
	password, err = request.RequireString("password")
	if err != nil {
		return "", "", mcp.NewToolResultError(err.Error())
	}
	if res := tm.requireManagedWallet(from); res != nil {
		return "", "", res
	}
	return from, password, nil
}

func (tm *ToolManager) deploy(ctx context.Context, artifact *compiler.CompiledArtifact, template, from, password string, args ...interface{}) (*mcp.CallToolResult, error) {
	result, err := tm.chain.Deploy(ctx, artifact, from, password, args...)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Deployment failed: %v", err)), nil
	}

	if tm.history != nil && !tm.history.IsReadOnly() {
		rec := &store.Deployment{
			Template:     template,
			ContractName: result.ContractName,
			Address:      result.Address,
			TxHash:       result.TxHash,
			Network:      result.Network,
			Deployer:     from,
		}
		if err := tm.history.PutDeployment(rec); err != nil {
			// The deployment itself succeeded; a history write failure
			// must not fail the tool call.
			tm.log.Warn("failed to record deployment",
				zap.String("address", result.Address),
				zap.Error(err))
		}
	}
	return jsonResult(result)
}

func compileError(err error) *mcp.CallToolResult {
	if cerr, ok := err.(*compiler.CompilationError); ok {
		return mcp.NewToolResultError(fmt.Sprintf("Compilation failed: %v", cerr))
	}
	return mcp.NewToolResultError(fmt.Sprintf("Failed to prepare contract: %v", err))
}
