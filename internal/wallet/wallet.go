// Package wallet manages keystore-file wallets. All key generation, storage
// encryption and transaction signing is delegated to go-ethereum's keystore;
// this package only shapes its surface for the tool layer.
package wallet

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

// ErrUnknownAccount is returned when an address has no keystore file in the
// managed directory.
var ErrUnknownAccount = errors.New("no keystore entry for address")

// Account describes one managed wallet.
type Account struct {
	Address      string `json:"address"`
	KeystoreFile string `json:"keystore_file"`
}

// Manager owns a single keystore directory.
type Manager struct {
	ks  *keystore.KeyStore
	log *zap.Logger
}

// NewManager opens (creating if needed) the keystore directory at dir with
// standard scrypt parameters.
func NewManager(dir string, log *zap.Logger) *Manager {
	return &Manager{
		ks:  keystore.NewKeyStore(dir, keystore.StandardScryptN, keystore.StandardScryptP),
		log: log,
	}
}

// Create generates a new key encrypted with password and returns its account.
func (m *Manager) Create(password string) (Account, error) {
	acc, err := m.ks.NewAccount(password)
	if err != nil {
		return Account{}, fmt.Errorf("create wallet: %w", err)
	}
	m.log.Info("created wallet", zap.String("address", acc.Address.Hex()))
	return toAccount(acc), nil
}

// ImportPrivateKey stores an existing hex-encoded private key (with or
// without 0x prefix) encrypted with password.
func (m *Manager) ImportPrivateKey(hexKey, password string) (Account, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return Account{}, fmt.Errorf("parse private key: %w", err)
	}
	acc, err := m.ks.ImportECDSA(key, password)
	if err != nil {
		return Account{}, fmt.Errorf("import wallet: %w", err)
	}
	m.log.Info("imported wallet", zap.String("address", acc.Address.Hex()))
	return toAccount(acc), nil
}

// List returns all managed accounts in keystore order.
func (m *Manager) List() []Account {
	raw := m.ks.Accounts()
	out := make([]Account, 0, len(raw))
	for _, acc := range raw {
		out = append(out, toAccount(acc))
	}
	return out
}

// Has reports whether addr is managed by this keystore.
func (m *Manager) Has(addr common.Address) bool {
	return m.ks.HasAddress(addr)
}

// SignTx signs tx with the key for addr, unlocked by password, using EIP-155
// replay protection for the given chain ID.
func (m *Manager) SignTx(addr common.Address, password string, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	acc, err := m.ks.Find(accounts.Account{Address: addr})
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, addr.Hex())
	}
	signed, err := m.ks.SignTxWithPassphrase(acc, password, tx, chainID)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return signed, nil
}

func toAccount(acc accounts.Account) Account {
	return Account{
		Address:      acc.Address.Hex(),
		KeystoreFile: acc.URL.Path,
	}
}
