// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package genericconf

import (
	"errors"
	"fmt"
	"math/big"
	"path"
	"path/filepath"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const PASSWORD_NOT_SET = "PASSWORD_NOT_SET"

type WalletConfig struct {
	Pathname      string `koanf:"pathname"`
	Password      string `koanf:"password"`
	PrivateKey    string `koanf:"private-key"`
	Account       string `koanf:"account"`
	OnlyCreateKey bool   `koanf:"only-create-key"`
}

func (w *WalletConfig) Pwd() *string {
	if w.Password == PASSWORD_NOT_SET {
		return nil
	}
	return &w.Password
}

var WalletConfigDefault = WalletConfig{
	Pathname:      "",
	Password:      PASSWORD_NOT_SET,
	PrivateKey:    "",
	Account:       "",
	OnlyCreateKey: false,
}

func WalletConfigAddOptions(prefix string, f *flag.FlagSet, defaultPathname string) {
	f.String(prefix+".pathname", defaultPathname, "pathname for wallet")
	f.String(prefix+".password", WalletConfigDefault.Password, "wallet passphrase")
	f.String(prefix+".private-key", WalletConfigDefault.PrivateKey, "private key for wallet")
	f.String(prefix+".account", WalletConfigDefault.Account, "account to use (default is first account in keystore)")
	f.Bool(prefix+".only-create-key", WalletConfigDefault.OnlyCreateKey, "if true, creates new key then exits")
}

func (w *WalletConfig) ResolveDirectoryNames(workdir string) {
	// Make wallet directories relative to the working directory if specified and not already absolute
	if len(w.Pathname) != 0 && !filepath.IsAbs(w.Pathname) {
		w.Pathname = path.Join(workdir, w.Pathname)
	}
}

// OpenWallet returns a transactor for the configured private key, or else
// for an account of the keystore at Pathname. If OnlyCreateKey is set a new
// keystore account is created and its transactor returned.
func (w *WalletConfig) OpenWallet(chainID *big.Int) (*bind.TransactOpts, error) {
	if w.PrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(w.PrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("parsing private key: %w", err)
		}
		return bind.NewKeyedTransactorWithChainID(key, chainID)
	}
	if w.Pathname == "" {
		return nil, errors.New("wallet requires a private key or a keystore pathname")
	}
	pwd := w.Pwd()
	if pwd == nil {
		return nil, errors.New("wallet password not set")
	}
	ks := keystore.NewKeyStore(w.Pathname, keystore.StandardScryptN, keystore.StandardScryptP)
	var account accounts.Account
	switch {
	case w.OnlyCreateKey:
		created, err := ks.NewAccount(*pwd)
		if err != nil {
			return nil, fmt.Errorf("creating keystore account: %w", err)
		}
		account = created
	case w.Account != "":
		if !common.IsHexAddress(w.Account) {
			return nil, fmt.Errorf("invalid wallet account %q", w.Account)
		}
		found, err := ks.Find(accounts.Account{Address: common.HexToAddress(w.Account)})
		if err != nil {
			return nil, fmt.Errorf("finding account %v in keystore: %w", w.Account, err)
		}
		account = found
	default:
		all := ks.Accounts()
		if len(all) == 0 {
			return nil, fmt.Errorf("no accounts in keystore %v", w.Pathname)
		}
		account = all[0]
	}
	if err := ks.Unlock(account, *pwd); err != nil {
		return nil, fmt.Errorf("unlocking account %v: %w", account.Address, err)
	}
	return bind.NewKeyStoreTransactorWithChainID(ks, account, chainID)
}
