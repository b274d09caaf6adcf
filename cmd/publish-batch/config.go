// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package main

import (
	"fmt"
	"os"

	"github.com/knadh/koanf/parsers/json"
	"github.com/pkg/errors"
	flag "github.com/spf13/pflag"

	"github.com/rollupcore/sequencer/cmd/genericconf"
	"github.com/rollupcore/sequencer/cmd/util/confighelpers"
	"github.com/rollupcore/sequencer/ledger"
	"github.com/rollupcore/sequencer/publisher"
)

type RecordsConfig struct {
	Backend   string `koanf:"backend"`
	Directory string `koanf:"directory"`
	RedisURL  string `koanf:"redis-url"`
	RedisKey  string `koanf:"redis-key"`
}

var RecordsConfigDefault = RecordsConfig{
	Backend:   "memory",
	Directory: "records",
	RedisURL:  "",
	RedisKey:  "sequencer.rollup-records",
}

func RecordsConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.String(prefix+".backend", RecordsConfigDefault.Backend, "where to keep rollup records (memory, leveldb or redis)")
	f.String(prefix+".directory", RecordsConfigDefault.Directory, "leveldb directory of the rollup records")
	f.String(prefix+".redis-url", RecordsConfigDefault.RedisURL, "redis url of the rollup records")
	f.String(prefix+".redis-key", RecordsConfigDefault.RedisKey, "redis key of the rollup records")
}

func (c *RecordsConfig) Validate() error {
	switch c.Backend {
	case "memory":
	case "leveldb":
		if c.Directory == "" {
			return errors.New("leveldb rollup records need a directory")
		}
	case "redis":
		if c.RedisURL == "" {
			return errors.New("redis rollup records need a redis url")
		}
	default:
		return fmt.Errorf("unknown rollup records backend %q", c.Backend)
	}
	return nil
}

type PublishBatchConfig struct {
	Conf          genericconf.ConfConfig          `koanf:"conf"`
	Log           genericconf.LoggingConfig       `koanf:"log"`
	Metrics       bool                            `koanf:"metrics"`
	MetricsServer genericconf.MetricsServerConfig `koanf:"metrics-server"`
	Workdir       string                          `koanf:"workdir"`

	L1URL        string                   `koanf:"l1-url"`
	Wallet       genericconf.WalletConfig `koanf:"wallet"`
	Ledger       ledger.Config            `koanf:"ledger"`
	Publisher    publisher.Config         `koanf:"publisher"`
	Records      RecordsConfig            `koanf:"records"`
	BatchFile    string                   `koanf:"batch-file"`
	EstimatedGas uint64                   `koanf:"estimated-gas"`
}

var PublishBatchConfigDefault = PublishBatchConfig{
	Conf:          genericconf.ConfConfigDefault,
	Log:           genericconf.DefaultLoggingConfig,
	Metrics:       false,
	MetricsServer: genericconf.MetricsServerConfigDefault,
	Workdir:       "",
	L1URL:         "",
	Wallet:        genericconf.WalletConfigDefault,
	Ledger:        ledger.DefaultConfig,
	Publisher:     publisher.DefaultConfig,
	Records:       RecordsConfigDefault,
	BatchFile:     "",
	EstimatedGas:  0,
}

func PublishBatchConfigAddOptions(f *flag.FlagSet) {
	genericconf.ConfConfigAddOptions("conf", f)
	genericconf.LoggingConfigAddOptions("log", f)
	f.Bool("metrics", PublishBatchConfigDefault.Metrics, "enable metrics")
	genericconf.MetricsServerAddOptions("metrics-server", f)
	f.String("workdir", PublishBatchConfigDefault.Workdir, "directory relative paths are resolved against (default is the current directory)")

	f.String("l1-url", PublishBatchConfigDefault.L1URL, "ledger node RPC URL")
	genericconf.WalletConfigAddOptions("wallet", f, "wallet")
	ledger.ConfigAddOptions("ledger", f)
	publisher.ConfigAddOptions("publisher", f)
	RecordsConfigAddOptions("records", f)
	f.String("batch-file", PublishBatchConfigDefault.BatchFile, "JSON file holding the rollup to publish")
	f.Uint64("estimated-gas", PublishBatchConfigDefault.EstimatedGas, "gas the rollup is expected to use, checked against the signer's balance (0 = sum of the gas limits)")
}

func (c *PublishBatchConfig) Validate() error {
	if c.L1URL == "" {
		return errors.New("l1-url is required")
	}
	if c.BatchFile == "" {
		return errors.New("batch-file is required")
	}
	if err := c.Log.Validate(); err != nil {
		return errors.Wrap(err, "invalid log config")
	}
	if err := c.Ledger.Validate(); err != nil {
		return errors.Wrap(err, "invalid ledger config")
	}
	if err := c.Publisher.Validate(); err != nil {
		return errors.Wrap(err, "invalid publisher config")
	}
	return c.Records.Validate()
}

// ResolveDirectoryNames makes file paths relative to the working directory.
func (c *PublishBatchConfig) ResolveDirectoryNames() {
	resolve := genericconf.DefaultPathResolver(c.Workdir)
	c.BatchFile = resolve(c.BatchFile)
	c.Records.Directory = resolve(c.Records.Directory)
	c.Wallet.ResolveDirectoryNames(c.Workdir)
}

func parsePublishBatchConfig(args []string) (*PublishBatchConfig, error) {
	f := flag.NewFlagSet("publish-batch", flag.ContinueOnError)
	PublishBatchConfigAddOptions(f)

	k, err := confighelpers.BeginCommonParse(f, args)
	if err != nil {
		return nil, err
	}

	var config PublishBatchConfig
	if err := confighelpers.EndCommonParse(k, &config); err != nil {
		return nil, err
	}

	if config.Conf.Dump {
		err = confighelpers.DumpConfig(k, map[string]interface{}{
			"wallet.password":    "",
			"wallet.private-key": "",
		})
		if err != nil {
			return nil, errors.Wrap(err, "error removing extra parameters before dump")
		}

		c, err := k.Marshal(json.Parser())
		if err != nil {
			return nil, errors.Wrap(err, "unable to marshal config file to JSON")
		}

		fmt.Println(string(c))
		os.Exit(0)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}
