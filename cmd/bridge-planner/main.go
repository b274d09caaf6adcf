// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

// bridge-planner shows which queued bridge deposits the next batch would
// flush, given the batch budgets, the rollup contract's bridge gas limits
// and the bridge subsidies. It can also fund a bridge subsidy.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/pkg/errors"
	flag "github.com/spf13/pflag"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/log"

	"github.com/rollupcore/sequencer/bridgequeue"
	"github.com/rollupcore/sequencer/cmd/genericconf"
	"github.com/rollupcore/sequencer/cmd/util/confighelpers"
	"github.com/rollupcore/sequencer/feeoracle"
	"github.com/rollupcore/sequencer/rollup"
	"github.com/rollupcore/sequencer/subsidy"
	"github.com/rollupcore/sequencer/util/redisutil"
)

type BudgetConfig struct {
	MaxTxCount int    `koanf:"max-tx-count"`
	MaxAssets  int    `koanf:"max-assets"`
	Gas        uint64 `koanf:"gas"`
	CallData   uint64 `koanf:"call-data"`
}

var BudgetConfigDefault = BudgetConfig{
	MaxTxCount: 896,
	MaxAssets:  16,
	Gas:        12_000_000,
	CallData:   120_000,
}

func BudgetConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.Int(prefix+".max-tx-count", BudgetConfigDefault.MaxTxCount, "transactions the batch can still hold")
	f.Int(prefix+".max-assets", BudgetConfigDefault.MaxAssets, "distinct fee-paying assets a batch may contain")
	f.Uint64(prefix+".gas", BudgetConfigDefault.Gas, "gas left in the batch")
	f.Uint64(prefix+".call-data", BudgetConfigDefault.CallData, "call data bytes left in the batch")
}

type BridgePlannerConfig struct {
	Conf genericconf.ConfConfig    `koanf:"conf"`
	Log  genericconf.LoggingConfig `koanf:"log"`

	L1URL         string              `koanf:"l1-url"`
	RollupAddress string              `koanf:"rollup-address"`
	Fees          feeoracle.Config    `koanf:"fees"`
	Budget        BudgetConfig        `koanf:"budget"`
	RedisURL      string              `koanf:"redis-url"`
	Subsidy       subsidy.RedisConfig `koanf:"subsidy"`
	QueueFile     string              `koanf:"queue-file"`
	FundBridge    string              `koanf:"fund-bridge"`
	FundAmount    uint64              `koanf:"fund-amount"`
	Commit        bool                `koanf:"commit"`
}

var BridgePlannerConfigDefault = BridgePlannerConfig{
	Conf:          genericconf.ConfConfigDefault,
	Log:           genericconf.DefaultLoggingConfig,
	L1URL:         "",
	RollupAddress: "",
	Fees:          feeoracle.DefaultConfig,
	Budget:        BudgetConfigDefault,
	RedisURL:      "",
	Subsidy:       subsidy.DefaultRedisConfig,
	QueueFile:     "",
	FundBridge:    "",
	FundAmount:    0,
	Commit:        false,
}

func BridgePlannerConfigAddOptions(f *flag.FlagSet) {
	genericconf.ConfConfigAddOptions("conf", f)
	genericconf.LoggingConfigAddOptions("log", f)
	f.String("l1-url", BridgePlannerConfigDefault.L1URL, "ledger node RPC URL to read bridge gas limits from (default is configured gas only)")
	f.String("rollup-address", BridgePlannerConfigDefault.RollupAddress, "address of the rollup contract")
	feeoracle.ConfigAddOptions("fees", f)
	BudgetConfigAddOptions("budget", f)
	f.String("redis-url", BridgePlannerConfigDefault.RedisURL, "redis holding bridge subsidies (default is no subsidies)")
	subsidy.RedisConfigAddOptions("subsidy", f)
	f.String("queue-file", BridgePlannerConfigDefault.QueueFile, "JSON list of queued bridge deposits")
	f.String("fund-bridge", BridgePlannerConfigDefault.FundBridge, "bridge call data to add fund-amount of subsidy to")
	f.Uint64("fund-amount", BridgePlannerConfigDefault.FundAmount, "gas worth of subsidy to add to fund-bridge")
	f.Bool("commit", BridgePlannerConfigDefault.Commit, "claim the subsidies of flushed bridges instead of only reporting them")
}

func (c *BridgePlannerConfig) Validate() error {
	if c.L1URL != "" && !common.IsHexAddress(c.RollupAddress) {
		return fmt.Errorf("invalid rollup address %q", c.RollupAddress)
	}
	if c.FundBridge != "" && c.RedisURL == "" {
		return errors.New("funding a bridge subsidy needs redis-url")
	}
	if c.FundBridge == "" && c.QueueFile == "" {
		return errors.New("queue-file or fund-bridge is required")
	}
	if err := c.Log.Validate(); err != nil {
		return err
	}
	return c.Fees.Validate()
}

func parseBridgePlannerConfig(args []string) (*BridgePlannerConfig, error) {
	f := flag.NewFlagSet("bridge-planner", flag.ContinueOnError)
	BridgePlannerConfigAddOptions(f)

	k, err := confighelpers.BeginCommonParse(f, args)
	if err != nil {
		return nil, err
	}
	var config BridgePlannerConfig
	if err := confighelpers.EndCommonParse(k, &config); err != nil {
		return nil, err
	}
	if config.Conf.Dump {
		if err := confighelpers.DumpConfig(k, nil); err != nil {
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

func printSampleUsage(progname string) {
	fmt.Printf("\n")
	fmt.Printf("Sample usage:                  %s --queue-file queue.json --redis-url redis://localhost:6379/0 \n", progname)
}

func main() {
	config, err := parseBridgePlannerConfig(os.Args[1:])
	if err != nil {
		if strings.Contains(err.Error(), "help requested") {
			printSampleUsage(os.Args[0])
			return
		}
		confighelpers.PrintErrorAndExit(err, printSampleUsage)
	}
	closeLog, err := config.Log.Install(os.Stderr, genericconf.DefaultPathResolver(""))
	if err != nil {
		confighelpers.PrintErrorAndExit(err, printSampleUsage)
	}
	err = run(context.Background(), config)
	if closeErr := closeLog(); closeErr != nil {
		fmt.Fprintf(os.Stderr, "Error closing log file: %v\n", closeErr)
	}
	if err != nil {
		log.Error("Error running bridge planner", "err", err)
		os.Exit(1)
	}
}

func openSubsidies(config *BridgePlannerConfig) (*subsidy.RedisProvider, error) {
	if config.RedisURL == "" {
		return nil, nil
	}
	client, err := redisutil.RedisClientFromURL(config.RedisURL)
	if err != nil {
		return nil, err
	}
	return subsidy.NewRedisProvider(client, config.Subsidy)
}

// snapshotSubsidies copies the shared subsidies of bridges into memory, so
// that planning without --commit never claims them.
func snapshotSubsidies(ctx context.Context, shared *subsidy.RedisProvider, bridges []rollup.BridgeCallData) (*subsidy.MemoryProvider, error) {
	memory := subsidy.NewMemoryProvider()
	if shared == nil {
		return memory, nil
	}
	for _, bridge := range bridges {
		amount, err := shared.BridgeSubsidy(ctx, bridge)
		if err != nil {
			return nil, errors.Wrapf(err, "error reading subsidy of bridge %v", bridge)
		}
		if err := memory.Fund(ctx, bridge, amount); err != nil {
			return nil, err
		}
	}
	return memory, nil
}

func run(ctx context.Context, config *BridgePlannerConfig) error {
	var txs []*rollup.QueuedTx
	if config.QueueFile != "" {
		var err error
		txs, err = readQueuedTxs(config.QueueFile)
		if err != nil {
			return err
		}
	}
	var bridges []rollup.BridgeCallData
	seen := make(map[rollup.BridgeCallData]bool)
	for _, tx := range txs {
		if !seen[*tx.Bridge] {
			seen[*tx.Bridge] = true
			bridges = append(bridges, *tx.Bridge)
		}
	}

	shared, err := openSubsidies(config)
	if err != nil {
		return err
	}
	if config.FundBridge != "" {
		bridge, err := rollup.ParseBridgeCallData(config.FundBridge)
		if err != nil {
			return err
		}
		if err := shared.Fund(ctx, bridge, config.FundAmount); err != nil {
			return errors.Wrap(err, "error funding bridge subsidy")
		}
		total, err := shared.BridgeSubsidy(ctx, bridge)
		if err != nil {
			return err
		}
		fmt.Printf("bridge %v subsidy is now %d\n", bridge, total)
	}
	if len(txs) == 0 {
		return nil
	}

	var contract feeoracle.ContractGasReader
	if config.L1URL != "" {
		l1, err := ethclient.DialContext(ctx, config.L1URL)
		if err != nil {
			return errors.Wrap(err, "error connecting to ledger")
		}
		defer l1.Close()
		contract = feeoracle.NewContractReader(common.HexToAddress(config.RollupAddress), l1)
	}
	var provider bridgequeue.SubsidyProvider = shared
	if !config.Commit || shared == nil {
		provider, err = snapshotSubsidies(ctx, shared, bridges)
		if err != nil {
			return err
		}
	}
	oracle, err := feeoracle.NewOracle(func() *feeoracle.Config { return &config.Fees }, contract, provider)
	if err != nil {
		return err
	}
	if err := oracle.Refresh(ctx, bridges); err != nil {
		log.Warn("using configured bridge gas", "err", err)
	}

	set := bridgequeue.NewSet(oracle, provider)
	for _, tx := range txs {
		if err := set.Enqueue(tx); err != nil {
			return err
		}
	}
	for _, p := range plan(ctx, set, &config.Budget) {
		fmt.Printf("bridge %v: %d queued, %d gas accrued, cost %d", p.Stats.Bridge, p.Stats.QueuedCount, p.Stats.AccruedGas, oracle.FullBridgeGasFromContract(p.Stats.Bridge))
		if len(p.Admitted) == 0 {
			fmt.Printf(", not flushed\n")
			continue
		}
		fmt.Printf(", flushing %d using %d gas and %d call data\n", len(p.Admitted), p.Gas, p.CallData)
	}
	return nil
}
