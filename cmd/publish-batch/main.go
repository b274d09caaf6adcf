// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

// publish-batch publishes one rollup read from a JSON file, waiting until
// every one of its transactions succeeded or the rollup turned out stale.
package main

import (
	"context"
	stdjson "encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/log"

	"github.com/rollupcore/sequencer/cmd/genericconf"
	"github.com/rollupcore/sequencer/cmd/util"
	"github.com/rollupcore/sequencer/cmd/util/confighelpers"
	"github.com/rollupcore/sequencer/ledger"
	"github.com/rollupcore/sequencer/publisher"
	"github.com/rollupcore/sequencer/publisher/leveldb"
	"github.com/rollupcore/sequencer/publisher/redis"
	"github.com/rollupcore/sequencer/publisher/slice"
	"github.com/rollupcore/sequencer/publisher/storage"
	"github.com/rollupcore/sequencer/rollup"
	"github.com/rollupcore/sequencer/util/redisutil"
)

func printSampleUsage(progname string) {
	fmt.Printf("\n")
	fmt.Printf("Sample usage:                  %s --l1-url ws://localhost:8546 --ledger.rollup-address 0x... --wallet.private-key 0x... --batch-file rollup.json \n", progname)
}

func main() {
	os.Exit(mainImpl())
}

// Returns the exit code: 0 once published, 2 if the rollup is stale.
func mainImpl() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	config, err := parsePublishBatchConfig(os.Args[1:])
	if errors.Is(err, confighelpers.ErrVersion) {
		fmt.Println("publish-batch")
		return 0
	}
	if err != nil {
		if strings.Contains(err.Error(), "help requested") {
			printSampleUsage(os.Args[0])
			return 0
		}
		confighelpers.PrintErrorAndExit(err, printSampleUsage)
	}
	config.ResolveDirectoryNames()

	closeLog, err := config.Log.Install(os.Stderr, genericconf.DefaultPathResolver(config.Workdir))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logging: %v\n", err)
		return 1
	}
	defer func() {
		if err := closeLog(); err != nil {
			fmt.Fprintf(os.Stderr, "Error closing log file: %v\n", err)
		}
	}()
	if err := util.StartMetrics(config.Metrics, &config.MetricsServer); err != nil {
		log.Error("Error starting metrics", "err", err)
		return 1
	}

	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigint
		log.Info("shutting down, rollup publication abandoned")
		cancel()
	}()

	published, err := run(ctx, config)
	if err != nil {
		log.Error("Error publishing rollup", "err", err)
		return 1
	}
	if !published {
		log.Warn("rollup is stale and must be rebuilt")
		return 2
	}
	return 0
}

func run(ctx context.Context, config *PublishBatchConfig) (bool, error) {
	r, err := readRollup(config.BatchFile)
	if err != nil {
		return false, err
	}

	l1, err := ethclient.DialContext(ctx, config.L1URL)
	if err != nil {
		return false, errors.Wrap(err, "error connecting to ledger")
	}
	defer l1.Close()
	chainID, err := l1.ChainID(ctx)
	if err != nil {
		return false, errors.Wrap(err, "error getting chain id")
	}
	auth, err := config.Wallet.OpenWallet(chainID)
	if err != nil {
		return false, errors.Wrap(err, "error opening wallet")
	}
	if config.Wallet.OnlyCreateKey {
		log.Info("created wallet key", "address", auth.From)
		return true, nil
	}

	clk := clock.New()
	client, err := ledger.NewClient(ctx, l1, auth, func() *ledger.Config { return &config.Ledger }, clk)
	if err != nil {
		return false, err
	}
	records, closeRecords, err := openRecords(ctx, &config.Records)
	if err != nil {
		return false, err
	}
	defer closeRecords()

	p, err := publisher.NewPublisher(client, client.Sender(), records, func() *publisher.Config { return &config.Publisher }, clk)
	if err != nil {
		return false, err
	}
	reportUnconfirmed(ctx, p, r.ID)
	estimatedGas := config.EstimatedGas
	if estimatedGas == 0 {
		estimatedGas = config.Publisher.GasLimit * uint64(len(r.SubTransactions()))
	}
	if estimatedGas == 0 {
		return false, errors.New("estimated-gas is required when publisher.gas-limit is 0")
	}
	log.Info("publishing rollup", "rollup", r.ID, "txs", len(r.SubTransactions()), "callData", r.CallDataSize(), "signer", client.Sender())
	return p.Publish(ctx, r, estimatedGas)
}

// reportUnconfirmed warns about earlier rollups left unconfirmed in the
// records, whose transactions may still be pending on the ledger.
func reportUnconfirmed(ctx context.Context, p *publisher.Publisher, current uint64) int {
	unconfirmed, err := p.Unconfirmed(ctx)
	if err != nil {
		log.Warn("failed to read rollup records", "err", err)
		return 0
	}
	reported := 0
	for _, record := range unconfirmed {
		if record.RollupID == current {
			continue
		}
		log.Warn("earlier rollup was never confirmed", "rollup", record.RollupID, "sentAt", time.Time(record.SentAt), "confirmHash", record.ConfirmHash)
		reported++
	}
	return reported
}

type rollupFile struct {
	ID            uint64          `json:"id"`
	Proof         hexutil.Bytes   `json:"proof"`
	BroadcastData []hexutil.Bytes `json:"broadcastData"`
}

func parseRollup(data []byte) (*rollup.Rollup, error) {
	var file rollupFile
	if err := stdjson.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrap(err, "error parsing rollup")
	}
	if len(file.Proof) == 0 {
		return nil, errors.New("rollup has no proof")
	}
	r := &rollup.Rollup{ID: file.ID, Proof: file.Proof}
	for _, payload := range file.BroadcastData {
		r.BroadcastData = append(r.BroadcastData, payload)
	}
	return r, nil
}

func readRollup(path string) (*rollup.Rollup, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "error reading batch file")
	}
	return parseRollup(data)
}

func openRecords(ctx context.Context, config *RecordsConfig) (publisher.RecordStorage, func(), error) {
	switch config.Backend {
	case "leveldb":
		db, err := rawdb.NewLevelDBDatabase(config.Directory, 16, 16, "sequencer/records/", false)
		if err != nil {
			return nil, nil, errors.Wrap(err, "error opening rollup records database")
		}
		return leveldb.New[storage.RollupRecord](db), func() {
			if err := db.Close(); err != nil {
				log.Warn("failed to close rollup records database", "err", err)
			}
		}, nil
	case "redis":
		client, err := redisutil.RedisClientFromURL(config.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, nil, errors.Wrap(err, "error connecting to redis")
		}
		records, err := redis.NewStorage[storage.RollupRecord](client, config.RedisKey)
		if err != nil {
			return nil, nil, err
		}
		return records, func() { _ = client.Close() }, nil
	default:
		return slice.NewStorage[storage.RollupRecord](), func() {}, nil
	}
}
