// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package genericconf

import (
	"fmt"
	"io"

	flag "github.com/spf13/pflag"

	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LoggingConfig is shared by the sequencer commands. Records always go to
// stderr and, with File.Enable, also to a rotated log file.
type LoggingConfig struct {
	Level string            `koanf:"level"`
	Type  string            `koanf:"type"`
	File  FileLoggingConfig `koanf:"file"`
}

var DefaultLoggingConfig = LoggingConfig{
	Level: "INFO",
	Type:  "plaintext",
	File:  DefaultFileLoggingConfig,
}

func LoggingConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.String(prefix+".level", DefaultLoggingConfig.Level, "log level, valid values are CRIT, ERROR, WARN, INFO, DEBUG, TRACE")
	f.String(prefix+".type", DefaultLoggingConfig.Type, "log type (plaintext or json)")
	FileLoggingConfigAddOptions(prefix+".file", f)
}

func (c *LoggingConfig) Validate() error {
	if _, err := ToSlogLevel(c.Level); err != nil {
		return err
	}
	if _, err := HandlerFromLogType(c.Type, io.Discard); err != nil {
		return err
	}
	if c.File.Enable && c.File.File == "" {
		return fmt.Errorf("log file enabled without a file name")
	}
	return nil
}

type FileLoggingConfig struct {
	Enable     bool   `koanf:"enable"`
	File       string `koanf:"file"`
	MaxSize    int    `koanf:"max-size"`
	MaxAge     int    `koanf:"max-age"`
	MaxBackups int    `koanf:"max-backups"`
	LocalTime  bool   `koanf:"local-time"`
	Compress   bool   `koanf:"compress"`
}

var DefaultFileLoggingConfig = FileLoggingConfig{
	Enable:     false,
	File:       "sequencer.log",
	MaxSize:    5,     // 5Mb
	MaxAge:     0,     // don't remove old files based on age
	MaxBackups: 20,    // keep 20 files
	LocalTime:  false, // use UTC time
	Compress:   true,
}

func FileLoggingConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.Bool(prefix+".enable", DefaultFileLoggingConfig.Enable, "enable logging to file")
	f.String(prefix+".file", DefaultFileLoggingConfig.File, "path to log file")
	f.Int(prefix+".max-size", DefaultFileLoggingConfig.MaxSize, "log file size in Mb that will trigger log file rotation (0 = trigger disabled)")
	f.Int(prefix+".max-age", DefaultFileLoggingConfig.MaxAge, "maximum number of days to retain old log files based on the timestamp encoded in their filename (0 = no limit)")
	f.Int(prefix+".max-backups", DefaultFileLoggingConfig.MaxBackups, "maximum number of old log files to retain (0 = no limit)")
	f.Bool(prefix+".local-time", DefaultFileLoggingConfig.LocalTime, "if true: local time will be used in old log filename timestamps")
	f.Bool(prefix+".compress", DefaultFileLoggingConfig.Compress, "enable compression of old log files")
}

// Install replaces the root logger with one writing to stderr, and to the
// log file resolved through resolve if enabled. The returned function
// closes the log file.
func (c *LoggingConfig) Install(stderr io.Writer, resolve func(string) string) (func() error, error) {
	level, err := ToSlogLevel(c.Level)
	if err != nil {
		return nil, err
	}
	output := stderr
	closeFile := func() error { return nil }
	if c.File.Enable {
		// lumberjack serializes writes and opens the file on first use
		file := &lumberjack.Logger{
			Filename:   resolve(c.File.File),
			MaxSize:    c.File.MaxSize,
			MaxBackups: c.File.MaxBackups,
			MaxAge:     c.File.MaxAge,
			LocalTime:  c.File.LocalTime,
			Compress:   c.File.Compress,
		}
		output = io.MultiWriter(stderr, file)
		closeFile = file.Close
	}
	handler, err := HandlerFromLogType(c.Type, output)
	if err != nil {
		return nil, fmt.Errorf("error parsing log type when creating handler: %w", err)
	}
	glogger := log.NewGlogHandler(handler)
	glogger.Verbosity(level)
	log.SetDefault(log.NewLogger(glogger))
	return closeFile, nil
}
