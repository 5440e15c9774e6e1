// Package config defines the CLI structure for the usbcat tool.
package config

import (
	"github.com/vpelletier/go-functionfs/internal/cmd"
)

type Log struct {
	Level   string `help:"Log level: trace, debug, info, warn, error" default:"info" env:"USBCAT_LOG_LEVEL"`
	File    string `help:"Log file path (default: none; logs only to console)" env:"USBCAT_LOG_FILE"`
	RawFile string `help:"Raw wire-block log file path (default: none)" env:"USBCAT_LOG_RAW_FILE"`
}

// CLI is the root command structure for Kong CLI parsing.
type CLI struct {
	Log `embed:"" prefix:"log."`

	Cat cmd.Cat `cmd:"" default:"withargs" help:"Bridge stdin/stdout to a bulk functionfs function"`
}
