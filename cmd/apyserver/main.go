// Command apyserver runs a bare framed TCP server with no handlers
// registered beyond the built-in error replies. It exists to exercise the
// configuration and lifecycle surface of github.com/coregx/apyserver from
// the command line; real deployments are expected to embed the package and
// register their own handlers.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/coregx/apyserver"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := apyserver.DefaultConfig()
	var configPath string
	var timeoutSeconds int
	var loggingLevel string
	var byteorder string
	var encoding string

	cmd := &cobra.Command{
		Use:   "apyserver",
		Short: "Serve a framed TCP application protocol",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				flagCfg := cfg
				if err := apyserver.LoadConfigFile(&cfg, configPath); err != nil {
					return err
				}
				if cmd.Flags().Changed("addr") {
					cfg.Addr = flagCfg.Addr
				}
				if cmd.Flags().Changed("port") {
					cfg.Port = flagCfg.Port
				}
				if cmd.Flags().Changed("buf") {
					cfg.Buf = flagCfg.Buf
				}
				if cmd.Flags().Changed("header-size") {
					cfg.HeaderSize = flagCfg.HeaderSize
				}
				if cmd.Flags().Changed("session-limit") {
					cfg.SessionLimit = flagCfg.SessionLimit
				}
			}
			if cmd.Flags().Changed("timeout") {
				cfg.Timeout = time.Duration(timeoutSeconds) * time.Second
			}
			if cmd.Flags().Changed("byteorder") {
				switch byteorder {
				case "big":
					cfg.BigEndian = true
				case "little":
					cfg.BigEndian = false
				default:
					return fmt.Errorf("--byteorder must be 'big' or 'little'")
				}
			}
			if cmd.Flags().Changed("encoding") {
				switch encoding {
				case "json":
					cfg.DefaultEncoding = apyserver.EncodingText
				case "compact":
					cfg.DefaultEncoding = apyserver.EncodingCompact
				default:
					return fmt.Errorf("--encoding must be 'json' or 'compact'")
				}
			}
			if cmd.Flags().Changed("logging-level") {
				lvl, err := logrus.ParseLevel(loggingLevel)
				if err != nil {
					return err
				}
				cfg.LoggingLevel = lvl
			}

			return run(cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.Addr, "addr", cfg.Addr, "bind address")
	flags.IntVar(&cfg.Port, "port", cfg.Port, "bind port")
	flags.IntVar(&cfg.Buf, "buf", cfg.Buf, "read chunk size in bytes")
	flags.IntVar(&timeoutSeconds, "timeout", int(cfg.Timeout/time.Second), "connection lifetime timeout in seconds")
	flags.IntVar(&cfg.HeaderSize, "header-size", cfg.HeaderSize, "content_length header width in bytes")
	flags.StringVar(&byteorder, "byteorder", "big", "header byte order: big or little")
	flags.StringVar(&encoding, "encoding", "json", "default payload encoding: json or compact")
	flags.IntVar(&cfg.SessionLimit, "session-limit", cfg.SessionLimit, "max concurrent sessions per address (0 = unbounded)")
	flags.StringVar(&loggingLevel, "logging-level", "info", "logrus level: trace, debug, info, warn, error")
	flags.StringVar(&configPath, "config", "", "path to a TOML configuration file")

	return cmd
}

func run(cfg apyserver.Config) error {
	logger := logrus.New()
	logger.SetLevel(cfg.LoggingLevel)

	srv := apyserver.New(cfg, apyserver.WithLogger(logger))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := srv.Serve(ctx)
	if err != nil {
		if errors.Is(err, apyserver.ErrPortUnavailable) {
			logger.WithError(err).Fatal("PORT_UNAVAILABLE")
		}
		return err
	}
	return nil
}
