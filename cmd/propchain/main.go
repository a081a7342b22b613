// Command propchain is the PropChain client. It requests and cancels NGN
// withdrawals, lists them, watches the treasury balance and creates HCS
// topics, talking to the backend only through its HTTP gateway.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"propchain/pkg/config"
	"propchain/pkg/logging"
)

const usage = `usage: propchain [-config file] [-token access-token] [-debug] <command> [flags]

commands:
  withdraw  -amount N -bank-account NAME -account-number NUM -bank-code CODE
  cancel    <withdrawal-id>
  list      [-user ID]
  balance   [-address ADDR] [-watch]
  session
  topic     [-memo TEXT]
`

var errUsage = errors.New("invalid usage")

func main() {
	os.Exit(realMain(os.Args[1:]))
}

func realMain(args []string) int {
	fs := flag.NewFlagSet("propchain", flag.ContinueOnError)
	fs.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	configPath := fs.String("config", "", "path to a YAML config file")
	token := fs.String("token", "", "access token (overrides client.access_token)")
	debug := fs.Bool("debug", false, "log at debug level")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if *token != "" {
		cfg.Client.AccessToken = *token
	}

	if *debug {
		cfg.Logging = logging.DevelopmentConfig()
	}
	// stdout carries command output.
	for i, p := range cfg.Logging.OutputPaths {
		if p == "stdout" {
			cfg.Logging.OutputPaths[i] = "stderr"
		}
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}
	defer logger.Sync()
	logging.SetGlobal(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, os.Stdout)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer a.Close()

	if err := a.dispatch(ctx, fs.Arg(0), fs.Args()[1:]); err != nil {
		if errors.Is(err, errUsage) {
			fs.Usage()
			return 2
		}
		return 1
	}
	return 0
}
