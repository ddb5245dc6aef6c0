package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/blukai/nova/internal/codec"
	"github.com/blukai/nova/internal/config"
	"github.com/blukai/nova/internal/lobby"
	"github.com/blukai/nova/internal/netclient"
	"github.com/blukai/nova/internal/schema"
	"github.com/phuslu/log"
	"github.com/spf13/cobra"
)

type probeOptions struct {
	addr     string
	count    int
	playerID int64
	timeout  time.Duration
	verbose  bool
}

func configureLogger(verbose bool) *log.Logger {
	logger := log.DefaultLogger

	// https://github.com/phuslu/log?tab=readme-ov-file#pretty-console-writer
	logger.Level = log.InfoLevel
	if verbose {
		logger.Level = log.DebugLevel
	}
	logger.Caller = 1
	logger.TimeFormat = "15:04:05"
	logger.Writer = &log.ConsoleWriter{
		ColorOutput:    true,
		QuoteString:    true,
		EndWithMessage: true,
	}

	return &logger
}

// probe pings the server, joins the lobby and reports what came back.
func probe(ctx context.Context, opts probeOptions) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("could not process config: %w", err)
	}
	logger := configureLogger(opts.verbose)

	f, err := schema.Load(cfg.Schema)
	if err != nil {
		return fmt.Errorf("could not load schema: %w", err)
	}
	table, err := f.Table()
	if err != nil {
		return err
	}
	messages, err := lobby.ClientMessages(table)
	if err != nil {
		return fmt.Errorf("schema does not fit the lobby: %w", err)
	}

	var decode, encode codec.Keystream
	seed, _ := cfg.Seed()
	if seed != nil {
		decode, encode = netclient.SeededCiphers(seed)
	}

	addr := opts.addr
	if addr == "" {
		addr = cfg.ListenAddr
	}
	client, err := netclient.Dial("tcp", addr, netclient.Options{
		Table:       table,
		Messages:    messages,
		Decode:      decode,
		Encode:      encode,
		RecvTimeout: opts.timeout,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go client.Run(ctx)

	for nonce := 0; nonce < opts.count; nonce++ {
		start := time.Now()
		if err := client.SendMessage(lobby.Ping{Nonce: int32(nonce)}); err != nil {
			return fmt.Errorf("could not send ping: %w", err)
		}
		msg, err := client.RecvMessage()
		if err != nil {
			return fmt.Errorf("could not recv pong: %w", err)
		}
		pong, ok := msg.(lobby.Pong)
		if !ok || pong.Nonce != int32(nonce) {
			return fmt.Errorf("received unexpected message back (got %v; want pong %d)", msg, nonce)
		}
		logger.Info().
			Int("nonce", nonce).
			Dur("rtt", time.Since(start)).
			Msg("pong")
	}

	if err := client.SendMessage(lobby.Join{PlayerID: opts.playerID}); err != nil {
		return fmt.Errorf("could not send join: %w", err)
	}
	msg, err := client.RecvMessage()
	if err != nil {
		return fmt.Errorf("could not recv seed: %w", err)
	}
	setSeed, ok := msg.(lobby.SetSeed)
	if !ok {
		return fmt.Errorf("received unexpected message back (got %v; want set_seed)", msg)
	}
	logger.Info().
		Int64("player", opts.playerID).
		Int32("seed", setSeed.Seed).
		Msg("joined")

	return nil
}

func erringMain() error {
	opts := probeOptions{}

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Probe a server: ping it, join the lobby, print what comes back",
		Long: `The schema and cipher seed are read from the same NOVA_* environment
variables the server uses.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return probe(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.addr, "addr", "a", "", "server address (default NOVA_LISTEN_ADDR)")
	cmd.Flags().IntVarP(&opts.count, "count", "c", 3, "pings to send")
	cmd.Flags().Int64VarP(&opts.playerID, "player", "p", 1, "player id to join with")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", time.Second, "how long to wait for each reply")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "log every packet")

	return cmd.Execute()
}

func main() {
	if err := erringMain(); err != nil {
		fmt.Fprintf(os.Stderr, "fucky wucky! %v\n", err)
		os.Exit(42)
	}
}
