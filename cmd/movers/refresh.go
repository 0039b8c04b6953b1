package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"cryptomovers/internal/app"
	"cryptomovers/internal/freshness"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh <dataset>",
	Short: "Force one synchronous refresh of a dataset and print a summary",
	Long:  "refresh runs a deep refresh of one dataset key (for example market_data, dex_data:eth or dex_pairs:all) and stores the result.",
	Args:  cobra.ExactArgs(1),
	RunE:  runRefresh,
}

func runRefresh(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := app.New(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(cmd.Context()); err != nil {
			log.Warn().Err(err).Msg("shutdown incomplete")
		}
	}()

	engine, ok := a.Engine(args[0])
	if !ok {
		return fmt.Errorf("unknown dataset %q, have %v", args[0], a.Keys())
	}
	resp, err := engine.Refresh(cmd.Context())
	if err != nil {
		return err
	}

	e := resp.Entry
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "dataset:   %s\n", engine.Dataset())
	fmt.Fprintf(out, "source:    %s\n", resp.Source)
	fmt.Fprintf(out, "timestamp: %s\n", e.Timestamp.UTC().Format(time.RFC3339))
	fmt.Fprintf(out, "gainers:   %d\n", len(e.Payload.Gainers))
	fmt.Fprintf(out, "losers:    %d\n", len(e.Payload.Losers))
	fmt.Fprintf(out, "partial:   %t\n", e.IsPartial)
	if e.LastUpdateFailed || resp.Source == freshness.SourceFallback {
		return errors.New("refresh failed, previous entry kept")
	}
	return nil
}
