package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/acdkn/internal/config"
	"github.com/fyrsmithlabs/acdkn/internal/engine"
)

// maxInputSize bounds the units file read by detect.
const maxInputSize = 64 * 1024 * 1024

func newDetectCmd() *cobra.Command {
	var input string
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Run one ingest and detection pass over a JSON file of units",
		Long: `Ingest the units in a JSON file into an in-memory store, run one detection
pass and print the ingest results and run report as JSON.

The input is either an array of units or an object with a "units" array:

  [{"id": "h1", "domain": "healthcare", "content": "..."}, ...]

Examples:
  acdknd detect --input units.json
  cat units.json | acdknd detect --input -`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadWithFile(configPath)
			if err != nil {
				return err
			}
			units, err := readUnits(input, cmd.InOrStdin())
			if err != nil {
				return err
			}
			return runDetect(cmd.Context(), cfg, units, cmd.OutOrStdout(), zapcore.AddSync(cmd.ErrOrStderr()))
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "JSON file of units, or - for stdin")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

// DetectOutput is what detect prints.
type DetectOutput struct {
	Ingested []engine.IngestResult `json:"ingested"`
	Report   *engine.RunReport     `json:"report"`
}

func readUnits(path string, stdin io.Reader) ([]engine.UnitInput, error) {
	var r io.Reader
	if path == "-" {
		r = stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", path, err)
		}
		defer f.Close()
		r = f
	}

	raw, err := io.ReadAll(io.LimitReader(r, maxInputSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read units: %w", err)
	}
	if len(raw) > maxInputSize {
		return nil, fmt.Errorf("units input exceeds %d bytes", maxInputSize)
	}
	return parseUnits(raw)
}

func parseUnits(raw []byte) ([]engine.UnitInput, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("no units to ingest")
	}

	var units []engine.UnitInput
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &units); err != nil {
			return nil, fmt.Errorf("failed to decode units: %w", err)
		}
	} else {
		var wrapped struct {
			Units []engine.UnitInput `json:"units"`
		}
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			return nil, fmt.Errorf("failed to decode units: %w", err)
		}
		units = wrapped.Units
	}
	if len(units) == 0 {
		return nil, fmt.Errorf("no units to ingest")
	}
	return units, nil
}

// runDetect ingests units into a fresh in-memory engine and runs one
// detection pass. Sync is never started; nothing is published.
func runDetect(ctx context.Context, cfg *config.Config, units []engine.UnitInput, out io.Writer, logOut zapcore.WriteSyncer) error {
	a, err := buildApp(ctx, cfg, buildOptions{
		memoryStore: true,
		logOutput:   logOut,
	})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.Background()) }()

	results, err := a.engine.Ingest(ctx, units)
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	for _, r := range results {
		if r.Status == engine.IngestRejected {
			a.logger.Warn("unit rejected", zap.String("id", r.ID), zap.String("reason", r.Error))
		}
	}

	report, err := a.engine.Detect(ctx)
	if err != nil {
		return fmt.Errorf("detect: %w", err)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(DetectOutput{Ingested: results, Report: report})
}
