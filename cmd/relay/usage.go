package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/nugget/signal-relay/internal/usage"
)

// usageReport is the JSON form of the usage subcommand.
type usageReport struct {
	Since   time.Time                 `json:"since"`
	Total   *usage.Summary            `json:"total"`
	ByModel map[string]*usage.Summary `json:"by_model"`
}

// runUsage prints chat turn totals for the last days days (default 1).
func runUsage(stdout io.Writer, configPath, outputFmt string, args []string) error {
	days := 1
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return fmt.Errorf("usage: relay usage [days]  (days must be a positive integer, got %q)", args[0])
		}
		days = n
	}

	cfg, err := loadConfigOrDefault(configPath)
	if err != nil {
		return err
	}

	dbPath := filepath.Join(cfg.DataDir, "usage.db")
	if _, err := os.Stat(dbPath); err != nil {
		return fmt.Errorf("no usage recorded yet (%s): %w", dbPath, err)
	}
	store, err := usage.NewStore(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	end := time.Now()
	start := end.AddDate(0, 0, -days)

	total, err := store.Summary(start, end.Add(time.Second))
	if err != nil {
		return err
	}
	byModel, err := store.SummaryByModel(start, end.Add(time.Second))
	if err != nil {
		return err
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(usageReport{Since: start, Total: total, ByModel: byModel})
	}

	fmt.Fprintf(stdout, "Chat turns since %s\n", start.Format(time.DateTime))
	fmt.Fprintf(stdout, "  %-24s %6s %6s %10s %10s\n", "model", "turns", "failed", "tokens in", "tokens out")
	models := make([]string, 0, len(byModel))
	for m := range byModel {
		models = append(models, m)
	}
	sort.Strings(models)
	for _, m := range models {
		printUsageRow(stdout, m, byModel[m])
	}
	printUsageRow(stdout, "total", total)
	return nil
}

func printUsageRow(w io.Writer, label string, s *usage.Summary) {
	fmt.Fprintf(w, "  %-24s %6d %6d %10d %10d\n", label, s.TotalRecords, s.Failures, s.TotalInputTokens, s.TotalOutputTokens)
}
