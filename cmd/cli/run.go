// SPDX-FileCopyrightText: 2024 NOI Techpark <digital@noi.bz.it>
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	sweep "github.com/noi-techpark/go-sweep"
	"github.com/noi-techpark/go-sweep/catalog"
	"github.com/noi-techpark/go-sweep/export"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Send one request per value and classify the responses",
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := buildRunFile()
		if err != nil {
			return err
		}
		if errs := sweep.ValidateRunFile(*f); len(errs) > 0 {
			fmt.Fprintln(os.Stderr, "Configuration validation failed:")
			for _, e := range errs {
				fmt.Fprintf(os.Stderr, "  - %s\n", e.Error())
			}
			return errors.New("invalid configuration")
		}

		logger := newLogger()
		parser := sweep.NewParser()
		parser.SetLogger(logger)
		text, err := f.CommandText()
		if err != nil {
			return err
		}
		t, err := parser.Parse(text)
		if err != nil {
			return err
		}
		if f.Timeout > 0 {
			t.TimeoutSeconds = f.Timeout
		}
		values, err := f.LoadValues()
		if err != nil {
			return err
		}

		if viper.GetBool("dry_run") {
			return printDryRun(t, f.Path, values, logger)
		}
		return execute(cmd.Context(), f, t, values, logger)
	},
}

func init() {
	v := viper.GetViper()
	v.SetDefault("config", "")
	v.SetDefault("dry_run", false)
	v.SetDefault("events", false)

	fl := runCmd.Flags()
	fl.String("config", "", "YAML run file")
	fl.StringP("command", "c", "", "file holding the curl command")
	fl.StringP("path", "p", "", "parameter path to vary, e.g. params.page or filter.id")
	fl.StringP("values", "v", "", "file with one value per line")
	fl.Int("workers", sweep.DefaultMaxWorkers, "concurrent requests per batch (1-20)")
	fl.Int("batch-size", sweep.DefaultBatchSize, "values per batch (10-100)")
	fl.Int("delay", int(sweep.DefaultRequestDelay.Milliseconds()), "delay before each request in ms (0-1000)")
	fl.Int("batch-delay", int(sweep.DefaultBatchDelay.Milliseconds()), "pause between batches in ms")
	fl.Float64("rps", 0, "global requests per second limit (0 = unlimited)")
	fl.Int("timeout", 0, "request timeout in seconds (1-60, default from the command)")
	fl.String("dir", sweep.DefaultDownloadDir, "directory for downloaded files")
	fl.String("csv", "", "write the extracted rows of JSON responses to this CSV file")
	fl.String("extract", "", "path of the rows inside each response (default: catalog detection)")
	fl.String("accept", "", "expression deciding which responses count as success")
	fl.Bool("dry-run", v.GetBool("dry_run"), "parse and print the first request without sending anything")
	fl.Bool("events", v.GetBool("events"), "print progress events as JSON lines")

	for key, flag := range map[string]string{
		"config": "config", "command": "command", "path": "path", "values": "values",
		"workers": "workers", "batch_size": "batch-size", "delay": "delay",
		"batch_delay": "batch-delay", "rps": "rps", "timeout": "timeout", "dir": "dir",
		"csv": "csv", "extract": "extract", "accept": "accept", "dry_run": "dry-run",
		"events": "events",
	} {
		_ = v.BindPFlag(key, fl.Lookup(flag))
	}
}

// buildRunFile loads the run file, when given, and applies flags and
// environment on top of it.
func buildRunFile() (*sweep.RunFile, error) {
	v := viper.GetViper()
	f := &sweep.RunFile{}
	if cfg := v.GetString("config"); cfg != "" {
		loaded, err := sweep.LoadRunFile(cfg)
		if err != nil {
			return nil, err
		}
		f = loaded
	}

	if v.IsSet("command") {
		f.Command, f.CommandFile = "", absPath(v.GetString("command"))
	}
	if v.IsSet("path") {
		f.Path = v.GetString("path")
	}
	if v.IsSet("values") {
		f.Values, f.ValuesFile = nil, absPath(v.GetString("values"))
	}
	if v.IsSet("workers") {
		f.Parallelism.MaxWorkers = v.GetInt("workers")
	}
	if v.IsSet("batch_size") {
		f.Parallelism.BatchSize = v.GetInt("batch_size")
	}
	if v.IsSet("delay") {
		d := v.GetInt("delay")
		f.Parallelism.RequestDelayMs = &d
	}
	if v.IsSet("batch_delay") {
		d := v.GetInt("batch_delay")
		f.Parallelism.BatchDelayMs = &d
	}
	if v.IsSet("rps") {
		f.Parallelism.RequestsPerSecond = v.GetFloat64("rps")
	}
	if v.IsSet("timeout") {
		f.Timeout = v.GetInt("timeout")
	}
	if v.IsSet("dir") {
		f.Output.Dir = absPath(v.GetString("dir"))
	}
	if v.IsSet("csv") {
		f.Output.CSV = absPath(v.GetString("csv"))
	}
	if v.IsSet("extract") {
		f.Output.ExtractPath = v.GetString("extract")
	}
	if v.IsSet("accept") {
		f.Accept = v.GetString("accept")
	}
	if v.IsSet("catalog") {
		f.Catalog = absPath(v.GetString("catalog"))
	}
	return f, nil
}

func absPath(p string) string {
	if p == "" {
		return p
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

func printDryRun(t *sweep.RequestTemplate, path string, values []string, logger sweep.Logger) error {
	out, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return err
	}
	fmt.Printf("TEMPLATE: %s\n", out)
	fmt.Printf("VALUES: %d\n", len(values))
	if len(values) == 0 {
		return nil
	}

	m := sweep.NewMutator()
	m.SetLogger(logger)
	first := m.Modify(t, path, values[0])
	fmt.Printf("FIRST REQUEST: %s %s\n", first.Method, first.FullURL())
	for _, h := range first.Headers {
		fmt.Printf("  %s: %s\n", h.Name, h.Value)
	}
	body, err := first.EncodeBody()
	if err != nil {
		return err
	}
	if body != nil {
		fmt.Printf("  %s\n", body)
	}
	return nil
}

func execute(ctx context.Context, f *sweep.RunFile, t *sweep.RequestTemplate, values []string, logger sweep.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := &http.Client{}
	executor := sweep.NewExecutor()
	executor.SetLogger(logger)
	executor.SetClient(client)
	executor.SetClassifier(f.Classifier())

	if f.Auth != nil {
		auth, err := sweep.NewAuthenticator(*f.Auth, client, logger)
		if err != nil {
			return err
		}
		executor.SetAuthenticator(auth)
	}
	if f.Accept != "" {
		rule, err := sweep.CompileAcceptRule(f.Accept)
		if err != nil {
			return err
		}
		executor.SetAcceptRule(rule)
	}

	var wg sync.WaitGroup
	var events chan sweep.ProgressEvent
	if viper.GetBool("events") {
		events = executor.EnableProgress()
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ev := range events {
				data, err := json.Marshal(ev)
				if err != nil {
					logger.Error("failed to marshal progress event: %v", err)
					continue
				}
				fmt.Println(string(data))
			}
		}()
	} else {
		executor.OnProgress(printProgress)
	}

	run := sweep.NewBatchRun(t, f.Path, values, f.ParallelismConfig())
	result, runErr := executor.Run(ctx, run)

	if events != nil {
		close(events)
		wg.Wait()
	}
	if result == nil {
		return runErr
	}

	printSummary(result)
	if f.Output.CSV != "" {
		if err := writeCSV(ctx, f, result); err != nil {
			return err
		}
	}
	return runErr
}

func printProgress(ev sweep.ProgressEvent) {
	s := ev.Snapshot
	switch ev.Type {
	case sweep.EVENT_BATCH_START:
		fmt.Fprintf(os.Stderr, "batch %d/%d\n", s.Batch, s.TotalBatches)
	case sweep.EVENT_RESULT:
		status := "ok"
		if success, _ := ev.Data["success"].(bool); !success {
			status = fmt.Sprintf("failed: %v", ev.Data["error"])
		}
		fmt.Fprintf(os.Stderr, "  [%d/%d] %v %s\n", s.Current, s.Total, ev.Data["value"], status)
	}
}

func printSummary(r *sweep.RunResult) {
	var size int64
	for _, f := range r.Files {
		size += f.Size
	}
	fmt.Printf("Run %s %s in %s\n", r.RunID, r.Snapshot.State, r.Duration.Round(time.Millisecond))
	fmt.Printf("  successes: %d  failures: %d  files: %d (%s)\n",
		len(r.Successes), len(r.Failures), len(r.Files), humanize.Bytes(uint64(size)))
	fmt.Printf("  average response time: %.1f ms\n", r.AverageElapsedMs())
	for _, f := range r.Failures {
		fmt.Printf("  FAILED %s [%s] %s\n", f.ParamValue, f.Kind, f.Message)
	}
	for _, f := range r.Files {
		fmt.Printf("  FILE %s (%s)\n", f.Filename, humanize.Bytes(uint64(f.Size)))
	}
}

// writeCSV exports the JSON successes. Without an extract path the catalog,
// when configured, picks one from the first response it recognises.
func writeCSV(ctx context.Context, f *sweep.RunFile, r *sweep.RunResult) error {
	path := f.Output.ExtractPath
	if path == "" && f.Catalog != "" {
		detected, err := detectPath(ctx, f.Catalog, r.Successes)
		if err != nil {
			return err
		}
		path = detected
	}

	rows, err := export.Rows(r.Successes, path, nil)
	if err != nil {
		return err
	}
	data, err := export.CSV{}.ToTabular(rows)
	if err != nil {
		return err
	}
	if err := os.WriteFile(f.Output.CSV, data, 0o644); err != nil {
		return fmt.Errorf("failed to write csv: %w", err)
	}
	fmt.Printf("  CSV %s (%d rows)\n", f.Output.CSV, len(rows))
	return nil
}

func detectPath(ctx context.Context, dbPath string, successes []sweep.Success) (string, error) {
	cat, err := catalog.Open(dbPath)
	if err != nil {
		return "", err
	}
	defer cat.Close()
	for _, s := range successes {
		if s.Content == nil {
			continue
		}
		found, err := cat.Detect(ctx, s.Content)
		if err != nil {
			return "", err
		}
		if found != nil {
			return found.PathPattern, nil
		}
	}
	return "", nil
}
