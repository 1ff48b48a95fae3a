// SPDX-FileCopyrightText: 2024 NOI Techpark <digital@noi.bz.it>
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package sweep

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// RunFile is the YAML description of a sweep.
type RunFile struct {
	Command     string `yaml:"command,omitempty" json:"command,omitempty"`
	CommandFile string `yaml:"commandFile,omitempty" json:"commandFile,omitempty"`

	Path       string   `yaml:"path" json:"path"`
	Values     []string `yaml:"values,omitempty" json:"values,omitempty"`
	ValuesFile string   `yaml:"valuesFile,omitempty" json:"valuesFile,omitempty"`

	Parallelism ParallelismFile      `yaml:"parallelism,omitempty" json:"parallelism,omitempty"`
	Timeout     int                  `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Auth        *AuthenticatorConfig `yaml:"auth,omitempty" json:"auth,omitempty"`
	Accept      string               `yaml:"accept,omitempty" json:"accept,omitempty"`
	Output      OutputConfig         `yaml:"output,omitempty" json:"output,omitempty"`
	Catalog     string               `yaml:"catalog,omitempty" json:"catalog,omitempty"`

	baseDir string
}

// ParallelismFile mirrors ParallelismConfig with delays in milliseconds.
// Nil delays fall back to the defaults; zero disables the delay.
type ParallelismFile struct {
	MaxWorkers        int     `yaml:"maxWorkers,omitempty" json:"maxWorkers,omitempty"`
	BatchSize         int     `yaml:"batchSize,omitempty" json:"batchSize,omitempty"`
	RequestDelayMs    *int    `yaml:"requestDelayMs,omitempty" json:"requestDelayMs,omitempty"`
	BatchDelayMs      *int    `yaml:"batchDelayMs,omitempty" json:"batchDelayMs,omitempty"`
	RequestsPerSecond float64 `yaml:"requestsPerSecond,omitempty" json:"requestsPerSecond,omitempty"`
	Burst             int     `yaml:"burst,omitempty" json:"burst,omitempty"`
}

type OutputConfig struct {
	Dir                string `yaml:"dir,omitempty" json:"dir,omitempty"`
	LargeThresholdMB   int    `yaml:"largeThresholdMB,omitempty" json:"largeThresholdMB,omitempty"`
	PreviewThresholdKB int    `yaml:"previewThresholdKB,omitempty" json:"previewThresholdKB,omitempty"`
	CSV                string `yaml:"csv,omitempty" json:"csv,omitempty"`
	ExtractPath        string `yaml:"extractPath,omitempty" json:"extractPath,omitempty"`
}

func LoadRunFile(path string) (*RunFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f RunFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse run file: %w", err)
	}
	f.baseDir = filepath.Dir(path)
	return &f, nil
}

func (f *RunFile) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || f.baseDir == "" {
		return p
	}
	return filepath.Join(f.baseDir, p)
}

// CommandText returns the inline command or the content of CommandFile.
func (f *RunFile) CommandText() (string, error) {
	if f.Command != "" {
		return f.Command, nil
	}
	if f.CommandFile == "" {
		return "", fmt.Errorf("no command given")
	}
	data, err := os.ReadFile(f.resolve(f.CommandFile))
	if err != nil {
		return "", fmt.Errorf("failed to read command file: %w", err)
	}
	return string(data), nil
}

// LoadValues returns the inline values followed by those in ValuesFile.
func (f *RunFile) LoadValues() ([]string, error) {
	values := append([]string(nil), f.Values...)
	if f.ValuesFile == "" {
		return values, nil
	}
	file, err := os.Open(f.resolve(f.ValuesFile))
	if err != nil {
		return nil, fmt.Errorf("failed to open values file: %w", err)
	}
	defer file.Close()
	more, err := ReadValues(file)
	if err != nil {
		return nil, err
	}
	return append(values, more...), nil
}

func (f *RunFile) ParallelismConfig() ParallelismConfig {
	p := DefaultParallelism()
	pf := f.Parallelism
	if pf.MaxWorkers != 0 {
		p.MaxWorkers = pf.MaxWorkers
	}
	if pf.BatchSize != 0 {
		p.BatchSize = pf.BatchSize
	}
	if pf.RequestDelayMs != nil {
		p.RequestDelay = time.Duration(*pf.RequestDelayMs) * time.Millisecond
	}
	if pf.BatchDelayMs != nil {
		p.BatchDelay = time.Duration(*pf.BatchDelayMs) * time.Millisecond
	}
	p.RequestsPerSecond = pf.RequestsPerSecond
	p.Burst = pf.Burst
	return p
}

// Classifier builds a classifier honouring the output settings.
func (f *RunFile) Classifier() *Classifier {
	c := NewClassifier()
	if f.Output.Dir != "" {
		c.Dir = f.resolve(f.Output.Dir)
	}
	if f.Output.LargeThresholdMB > 0 {
		c.LargeThreshold = int64(f.Output.LargeThresholdMB) * 1024 * 1024
	}
	if f.Output.PreviewThresholdKB > 0 {
		c.PreviewThreshold = int64(f.Output.PreviewThresholdKB) * 1024
	}
	return c
}

// ReadValues reads one value per line. Blank lines are skipped and
// surrounding whitespace trimmed.
func ReadValues(r io.Reader) ([]string, error) {
	var values []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			values = append(values, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read values: %w", err)
	}
	return values, nil
}
