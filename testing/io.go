// SPDX-FileCopyrightText: 2024 NOI Techpark <digital@noi.bz.it>
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package sweep_testing

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// LoadInputData reads a fixture file as a string, trimming the trailing newline.
func LoadInputData(file_path string) (string, error) {
	data, err := os.ReadFile(file_path)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(data), "\n"), nil
}

func LoadOutput[P any](in *P, file_path string) error {
	byteValue, err := os.ReadFile(file_path)
	if err != nil {
		return err
	}
	return json.Unmarshal(byteValue, in)
}

func WriteOutput(out any, file_path string) error {
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(file_path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(file_path, data, 0o644)
}
