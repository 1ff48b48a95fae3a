// SPDX-FileCopyrightText: 2024 NOI Techpark <digital@noi.bz.it>
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package sweep

import (
	"fmt"
	"time"
)

const (
	MinWorkers, MaxWorkers     = 1, 20
	MinBatchSize, MaxBatchSize = 10, 100
	MaxRequestDelay            = time.Second
	MinTimeout, MaxTimeout     = 1, 60
)

type ValidationError struct {
	Message  string
	Location string // optional, e.g. "parallelism.maxWorkers"
}

func (e ValidationError) Error() string {
	if e.Location != "" {
		return fmt.Sprintf("%s: %s", e.Location, e.Message)
	}
	return e.Message
}

func ValidateRunFile(f RunFile) []ValidationError {
	var errs []ValidationError

	if f.Command == "" && f.CommandFile == "" {
		errs = append(errs, ValidationError{"one of command or commandFile is required", "command"})
	}
	if f.Command != "" && f.CommandFile != "" {
		errs = append(errs, ValidationError{"command and commandFile are mutually exclusive", "command"})
	}
	if f.Path == "" {
		errs = append(errs, ValidationError{"path is required", "path"})
	}
	if len(f.Values) == 0 && f.ValuesFile == "" {
		errs = append(errs, ValidationError{"one of values or valuesFile is required", "values"})
	}
	if f.Timeout != 0 && (f.Timeout < MinTimeout || f.Timeout > MaxTimeout) {
		errs = append(errs, ValidationError{fmt.Sprintf("must be between %d and %d seconds", MinTimeout, MaxTimeout), "timeout"})
	}

	errs = append(errs, ValidateParallelism(f.ParallelismConfig(), "parallelism")...)

	if f.Auth != nil {
		errs = append(errs, validateAuth(*f.Auth, "auth")...)
	}
	if f.Accept != "" {
		if _, err := CompileAcceptRule(f.Accept); err != nil {
			errs = append(errs, ValidationError{err.Error(), "accept"})
		}
	}
	if f.Output.LargeThresholdMB < 0 {
		errs = append(errs, ValidationError{"must not be negative", "output.largeThresholdMB"})
	}
	if f.Output.PreviewThresholdKB < 0 {
		errs = append(errs, ValidationError{"must not be negative", "output.previewThresholdKB"})
	}
	return errs
}

// ValidateParallelism checks the ranges offered to interactive users.
func ValidateParallelism(p ParallelismConfig, loc string) []ValidationError {
	var errs []ValidationError
	if p.MaxWorkers < MinWorkers || p.MaxWorkers > MaxWorkers {
		errs = append(errs, ValidationError{fmt.Sprintf("must be between %d and %d", MinWorkers, MaxWorkers), loc + ".maxWorkers"})
	}
	if p.BatchSize < MinBatchSize || p.BatchSize > MaxBatchSize {
		errs = append(errs, ValidationError{fmt.Sprintf("must be between %d and %d", MinBatchSize, MaxBatchSize), loc + ".batchSize"})
	}
	if p.RequestDelay < 0 || p.RequestDelay > MaxRequestDelay {
		errs = append(errs, ValidationError{fmt.Sprintf("must be between 0 and %s", MaxRequestDelay), loc + ".requestDelayMs"})
	}
	if p.BatchDelay < 0 {
		errs = append(errs, ValidationError{"must not be negative", loc + ".batchDelayMs"})
	}
	if p.RequestsPerSecond < 0 {
		errs = append(errs, ValidationError{"must not be negative", loc + ".requestsPerSecond"})
	}
	if p.Burst < 0 {
		errs = append(errs, ValidationError{"must not be negative", loc + ".burst"})
	}
	return errs
}

func validateAuth(a AuthenticatorConfig, loc string) []ValidationError {
	var errs []ValidationError
	switch a.Type {
	case "", "none":
	case "basic":
		if a.Username == "" {
			errs = append(errs, ValidationError{"username is required for basic auth", loc + ".username"})
		}
	case "bearer":
		if a.Token == "" {
			errs = append(errs, ValidationError{"token is required for bearer auth", loc + ".token"})
		}
	case "oauth":
		if a.TokenURL == "" {
			errs = append(errs, ValidationError{"tokenUrl is required for oauth", loc + ".tokenUrl"})
		}
		switch a.Method {
		case "password":
			if a.Username == "" || a.Password == "" {
				errs = append(errs, ValidationError{"username and password are required for the password flow", loc})
			}
		case "client_credentials":
			if a.ClientID == "" || a.ClientSecret == "" {
				errs = append(errs, ValidationError{"clientId and clientSecret are required for client_credentials", loc})
			}
		default:
			errs = append(errs, ValidationError{"method must be password or client_credentials", loc + ".method"})
		}
	default:
		errs = append(errs, ValidationError{fmt.Sprintf("unsupported auth type %q", a.Type), loc + ".type"})
	}
	return errs
}
