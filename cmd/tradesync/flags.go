package main

import (
	"fmt"
	"strconv"
	"strings"
)

// Flag structures for parsing command line arguments

// SyncFlags represents flags for the sync command
type SyncFlags struct {
	Pairs    []string
	Since    *int64
	Until    *int64
	UntilNow bool
	Resume   bool
	Batch    int
	Help     bool
}

// AssetsFlags represents flags for the assets command
type AssetsFlags struct {
	Format string
	Help   bool
}

// QueryFlags represents flags for the query command
type QueryFlags struct {
	Pair   string
	Limit  int
	Format string
	Desc   bool
	Help   bool
}

// splitGlobalFlags extracts options accepted ahead of the command name.
func splitGlobalFlags(args []string) (configPath string, rest []string, err error) {
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config", "-c":
			if i+1 >= len(args) {
				return "", nil, fmt.Errorf("--config requires a value")
			}
			configPath = args[i+1]
			i++
		default:
			return configPath, args[i:], nil
		}
	}
	return configPath, nil, nil
}

// parseSyncFlags parses command line arguments for the sync command
func parseSyncFlags(args []string) (*SyncFlags, error) {
	flags := &SyncFlags{}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--pair", "--pairs", "-p":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--pair requires a value")
			}
			for _, p := range strings.Split(args[i+1], ",") {
				if p = strings.TrimSpace(p); p != "" {
					flags.Pairs = append(flags.Pairs, p)
				}
			}
			if len(flags.Pairs) == 0 {
				return nil, fmt.Errorf("--pair requires at least one pair")
			}
			i++
		case "--since", "-s":
			v, err := int64Value(args, i)
			if err != nil {
				return nil, err
			}
			flags.Since = &v
			i++
		case "--until", "-u":
			v, err := int64Value(args, i)
			if err != nil {
				return nil, err
			}
			flags.Until = &v
			i++
		case "--until-now":
			flags.UntilNow = true
		case "--resume", "-r":
			flags.Resume = true
		case "--batch", "-b":
			v, err := int64Value(args, i)
			if err != nil {
				return nil, err
			}
			if v <= 0 {
				return nil, fmt.Errorf("--batch must be positive")
			}
			flags.Batch = int(v)
			i++
		case "--help", "-h":
			flags.Help = true
		default:
			return nil, fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	if flags.UntilNow && flags.Until != nil {
		return nil, fmt.Errorf("--until and --until-now are mutually exclusive")
	}
	return flags, nil
}

// parseAssetsFlags parses command line arguments for the assets command
func parseAssetsFlags(args []string) (*AssetsFlags, error) {
	flags := &AssetsFlags{
		Format: "table", // Default format
	}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--format", "-f":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--format requires a value")
			}
			format := args[i+1]
			if format != "json" && format != "table" {
				return nil, fmt.Errorf("invalid format, must be: json or table")
			}
			flags.Format = format
			i++
		case "--help", "-h":
			flags.Help = true
		default:
			return nil, fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	return flags, nil
}

// parseQueryFlags parses command line arguments for the query command
func parseQueryFlags(args []string) (*QueryFlags, error) {
	flags := &QueryFlags{
		Limit:  100,     // Default limit
		Format: "table", // Default format
	}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--pair", "-p":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--pair requires a value")
			}
			flags.Pair = args[i+1]
			i++
		case "--limit", "-l":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--limit requires a value")
			}
			limit, err := strconv.Atoi(args[i+1])
			if err != nil {
				return nil, fmt.Errorf("invalid limit value: %w", err)
			}
			if limit < 0 {
				return nil, fmt.Errorf("--limit cannot be negative")
			}
			flags.Limit = limit
			i++
		case "--format", "-f":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--format requires a value")
			}
			format := args[i+1]
			if format != "json" && format != "csv" && format != "table" {
				return nil, fmt.Errorf("invalid format, must be: json, csv, or table")
			}
			flags.Format = format
			i++
		case "--desc":
			flags.Desc = true
		case "--help", "-h":
			flags.Help = true
		default:
			return nil, fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	return flags, nil
}

func int64Value(args []string, i int) (int64, error) {
	if i+1 >= len(args) {
		return 0, fmt.Errorf("%s requires a value", args[i])
	}
	v, err := strconv.ParseInt(args[i+1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %w", strings.TrimLeft(args[i], "-"), err)
	}
	return v, nil
}
