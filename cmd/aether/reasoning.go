package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cf-ai-aether-go/internal/services/reasoning"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var outputFormat string

var (
	parseCmd = &cobra.Command{
		Use:   "parse [file]",
		Short: "Split a model answer into its five sections",
		Long:  `Reads a raw model answer from the file, or stdin when omitted, and prints the structured response.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), reasoning.ParseResponse(raw), outputFormat)
		},
	}

	composeCmd = &cobra.Command{
		Use:   "compose [prompt]",
		Short: "Show the decomposition sent to the model for a prompt",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return render(cmd.OutOrStdout(), reasoning.ComposePrompt(strings.Join(args, " ")), outputFormat)
		},
	}
)

func init() {
	for _, cmd := range []*cobra.Command{parseCmd, composeCmd} {
		cmd.Flags().StringVarP(&outputFormat, "format", "f", "json", "Output format (json, yaml)")
		rootCmd.AddCommand(cmd)
	}
}

func readInput(stdin io.Reader, args []string) (string, error) {
	if len(args) == 0 {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", args[0], err)
	}
	return string(data), nil
}

func render(w io.Writer, v interface{}, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}
