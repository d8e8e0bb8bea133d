package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hurricanerix/tagweave/internal/sanitize"
	"github.com/hurricanerix/tagweave/internal/startup"
	"github.com/hurricanerix/tagweave/internal/workflow"
)

// errPingFailed is returned by ping when any backend is unreachable
var errPingFailed = errors.New("one or more backends are unreachable")

func newSanitizeCmd() *cobra.Command {
	var exclude string

	cmd := &cobra.Command{
		Use:   "sanitize",
		Short: "Clean an LLM reply read from stdin into a comma-separated tag list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("failed to read input: %w", err)
			}
			out, err := sanitize.Require(string(raw), exclude)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&exclude, "exclude", "", "character name to drop from the output")
	return cmd
}

func newFillCmd(opts *options) *cobra.Command {
	var (
		prompt  string
		seed    int64
		strs    []string
		nums    []string
		lists   []string
		noCheck bool
	)

	cmd := &cobra.Command{
		Use:   "fill TEMPLATE",
		Short: "Substitute %name% placeholders in a workflow template",
		Long: `Reads a ComfyUI workflow template, replaces %name% placeholders with the
given values and prints the result. A template name without a path is looked
up in the configured workflow directory.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			template, err := readTemplate(opts, args[0])
			if err != nil {
				return err
			}

			values := workflow.Values{
				workflow.KeySeed: workflow.SeedValue(seed),
			}
			if cmd.Flags().Changed("prompt") {
				values[workflow.KeyPrompt] = workflow.String(prompt)
			}
			if err := parseAssignments(values, strs, func(v string) (workflow.Value, error) {
				return workflow.String(v), nil
			}); err != nil {
				return err
			}
			if err := parseAssignments(values, nums, parseNumber); err != nil {
				return err
			}
			if err := parseAssignments(values, lists, func(v string) (workflow.Value, error) {
				return workflow.List(splitList(v)), nil
			}); err != nil {
				return err
			}

			for _, name := range workflow.Unfilled(template, values) {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: placeholder %s has no value\n", workflow.Marker(name))
			}

			out := workflow.Substitute(template, values)
			if !noCheck {
				if err := workflow.Validate(out); err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&prompt, "prompt", "", "value for %prompt%")
	flags.Int64Var(&seed, "seed", workflow.RandomSeedSentinel, "value for %seed% (-1 for random)")
	flags.StringArrayVar(&strs, "set", nil, "string value as name=value (repeatable)")
	flags.StringArrayVar(&nums, "set-num", nil, "numeric value as name=number (repeatable)")
	flags.StringArrayVar(&lists, "list", nil, "string list as name=a,b,c (repeatable)")
	flags.BoolVar(&noCheck, "no-check", false, "skip JSON validation of the result")
	return cmd
}

// readTemplate reads ref as a file path, or from the workflow directory
// when ref is a bare name.
func readTemplate(opts *options, ref string) (string, error) {
	if strings.ContainsAny(ref, `/\`) {
		data, err := os.ReadFile(ref)
		if err != nil {
			return "", fmt.Errorf("failed to read template: %w", err)
		}
		return string(data), nil
	}

	cfg, err := opts.loadConfig()
	if err != nil {
		return "", err
	}
	return workflow.NewStore(cfg.Comfy.WorkflowDir, cfg.GetCacheTTL()).Load(ref)
}

// parseAssignments parses name=value pairs into values.
func parseAssignments(values workflow.Values, pairs []string, parse func(string) (workflow.Value, error)) error {
	for _, pair := range pairs {
		name, raw, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return fmt.Errorf("invalid assignment %q: want name=value", pair)
		}
		v, err := parse(raw)
		if err != nil {
			return fmt.Errorf("invalid assignment %q: %w", pair, err)
		}
		values[name] = v
	}
	return nil
}

func parseNumber(s string) (workflow.Value, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return workflow.Int(n), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return workflow.Value{}, fmt.Errorf("not a number: %q", s)
	}
	return workflow.Float(f), nil
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func newWorkflowsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "workflows",
		Short: "List the workflow templates in the workflow directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			names, err := workflow.NewStore(cfg.Comfy.WorkflowDir, cfg.GetCacheTTL()).List()
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func newPingCmd(opts *options) *cobra.Command {
	var comfyURL string

	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Check that the text backend and ComfyUI are reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if comfyURL == "" {
				comfyURL = cfg.Comfy.URL
			}

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			failed := false

			if err := startup.ValidateText(ctx, cfg); err != nil {
				fmt.Fprintf(out, "text:  FAIL %v\n", err)
				failed = true
			} else {
				fmt.Fprintf(out, "text:  ok (%s %s)\n", cfg.Text.Backend, cfg.Text.URL)
			}

			if comfyURL == "" {
				fmt.Fprintln(out, "comfy: skipped (no URL configured)")
			} else if err := startup.ValidateComfy(ctx, comfyURL); err != nil {
				fmt.Fprintf(out, "comfy: FAIL %v\n", err)
				failed = true
			} else {
				fmt.Fprintf(out, "comfy: ok (%s)\n", comfyURL)
			}

			if failed {
				return errPingFailed
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&comfyURL, "comfy-url", "", "ComfyUI URL (defaults to the configured one)")
	return cmd
}
