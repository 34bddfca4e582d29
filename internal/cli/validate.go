package cli

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/roach88/tidewatch/internal/config"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool               `json:"valid"`
	Path   string             `json:"path"`
	Errors []config.Violation `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the config file",
		Long: `Load the config file with defaults and environment overrides applied and
check it against the config schema, without touching the device or store.

Exit codes:
  0 - Config valid
  1 - Config loaded but invalid
  2 - Config file unreadable`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	cfg, err := config.Load(opts.filesystem(), opts.ConfigPath)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "failed to load config", err)
	}
	formatter.VerboseLog("Loaded %s (store: %s, site: %q)", opts.ConfigPath, cfg.Store.Kind(), cfg.Site.ID)

	err = config.Validate(cfg)
	var verr *config.ValidationError
	switch {
	case err == nil:
		return outputValidateSuccess(formatter, opts.ConfigPath)
	case errors.As(err, &verr):
		return outputValidationErrors(formatter, opts.ConfigPath, verr.Violations)
	default:
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "failed to validate config", err)
	}
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, path string) error {
	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, Path: path})
	}

	fmt.Fprintln(formatter.Writer, "✓ Config valid")
	return nil
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, path string, violations []config.Violation) error {
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Path: path, Errors: violations},
			Error: &CLIError{
				Code:    ErrCodeConfig,
				Message: violations[0].Path + ": " + violations[0].Message,
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}

		// Validation failures = exit code 1
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(violations)))
	}

	// Text format
	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, v := range violations {
		fmt.Fprintf(formatter.Writer, "  %s: %s\n", v.Path, v.Message)
	}

	// Validation failures = exit code 1
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(violations)))
}
