package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Source describes how a step obtains its value.
type Source int

const (
	SourcePrompt Source = iota
	SourceGenerated
	SourceFixed
)

// Step is one parameter of the inventory.
type Step struct {
	Label string
	// Key is the path below the environment prefix, e.g. "database/url".
	Key string
	// EnvVar is the configuration variable the parameter feeds; services
	// reference it as EnvVar+"_SSM_PARAM".
	EnvVar   string
	Secure   bool
	Source   Source
	Fixed    string
	Prompt   string
	Validate func(ctx context.Context, input string) ValidationResult
	Masked   bool
	Optional bool
}

const maxRetries = 5

var errSkipped = errors.New("parameter skipped by operator")

// BuildInventory lists the parameters a deployment resolves from SSM.
func BuildInventory(v *Validator) []Step {
	return []Step{
		{
			Label:    "Database URL",
			Key:      "database/url",
			EnvVar:   "DATABASE_URL",
			Secure:   true,
			Source:   SourcePrompt,
			Prompt:   "Paste the postgres:// connection string for the subscriptions database:",
			Validate: v.ValidateDatabaseURL,
			Masked:   true,
		},
		{
			Label:    "SendGrid API Key (optional with EMAIL_PROVIDER=ses)",
			Key:      "email/sendgrid_api_key",
			EnvVar:   "SENDGRID_API_KEY",
			Secure:   true,
			Source:   SourcePrompt,
			Prompt:   "Paste a SendGrid API key with Mail Send scope (or press Enter to skip):",
			Validate: v.ValidateSendGridKey,
			Masked:   true,
			Optional: true,
		},
		{
			Label:  "JWT Signing Secret",
			Key:    "auth/jwt_secret",
			EnvVar: "JWT_SECRET",
			Secure: true,
			Source: SourceGenerated,
		},
		{
			Label:  "Workflow Callback Secret",
			Key:    "auth/callback_secret",
			EnvVar: "WORKFLOW_CALLBACK_SECRET",
			Secure: true,
			Source: SourceGenerated,
		},
	}
}

// Runner walks the inventory: existing parameters are kept, missing ones
// are prompted for or generated, validated and written.
type Runner struct {
	SSM          *SSMManager
	Validator    *Validator
	In           *bufio.Reader
	Out          io.Writer
	SkipOptional bool

	// stdinFD enables masked input when it refers to a terminal; -1 disables.
	stdinFD   int
	inventory []Step
}

// NewRunner creates a Runner with production dependencies.
func NewRunner(sess *Session, in *bufio.Reader) *Runner {
	return &Runner{
		SSM:       NewSSMManager(sess),
		Validator: NewValidator(),
		In:        in,
		Out:       os.Stderr,
		stdinFD:   int(os.Stdin.Fd()),
	}
}

// Inventory returns the steps the runner processes.
func (r *Runner) Inventory() []Step {
	if r.inventory == nil {
		r.inventory = BuildInventory(r.Validator)
	}
	return r.inventory
}

type outcome string

const (
	outcomeWritten outcome = "written"
	outcomeExists  outcome = "exists"
	outcomeSkipped outcome = "skipped"
)

type stepResult struct {
	step    Step
	path    string
	outcome outcome
}

// Run processes every step and prints a summary with the *_SSM_PARAM
// variables to configure on the services.
func (r *Runner) Run(ctx context.Context) error {
	steps := r.Inventory()
	results := make([]stepResult, 0, len(steps))

	for i, step := range steps {
		fmt.Fprintf(r.Out, "\n[%d/%d] %s\n", i+1, len(steps), step.Label)
		res, err := r.processStep(ctx, step)
		if err != nil {
			return fmt.Errorf("step %q failed: %w", step.Label, err)
		}
		results = append(results, res)
	}

	r.printSummary(results)
	return nil
}

func (r *Runner) processStep(ctx context.Context, step Step) (stepResult, error) {
	res := stepResult{step: step, path: r.SSM.Path(step.Key)}

	exists, err := r.SSM.Exists(ctx, res.path)
	if err != nil {
		return res, err
	}
	if exists {
		fmt.Fprintf(r.Out, "  already set at %s, keeping it\n", res.path)
		res.outcome = outcomeExists
		return res, nil
	}

	var value string
	switch step.Source {
	case SourceGenerated:
		value, err = GenerateSecureToken()
	case SourceFixed:
		value = step.Fixed
	default:
		if step.Optional && r.SkipOptional {
			res.outcome = outcomeSkipped
			return res, nil
		}
		value, err = r.promptAndValidate(ctx, step)
		if errors.Is(err, errSkipped) {
			res.outcome = outcomeSkipped
			return res, nil
		}
	}
	if err != nil {
		return res, err
	}

	if err := r.SSM.Put(ctx, res.path, value, step.Secure, false); err != nil {
		return res, err
	}
	res.outcome = outcomeWritten
	return res, nil
}

func (r *Runner) promptAndValidate(ctx context.Context, step Step) (string, error) {
	for attempt := 1; attempt <= maxRetries; attempt++ {
		fmt.Fprintf(r.Out, "  %s\n  > ", step.Prompt)

		var input string
		var err error
		if step.Masked {
			input, err = r.readMasked()
		} else {
			input, err = r.readLine()
		}
		if err != nil {
			return "", err
		}

		if input == "" {
			if step.Optional {
				return "", errSkipped
			}
			fmt.Fprintln(r.Out, "  a value is required")
			continue
		}

		if step.Validate == nil {
			return input, nil
		}
		result := step.Validate(ctx, input)
		if result.Valid {
			fmt.Fprintf(r.Out, "  ok: %s\n", result.Message)
			return input, nil
		}
		fmt.Fprintf(r.Out, "  invalid: %s (attempt %d/%d)\n", result.Message, attempt, maxRetries)
	}
	return "", fmt.Errorf("no valid value after %d attempts", maxRetries)
}

func (r *Runner) readLine() (string, error) {
	line, err := r.In.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func (r *Runner) readMasked() (string, error) {
	if r.stdinFD < 0 || !term.IsTerminal(r.stdinFD) {
		return r.readLine()
	}
	raw, err := term.ReadPassword(r.stdinFD)
	fmt.Fprintln(r.Out)
	if err != nil {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

func (r *Runner) printSummary(results []stepResult) {
	fmt.Fprintln(r.Out, "\n------------------------------------------------------------")
	fmt.Fprintln(r.Out, "  Summary")
	fmt.Fprintln(r.Out, "------------------------------------------------------------")
	for _, res := range results {
		fmt.Fprintf(r.Out, "  %-8s %s\n", res.outcome, res.path)
	}
	fmt.Fprintln(r.Out, "\n  Service environment:")
	for _, res := range results {
		if res.outcome == outcomeSkipped {
			continue
		}
		fmt.Fprintf(r.Out, "  %s_SSM_PARAM=%s\n", res.step.EnvVar, res.path)
	}
}
