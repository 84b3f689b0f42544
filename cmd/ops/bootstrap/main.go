// Package main implements the bootstrap CLI for SubTrack deployments.
//
// It walks an operator through populating AWS SSM Parameter Store with the
// secrets the API, the reminder worker and the scheduler resolve at startup
// through their *_SSM_PARAM variables, then prints those variables for the
// deployment template.
//
// Usage:
//
//	go run ./cmd/ops/bootstrap --env=dev
//	go run ./cmd/ops/bootstrap --env=dev --export-env
//	go run ./cmd/ops/bootstrap --env=prod --profile=subtrack-prod --region=us-east-1
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

var validEnvironments = map[string]bool{
	"dev":     true,
	"staging": true,
	"prod":    true,
}

// Session is the identity and AWS configuration established at startup.
type Session struct {
	Environment string
	AWSProfile  string
	AWSRegion   string
	AccountID   string
	CallerARN   string
	AWSConfig   aws.Config
	Logger      *slog.Logger
}

func main() {
	envFlag := flag.String("env", "", "Target environment (dev/staging/prod) [required]")
	profileFlag := flag.String("profile", "", "AWS CLI profile (default: uses default credential chain)")
	regionFlag := flag.String("region", "us-east-1", "AWS region")
	skipOptional := flag.Bool("skip-optional", false, "Skip optional parameters without prompting")
	exportEnvFlag := flag.Bool("export-env", false, "After bootstrap, write the parameters to a .env file for local development")
	exportEnvPath := flag.String("export-env-path", ".env", "Path for the exported .env file")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "SubTrack Bootstrap Tool\n\n")
		fmt.Fprintf(os.Stderr, "Populates the SSM parameters required before the first deployment.\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  bootstrap --env=dev [--profile=NAME] [--region=REGION] [--export-env]\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if err := validateEnvironment(*envFlag); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n\n", err)
		flag.Usage()
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sess, err := initializeSession(ctx, *envFlag, *profileFlag, *regionFlag, logger)
	if err != nil {
		logger.Error("initialization failed", "error", err)
		os.Exit(1)
	}

	stdin := bufio.NewReader(os.Stdin)
	if sess.Environment == "prod" && !confirmProduction(sess, stdin, os.Stderr) {
		fmt.Fprintln(os.Stderr, "Aborted. No changes were made.")
		return
	}
	printBanner(sess, os.Stderr)

	runner := NewRunner(sess, stdin)
	runner.SkipOptional = *skipOptional
	if err := runner.Run(ctx); err != nil {
		logger.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}

	if *exportEnvFlag {
		err := ExportEnvFile(ctx, ExportEnvConfig{
			OutputPath:  *exportEnvPath,
			Environment: sess.Environment,
			SSM:         runner.SSM,
			Inventory:   runner.Inventory(),
		})
		if err != nil {
			logger.Error("failed to export .env file", "error", err)
			os.Exit(1)
		}
		logger.Info(".env file exported", "path", *exportEnvPath)
	}

	logger.Info("bootstrap completed",
		"env", sess.Environment,
		"account", sess.AccountID,
		"region", sess.AWSRegion,
	)
}

func validateEnvironment(env string) error {
	if env == "" {
		return fmt.Errorf("--env is required")
	}
	if !validEnvironments[env] {
		return fmt.Errorf("invalid environment %q (must be dev, staging, or prod)", env)
	}
	return nil
}

// initializeSession loads the AWS configuration and confirms the active
// identity with STS before anything is written.
func initializeSession(ctx context.Context, env, profile, region string, logger *slog.Logger) (*Session, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	identityCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	identity, err := sts.NewFromConfig(cfg).GetCallerIdentity(identityCtx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, fmt.Errorf("verifying AWS identity (profile %q, region %q): %w", profile, region, err)
	}

	sess := &Session{
		Environment: env,
		AWSProfile:  profile,
		AWSRegion:   region,
		AccountID:   aws.ToString(identity.Account),
		CallerARN:   aws.ToString(identity.Arn),
		AWSConfig:   cfg,
		Logger:      logger,
	}
	logger.Info("AWS identity verified", "account_id", sess.AccountID, "arn", sess.CallerARN)
	return sess, nil
}

// confirmProduction requires the operator to type "yes".
func confirmProduction(sess *Session, in *bufio.Reader, out io.Writer) bool {
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  WARNING: You are targeting the PRODUCTION environment")
	fmt.Fprintf(out, "  Account: %s\n", sess.AccountID)
	fmt.Fprintf(out, "  Region:  %s\n", sess.AWSRegion)
	fmt.Fprintf(out, "  ARN:     %s\n", sess.CallerARN)
	fmt.Fprint(out, "\nType 'yes' to continue: ")

	line, err := in.ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(line), "yes")
}

func printBanner(sess *Session, out io.Writer) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, "------------------------------------------------------------")
	fmt.Fprintln(out, "  SubTrack Bootstrap")
	fmt.Fprintln(out, "------------------------------------------------------------")
	fmt.Fprintf(out, "  Environment:  %s\n", sess.Environment)
	fmt.Fprintf(out, "  AWS Account:  %s\n", sess.AccountID)
	fmt.Fprintf(out, "  AWS Region:   %s\n", sess.AWSRegion)
	if sess.AWSProfile != "" {
		fmt.Fprintf(out, "  Profile:      %s\n", sess.AWSProfile)
	}
	fmt.Fprintf(out, "  SSM Prefix:   %s\n", ssmPrefix(sess.Environment))
	fmt.Fprintln(out, "------------------------------------------------------------")
}
