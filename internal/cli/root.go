// Package cli implements the evidence-cli operator commands.
package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/theftclaim-api/internal/apiclient"
	"github.com/noah-isme/theftclaim-api/internal/ingest"
	"github.com/noah-isme/theftclaim-api/internal/models"
)

// BuildInfo identifies the running binary.
type BuildInfo struct {
	Version string
	Commit  string
}

// remote is everything the ingest command needs from the API.
type remote interface {
	ingest.RecordCreator
	ingest.EvidenceUploader
	Profile(ctx context.Context) (*models.UserInfo, error)
}

type remoteFactory func(profile Profile) (remote, error)

type commandContext struct {
	profilePath string
	apiURL      string
	token       string
	timeout     string
	parallelism int
	verbose     bool

	newRemote remoteFactory
	colored   func(io.Writer) bool
}

// NewRootCommand builds the evidence-cli command tree.
func NewRootCommand(info BuildInfo) *cobra.Command {
	return newRootCommand(info, &commandContext{newRemote: newAPIRemote, colored: isTerminal})
}

func newRootCommand(info BuildInfo, ctx *commandContext) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "evidence-cli",
		Short:         "Bulk evidence ingestion for theft claims",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&ctx.profilePath, "config", "c", "", "Profile file path (default "+defaultProfilePath+")")
	flags.StringVar(&ctx.apiURL, "api-url", "", "API base URL including the version prefix")
	flags.StringVar(&ctx.token, "token", "", "Bearer token")
	flags.StringVar(&ctx.timeout, "timeout", "", "Per-file transfer timeout, e.g. 2m")
	flags.IntVar(&ctx.parallelism, "parallelism", 0, "Destinations processed concurrently")
	flags.BoolVarP(&ctx.verbose, "verbose", "v", false, "Log pipeline progress to stderr")

	rootCmd.AddCommand(newIngestCommand(ctx))
	rootCmd.AddCommand(newVersionCommand(info))
	return rootCmd
}

// profile loads the profile file and applies flag overrides.
func (c *commandContext) profile(cmd *cobra.Command) (Profile, error) {
	profile, _, err := LoadProfile(c.profilePath)
	if err != nil {
		return profile, err
	}
	flags := cmd.Flags()
	if flags.Changed("api-url") {
		profile.APIURL = c.apiURL
	}
	if flags.Changed("token") {
		profile.Token = c.token
	}
	if flags.Changed("timeout") {
		profile.Timeout = c.timeout
	}
	if flags.Changed("parallelism") {
		profile.Parallelism = c.parallelism
	}
	if err := profile.Validate(); err != nil {
		return profile, err
	}
	if profile.Token == "" {
		return profile, fmt.Errorf("no token configured: set token in the profile or pass --token")
	}
	return profile, nil
}

func (c *commandContext) logger(cmd *cobra.Command) *zap.Logger {
	if !c.verbose {
		return zap.NewNop()
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.OutputPaths = []string{"stderr"}
	logger, err := cfg.Build()
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "logger unavailable: %v\n", err)
		return zap.NewNop()
	}
	return logger
}

func newAPIRemote(profile Profile) (remote, error) {
	return apiclient.New(apiclient.Options{BaseURL: profile.APIURL, Token: profile.Token})
}
