package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dsouzaAnush/heroku-code-mcp/internal/applog"
	"github.com/dsouzaAnush/heroku-code-mcp/internal/config"
	"github.com/dsouzaAnush/heroku-code-mcp/internal/heroku/catalog"
	"github.com/dsouzaAnush/heroku-code-mcp/internal/heroku/crypto"
	"github.com/dsouzaAnush/heroku-code-mcp/internal/heroku/executor"
	"github.com/dsouzaAnush/heroku-code-mcp/internal/heroku/facade"
	"github.com/dsouzaAnush/heroku-code-mcp/internal/heroku/oauthsvc"
	"github.com/dsouzaAnush/heroku-code-mcp/internal/heroku/tokenstore"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"

	cfgFile     string
	allowWrites bool

	rootCmd = &cobra.Command{
		Use:   "heroku-mcp",
		Short: "heroku-mcp - a tool server bridging an MCP host to the Heroku Platform API",
		Long: `heroku-mcp discovers the Heroku Platform API's hypermedia schema, exposes it as
a ranked search index, and executes individual operations on a caller's
behalf with validation, a write-confirmation gate, and credential vending.

This binary wires the search/execute/auth_status façade and brings the
catalog up to date; the MCP stdio/HTTP transport that calls into it is
owned by the embedding host, not this repository.`,
		RunE: run,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "optional YAML config file overlay")
	rootCmd.Flags().BoolVar(&allowWrites, "allow-writes", false, "permit mutating operations (overrides ALLOW_WRITES)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("heroku-mcp %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	})
}

func run(cmd *cobra.Command, args []string) error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Warning: failed to load .env file: %v\n", err)
	}

	cfg := config.Load(cfgFile)
	if cmd.Flags().Changed("allow-writes") {
		cfg.AllowWrites = allowWrites
	}

	log := applog.New("MAIN", cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	httpClient := &http.Client{Timeout: cfg.RequestTimeout}

	catalogSvc := catalog.New(cfg.SchemaURL, cfg.DocsURL, cfg.AcceptHeader, cfg.CatalogCachePath, httpClient, applog.New("CATALOG", cfg.LogLevel))
	catalogSvc.ColdBoot()
	if err := catalogSvc.EnsureReady(ctx); err != nil {
		log.Errorf("boot", "schema not ready: %v", err)
		return fmt.Errorf("schema catalog not ready: %w", err)
	}
	go catalogSvc.StartBackgroundRefresh(context.Background(), cfg.SchemaRefreshInterval)

	box, err := crypto.NewBox(cfg.TokenEncryptionKey)
	if err != nil {
		return fmt.Errorf("token encryption key: %w", err)
	}
	store := tokenstore.New(cfg.TokenStorePath, box)
	oauthSvc := oauthsvc.New(
		cfg.OAuthClientID,
		cfg.OAuthClientSecret,
		cfg.OAuthAuthorizeURL,
		cfg.OAuthTokenURL,
		cfg.OAuthRedirectURI,
		cfg.OAuthScope,
		store,
		applog.New("OAUTH", cfg.LogLevel),
	)
	go oauthSvc.SweepPending(context.Background(), time.Minute)

	exec := executor.New(
		catalogSvc.Lookup,
		catalogSvc.RootSchema,
		oauthSvc.AccessToken,
		httpClient,
		executor.Config{
			APIBaseURL:       cfg.APIBaseURL,
			AcceptHeader:     cfg.AcceptHeader,
			AllowWrites:      cfg.AllowWrites,
			RequestTimeout:   cfg.RequestTimeout,
			MaxRetries:       cfg.MaxRetries,
			ReadCacheTTL:     cfg.ReadCacheTTL,
			MaxBodyBytes:     cfg.ExecuteMaxBodyBytes,
			BodyPreviewChars: cfg.ExecuteBodyPreviewChars,
			ConfirmSecret:    []byte(cfg.WriteConfirmationSecret),
			UpstreamRPS:      cfg.UpstreamRPS,
		},
		applog.New("EXECUTOR", cfg.LogLevel),
	)

	f := facade.New(catalogSvc, oauthSvc, exec, cfg.UserIDHeader, applog.New("FACADE", cfg.LogLevel))

	ops := catalogSvc.Operations()
	log.Infof("ready", "catalog loaded with %d operations, allow_writes=%v", len(ops), cfg.AllowWrites)
	for _, tool := range f.ToolManifest() {
		log.Infof("ready", "advertising tool %q: %s", tool.Name, tool.Description)
	}

	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
