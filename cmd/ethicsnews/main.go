package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TobiSchelling/EthicsNews/internal/classify"
	"github.com/TobiSchelling/EthicsNews/internal/collect"
	"github.com/TobiSchelling/EthicsNews/internal/config"
	"github.com/TobiSchelling/EthicsNews/internal/database"
	"github.com/TobiSchelling/EthicsNews/internal/logger"
	"github.com/TobiSchelling/EthicsNews/internal/postgres"
	"github.com/TobiSchelling/EthicsNews/internal/refresh"
	"github.com/TobiSchelling/EthicsNews/internal/server"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
	log        *zap.Logger
)

// store is what the commands need from either storage backend.
type store interface {
	refresh.Store
	server.Directory
	AddCompany(ctx context.Context, c database.Company) error
	ListCompanies(ctx context.Context) ([]string, error)
	Stats(ctx context.Context) (*database.Stats, error)
	Close() error
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "ethicsnews",
	Short:   "Company ethics news",
	Long:    "ethicsnews serves news about companies, classified by ethics category and cached locally.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		log, err = logger.New(level, cfg.Logging.Format)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			_ = log.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(articlesCmd)
	rootCmd.AddCommand(categoriesCmd)
	rootCmd.AddCommand(companiesCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("ethicsnews", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/ethicsnews/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Set the GNEWS_API_KEY environment variable before serving.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database and system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		stats, err := st.Stats(ctx)
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Printf("Storage: %s\n", cfg.Storage.Driver)
		if cfg.APIKey() == "" {
			fmt.Printf("Provider: not configured (%s unset)\n\n", cfg.GNews.APIKeyEnv)
		} else {
			fmt.Printf("Provider: %s\n\n", cfg.GNews.BaseURL)
		}
		fmt.Println("Cache:")
		fmt.Printf("  Companies: %d\n", stats.Companies)
		fmt.Printf("  Articles: %d\n", stats.Articles)
		fmt.Printf("  Company associations: %d\n", stats.Associations)
		fmt.Printf("  Categorized: %d\n", stats.Categorized)
		fmt.Printf("  Fetched pairs: %d\n", stats.FoundPairs)
		if stats.LastRefresh != nil {
			fmt.Printf("  Last refresh: %s\n", stats.LastRefresh.Local().Format(time.RFC1123))
		} else {
			fmt.Println("  Last refresh: never")
		}
		return nil
	},
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if cmd.Flags().Changed("port") {
			cfg.Server.Port = servePort
		}

		srv := server.New(newPolicy(st), st, server.Options{
			RequestTimeout: cfg.Server.RequestTimeout,
			Logger:         log.Named("server"),
		})

		fmt.Printf("Serving at http://%s\n", cfg.ListenAddr())
		fmt.Println("Press Ctrl+C to stop")
		return srv.ListenAndServe(ctx, cfg.ListenAddr())
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8000, "Port to run server on")
}

// --- articles command ---

var (
	articlesPage     int
	articlesCategory string
)

var articlesCmd = &cobra.Command{
	Use:   "articles <company>",
	Short: "Print one page of a company's articles, fetching if needed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		articles, err := newPolicy(st).FetchPage(ctx, args[0], articlesPage, articlesCategory)
		if err != nil {
			return err
		}

		if len(articles) == 0 {
			fmt.Println("No articles.")
			return nil
		}
		for _, a := range articles {
			fmt.Printf("%s  %s\n", a.PublishedAt.Format("2006-01-02"), a.Title)
			fmt.Printf("            %s | %s\n", a.Source, strings.Join(a.Categories, ", "))
			fmt.Printf("            %s\n", a.URL)
		}
		return nil
	},
}

func init() {
	articlesCmd.Flags().IntVar(&articlesPage, "page", 1, "Page number")
	articlesCmd.Flags().StringVar(&articlesCategory, "category", "", "Ethics category (default: all)")
}

var categoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "List the ethics categories",
	Run: func(cmd *cobra.Command, args []string) {
		for _, name := range classify.Names() {
			fmt.Println(name)
		}
	},
}

// --- companies command ---

var companiesCmd = &cobra.Command{
	Use:   "companies",
	Short: "Manage the company directory",
}

var companiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all companies",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		names, err := st.ListCompanies(ctx)
		if err != nil {
			return err
		}
		if len(names) == 0 {
			fmt.Println("No companies defined. Add one with: ethicsnews companies add")
			return nil
		}
		for _, n := range names {
			fmt.Println(n)
		}
		return nil
	},
}

var companiesSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search companies by name or alias",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		names, err := st.SearchCompanies(ctx, args[0], 0)
		if err != nil {
			return err
		}
		for _, n := range names {
			fmt.Println(n)
		}
		return nil
	},
}

var companiesShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show a company's directory entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		c, err := st.GetCompany(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Println(c.Name)
		if c.Description != "" {
			fmt.Printf("  %s\n", c.Description)
		}
		if c.Website != "" {
			fmt.Printf("  Website: %s\n", c.Website)
		}
		if c.Logo != "" {
			fmt.Printf("  Logo: %s\n", c.Logo)
		}
		if len(c.Industries) > 0 {
			fmt.Printf("  Industries: %s\n", strings.Join(c.Industries, ", "))
		}
		if len(c.Aliases) > 0 {
			fmt.Printf("  Aliases: %s\n", strings.Join(c.Aliases, ", "))
		}
		return nil
	},
}

var companyInput database.Company

var companiesAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add or update a company",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		c := companyInput
		c.Name = strings.TrimSpace(args[0])
		if c.Name == "" {
			return errors.New("company name must not be empty")
		}
		if err := st.AddCompany(ctx, c); err != nil {
			return err
		}
		fmt.Printf("Saved company: %s\n", c.Name)
		return nil
	},
}

func init() {
	companiesAddCmd.Flags().StringVar(&companyInput.Description, "description", "", "Short description")
	companiesAddCmd.Flags().StringVar(&companyInput.Website, "website", "", "Website URL")
	companiesAddCmd.Flags().StringVar(&companyInput.Logo, "logo", "", "Logo URL")
	companiesAddCmd.Flags().StringSliceVar(&companyInput.Industries, "industry", nil, "Industry (repeatable)")
	companiesAddCmd.Flags().StringSliceVar(&companyInput.Aliases, "alias", nil, "Alternative name (repeatable)")

	companiesCmd.AddCommand(companiesListCmd)
	companiesCmd.AddCommand(companiesSearchCmd)
	companiesCmd.AddCommand(companiesShowCmd)
	companiesCmd.AddCommand(companiesAddCmd)
}

func openStore(ctx context.Context) (store, error) {
	switch cfg.Storage.Driver {
	case "postgres":
		url := cfg.PostgresURL()
		if url == "" {
			return nil, fmt.Errorf("storage.driver is postgres but %s is not set", cfg.Storage.PostgresURLEnv)
		}
		st, err := postgres.Connect(ctx, url,
			postgres.WithPageSize(cfg.Cache.PageSize),
			postgres.WithLogger(log.Named("postgres")))
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		dbPath := filepath.Join(cfg.GetDataDir(), "ethicsnews.db")
		db, err := database.Open(dbPath,
			database.WithPageSize(cfg.Cache.PageSize),
			database.WithLogger(log.Named("database")))
		if err != nil {
			return nil, err
		}
		return db, nil
	}
}

func newPolicy(st refresh.Store) *refresh.Policy {
	client := collect.NewGNewsClient(collect.Options{
		BaseURL:  cfg.GNews.BaseURL,
		APIKey:   cfg.APIKey(),
		Language: cfg.GNews.Language,
		PageSize: cfg.Cache.PageSize,
		Timeout:  cfg.GNews.Timeout,
		RetryMax: cfg.GNews.RetryMax,
		Logger:   log.Named("gnews"),
	})

	interval := cfg.Cache.MinFetchInterval
	if interval == 0 {
		// zero in the config file means no pacing
		interval = -1
	}

	return refresh.New(st, client, refresh.Options{
		PageSize:         cfg.Cache.PageSize,
		StaleAfter:       cfg.Cache.StaleAfter,
		MinFetchInterval: interval,
		FetchTimeout:     cfg.Cache.FetchTimeout,
		Logger:           log.Named("refresh"),
	})
}
