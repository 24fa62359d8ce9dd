package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"recoverydispatch/internal/buildinfo"
	"recoverydispatch/internal/config"
	"recoverydispatch/internal/eta"
	"recoverydispatch/internal/logging"
	"recoverydispatch/internal/model"
	"recoverydispatch/internal/opt"
	"recoverydispatch/internal/store/migrate"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "dispatchctl",
		Short:         "Recovery dispatch tooling",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newOptimizeCmd(), newPoliciesCmd(), newMigrateCmd(), newVersionCmd())
	return root
}

func loadConfig() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, log, nil
}

func newOptimizeCmd() *cobra.Command {
	var file, now, provider string
	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Run the optimizer on a request file and print the result as JSON.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			if provider == "" {
				provider = cfg.ETA.Provider
			}
			req, err := readRequest(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}
			clock := time.Now()
			if now != "" {
				if clock, err = time.Parse(time.RFC3339, now); err != nil {
					return fmt.Errorf("--now: %w", err)
				}
			}
			p, err := eta.NewProvider(provider, cfg.ETA.GoogleKey, cfg.ETA.RateRPS, log.Named("eta"))
			if err != nil {
				return err
			}
			o := opt.New(p, log.Named("opt"))
			in := opt.ResolveInput(req, cfg.BasePolicies(), clock)
			if now != "" {
				in.Now = clock
			}
			res, runErr := o.Run(cmd.Context(), in)
			var ve *opt.ValidationError
			if errors.As(runErr, &ve) || errors.Is(runErr, opt.ErrNoJobs) || errors.Is(runErr, opt.ErrNoVehicles) {
				return runErr
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
			return runErr
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "request JSON file, - for stdin")
	cmd.Flags().StringVar(&now, "now", "", "RFC3339 clock; wins over the request now (default: request now or current time)")
	cmd.Flags().StringVar(&provider, "provider", "", "eta provider: haversine or google (default from config)")
	return cmd
}

func readRequest(stdin io.Reader, file string) (model.RunRequest, error) {
	var req model.RunRequest
	r := stdin
	if file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return req, err
		}
		defer f.Close()
		r = f
	}
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return req, fmt.Errorf("decode request: %w", err)
	}
	return req, nil
}

func newPoliciesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "policies",
		Short: "Print the effective default policies as YAML.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			defer enc.Close()
			return enc.Encode(map[string]model.Policies{"policies": cfg.BasePolicies()})
		},
	}
}

func newMigrateCmd() *cobra.Command {
	var dir string
	var steps int
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back database migrations.",
	}
	cmd.PersistentFlags().StringVar(&dir, "dir", "", "directory containing the migration files (default from config)")
	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.MigrationsDir
			}
			return migrate.Up(cfg.DatabaseURL, dir, log)
		},
	}
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.MigrationsDir
			}
			return migrate.Down(cfg.DatabaseURL, dir, steps, log)
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	cmd.AddCommand(up, down)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information.",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), buildinfo.String())
		},
	}
}
