package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/KAsare1/teleconsult-server/cmd/api"
	"github.com/KAsare1/teleconsult-server/cmd/config"
	"github.com/KAsare1/teleconsult-server/cmd/utils"
	"github.com/KAsare1/teleconsult-server/db"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "teleconsult",
		Short:        "Teleconsultation booking and call server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
	root.AddCommand(serveCmd(), migrateCmd(), clearDBCmd(), tokenCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update database tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(func(DB *gorm.DB, log *logrus.Logger) error {
				return db.Migrate(DB, log)
			})
		},
	}
}

func clearDBCmd() *cobra.Command {
	var tables []string
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear-db",
		Short: "Drop database tables",
		Long:  "Drop the given tables, or all of them. Known tables: " + strings.Join(db.TableNames(), ", "),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				fmt.Print("Are you sure you want to clear the database? (yes/no): ")
				answer, _ := bufio.NewReader(os.Stdin).ReadString('\n')
				if strings.TrimSpace(answer) != "yes" {
					fmt.Println("Database clearing cancelled.")
					return nil
				}
			}
			return withDatabase(func(DB *gorm.DB, log *logrus.Logger) error {
				if err := db.ClearTables(DB, log, tables); err != nil {
					return err
				}
				log.Info("Database cleared successfully")
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&tables, "tables", nil, "comma separated table names (default all)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

// tokenCmd issues an access token for local testing.
func tokenCmd() *cobra.Command {
	var userID uint
	var role string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an access token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if userID == 0 {
				return fmt.Errorf("--user is required")
			}
			token, err := utils.SignToken(cfg.SecretKey, userID, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().UintVar(&userID, "user", 0, "user id")
	cmd.Flags().StringVar(&role, "role", "patient", "patient, doctor or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func withDatabase(fn func(*gorm.DB, *logrus.Logger) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := utils.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if cfg.StorageDriver != "postgres" {
		return fmt.Errorf("STORAGE_DRIVER=%s has no database to manage", cfg.StorageDriver)
	}

	DB, err := db.NewPSQLStorage(cfg)
	if err != nil {
		log.WithError(err).Error("Database initialization error")
		return err
	}
	defer func() {
		db.Close(DB)
		log.Info("Database connection closed")
	}()
	return fn(DB, log)
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := utils.NewLogger(cfg.LogLevel, cfg.LogFormat)

	var DB *gorm.DB
	if cfg.StorageDriver == "postgres" {
		DB, err = db.NewPSQLStorage(cfg)
		if err != nil {
			log.WithError(err).Error("Database initialization error")
			return err
		}
		defer func() {
			db.Close(DB)
			log.Info("Database connection closed")
		}()
		log.Info("Connected to the database")
	} else {
		log.Warn("Using in-memory storage, data is lost on restart")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return api.NewApiServer(cfg, DB, log).Run(ctx)
}
