package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/bunbase/bunbase/internal/config"
	"github.com/bunbase/bunbase/internal/database"
	"github.com/bunbase/bunbase/internal/schema"
	"github.com/bunbase/bunbase/internal/server"
)

var (
	serverPort int
	serverHost string
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the bunbase server",
	Long: `Start the bunbase server.

On startup the server:
 - Opens the SQLite database and applies internal system migrations
 - Loads the collection registry from _collections/_fields
 - Ensures a first admin exists (logged once)
 - Serves the dynamic REST, realtime and admin HTTP surface`,
	RunE: runServer,
}

func init() {
	serverCmd.Flags().IntVarP(&serverPort, "port", "p", 0, "port to listen on (overrides config)")
	serverCmd.Flags().StringVar(&serverHost, "host", "", "host to bind to (overrides config)")

	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, watcher, err := config.LoadWithWatch(config.LoadOptions{ConfigFile: cfgFile})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if cmd.Flags().Changed("port") {
		cfg.Server.Port = serverPort
	}
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = serverHost
	}

	if cfg.Dev.Enabled {
		watcher.Watch(func(reloaded *config.Config, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("config file changed but failed to reload")
				return
			}
			log.Info().Msg("config file changed on disk; restart to pick up the new values")
		})
	}

	db, err := database.Open(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	registry := schema.NewRegistry(db)
	if err := registry.Load(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("failed to load collection registry")
	}
	log.Info().Int("collections", len(registry.ListCollections())).Msg("collection registry loaded")

	srv, err := server.New(cfg, db, registry)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to assemble server")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info().Msg("shutdown signal received")
		cancel()
		_ = srv.Shutdown(context.Background())
	}()

	logServerInfo(cfg, registry)

	if err := srv.Start(ctx); err != nil {
		log.Error().Err(err).Msg("server error")
		return err
	}

	<-ctx.Done()
	return nil
}

func logServerInfo(cfg *config.Config, registry *schema.Registry) {
	log.Info().Str("url", "http://"+cfg.Server.Address).Msg("server started")

	for _, col := range registry.ListCollections() {
		log.Info().
			Str("collection", col.Name).
			Str("endpoint", "http://"+cfg.Server.Address+"/api/collections/"+col.Name+"/records").
			Msg("collection endpoint")
	}

	if cfg.Realtime.Enabled {
		log.Info().
			Str("sse", "http://"+cfg.Server.Address+"/api/realtime").
			Msg("realtime endpoint")
	}

	if cfg.AdminUI.Enabled {
		log.Info().
			Str("admin", "http://"+cfg.Server.Address+cfg.AdminUI.Path).
			Msg("admin UI")
	}
}
