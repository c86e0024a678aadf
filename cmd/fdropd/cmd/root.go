package cmd

import (
	"os"

	"github.com/apex/log"
	"github.com/filedrop/filedrop/pkg/config"
	"github.com/filedrop/filedrop/pkg/fddb"
	"github.com/filedrop/filedrop/pkg/fddb/stor"
	"github.com/filedrop/filedrop/pkg/transfer"
	"github.com/filedrop/filedrop/pkg/wserv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
)

var runMigrations bool

var rootCmd = &cobra.Command{
	Use:   "fdropd",
	Short: "Run the filedrop API server",
	Long:  ``,
	Run: func(cmd *cobra.Command, args []string) {
		c := config.MustLoadFromFdropDotenv()

		db := fddb.MustConnectToDB()
		if runMigrations {
			if err := fddb.RunMigrations(db); err != nil {
				log.Fatalf("Unable to run migrations: %s", err)
			}
		}

		storageRoot := c.MustGetKey("FDROP_STORAGE_ROOT")
		log.Infof("Storage root: %s", storageRoot)

		stors := stor.NewGormStors(db)
		hub := wserv.NewHub(stors.UserStor)
		go hub.Run()

		service := transfer.NewTransferService(stors, storageRoot, serviceConfigFromEnv(c), hub)

		e := echo.New()
		e.HideBanner = true
		e.HidePort = true
		e.Use(middleware.Recover())

		setupRoutes(e, RouteOpts{
			service: service,
			stors:   stors,
			hub:     hub,
		})

		if err := e.Start(":" + c.GetKeyWithDefault("FDROP_PORT", "1350")); err != nil {
			log.Fatalf("Unable to start server: %s", err)
		}
	},
}

func serviceConfigFromEnv(c config.Configer) transfer.ServiceConfig {
	cfg := transfer.DefaultServiceConfig()
	cfg.MaxFileSize = c.GetInt64KeyWithDefault("FDROP_MAX_FILE_SIZE", cfg.MaxFileSize)
	cfg.MaxChunkSize = c.GetInt64KeyWithDefault("FDROP_MAX_CHUNK_SIZE", cfg.MaxChunkSize)
	cfg.DefaultExpiry = c.GetDurationKeyWithDefault("FDROP_DEFAULT_EXPIRY", cfg.DefaultExpiry)
	cfg.SessionInactivity = c.GetDurationKeyWithDefault("FDROP_SESSION_INACTIVITY", cfg.SessionInactivity)
	return cfg
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().BoolVar(&runMigrations, "migrate", false, "Run database migrations on startup")
}
