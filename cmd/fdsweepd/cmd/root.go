package cmd

import (
	"os"
	"time"

	"github.com/apex/log"
	"github.com/filedrop/filedrop/pkg/config"
	"github.com/filedrop/filedrop/pkg/fddb"
	"github.com/filedrop/filedrop/pkg/fddb/stor"
	"github.com/filedrop/filedrop/pkg/transfer"
	"github.com/spf13/cobra"
)

var sweepInterval time.Duration

var rootCmd = &cobra.Command{
	Use:   "fdsweepd",
	Short: "Sweep expired files and reclaim abandoned upload sessions",
	Long: `fdsweepd deletes files whose expiry has passed (bytes first, then the
record) and reclaims the partial chunk storage of upload sessions with no
recent activity. With --interval it keeps running, sweeping on that cadence;
without it, it sweeps once and exits.`,
	Run: func(cmd *cobra.Command, args []string) {
		c := config.MustLoadFromFdropDotenv()

		db := fddb.MustConnectToDB()
		storageRoot := c.MustGetKey("FDROP_STORAGE_ROOT")

		stors := stor.NewGormStors(db)
		retention := transfer.NewRetentionEngine(stors, storageRoot)
		assembler := transfer.NewChunkAssembler(stors, storageRoot, transfer.DefaultServiceConfig())

		inactivity := c.GetDurationKeyWithDefault("FDROP_SESSION_INACTIVITY", 24*time.Hour)

		sweep(retention, assembler, inactivity)

		for sweepInterval > 0 {
			time.Sleep(sweepInterval)
			sweep(retention, assembler, inactivity)
		}
	},
}

func sweep(retention *transfer.RetentionEngine, assembler *transfer.ChunkAssembler, inactivity time.Duration) {
	result, err := retention.SweepExpired()
	if err != nil {
		log.Errorf("Expired file sweep failed: %s", err)
	} else {
		log.Infof("Swept %d expired files, freed %d bytes", result.DeletedCount, result.FreedBytes)
	}

	reclaimed, err := assembler.ReclaimAbandoned(inactivity)
	if err != nil {
		log.Errorf("Session reclaim failed: %s", err)
	} else {
		log.Infof("Reclaimed %d abandoned upload sessions", reclaimed)
	}
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().DurationVar(&sweepInterval, "interval", 0, "Sweep repeatedly on this interval (0 = sweep once and exit)")
}
