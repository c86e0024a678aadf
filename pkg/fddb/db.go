package fddb

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/filedrop/filedrop/pkg/fddb/fdmodel"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SqliteInMemoryDSN builds the DSN for a named private in-memory database.
// The shared cache is scoped to the name, so each caller gets isolated
// rows. Callers must set MaxOpenConns to 1 on the underlying sql.DB or
// concurrent connections will each see their own empty database.
func SqliteInMemoryDSN(name string) string {
	return fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
}

func MakeDSNFromEnv() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		os.Getenv("DB_USERNAME"),
		os.Getenv("DB_PASSWORD"),
		os.Getenv("DB_HOST"),
		os.Getenv("DB_PORT"),
		os.Getenv("DB_DATABASE"))
}

const maxDBRetries = 5

// MustConnectToDB will attempt to connect to the database maxDBRetries times. If it isn't successful
// after that number of retries then it will call log.Fatalf(), which will cause the server to exit.
// Between retry attempts it will sleep for 3 seconds.
func MustConnectToDB() *gorm.DB {
	var (
		err error
		db  *gorm.DB
	)

	gormConfig := &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	}

	retryCount := 1
	for {
		db, err = gorm.Open(mysql.Open(MakeDSNFromEnv()), gormConfig)
		switch {
		case err == nil:
			// Connected to db, yay!
			return db
		case retryCount >= maxDBRetries:
			// Retry limit exceeded :-(
			log.Fatalf("Failed to open db (%s): %s", MakeDSNFromEnv(), err)
		default:
			// Couldn't connect, so increment count, then wait a bit before trying again.
			retryCount++
			time.Sleep(3 * time.Second)
		}
	}
}

// RunMigrations creates/updates the filedrop tables. The unique indexes it
// creates (share_code, session/sequence) are load bearing: the stor layer
// relies on them for share code allocation and idempotent chunk rows.
func RunMigrations(db *gorm.DB) error {
	return db.AutoMigrate(
		&fdmodel.User{},
		&fdmodel.FileRecord{},
		&fdmodel.UploadSession{},
		&fdmodel.FileChunk{},
		&fdmodel.DownloadLog{},
		&fdmodel.Setting{},
	)
}
