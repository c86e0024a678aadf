package config

import (
	"os"
	"path/filepath"

	"github.com/apex/log"
	"github.com/mitchellh/go-homedir"
)

// MustLoadFromFdropDotenv loads the dotenv file the daemons run from. The
// path comes from FDROP_DOTENV_PATH, defaulting to ~/.filedrop/env. A
// missing file is fine; configuration may be set directly in the
// environment.
func MustLoadFromFdropDotenv() Configer {
	path := os.Getenv("FDROP_DOTENV_PATH")
	if path == "" {
		home, err := homedir.Dir()
		if err != nil {
			log.Fatalf("Unable to determine home directory: %s", err)
		}
		path = filepath.Join(home, ".filedrop", "env")
	}

	c := NewDotenvConfig(path)
	if err := c.Load(); err != nil {
		if !os.IsNotExist(err) {
			log.Fatalf("Unable to load dotenv file %s: %s", path, err)
		}
	}

	SetConfig(c)

	return c
}
