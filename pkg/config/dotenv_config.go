package config

import (
	"os"
	"strconv"
	"time"

	"github.com/apex/log"
	"github.com/subosito/gotenv"
)

// DotenvConfig loads configuration from a dotenv file into the environment
// and answers lookups from the environment. The daemons point it at
// FDROP_DOTENV_PATH.
type DotenvConfig struct {
	DotenvPath string
}

func NewDotenvConfig(path string) *DotenvConfig {
	return &DotenvConfig{DotenvPath: path}
}

func (c *DotenvConfig) LoadFromPath(path string) error {
	c.DotenvPath = path
	return gotenv.Load(c.DotenvPath)
}

func (c *DotenvConfig) Load() error {
	return gotenv.Load(c.DotenvPath)
}

func (c *DotenvConfig) GetKey(key string) string {
	return os.Getenv(key)
}

func (c *DotenvConfig) MustGetKey(key string) string {
	val := c.GetKey(key)
	if val == "" {
		log.Fatalf("No such required config key: '%s'", key)
	}

	return val
}

func (c *DotenvConfig) GetKeyWithDefault(key, defaultValue string) string {
	val := c.GetKey(key)
	if val == "" {
		return defaultValue
	}

	return val
}

func (c *DotenvConfig) GetIntKey(key string) int {
	val := c.GetKey(key)
	intVal, err := strconv.Atoi(val)
	if err != nil {
		return 0
	}

	return intVal
}

func (c *DotenvConfig) MustGetIntKey(key string) int {
	val := c.GetKey(key)
	intVal, err := strconv.Atoi(val)
	if err != nil {
		log.Fatalf("Required config key either doesn't exist or isn't an int: '%s': %s", key, err)
	}

	return intVal
}

func (c *DotenvConfig) GetIntKeyWithDefault(key string, defaultValue int) int {
	val := c.GetKey(key)
	intVal, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func (c *DotenvConfig) GetInt64KeyWithDefault(key string, defaultValue int64) int64 {
	val := c.GetKey(key)
	int64Val, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return defaultValue
	}

	return int64Val
}

func (c *DotenvConfig) GetDurationKeyWithDefault(key string, defaultValue time.Duration) time.Duration {
	val := c.GetKey(key)
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultValue
	}

	return d
}
