package main

import (
	"fmt"
	"io/ioutil"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

const envVarPrefix = "BLOCKFS"

// Config holds mkvolume's parameters, loadable from a YAML file and then
// overridden by BLOCKFS_* environment variables, matching the layered
// config pattern of the teacher's cmd/auth.Config/LoadConfig.
type Config struct {
	Device        string `envconfig:"BLOCKFS_DEVICE"         yaml:"device"`
	SectorCount   uint32 `envconfig:"BLOCKFS_SECTOR_COUNT"   yaml:"sectorCount"`
	CacheCapacity int    `envconfig:"BLOCKFS_CACHE_CAPACITY" yaml:"cacheCapacity"`
}

// LoadConfig reads configFile if it exists, then applies any BLOCKFS_*
// environment overrides on top. A missing configFile is not an error.
func LoadConfig(configFile string) (*Config, error) {
	// defaults are set here rather than as envconfig `default` tags, which
	// would overwrite values read from the YAML file whenever the matching
	// environment variable is unset.
	c := Config{SectorCount: 4096, CacheCapacity: 64}

	if configFile != "" {
		data, err := ioutil.ReadFile(configFile)
		switch {
		case err == nil:
			if err := yaml.UnmarshalStrict(data, &c); err != nil {
				return nil, fmt.Errorf("unmarshaling config file: %w", err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	if err := envconfig.Process(envVarPrefix, &c); err != nil {
		return nil, fmt.Errorf("parsing environment variables: %w", err)
	}
	return &c, nil
}
