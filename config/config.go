// Package config loads client settings from the environment, so that
// deployments can point the library at an instance without threading
// the URL and API key through application code.
package config

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/osohq/go-oso-cloud/log"
)

const (
	// URLSetting is the name of the setting for the API base URL
	URLSetting = "url"
	// AuthSetting is the name of the setting for the API key
	AuthSetting = "auth"
	// MaxRetriesSetting is the name of the setting for the retry attempt cap
	MaxRetriesSetting = "max-retries"
	// DebugSetting is the name of the setting to enable debug logging
	DebugSetting = "debug"
)

// DefaultURL is the public Oso Cloud endpoint.
const DefaultURL = "https://cloud.osohq.com"

// DefaultMaxRetries bounds the retry loop when no override is given.
const DefaultMaxRetries = 10

// Settings is everything a Client needs that can come from the
// environment: OSO_URL, OSO_AUTH, OSO_MAX_RETRIES, OSO_DEBUG.
type Settings struct {
	URL        string
	Auth       string
	MaxRetries int  `mapstructure:"max-retries"`
	Debug      bool
}

// Load reads settings from the OSO_* environment variables, applying
// defaults for everything except the API key.
func Load() (*Settings, error) {
	vcfg := viper.New()

	// need this for `Unmarshal` to type things that come from the environment
	// correctly; it also requires explicit defaults for everything
	vcfg.SetTypeByDefaultValue(true)

	vcfg.SetDefault(URLSetting, DefaultURL)
	vcfg.SetDefault(AuthSetting, "")
	vcfg.SetDefault(MaxRetriesSetting, DefaultMaxRetries)
	vcfg.SetDefault(DebugSetting, false)

	vcfg.SetEnvPrefix("oso")
	vcfg.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	vcfg.AutomaticEnv()

	ret := new(Settings)
	if err := vcfg.Unmarshal(ret); err != nil {
		return nil, errors.Wrap(err, "unable to parse environment settings")
	}
	if ret.MaxRetries < 1 {
		return nil, errors.Errorf("max-retries must be at least 1, got %d", ret.MaxRetries)
	}

	// apply this right away, but only as an enable
	// once debug is on, leave it on (esp. for tests)
	if ret.Debug {
		log.SetDebug(ret.Debug)
	}

	return ret, nil
}
