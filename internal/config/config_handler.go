package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"reflect"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const envPrefix string = "AUTHCLIENT"

type ConfigHandler struct {
	mainViper   *viper.Viper
	secretViper *viper.Viper
	lock        *sync.Mutex
}

func (c *ConfigHandler) HandleChanges(callback func(Config, error)) {
	c.mainViper.OnConfigChange(func(e fsnotify.Event) {
		slog.Info("main config file changed", "path", e.Name)
		callback(c.Config())
	})
	c.secretViper.OnConfigChange(func(e fsnotify.Event) {
		slog.Info("secret config file changed", "path", e.Name)
		callback(c.Config())
	})
}

// Creates a configuration handler that reads the configuration files, merges them and can watch
// them for changes. Please note that the merges replace whole arrays - they do not merge arrays.
// The secret file will always overwrite anything in the non-secret / regular file. And any environment
// variables will always rewrite stuff in the secret config, so the order of preference from most
// preferred to least is environment variables, secret config, non-secret config, defaults.
func NewConfigHandler() *ConfigHandler {
	main := viper.New()
	main.SetConfigType("yaml")
	main.SetConfigName("config")
	setDefaults(main)
	secret := viper.New()
	secret.SetConfigType("yaml")
	secret.SetConfigName("secret_config")
	// Viper will look through the list of paths and use the first one where there is a file
	// so the path specified in the env variable will always take precedence over the rest
	configPaths := []string{}
	configPathEnv := os.Getenv("CONFIG_LOCATION")
	if configPathEnv != "" {
		configPaths = append(configPaths, configPathEnv)
	}
	configPaths = append(configPaths, "/etc/authclient", ".")
	for _, path := range configPaths {
		main.AddConfigPath(path)
		secret.AddConfigPath(path)
	}
	return &ConfigHandler{secretViper: secret, mainViper: main, lock: &sync.Mutex{}}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("runningEnvironment", string(Production))
	v.SetDefault("debugMode", false)
	v.SetDefault("client.baseURL", "http://localhost:8080")
	v.SetDefault("client.refreshPath", "/auth/refresh")
	v.SetDefault("client.authEndpoints", []string{"/auth/login", "/auth/register", "/auth/refresh", "/auth/logout", "/auth/session"})
	v.SetDefault("client.requestTimeout", "30s")
	v.SetDefault("client.rateLimits.enabled", false)
	v.SetDefault("client.rateLimits.rate", 50)
	v.SetDefault("client.rateLimits.burst", 100)
	v.SetDefault("client.refresh.timeout", "15s")
	v.SetDefault("client.refresh.transientCooldown", "30s")
	v.SetDefault("client.refresh.terminalCooldown", "30s")
	v.SetDefault("client.refresh.proactive.enabled", false)
	v.SetDefault("client.refresh.proactive.interval", "1m")
	v.SetDefault("client.refresh.proactive.expiryMargin", "3m")
	v.SetDefault("client.refresh.oauth2.enabled", false)
	v.SetDefault("client.refresh.oauth2.tokenURL", "")
	v.SetDefault("client.refresh.oauth2.clientID", "")
	v.SetDefault("client.refresh.oauth2.clientSecret", "")
	v.SetDefault("mirror.cookie.enabled", true)
	v.SetDefault("mirror.cookie.accessCookieName", "access_token")
	v.SetDefault("mirror.cookie.refreshIndicatorName", "has_refresh_token")
	v.SetDefault("mirror.cookie.refreshIndicatorTTL", "168h")
	v.SetDefault("mirror.cookie.secure", true)
	v.SetDefault("mirror.redis.enabled", false)
	v.SetDefault("mirror.redis.keyPrefix", "authclient")
	v.SetDefault("mirror.redis.clientID", "default")
	v.SetDefault("mirror.redis.refreshIndicatorTTL", "168h")
	v.SetDefault("mirror.redis.encryption.enabled", false)
	v.SetDefault("mirror.redis.encryption.secretKey", "")
	v.SetDefault("redis.type", DBTypeRedis)
	v.SetDefault("redis.addresses", []string{"localhost:6379"})
	v.SetDefault("redis.password", "")
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.rateLimits.enabled", false)
	v.SetDefault("monitoring.sentry.enabled", false)
	v.SetDefault("monitoring.sentry.dsn", "")
	v.SetDefault("monitoring.prometheus.enabled", false)
	v.SetDefault("monitoring.prometheus.port", 8765)
}

func (c *ConfigHandler) merge() error {
	cm := c.secretViper.AllSettings()
	return c.mainViper.MergeConfigMap(cm)
}

func readOptional(v *viper.Viper, name string) error {
	err := v.ReadInConfig()
	if err == nil {
		return nil
	}
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		slog.Info("could not find the " + name + " config file - only defaults and environment variables will be used")
		return nil
	}
	return err
}

func (c *ConfigHandler) getConfig() (Config, error) {
	var output Config
	err := readOptional(c.mainViper, "main")
	if err != nil {
		return Config{}, err
	}
	err = readOptional(c.secretViper, "secret")
	if err != nil {
		return Config{}, err
	}
	// the env variables will overwrite stuff in the secret config if set
	for _, key := range c.mainViper.AllKeys() {
		envKey := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		err := c.secretViper.BindEnv(key, envKey)
		if err != nil {
			return Config{}, fmt.Errorf("config: unable to bind env %s: %w", envKey, err)
		}
	}
	// here the secret config (with any env variables merged) will overwrite anything from the non-secret configuration
	err = c.merge()
	if err != nil {
		return Config{}, err
	}
	err = c.mainViper.Unmarshal(
		&output,
		viper.DecodeHook(
			mapstructure.ComposeDecodeHookFunc(
				parseStringAsURL(),
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
		),
	)
	if err != nil {
		return Config{}, err
	}
	err = output.Validate()
	if err != nil {
		return Config{}, err
	}
	return output, nil
}

func (c *ConfigHandler) Config() (Config, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.getConfig()
}

func (c *ConfigHandler) Watch() {
	c.mainViper.WatchConfig()
	c.secretViper.WatchConfig()
}

func parseStringAsURL() mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data any) (interface{}, error) {
		// Check that the data is string
		if f.Kind() != reflect.String {
			return data, nil
		}

		// Check that the target type is our custom type
		if t != reflect.TypeOf(url.URL{}) {
			return data, nil
		}

		// Return the parsed value
		dataStr, ok := data.(string)
		if !ok {
			return nil, fmt.Errorf("cannot cast URL value to string")
		}
		if dataStr == "" {
			return nil, fmt.Errorf("empty values are not allowed for URLs")
		}
		url, err := url.Parse(dataStr)
		if err != nil {
			return nil, err
		}
		return url, nil
	}
}
