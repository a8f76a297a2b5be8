package config

import "fmt"

type RunningEnvironment string

const Development RunningEnvironment = "development"
const Production RunningEnvironment = "production"

type Config struct {
	RunningEnvironment RunningEnvironment
	DebugMode          bool
	Client             ClientConfig
	Mirror             MirrorConfig
	Redis              RedisConfig
	Server             ServerConfig
	Monitoring         MonitoringConfig
}

func (c *Config) Validate() error {
	if c.RunningEnvironment != Development && c.RunningEnvironment != Production {
		return fmt.Errorf("unknown running environment %q", c.RunningEnvironment)
	}
	err := c.Client.Validate()
	if err != nil {
		return err
	}
	err = c.Mirror.Validate()
	if err != nil {
		return err
	}
	if c.Mirror.Redis.Enabled {
		err = c.Redis.Validate(c.RunningEnvironment)
		if err != nil {
			return err
		}
	}
	return c.Server.Validate()
}
