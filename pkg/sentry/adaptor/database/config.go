package database

import "fmt"

// PoolConfig holds connection pool settings for a store.
type PoolConfig struct {
	MaxOpenConns           int `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns           int `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetimeMinutes int `yaml:"conn_max_lifetime_minutes" mapstructure:"conn_max_lifetime_minutes"`
}

// StoreConfig describes one named monitoring store connection.
// Stores are opened read-only; no migrations or writes ever run against them.
type StoreConfig struct {
	Type     string            `yaml:"type" mapstructure:"type"`
	Host     string            `yaml:"host" mapstructure:"host"`
	Port     int               `yaml:"port" mapstructure:"port"`
	User     string            `yaml:"user" mapstructure:"user"`
	Password string            `yaml:"password" mapstructure:"password"`
	Database string            `yaml:"database" mapstructure:"database"`
	Params   map[string]string `yaml:"params" mapstructure:"params"`
	Pool     PoolConfig        `yaml:"pool" mapstructure:"pool"`
}

// DSN assembles the driver connection string for this store.
func (c StoreConfig) DSN() string {
	switch c.Type {
	case "sqlite":
		return c.Database
	default:
		extra := ""
		for k, v := range c.Params {
			extra += fmt.Sprintf("&%s=%s", k, v)
		}
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true%s",
			c.User, c.Password, c.Host, c.Port, c.Database, extra)
	}
}
