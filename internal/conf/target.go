package conf

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// LoadDatastoreSettings reads only the datastore section of configFile into a
// private viper instance, leaving the global settings untouched. It is used to
// describe a second backend, such as the target of an export.
func LoadDatastoreSettings(configFile string) (*DatastoreSettings, error) {
	v := viper.New()
	v.SetConfigFile(configFile)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	settings := &DatastoreSettings{}
	if err := v.UnmarshalKey("datastore", settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling datastore settings: %w", err)
	}
	if settings.MySQL.Port == "" {
		settings.MySQL.Port = "3306"
	}
	if err := validateDatastoreSettings(settings); err != nil {
		return nil, err
	}
	return settings, nil
}

// Describe returns a human readable backend location with any password masked.
func (d *DatastoreSettings) Describe() string {
	switch d.Backend {
	case BackendSQLite:
		return "sqlite:" + d.SQLite.Path
	case BackendFile:
		return "file:" + d.File.Dir
	case BackendMySQL:
		user := d.MySQL.Username
		if d.MySQL.Password != "" {
			user += ":" + strings.Repeat("*", 4)
		}
		return fmt.Sprintf("mysql:%s@tcp(%s:%s)/%s", user, d.MySQL.Host, d.MySQL.Port, d.MySQL.Database)
	default:
		return d.Backend
	}
}
