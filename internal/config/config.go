package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/OCAP2/platoon/internal/database"
	"github.com/OCAP2/platoon/internal/platoon"
	"github.com/OCAP2/platoon/internal/vehicle"
	"github.com/spf13/viper"
)

// FileName is the config file looked up in the config directory.
const FileName = "platoon_sim.cfg.json"

// ErrConfigNotFound is returned by Load when no config file exists. Defaults are
// still applied.
var ErrConfigNotFound = errors.New("config file not found")

// MemoryConfig holds in-memory/JSON storage backend settings
type MemoryConfig struct {
	OutputDir      string `json:"outputDir" mapstructure:"outputDir"`
	CompressOutput bool   `json:"compressOutput" mapstructure:"compressOutput"`
}

// SQLiteConfig holds SQLite storage backend settings
type SQLiteConfig struct {
	DumpInterval time.Duration `json:"dumpInterval" mapstructure:"dumpInterval"`
	OutputDir    string        `json:"outputDir" mapstructure:"outputDir"`
}

// StorageConfig selects and configures the recording backend
type StorageConfig struct {
	Type   string       `json:"type" mapstructure:"type"`
	Memory MemoryConfig `json:"memory" mapstructure:"memory"`
	SQLite SQLiteConfig `json:"sqlite" mapstructure:"sqlite"`
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName  string        `json:"serviceName" mapstructure:"serviceName"`
	BatchTimeout time.Duration `json:"batchTimeout" mapstructure:"batchTimeout"`
	Endpoint     string        `json:"endpoint" mapstructure:"endpoint"`
	Insecure     bool          `json:"insecure" mapstructure:"insecure"`
}

// InfluxConfig holds the InfluxDB connection
type InfluxConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Protocol string `json:"protocol" mapstructure:"protocol"`
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Token    string `json:"token" mapstructure:"token"`
	Org      string `json:"org" mapstructure:"org"`
	Bucket   string `json:"bucket" mapstructure:"bucket"`
}

// URL returns the InfluxDB server URL.
func (c InfluxConfig) URL() string {
	return fmt.Sprintf("%s://%s:%s", c.Protocol, c.Host, c.Port)
}

// SimConfig holds the stand-in simulator settings
type SimConfig struct {
	FixedDelta float64 `json:"fixedDelta" mapstructure:"fixedDelta"`
	Ticks      int     `json:"ticks" mapstructure:"ticks"`
	SpeedLimit float64 `json:"speedLimit" mapstructure:"speedLimit"`
}

// GeoConfig anchors the simulator origin on the globe
type GeoConfig struct {
	OriginLat float64 `json:"originLat" mapstructure:"originLat"`
	OriginLon float64 `json:"originLon" mapstructure:"originLon"`
}

// MonitorConfig controls the periodic status file
type MonitorConfig struct {
	Enabled  bool          `json:"enabled" mapstructure:"enabled"`
	Interval time.Duration `json:"interval" mapstructure:"interval"`
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file. A missing file
// returns an error wrapping ErrConfigNotFound with defaults in place.
func Load(configDir string) error {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("defaultTag", "platoon")
	viper.SetDefault("logsDir", "./platoonlogs")

	viper.SetDefault("sim.fixedDelta", 0.05)
	viper.SetDefault("sim.ticks", 2000)
	viper.SetDefault("sim.speedLimit", 25.0)

	v := vehicle.DefaultConfig()
	viper.SetDefault("vehicle.sampleResolution", v.SampleResolution)
	viper.SetDefault("vehicle.bufferSize", v.BufferSize)
	viper.SetDefault("vehicle.updateFreq", v.UpdateFreq)
	viper.SetDefault("vehicle.targetSpeed", v.TargetSpeed)
	viper.SetDefault("vehicle.timeGap", v.TimeGap)
	viper.SetDefault("vehicle.staleTicks", v.StaleTicks)
	viper.SetDefault("vehicle.dwellTicks", v.DwellTicks)
	viper.SetDefault("vehicle.searchRadius", v.SearchRadius)
	viper.SetDefault("vehicle.minSafetyDistance", v.MinSafetyDistance)
	viper.SetDefault("vehicle.minTimeToCollision", v.MinTimeToCollision)
	viper.SetDefault("vehicle.retryCooldownTicks", v.RetryCooldownTicks)
	viper.SetDefault("vehicle.ignoreTrafficLight", v.IgnoreTrafficLight)
	viper.SetDefault("vehicle.debug", false)

	p := platoon.DefaultConfig()
	viper.SetDefault("platoon.maxSize", p.MaxSize)
	viper.SetDefault("platoon.joinTimeoutTicks", p.JoinTimeoutTicks)
	viper.SetDefault("platoon.relaxFactor", p.RelaxFactor)
	viper.SetDefault("platoon.cutInGapExtra", p.CutInGapExtra)
	viper.SetDefault("platoon.staleTicks", p.StaleTicks)

	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.memory.outputDir", "./recordings")
	viper.SetDefault("storage.memory.compressOutput", true)
	viper.SetDefault("storage.sqlite.dumpInterval", "3m")
	viper.SetDefault("storage.sqlite.outputDir", "./recordings")

	viper.SetDefault("api.serverUrl", "http://localhost:5000")
	viper.SetDefault("api.apiKey", "")
	viper.SetDefault("api.upload", false)

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "platoon")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "platoon-metrics")
	viper.SetDefault("influx.bucket", "platoon")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "platoon-sim")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetDefault("geo.originLat", 49.0)
	viper.SetDefault("geo.originLon", 8.4)

	viper.SetDefault("monitor.enabled", false)
	viper.SetDefault("monitor.interval", "5s")

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return fmt.Errorf("%w: %v", ErrConfigNotFound, err)
		}
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetStorageConfig returns the storage backend configuration.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type: viper.GetString("storage.type"),
		Memory: MemoryConfig{
			OutputDir:      viper.GetString("storage.memory.outputDir"),
			CompressOutput: viper.GetBool("storage.memory.compressOutput"),
		},
		SQLite: SQLiteConfig{
			DumpInterval: viper.GetDuration("storage.sqlite.dumpInterval"),
			OutputDir:    viper.GetString("storage.sqlite.outputDir"),
		},
	}
}

// GetOTelConfig returns the OpenTelemetry configuration.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// GetInfluxConfig returns the InfluxDB configuration.
func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:  viper.GetBool("influx.enabled"),
		Protocol: viper.GetString("influx.protocol"),
		Host:     viper.GetString("influx.host"),
		Port:     viper.GetString("influx.port"),
		Token:    viper.GetString("influx.token"),
		Org:      viper.GetString("influx.org"),
		Bucket:   viper.GetString("influx.bucket"),
	}
}

// GetSimConfig returns the simulator configuration.
func GetSimConfig() SimConfig {
	return SimConfig{
		FixedDelta: viper.GetFloat64("sim.fixedDelta"),
		Ticks:      viper.GetInt("sim.ticks"),
		SpeedLimit: viper.GetFloat64("sim.speedLimit"),
	}
}

// GetGeoConfig returns the geo origin.
func GetGeoConfig() GeoConfig {
	return GeoConfig{
		OriginLat: viper.GetFloat64("geo.originLat"),
		OriginLon: viper.GetFloat64("geo.originLon"),
	}
}

// GetMonitorConfig returns the status monitor configuration.
func GetMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Enabled:  viper.GetBool("monitor.enabled"),
		Interval: viper.GetDuration("monitor.interval"),
	}
}

// GetVehicleDefaults returns vehicle.DefaultConfig with the configured overrides.
func GetVehicleDefaults() vehicle.Config {
	c := vehicle.DefaultConfig()
	c.SampleResolution = viper.GetFloat64("vehicle.sampleResolution")
	c.BufferSize = viper.GetInt("vehicle.bufferSize")
	c.UpdateFreq = viper.GetInt("vehicle.updateFreq")
	c.TargetSpeed = viper.GetFloat64("vehicle.targetSpeed")
	c.TimeGap = viper.GetFloat64("vehicle.timeGap")
	c.StaleTicks = viper.GetUint64("vehicle.staleTicks")
	c.DwellTicks = viper.GetInt("vehicle.dwellTicks")
	c.SearchRadius = viper.GetFloat64("vehicle.searchRadius")
	c.MinSafetyDistance = viper.GetFloat64("vehicle.minSafetyDistance")
	c.MinTimeToCollision = viper.GetFloat64("vehicle.minTimeToCollision")
	c.RetryCooldownTicks = viper.GetUint64("vehicle.retryCooldownTicks")
	c.IgnoreTrafficLight = viper.GetBool("vehicle.ignoreTrafficLight")
	c.Debug = viper.GetBool("vehicle.debug")
	return c
}

// GetPlatoonConfig returns platoon.DefaultConfig with the configured overrides.
func GetPlatoonConfig() platoon.Config {
	return platoon.Config{
		MaxSize:          viper.GetInt("platoon.maxSize"),
		JoinTimeoutTicks: viper.GetUint64("platoon.joinTimeoutTicks"),
		RelaxFactor:      viper.GetFloat64("platoon.relaxFactor"),
		CutInGapExtra:    viper.GetFloat64("platoon.cutInGapExtra"),
		StaleTicks:       viper.GetUint64("platoon.staleTicks"),
	}
}

// GetDatabaseConfig returns the Postgres connection settings.
func GetDatabaseConfig() database.Config {
	return database.Config{
		Host:     viper.GetString("db.host"),
		Port:     viper.GetString("db.port"),
		Username: viper.GetString("db.username"),
		Password: viper.GetString("db.password"),
		Database: viper.GetString("db.database"),
	}
}
