package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/OCAP2/platoon/internal/platoon"
	"github.com/OCAP2/platoon/internal/vehicle"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(body), 0644))
	return dir
}

func TestLoad_WithValidConfigFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := writeConfig(t, `{
		"logLevel": "debug",
		"sim": { "ticks": 500 },
		"db": { "host": "10.0.0.1", "port": "5433" }
	}`)
	require.NoError(t, Load(dir))

	assert.Equal(t, "debug", viper.GetString("logLevel"))
	assert.Equal(t, 500, viper.GetInt("sim.ticks"))
	assert.Equal(t, "10.0.0.1", viper.GetString("db.host"))
	assert.Equal(t, "5433", viper.GetString("db.port"))
}

func TestLoad_DefaultValues(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{}`)))

	assert.Equal(t, "info", viper.GetString("logLevel"))
	assert.Equal(t, "./platoonlogs", viper.GetString("logsDir"))
	assert.Equal(t, 0.05, viper.GetFloat64("sim.fixedDelta"))
	assert.Equal(t, "http://localhost:5000", viper.GetString("api.serverUrl"))
	assert.Equal(t, false, viper.GetBool("api.upload"))
	assert.Equal(t, "platoon", viper.GetString("db.database"))
	assert.Equal(t, false, viper.GetBool("influx.enabled"))
	assert.Equal(t, false, viper.GetBool("graylog.enabled"))
	assert.Equal(t, "localhost:12201", viper.GetString("graylog.address"))
	assert.Equal(t, "memory", viper.GetString("storage.type"))
	assert.Equal(t, "3m", viper.GetString("storage.sqlite.dumpInterval"))
	assert.Equal(t, "platoon-sim", viper.GetString("otel.serviceName"))
}

func TestLoad_MissingFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	err := Load(t.TempDir())
	require.ErrorIs(t, err, ErrConfigNotFound)

	// defaults still apply
	assert.Equal(t, "memory", GetStorageConfig().Type)
	assert.Equal(t, vehicle.DefaultConfig(), GetVehicleDefaults())
}

func TestLoad_MalformedFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	err := Load(writeConfig(t, `{ "logLevel": `))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrConfigNotFound)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestGetters(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testKey", "testValue")
	viper.Set("testInt", 42)
	viper.Set("testBool", true)
	assert.Equal(t, "testValue", GetString("testKey"))
	assert.Equal(t, 42, GetInt("testInt"))
	assert.Equal(t, true, GetBool("testBool"))
}

func TestGetStorageConfig_Override(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{
		"storage": {
			"type": "sqlite",
			"memory": { "outputDir": "/tmp/out", "compressOutput": false },
			"sqlite": { "dumpInterval": "10m" }
		}
	}`)))

	sc := GetStorageConfig()
	assert.Equal(t, "sqlite", sc.Type)
	assert.Equal(t, "/tmp/out", sc.Memory.OutputDir)
	assert.Equal(t, false, sc.Memory.CompressOutput)
	assert.Equal(t, 10*time.Minute, sc.SQLite.DumpInterval)
	assert.Equal(t, "./recordings", sc.SQLite.OutputDir)
}

func TestGetOTelConfig(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{
		"otel": { "enabled": true, "serviceName": "svc", "batchTimeout": "30s", "endpoint": "localhost:4318", "insecure": false }
	}`)))

	oc := GetOTelConfig()
	assert.Equal(t, true, oc.Enabled)
	assert.Equal(t, "svc", oc.ServiceName)
	assert.Equal(t, 30*time.Second, oc.BatchTimeout)
	assert.Equal(t, "localhost:4318", oc.Endpoint)
	assert.Equal(t, false, oc.Insecure)
}

func TestGetVehicleAndPlatoonDefaults(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{
		"vehicle": { "sampleResolution": 6.5, "bufferSize": 8, "debug": true },
		"platoon": { "joinTimeoutTicks": 300 }
	}`)))

	vc := GetVehicleDefaults()
	assert.Equal(t, 6.5, vc.SampleResolution)
	assert.Equal(t, 8, vc.BufferSize)
	assert.True(t, vc.Debug)
	assert.Equal(t, vehicle.DefaultConfig().TimeGap, vc.TimeGap)
	require.NoError(t, vc.Validate())

	pc := GetPlatoonConfig()
	assert.Equal(t, uint64(300), pc.JoinTimeoutTicks)
	assert.Equal(t, platoon.DefaultConfig().MaxSize, pc.MaxSize)
}

func TestGetInfluxGeoSimMonitor(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{
		"influx": { "enabled": true, "host": "influx", "protocol": "https" },
		"geo": { "originLat": 52.5 },
		"monitor": { "enabled": true, "interval": "1s" }
	}`)))

	ic := GetInfluxConfig()
	assert.True(t, ic.Enabled)
	assert.Equal(t, "https://influx:8086", ic.URL())
	assert.Equal(t, "platoon", ic.Bucket)

	assert.Equal(t, GeoConfig{OriginLat: 52.5, OriginLon: 8.4}, GetGeoConfig())
	assert.Equal(t, SimConfig{FixedDelta: 0.05, Ticks: 2000, SpeedLimit: 25}, GetSimConfig())
	assert.Equal(t, MonitorConfig{Enabled: true, Interval: time.Second}, GetMonitorConfig())
}

func TestGetDatabaseConfig(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{ "db": { "host": "pg", "database": "runs" } }`)))

	db := GetDatabaseConfig()
	assert.Equal(t, "pg", db.Host)
	assert.Equal(t, "5432", db.Port)
	assert.Equal(t, "runs", db.Database)
	assert.Contains(t, db.DSN(), "dbname=runs")
}
