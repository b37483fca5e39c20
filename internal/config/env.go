package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Devices accepted by the device knob.
const (
	DeviceAuto = "auto"
	DeviceCPU  = "cpu"
	DeviceGPU  = "gpu"
)

// Environment knobs. They sit between the YAML file and CLI flags.
const (
	EnvDevice  = "MATCHER_DEVICE"
	EnvWorkers = "MATCHER_WORKERS"
	EnvSeed    = "MATCHER_SEED"
)

// Var returns an environment variable stripped of leading and trailing
// quotes or spaces.
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}

// FromEnv returns a copy of c with the environment knobs applied. Invalid
// values are logged and ignored.
func (c Config) FromEnv() Config {
	if s := Var(EnvDevice); s != "" {
		switch s = strings.ToLower(s); s {
		case DeviceAuto, DeviceCPU, DeviceGPU:
			c.Device = s
		default:
			slog.Warn("invalid environment variable, using default", "key", EnvDevice, "value", s, "default", c.Device)
		}
	}
	if s := Var(EnvWorkers); s != "" {
		if n, err := strconv.Atoi(s); err != nil || n <= 0 {
			slog.Warn("invalid environment variable, using default", "key", EnvWorkers, "value", s, "default", c.NumWorkers)
		} else {
			c.NumWorkers = n
		}
	}
	if s := Var(EnvSeed); s != "" {
		if n, err := strconv.ParseInt(s, 10, 64); err != nil {
			slog.Warn("invalid environment variable, using default", "key", EnvSeed, "value", s, "default", c.Seed)
		} else {
			c.Seed = n
		}
	}
	c.Classes = append([]string(nil), c.Classes...)
	return c
}
