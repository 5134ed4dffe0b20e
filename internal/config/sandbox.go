package config

import (
	"fmt"
	"time"
)

// SandboxConfig configures container isolation for generated code.
type SandboxConfig struct {
	Backend         string `yaml:"backend"` // docker, local
	Image           string `yaml:"image"`
	Timeout         string `yaml:"timeout"`
	Memory          string `yaml:"memory"` // docker-style size, e.g. 256m
	CPUShares       int    `yaml:"cpu_shares"`
	PidsLimit       int    `yaml:"pids_limit"`
	NetworkDisabled bool   `yaml:"network_disabled"`
	User            string `yaml:"user"`
	SeccompProfile  string `yaml:"seccomp_profile"` // empty uses the built-in profile
	DockerBinary    string `yaml:"docker_binary"`
}

// DefaultSandboxConfig returns the sandbox limits applied to every run.
func DefaultSandboxConfig() SandboxConfig {
	return SandboxConfig{
		Backend:         "docker",
		Image:           "golang:1.24-alpine",
		Timeout:         "60s",
		Memory:          "256m",
		CPUShares:       512,
		PidsLimit:       100,
		NetworkDisabled: true,
		User:            "65534:65534",
		DockerBinary:    "docker",
	}
}

// GetTimeout returns the default sandbox wall-clock timeout.
func (c SandboxConfig) GetTimeout() time.Duration {
	return parseDuration(c.Timeout, 60*time.Second)
}

func (c SandboxConfig) validate() error {
	switch c.Backend {
	case "docker", "local":
	default:
		return fmt.Errorf("invalid sandbox backend: %s (valid: docker, local)", c.Backend)
	}
	if c.Backend == "docker" && c.Image == "" {
		return fmt.Errorf("sandbox.image is required for the docker backend")
	}
	if c.PidsLimit < 0 || c.CPUShares < 0 {
		return fmt.Errorf("sandbox limits must not be negative")
	}
	return nil
}
