// Package mcp connects configured MCP servers and exposes their tools
// through the registry's Invoker contract.
package mcp

import (
	"fmt"
	"os"

	"github.com/orkestralabs/orkestra/pkg/errorsx"
)

// TransportKind selects how a server is reached.
type TransportKind string

const (
	TransportStdio      TransportKind = "stdio"
	TransportSSE        TransportKind = "sse"
	TransportStreamable TransportKind = "streamable"
)

// ServerConfig describes one external tool server. Command fields apply
// to stdio transports; Endpoint applies to the HTTP-family ones.
type ServerConfig struct {
	Command     string            `mapstructure:"command"`
	Args        []string          `mapstructure:"args"`
	Env         map[string]string `mapstructure:"env"`
	AllowedDirs []string          `mapstructure:"allowed_dirs"`
	Endpoint    string            `mapstructure:"endpoint"`
	Transport   TransportKind     `mapstructure:"transport"`
	Description string            `mapstructure:"description"`
	Enabled     bool              `mapstructure:"enabled"`
}

// Normalize fills the transport from the fields that are set and
// expands ${VAR} references in command, args and env values.
func (c *ServerConfig) Normalize() error {
	if c.Transport == "" {
		switch {
		case c.Command != "":
			c.Transport = TransportStdio
		case c.Endpoint != "":
			c.Transport = TransportSSE
		default:
			return errorsx.Wrap(fmt.Errorf("server has neither command nor endpoint"), errorsx.ReasonConfigInvalid)
		}
	}
	switch c.Transport {
	case TransportStdio:
		if c.Command == "" {
			return errorsx.Wrap(fmt.Errorf("stdio server has no command"), errorsx.ReasonConfigInvalid)
		}
	case TransportSSE, TransportStreamable:
		if c.Endpoint == "" {
			return errorsx.Wrap(fmt.Errorf("%s server has no endpoint", c.Transport), errorsx.ReasonConfigInvalid)
		}
	default:
		return errorsx.Wrap(fmt.Errorf("unknown transport %q", c.Transport), errorsx.ReasonConfigInvalid)
	}

	c.Command = os.ExpandEnv(c.Command)
	for i := range c.Args {
		c.Args[i] = os.ExpandEnv(c.Args[i])
	}
	for k, v := range c.Env {
		c.Env[k] = os.ExpandEnv(v)
	}

	// Directory grants ride on the command line, the convention the
	// filesystem server family expects.
	if c.Transport == TransportStdio {
		for _, dir := range c.AllowedDirs {
			c.Args = append(c.Args, os.ExpandEnv(dir))
		}
		c.AllowedDirs = nil
	}
	return nil
}
