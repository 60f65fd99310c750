// Package agent holds the per-agent configuration the session controller
// reads: instructions, tools, transfer targets and voice. Configs are
// immutable once registered.
package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/wayfarerhq/wayfarer/internal/protocol"
)

// TransferToolPrefix prefixes the synthesized per-destination transfer tools.
const TransferToolPrefix = "transfer_to_"

// LegacyTransferToolName is the single-tool transfer form older agent sets
// declare; the destination arrives in the arguments instead of the name.
const LegacyTransferToolName = "transferAgents"

var ErrNotFound = errors.New("agent not found")

var toolNameSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// Config describes one agent. Instructions and SystemPrompt fill the same
// semantic slot; Instructions wins when both are set.
type Config struct {
	Name             string
	Instructions     string
	SystemPrompt     string
	Tools            []protocol.ToolDef
	DownstreamAgents []string
	Voice            string
}

// ResolvedInstructions applies the instructions-over-systemPrompt precedence
// once, so call sites never see both fields.
func (c Config) ResolvedInstructions() string {
	if s := strings.TrimSpace(c.Instructions); s != "" {
		return s
	}
	return strings.TrimSpace(c.SystemPrompt)
}

// TransferToolName derives the wire-safe transfer tool name for a destination.
func TransferToolName(agentName string) string {
	safe := toolNameSanitizer.ReplaceAllString(strings.TrimSpace(agentName), "_")
	return TransferToolPrefix + safe
}

// DestinationFromToolName recovers the destination key from a transfer tool
// name. Returns false for non-transfer tools.
func DestinationFromToolName(toolName string) (string, bool) {
	if toolName == LegacyTransferToolName {
		return "", true
	}
	if !strings.HasPrefix(toolName, TransferToolPrefix) {
		return "", false
	}
	dest := strings.TrimPrefix(toolName, TransferToolPrefix)
	if dest == "" {
		return "", false
	}
	return dest, true
}

var transferToolParameters = json.RawMessage(`{
	"type": "object",
	"properties": {
		"destination_agent": {"type": "string"},
		"rationale_for_transfer": {"type": "string"},
		"conversation_context": {"type": "string"}
	},
	"required": ["destination_agent"]
}`)

// SessionTools returns the agent's own tools plus one synthesized transfer
// tool per downstream agent.
func (c Config) SessionTools() []protocol.ToolDef {
	tools := make([]protocol.ToolDef, 0, len(c.Tools)+len(c.DownstreamAgents))
	tools = append(tools, c.Tools...)
	for _, dest := range c.DownstreamAgents {
		tools = append(tools, protocol.ToolDef{
			Type:        "function",
			Name:        TransferToolName(dest),
			Description: fmt.Sprintf("Transfer the conversation to the %s agent.", dest),
			Parameters:  transferToolParameters,
		})
	}
	return tools
}

// Registry is a read-only agent lookup built once at startup.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Config
	order  []string
}

func NewRegistry(configs ...Config) (*Registry, error) {
	r := &Registry{agents: make(map[string]Config, len(configs))}
	for _, cfg := range configs {
		name := strings.TrimSpace(cfg.Name)
		if name == "" {
			return nil, errors.New("agent name must not be empty")
		}
		if _, dup := r.agents[name]; dup {
			return nil, fmt.Errorf("duplicate agent %q", name)
		}
		cfg.Name = name
		r.agents[name] = cfg
		r.order = append(r.order, name)
	}
	for _, cfg := range r.agents {
		for _, dest := range cfg.DownstreamAgents {
			if _, ok := r.agents[dest]; !ok {
				return nil, fmt.Errorf("agent %q transfers to unknown agent %q", cfg.Name, dest)
			}
		}
	}
	return r, nil
}

func (r *Registry) Get(name string) (Config, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.agents[name]
	if !ok {
		return Config{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return cfg, nil
}

// Resolve matches a transfer destination against registered agents. The
// destination may be a registry key or a sanitized tool-name suffix.
func (r *Registry) Resolve(destination string) (Config, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if cfg, ok := r.agents[destination]; ok {
		return cfg, nil
	}
	for name, cfg := range r.agents {
		if TransferToolName(name) == TransferToolPrefix+destination {
			return cfg, nil
		}
	}
	return Config{}, fmt.Errorf("%w: %q", ErrNotFound, destination)
}

// Names returns agent names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}
