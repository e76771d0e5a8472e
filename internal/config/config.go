// Package config loads every role's runtime configuration from the
// environment, per spec.md §6's table of ENV options, using
// github.com/kelseyhightower/envconfig.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kelseyhightower/envconfig"
)

// Config is the full environment-variable surface shared by every role
// binary; each cmd/* only reads the fields relevant to it.
type Config struct {
	// Identity. Generated with uuid if left unset.
	AcceptorID string `envconfig:"ACCEPTOR_ID"`
	ProposerID string `envconfig:"PROPOSER_ID"`
	LearnerID  string `envconfig:"LEARNER_ID"`
	GatewayID  string `envconfig:"GATEWAY_ID"`

	// Listen ports.
	AcceptorPort int `envconfig:"ACCEPTOR_PORT" default:"7001"`
	ProposerPort int `envconfig:"PROPOSER_PORT" default:"7002"`
	LearnerPort  int `envconfig:"LEARNER_PORT" default:"7003"`
	GatewayPort  int `envconfig:"GATEWAY_PORT" default:"7004"`

	// Peer directories, as comma-separated host:port lists.
	AcceptorHostsRaw string `envconfig:"ACCEPTOR_HOSTS"`
	ProposerHostsRaw string `envconfig:"PROPOSER_HOSTS"`
	LearnerHostsRaw  string `envconfig:"LEARNER_HOSTS"`

	// ProposerPeerIDsRaw, if set, must list the ids of PROPOSER_HOSTS'
	// entries in the same order, so a NOT_LEADER hint naming a peer id
	// can be resolved to the address to retry against instead of just
	// falling back to trying every known Proposer.
	ProposerPeerIDsRaw string `envconfig:"PROPOSER_PEER_IDS"`

	TotalAcceptors int `envconfig:"TOTAL_ACCEPTORS" default:"5"`
	QuorumSize     int `envconfig:"QUORUM_SIZE" default:"3"`
	MaxInflight    int `envconfig:"MAX_INFLIGHT" default:"16"`

	HeartbeatInterval time.Duration `envconfig:"HEARTBEAT_INTERVAL" default:"200ms"`
	LeaderTimeout     time.Duration `envconfig:"LEADER_TIMEOUT" default:"1s"`
	RPCTimeout        time.Duration `envconfig:"RPC_TIMEOUT" default:"300ms"`

	DataDir  string `envconfig:"DATA_DIR" default:"./data"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// Load reads the environment into a Config, filling in any unset
// identity field with a fresh uuid, per spec.md §6's "where an identity
// isn't supplied, generate one" note.
func Load() (Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if c.AcceptorID == "" {
		c.AcceptorID = uuid.NewString()
	}
	if c.ProposerID == "" {
		c.ProposerID = uuid.NewString()
	}
	if c.LearnerID == "" {
		c.LearnerID = uuid.NewString()
	}
	if c.GatewayID == "" {
		c.GatewayID = uuid.NewString()
	}
	return c, nil
}

// AcceptorHosts, ProposerHosts, and LearnerHosts parse their *_HOSTS
// fields into a clean host:port slice, dropping blanks so an unset
// environment variable yields an empty (not single-blank) slice.
func (c Config) AcceptorHosts() []string { return splitHosts(c.AcceptorHostsRaw) }
func (c Config) ProposerHosts() []string { return splitHosts(c.ProposerHostsRaw) }
func (c Config) LearnerHosts() []string  { return splitHosts(c.LearnerHostsRaw) }

// ProposerPeerIDs parses PROPOSER_PEER_IDS, an optional id-per-entry
// complement to ProposerHosts.
func (c Config) ProposerPeerIDs() []string { return splitHosts(c.ProposerPeerIDsRaw) }

func splitHosts(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
