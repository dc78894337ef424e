package permit

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ============================================================================
// CONFIGURATION
// ============================================================================

// Config is the serializable description of an engine plus its seed data.
type Config struct {
	Version     string        `json:"version" yaml:"version"`
	Engine      EngineConfig  `json:"engine,omitempty" yaml:"engine,omitempty"`
	Policies    []*Policy     `json:"policies,omitempty" yaml:"policies,omitempty"`
	Delegations []*Delegation `json:"delegations,omitempty" yaml:"delegations,omitempty"`
}

// EngineConfig carries the tunables New accepts as options.
type EngineConfig struct {
	Matcher              string `json:"matcher,omitempty" yaml:"matcher,omitempty"` // multi, acl, rbac, abac, path
	ShortCircuit         bool   `json:"short_circuit,omitempty" yaml:"short_circuit,omitempty"`
	CacheDisabled        bool   `json:"cache_disabled,omitempty" yaml:"cache_disabled,omitempty"`
	DecisionTTLMillis    int64  `json:"decision_ttl_ms,omitempty" yaml:"decision_ttl_ms,omitempty"`
	CacheNumCounters     int64  `json:"cache_num_counters,omitempty" yaml:"cache_num_counters,omitempty"`
	CacheMaxCost         int64  `json:"cache_max_cost,omitempty" yaml:"cache_max_cost,omitempty"`
	CacheBufferItems     int64  `json:"cache_buffer_items,omitempty" yaml:"cache_buffer_items,omitempty"`
	MaxDelegationDays    int    `json:"max_delegation_days,omitempty" yaml:"max_delegation_days,omitempty"`
	MaxVisitedNodes      int    `json:"max_visited_nodes,omitempty" yaml:"max_visited_nodes,omitempty"`
	RespectExplicitDeny  bool   `json:"respect_explicit_deny,omitempty" yaml:"respect_explicit_deny,omitempty"`
	RetentionDays        int    `json:"retention_days,omitempty" yaml:"retention_days,omitempty"`
	SweepIntervalMinutes int    `json:"sweep_interval_minutes,omitempty" yaml:"sweep_interval_minutes,omitempty"`
}

// ConfigLoader reads Config files from disk.
type ConfigLoader struct{}

func NewConfigLoader() *ConfigLoader { return &ConfigLoader{} }

func (l *ConfigLoader) LoadYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse yaml config %s: %w", path, err)
	}
	return &cfg, nil
}

func (l *ConfigLoader) LoadJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse json config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) ToYAML() ([]byte, error) { return yaml.Marshal(c) }

func (c *Config) ToJSON() ([]byte, error) { return json.MarshalIndent(c, "", "  ") }

var matcherNames = map[string]bool{
	"": true, "multi": true, "acl": true, "rbac": true, "abac": true, "path": true,
}

// Validate checks structural soundness: known matcher name, well-formed
// rules, well-formed delegation records.
func (c *Config) Validate() error {
	if !matcherNames[c.Engine.Matcher] {
		return fmt.Errorf("unknown matcher %q", c.Engine.Matcher)
	}
	for _, p := range c.Policies {
		for i, rule := range p.Rules {
			if rule.Subject == "" {
				return fmt.Errorf("policy %s rule %d: subject is required", p.ID, i)
			}
			if rule.Action == "" {
				return fmt.Errorf("policy %s rule %d: action is required", p.ID, i)
			}
			if rule.Effect != EffectAllow && rule.Effect != EffectDeny {
				return fmt.Errorf("policy %s rule %d: effect must be allow or deny, got %q", p.ID, i, rule.Effect)
			}
		}
	}
	for _, d := range c.Delegations {
		if d.ID == "" || d.DelegatorID == "" || d.DelegateID == "" {
			return fmt.Errorf("delegation %q: id, delegator_id and delegate_id are required", d.ID)
		}
		switch d.Status {
		case DelegationActive, DelegationExpired, DelegationRevoked:
		default:
			return fmt.Errorf("delegation %s: unknown status %q", d.ID, d.Status)
		}
	}
	return nil
}

// MatcherByName builds a matcher from its config name.
func MatcherByName(name string, resolver *AttributeResolver) (RuleMatcher, error) {
	if resolver == nil {
		resolver = NewAttributeResolver()
	}
	switch name {
	case "", "multi":
		return NewMultiMatcher(NewRBACMatcher(), NewABACMatcher(resolver), NewPathMatcher()), nil
	case "acl":
		return NewACLMatcher(), nil
	case "rbac":
		return NewRBACMatcher(), nil
	case "abac":
		return NewABACMatcher(resolver), nil
	case "path":
		return NewPathMatcher(), nil
	}
	return nil, fmt.Errorf("unknown matcher %q", name)
}

// NewFromConfig wires an engine from a validated config. Extra options are
// applied after the config-derived ones and win on conflict.
func NewFromConfig(cfg *Config, policies PolicyRepository, delegations DelegationRepository, extra ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	matcher, err := MatcherByName(cfg.Engine.Matcher, nil)
	if err != nil {
		return nil, err
	}
	if cfg.Engine.ShortCircuit {
		matcher = NewIndexedMatcher(matcher).ShortCircuit(true)
	}
	opts := []Option{WithMatcher(matcher)}
	if cfg.Engine.CacheDisabled {
		opts = append(opts, WithoutDecisionCache())
	}
	if cfg.Engine.DecisionTTLMillis > 0 {
		opts = append(opts, WithDecisionTTL(time.Duration(cfg.Engine.DecisionTTLMillis)*time.Millisecond))
	}
	if cfg.Engine.CacheNumCounters > 0 && cfg.Engine.CacheMaxCost > 0 {
		buffer := cfg.Engine.CacheBufferItems
		if buffer <= 0 {
			buffer = defaultCacheBufferItems
		}
		opts = append(opts, WithDecisionCache(cfg.Engine.CacheNumCounters, cfg.Engine.CacheMaxCost, buffer))
	}
	if cfg.Engine.MaxDelegationDays > 0 {
		opts = append(opts, WithMaxDelegationDuration(time.Duration(cfg.Engine.MaxDelegationDays)*24*time.Hour))
	}
	if cfg.Engine.MaxVisitedNodes > 0 {
		opts = append(opts, WithMaxVisitedNodes(cfg.Engine.MaxVisitedNodes))
	}
	if cfg.Engine.RespectExplicitDeny {
		opts = append(opts, WithRespectExplicitDeny())
	}
	opts = append(opts, extra...)
	return New(policies, delegations, opts...)
}

// Retention returns the configured retention window, defaulting to the
// sweeper's built-in 90 days.
func (c *EngineConfig) Retention() time.Duration {
	if c.RetentionDays > 0 {
		return time.Duration(c.RetentionDays) * 24 * time.Hour
	}
	return defaultRetention
}

// SweepInterval returns the configured sweep cadence.
func (c *EngineConfig) SweepInterval() time.Duration {
	if c.SweepIntervalMinutes > 0 {
		return time.Duration(c.SweepIntervalMinutes) * time.Minute
	}
	return defaultSweepInterval
}
