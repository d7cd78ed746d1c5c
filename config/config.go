package config

import (
	"os"
	"path/filepath"

	"github.com/m4xw311/deepacp/errors"
	"gopkg.in/yaml.v3"
)

// ErrAgentNotFound is returned by GetAgent for an unknown agent name.
var ErrAgentNotFound = errors.Sentinel("agent not found in configuration")

// DefaultPermissionTools are negotiated with the client when the
// configuration does not list any.
var DefaultPermissionTools = []string{"write_file", "execute_command"}

type FilesystemAccess struct {
	Hidden   []string `yaml:"hidden"`
	ReadOnly []string `yaml:"read_only"`
}

type MCPServer struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

type Toolset struct {
	Name  string   `yaml:"name"`
	Tools []string `yaml:"tools"`
}

// Command is a slash command contributed by an agent configuration. It may
// switch the session mode, reply with fixed text, or both.
type Command struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Mode        string `yaml:"mode"`
	Reply       string `yaml:"reply"`
}

// Agent is one named agent configuration a session can be bound to.
type Agent struct {
	Name         string    `yaml:"name"`
	LLMClient    string    `yaml:"llm"`
	Model        string    `yaml:"model"`
	Toolset      string    `yaml:"toolset"`
	SystemPrompt string    `yaml:"system_prompt"`
	Skills       []string  `yaml:"skills"`
	Memory       []string  `yaml:"memory"`
	Commands     []Command `yaml:"commands"`
}

type Permissions struct {
	Require []string `yaml:"require"`
}

type Checkpoint struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

type Config struct {
	// Single-agent fields kept for older config files. They synthesize a
	// "default" agent when Agents is empty.
	LLMClient string `yaml:"llm"`
	Model     string `yaml:"model"`

	Agents               []Agent          `yaml:"agents"`
	Toolsets             []Toolset        `yaml:"toolsets"`
	AdditionalMCPServers []MCPServer      `yaml:"additional_mcp_servers"`
	AllowedCommands      []string         `yaml:"allowed_commands"`
	FilesystemAccess     FilesystemAccess `yaml:"filesystem_access"`
	Permissions          Permissions      `yaml:"permissions"`
	Checkpoint           Checkpoint       `yaml:"checkpoint"`
}

// LoadConfig loads configuration from the user's home directory and the current
// working directory, with the latter taking precedence.
func LoadConfig() (*Config, error) {
	cfg := newConfig()

	home, err := os.UserHomeDir()
	if err == nil {
		userConfigPath := filepath.Join(home, ".deepacp", "config.yaml")
		if _, err := os.Stat(userConfigPath); err == nil {
			if err := loadFromFile(userConfigPath, cfg); err != nil {
				return nil, errors.Wrapf(err, "error loading user config")
			}
		}
	}

	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrapf(err, "could not get working directory")
	}
	projectConfigPath := filepath.Join(wd, ".deepacp", "config.yaml")
	if _, err := os.Stat(projectConfigPath); err == nil {
		if err := loadFromFile(projectConfigPath, cfg); err != nil {
			return nil, errors.Wrapf(err, "error loading project config")
		}
	}

	cfg.normalize()
	return cfg, nil
}

// LoadConfigFile loads a single explicit configuration file.
func LoadConfigFile(path string) (*Config, error) {
	cfg := newConfig()
	if err := loadFromFile(path, cfg); err != nil {
		return nil, errors.Wrapf(err, "error loading config %s", path)
	}
	cfg.normalize()
	return cfg, nil
}

func newConfig() *Config {
	cfg := &Config{}
	// Agent state lives under .deepacp; keep it away from the model.
	cfg.FilesystemAccess.Hidden = append(cfg.FilesystemAccess.Hidden, ".deepacp", ".deepacp/**")
	return cfg
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	// Fields present in the YAML overwrite earlier values; project-level
	// config replaces user-level field by field.
	return yaml.Unmarshal(data, cfg)
}

// normalize fills in derived defaults after all files are merged.
func (c *Config) normalize() {
	if len(c.Agents) == 0 {
		c.Agents = []Agent{{Name: "default", LLMClient: c.LLMClient, Model: c.Model}}
	}
	if len(c.Permissions.Require) == 0 {
		c.Permissions.Require = append([]string(nil), DefaultPermissionTools...)
	}
}

// GetToolset finds a toolset by name. Returns the "default" toolset if the
// named one is not found or if an empty name is provided.
func (c *Config) GetToolset(name string) (*Toolset, error) {
	if name == "" {
		name = "default"
	}
	for _, ts := range c.Toolsets {
		if ts.Name == name {
			return &ts, nil
		}
	}
	if name == "default" {
		return nil, errors.New("mandatory 'default' toolset not found in configuration")
	}
	return c.GetToolset("default")
}

// GetAgent finds an agent configuration by name. An empty name selects the
// first configured agent.
func (c *Config) GetAgent(name string) (*Agent, error) {
	if len(c.Agents) == 0 {
		return nil, errors.Wrapf(ErrAgentNotFound, "no agents configured")
	}
	if name == "" {
		return &c.Agents[0], nil
	}
	for i := range c.Agents {
		if c.Agents[i].Name == name {
			return &c.Agents[i], nil
		}
	}
	return nil, errors.Wrapf(ErrAgentNotFound, "agent '%s'", name)
}

// RequiresPermission reports whether calls to the tool must be approved.
func (c *Config) RequiresPermission(tool string) bool {
	required := c.Permissions.Require
	if len(required) == 0 {
		required = DefaultPermissionTools
	}
	for _, name := range required {
		if name == tool {
			return true
		}
	}
	return false
}
