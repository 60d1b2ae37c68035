package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"

	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/shared/types"
)

// MountSpec pre-declares a host directory served by the local provider.
type MountSpec struct {
	FileSystemID      string   `yaml:"fileSystemId" toml:"fileSystemId"`
	DisplayName       string   `yaml:"displayName" toml:"displayName"`
	Root              string   `yaml:"root" toml:"root"`
	Writable          bool     `yaml:"writable" toml:"writable"`
	Watchable         bool     `yaml:"watchable" toml:"watchable"`
	OpenedFilesLimit  int      `yaml:"openedFilesLimit" toml:"openedFilesLimit"`
	SupportsNotifyTag bool     `yaml:"supportsNotifyTag" toml:"supportsNotifyTag"`
	Persistent        bool     `yaml:"persistent" toml:"persistent"`
	Ignore            []string `yaml:"ignore" toml:"ignore"`
}

// Options returns the mount options announced to the bridge.
func (m MountSpec) Options() types.MountOptions {
	return types.MountOptions{
		FileSystemID:      m.FileSystemID,
		DisplayName:       m.DisplayName,
		Writable:          m.Writable,
		Watchable:         m.Watchable,
		OpenedFilesLimit:  m.OpenedFilesLimit,
		SupportsNotifyTag: m.SupportsNotifyTag,
		Persistent:        m.Persistent,
	}
}

type mountsFile struct {
	Mounts []MountSpec `yaml:"mounts" toml:"mounts"`
}

// LoadMounts reads a mounts file. The format follows the extension: .yaml
// and .yml are YAML, .toml is TOML.
func LoadMounts(path string) ([]MountSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mounts file: %w", err)
	}
	return ParseMounts(filepath.Ext(path), data)
}

// ParseMounts decodes mount declarations in the format named by ext.
func ParseMounts(ext string, data []byte) ([]MountSpec, error) {
	var file mountsFile
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse yaml mounts: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse toml mounts: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported mounts file format %q", ext)
	}

	seen := make(map[string]bool, len(file.Mounts))
	for i, m := range file.Mounts {
		if m.FileSystemID == "" || m.Root == "" {
			return nil, fmt.Errorf("mount %d: fileSystemId and root are required", i)
		}
		if seen[m.FileSystemID] {
			return nil, fmt.Errorf("mount %d: duplicate fileSystemId %q", i, m.FileSystemID)
		}
		seen[m.FileSystemID] = true
		if file.Mounts[i].DisplayName == "" {
			file.Mounts[i].DisplayName = m.FileSystemID
		}
	}
	return file.Mounts, nil
}

// Mounts returns every mount the local provider should serve: LOCAL_ROOT
// as "local" followed by the entries of MOUNTS_FILE.
func (c *Config) Mounts() ([]MountSpec, error) {
	var out []MountSpec
	if c.Provider.LocalRoot != "" {
		out = append(out, MountSpec{
			FileSystemID: "local",
			DisplayName:  "Local",
			Root:         c.Provider.LocalRoot,
			Writable:     true,
			Watchable:    true,
		})
	}
	if c.Provider.MountsFile != "" {
		declared, err := LoadMounts(c.Provider.MountsFile)
		if err != nil {
			return nil, err
		}
		out = append(out, declared...)
	}
	return out, nil
}
