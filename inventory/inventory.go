// Package inventory loads the document in which the host application
// describes itself: configuration values, runtime details, installed plugins
// and themes, and the user-role census.
package inventory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type Server struct {
	Addr         string `json:"addr" yaml:"addr"`
	DocumentRoot string `json:"document_root" yaml:"document_root"`
}

// Database never carries the password.
type Database struct {
	Host string `json:"host" yaml:"host"`
	Name string `json:"name" yaml:"name"`
	User string `json:"user" yaml:"user"`
}

type Paths struct {
	Install   string `json:"install" yaml:"install"`
	Content   string `json:"content" yaml:"content"`
	Plugin    string `json:"plugin" yaml:"plugin"`
	ThemeRoot string `json:"theme_root" yaml:"theme_root"`
	Upload    string `json:"upload" yaml:"upload"`
}

type Runtime struct {
	Version     string   `json:"version" yaml:"version"`
	SAPI        string   `json:"sapi" yaml:"sapi"`
	Extensions  []string `json:"extensions" yaml:"extensions"`
	UploadMax   string   `json:"upload_max" yaml:"upload_max"`
	MemoryLimit string   `json:"memory_limit" yaml:"memory_limit"`
}

// Constants holds host configuration constants. An empty value means the
// constant is undefined.
type Constants struct {
	WPMemoryLimit    string `json:"wp_memory_limit" yaml:"wp_memory_limit"`
	WPMaxMemoryLimit string `json:"wp_max_memory_limit" yaml:"wp_max_memory_limit"`
	WPDebug          string `json:"wp_debug" yaml:"wp_debug"`
	DisableWPCron    string `json:"disable_wp_cron" yaml:"disable_wp_cron"`
	WPAutoUpdateCore string `json:"wp_auto_update_core" yaml:"wp_auto_update_core"`
}

type Site struct {
	CoreVersion      string `json:"core_version" yaml:"core_version"`
	Language         string `json:"language" yaml:"language"`
	BlogName         string `json:"blog_name" yaml:"blog_name"`
	HomeURL          string `json:"home_url" yaml:"home_url"`
	SiteURL          string `json:"site_url" yaml:"site_url"`
	AdminURL         string `json:"admin_url" yaml:"admin_url"`
	ContentURL       string `json:"content_url" yaml:"content_url"`
	PluginURL        string `json:"plugin_url" yaml:"plugin_url"`
	AdminEmail       string `json:"admin_email" yaml:"admin_email"`
	UsersCanRegister string `json:"users_can_register" yaml:"users_can_register"`
	DefaultRole      string `json:"default_role" yaml:"default_role"`
}

// Theme keeps the subset of theme headers reported downstream, in report
// order.
type Theme struct {
	Name      string `json:"Name" yaml:"name"`
	ThemeURI  string `json:"ThemeURI" yaml:"theme_uri"`
	Author    string `json:"Author" yaml:"author"`
	AuthorURI string `json:"AuthorURI" yaml:"author_uri"`
	Version   string `json:"Version" yaml:"version"`
	Template  string `json:"Template" yaml:"template"`
	Status    string `json:"Status" yaml:"status"`
}

type Inventory struct {
	Server         Server                    `json:"server" yaml:"server"`
	Database       Database                  `json:"database" yaml:"database"`
	Paths          Paths                     `json:"paths" yaml:"paths"`
	Runtime        Runtime                   `json:"runtime" yaml:"runtime"`
	Constants      Constants                 `json:"constants" yaml:"constants"`
	Site           Site                      `json:"site" yaml:"site"`
	UserRoles      map[string]int            `json:"user_roles" yaml:"user_roles"`
	Plugins        map[string]map[string]any `json:"plugins" yaml:"plugins"`
	PluginUpdates  any                       `json:"plugin_updates" yaml:"plugin_updates"`
	ActivePlugins  []string                  `json:"active_plugins" yaml:"active_plugins"`
	NetworkPlugins any                       `json:"network_plugins" yaml:"network_plugins"`
	MUPlugins      map[string]map[string]any `json:"mu_plugins" yaml:"mu_plugins"`
	Dropins        map[string]map[string]any `json:"dropins" yaml:"dropins"`
	ActiveTheme    string                    `json:"active_theme" yaml:"active_theme"`
	ThemeList      any                       `json:"theme_list" yaml:"theme_list"`
	ThemeUpdates   any                       `json:"theme_updates" yaml:"theme_updates"`
	Themes         map[string]Theme          `json:"themes" yaml:"themes"`
}

// Load reads an inventory from path. Files ending in .yaml or .yml are
// decoded as YAML, everything else as JSON.
func Load(path string) (*Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read inventory: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return DecodeYAML(data)
	default:
		return DecodeJSON(data)
	}
}

func DecodeJSON(data []byte) (*Inventory, error) {
	inv := &Inventory{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(inv); err != nil {
		return nil, fmt.Errorf("invalid inventory JSON: %w", err)
	}
	return inv, nil
}

func DecodeYAML(data []byte) (*Inventory, error) {
	inv := &Inventory{}
	if err := yaml.Unmarshal(data, inv); err != nil {
		return nil, fmt.Errorf("invalid inventory YAML: %w", err)
	}
	return inv, nil
}

// Override replaces server and path values with non-empty operator
// overrides.
func (inv *Inventory) Override(serverAddr, documentRoot, installPath string) {
	if serverAddr != "" {
		inv.Server.Addr = serverAddr
	}
	if documentRoot != "" {
		inv.Server.DocumentRoot = documentRoot
	}
	if installPath != "" {
		inv.Paths.Install = installPath
	}
}

// FillDefaults derives the conventional directory layout from the install
// path for any directory left empty.
func (inv *Inventory) FillDefaults() {
	install := strings.TrimRight(inv.Paths.Install, "/")
	if install == "" {
		return
	}
	if inv.Paths.Content == "" {
		inv.Paths.Content = install + "/wp-content"
	}
	if inv.Paths.Plugin == "" {
		inv.Paths.Plugin = inv.Paths.Content + "/plugins"
	}
	if inv.Paths.ThemeRoot == "" {
		inv.Paths.ThemeRoot = inv.Paths.Content + "/themes"
	}
	if inv.Paths.Upload == "" {
		inv.Paths.Upload = inv.Paths.Content + "/uploads"
	}
	if inv.Server.DocumentRoot == "" {
		inv.Server.DocumentRoot = install
	}
}
