// Package secureenv builds the environment variable list passed to spawned
// external MCP server processes. Rather than forwarding the gateway's full
// environment (which may carry credentials meant for the gateway itself, not
// its children), it allow-lists a fixed set of system variables and layers a
// discovered PATH on top so common language toolchains (node, python, go,
// cargo) remain reachable without leaking anything else.
package secureenv

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const osWindows = "windows"

// Config controls which variables a Builder forwards.
type Config struct {
	InheritSystemSafe bool
	AllowedSystemVars []string
	CustomVars        map[string]string
}

// DefaultConfig allow-lists the variables a spawned CLI tool typically needs:
// PATH/HOME/shell/locale plus the platform-specific profile variables.
func DefaultConfig() *Config {
	allowed := []string{
		"PATH", "HOME", "TMPDIR", "TEMP", "TMP", "SHELL", "TERM", "LANG",
		"USER", "USERNAME",
	}
	if runtime.GOOS == osWindows {
		allowed = append(allowed, "USERPROFILE", "APPDATA", "LOCALAPPDATA", "PROGRAMFILES", "SYSTEMROOT", "COMSPEC")
	} else {
		allowed = append(allowed, "XDG_CONFIG_HOME", "XDG_DATA_HOME", "XDG_CACHE_HOME", "XDG_RUNTIME_DIR")
	}
	allowed = append(allowed,
		"LC_ALL", "LC_CTYPE", "LC_NUMERIC", "LC_TIME", "LC_COLLATE",
		"LC_MONETARY", "LC_MESSAGES", "LC_PAPER", "LC_NAME", "LC_ADDRESS",
		"LC_TELEPHONE", "LC_MEASUREMENT", "LC_IDENTIFICATION",
	)
	return &Config{
		InheritSystemSafe: true,
		AllowedSystemVars: allowed,
		CustomVars:        make(map[string]string),
	}
}

// discovery holds the toolchain paths found on this host, layered onto PATH
// ahead of whatever PATH the allow-list would otherwise forward.
type discovery struct {
	home  string
	paths []string
}

// Builder produces the env slice for one spawned process.
type Builder struct {
	cfg *Config
	disc *discovery
}

// NewBuilder creates a Builder, performing path discovery once up front.
func NewBuilder(cfg *Config) *Builder {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	b := &Builder{cfg: cfg}
	b.disc = b.discoverPaths()
	return b
}

// Build returns the "KEY=VALUE" slice to pass as exec.Cmd.Env: the filtered
// system environment, the caller's custom vars, and an enhanced PATH.
func (b *Builder) Build(extra map[string]string) []string {
	var env []string
	if b.cfg.InheritSystemSafe {
		env = append(env, b.filteredSystemEnv()...)
	}
	for k, v := range b.cfg.CustomVars {
		env = append(env, k+"="+v)
	}
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return b.withEnhancedPath(env)
}

func (b *Builder) filteredSystemEnv() []string {
	var out []string
	for _, kv := range os.Environ() {
		if b.allowed(kv) {
			out = append(out, kv)
		}
	}
	return out
}

func (b *Builder) allowed(envVar string) bool {
	parts := strings.SplitN(envVar, "=", 2)
	if len(parts) != 2 {
		return false
	}
	key := parts[0]
	for _, allow := range b.cfg.AllowedSystemVars {
		if key == allow {
			return true
		}
		if strings.HasSuffix(allow, "*") && strings.HasPrefix(key, strings.TrimSuffix(allow, "*")) {
			return true
		}
	}
	return false
}

func (b *Builder) withEnhancedPath(env []string) []string {
	var existing string
	idx := -1
	for i, kv := range env {
		if strings.HasPrefix(kv, "PATH=") {
			existing = strings.TrimPrefix(kv, "PATH=")
			idx = i
			break
		}
	}

	components := append([]string{}, b.disc.paths...)
	if existing != "" {
		for _, c := range strings.Split(existing, string(os.PathListSeparator)) {
			c = strings.TrimSpace(c)
			if c != "" && !contains(components, c) {
				components = append(components, c)
			}
		}
	}

	valid := make([]string, 0, len(components))
	seen := make(map[string]bool, len(components))
	for _, c := range components {
		if c != "" && !seen[c] && isDir(c) {
			valid = append(valid, c)
			seen[c] = true
		}
	}
	pathVar := "PATH=" + strings.Join(valid, string(os.PathListSeparator))

	if idx >= 0 {
		env[idx] = pathVar
		return env
	}
	return append(env, pathVar)
}

// discoverPaths looks for common per-language toolchain bin directories
// (homebrew, nvm/volta, pyenv/pip --user, cargo, go) under the user's home
// plus the platform's standard system bin directories.
func (b *Builder) discoverPaths() *discovery {
	home, _ := os.UserHomeDir()
	d := &discovery{home: home}

	var candidates []string
	switch runtime.GOOS {
	case osWindows:
		candidates = append(candidates,
			`C:\Windows\System32`, `C:\Windows`, `C:\Windows\System32\Wbem`,
			`C:\Program Files\nodejs`, `C:\Program Files (x86)\nodejs`, `C:\Program Files\Git\bin`,
		)
	case "darwin":
		candidates = append(candidates, "/opt/homebrew/bin", "/opt/homebrew/sbin")
		if home != "" {
			candidates = append(candidates, expandGlob(filepath.Join(home, "Library/Python/*/bin"))...)
		}
		candidates = append(candidates, "/usr/local/bin", "/usr/local/sbin", "/usr/bin", "/bin", "/usr/sbin", "/sbin")
	default:
		candidates = append(candidates, "/usr/local/bin", "/usr/local/sbin", "/usr/bin", "/bin", "/usr/sbin", "/sbin")
	}

	if home != "" && runtime.GOOS != osWindows {
		candidates = append(candidates,
			filepath.Join(home, ".local/bin"),
			filepath.Join(home, ".cargo/bin"),
			filepath.Join(home, "go/bin"),
			filepath.Join(home, ".volta/bin"),
		)
		candidates = append(candidates, expandGlob(filepath.Join(home, ".nvm/versions/node/*/bin"))...)
		candidates = append(candidates, expandGlob(filepath.Join(home, ".pyenv/versions/*/bin"))...)
	}
	candidates = append(candidates, "/usr/local/go/bin")

	seen := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		if c != "" && !seen[c] && isDir(c) {
			d.paths = append(d.paths, c)
			seen[c] = true
		}
	}
	return d
}

func expandGlob(pattern string) []string {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil
	}
	out := matches[:0]
	for _, m := range matches {
		if isDir(m) {
			out = append(out, m)
		}
	}
	return out
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func contains(haystack []string, needle string) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}
