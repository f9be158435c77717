package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/sessionkit/sessionkit/pkg/types"
)

// Engine defaults applied after all sources are merged.
const (
	DefaultPort         = 8080
	DefaultTimeoutMS    = 5 * 60 * 1000
	DefaultMemoryWindow = 10
	DefaultMaxRetries   = 3
	DefaultMaxMessages  = 200
)

// Load loads configuration from multiple sources (priority order):
// 1. Global config (~/.config/sessionkit/)
// 2. Project config (sessionkit.json next to the working directory)
// 3. SESSIONKIT_CONFIG file
// 4. SESSIONKIT_CONFIG_CONTENT inline JSON
// 5. Environment variables
func Load(directory string) (*types.Config, error) {
	config := &types.Config{}

	// Track loaded files to avoid duplicates
	loaded := make(map[string]bool)

	loadOnce := func(path string, baseDir string) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return
		}
		if loaded[absPath] {
			return
		}
		if loadConfigFile(path, config, baseDir) == nil {
			loaded[absPath] = true
		}
	}

	// 1. Global config
	globalPath := GetPaths().Config
	loadOnce(filepath.Join(globalPath, "sessionkit.json"), globalPath)
	loadOnce(filepath.Join(globalPath, "sessionkit.jsonc"), globalPath)

	// 2. Project config
	if directory != "" {
		loadOnce(filepath.Join(directory, "sessionkit.json"), directory)
		loadOnce(filepath.Join(directory, "sessionkit.jsonc"), directory)
	}

	// 3. SESSIONKIT_CONFIG file override
	if configPath := os.Getenv("SESSIONKIT_CONFIG"); configPath != "" {
		loadOnce(configPath, filepath.Dir(configPath))
	}

	// 4. SESSIONKIT_CONFIG_CONTENT inline JSON
	if configContent := os.Getenv("SESSIONKIT_CONFIG_CONTENT"); configContent != "" {
		var inlineConfig types.Config
		if err := json.Unmarshal([]byte(configContent), &inlineConfig); err == nil {
			mergeConfig(config, &inlineConfig)
		}
	}

	// 5. Environment variables (highest priority)
	applyEnvOverrides(config)

	applyDefaults(config)
	return config, nil
}

// loadConfigFile loads a single config file with interpolation support.
func loadConfigFile(path string, config *types.Config, baseDir string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err // File doesn't exist, skip
	}

	// Strip JSONC comments using tidwall/jsonc
	data = jsonc.ToJSON(data)

	// Apply interpolation
	data = interpolate(data, baseDir)

	var fileConfig types.Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return err
	}

	mergeConfig(config, &fileConfig)
	return nil
}

// interpolate processes {env:VAR} and {file:path} placeholders.
func interpolate(data []byte, baseDir string) []byte {
	str := string(data)

	// Handle {env:VAR_NAME} placeholders
	envPattern := regexp.MustCompile(`\{env:([^}]+)\}`)
	str = envPattern.ReplaceAllStringFunc(str, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})

	// Handle {file:path} placeholders
	filePattern := regexp.MustCompile(`\{file:([^}]+)\}`)
	str = filePattern.ReplaceAllStringFunc(str, func(match string) string {
		filePath := filePattern.FindStringSubmatch(match)[1]

		if strings.HasPrefix(filePath, "~/") {
			home := os.Getenv("HOME")
			filePath = filepath.Join(home, filePath[2:])
		} else if !filepath.IsAbs(filePath) {
			filePath = filepath.Join(baseDir, filePath)
		}

		content, err := os.ReadFile(filePath)
		if err != nil {
			return match // Keep original if file not found
		}

		// Escape for JSON string
		escaped := strings.ReplaceAll(string(content), "\\", "\\\\")
		escaped = strings.ReplaceAll(escaped, "\"", "\\\"")
		escaped = strings.ReplaceAll(escaped, "\n", "\\n")
		escaped = strings.ReplaceAll(escaped, "\r", "\\r")
		escaped = strings.ReplaceAll(escaped, "\t", "\\t")

		return escaped
	})

	return []byte(str)
}

// mergeConfig merges source config into target. Later sources win for
// every field they set.
func mergeConfig(target, source *types.Config) {
	if source.LogLevel != "" {
		target.LogLevel = source.LogLevel
	}
	if source.PrettyLog {
		target.PrettyLog = true
	}
	if source.WorkflowDir != "" {
		target.WorkflowDir = source.WorkflowDir
	}
	if source.HistoryDir != "" {
		target.HistoryDir = source.HistoryDir
	}

	if source.Server.Port != 0 {
		target.Server.Port = source.Server.Port
	}
	if source.Server.EnableCORS {
		target.Server.EnableCORS = true
	}

	if source.Defaults.TimeoutMS != 0 {
		target.Defaults.TimeoutMS = source.Defaults.TimeoutMS
	}
	if source.Defaults.MemoryWindow != 0 {
		target.Defaults.MemoryWindow = source.Defaults.MemoryWindow
	}
	if source.Defaults.MaxRetries != 0 {
		target.Defaults.MaxRetries = source.Defaults.MaxRetries
	}
	if source.Defaults.MaxMessages != 0 {
		target.Defaults.MaxMessages = source.Defaults.MaxMessages
	}
}

// applyEnvOverrides applies environment variable overrides.
func applyEnvOverrides(config *types.Config) {
	if level := os.Getenv("SESSIONKIT_LOG_LEVEL"); level != "" {
		config.LogLevel = level
	}
	if port := os.Getenv("SESSIONKIT_PORT"); port != "" {
		if n, err := strconv.Atoi(port); err == nil && n > 0 {
			config.Server.Port = n
		}
	}
	if dir := os.Getenv("SESSIONKIT_WORKFLOW_DIR"); dir != "" {
		config.WorkflowDir = dir
	}
	if dir := os.Getenv("SESSIONKIT_HISTORY_DIR"); dir != "" {
		config.HistoryDir = dir
	}
	if timeout := os.Getenv("SESSIONKIT_TIMEOUT_MS"); timeout != "" {
		if n, err := strconv.ParseInt(timeout, 10, 64); err == nil && n > 0 {
			config.Defaults.TimeoutMS = n
		}
	}
}

// applyDefaults fills in whatever no source set.
func applyDefaults(config *types.Config) {
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
	if config.Server.Port == 0 {
		config.Server.Port = DefaultPort
	}
	if config.Defaults.TimeoutMS == 0 {
		config.Defaults.TimeoutMS = DefaultTimeoutMS
	}
	if config.Defaults.MemoryWindow == 0 {
		config.Defaults.MemoryWindow = DefaultMemoryWindow
	}
	if config.Defaults.MaxRetries == 0 {
		config.Defaults.MaxRetries = DefaultMaxRetries
	}
	if config.Defaults.MaxMessages == 0 {
		config.Defaults.MaxMessages = DefaultMaxMessages
	}
}

// Save writes the configuration to a file.
func Save(config *types.Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
