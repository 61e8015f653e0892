package cmd

import (
	"fmt"
	"reflect"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dugoutlabs/hap/internal/config"
	"github.com/dugoutlabs/hap/pkg/duration"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing hap configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the default configuration",
	Long: `Dump the default configuration values in YAML format.

This shows all available configuration options with their default values.
You can redirect this output to a file to create a configuration template:

  hap config dump > config.yaml

Configuration can be set via:
  - Config file (config.yaml, .hap.yaml, /etc/hap/config.yaml)
  - Environment variables (HAP_PIPELINE_CONCURRENCY, HAP_DATABASE_DSN, etc.)
  - Command-line flags (for some options)

Environment variables use the HAP_ prefix and underscores for nesting.
Example: pipeline.concurrency -> HAP_PIPELINE_CONCURRENCY`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

// toMap converts a struct to a map, formatting durations and sizes for
// human readability and masking credentials.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		// Get mapstructure tag or use lowercase field name
		key := fieldType.Tag.Get("mapstructure")
		if key == "" {
			key = fieldType.Tag.Get("yaml")
		}
		if key == "" {
			key = fieldType.Name
		}

		// Credentials picked up from the environment must not land in a
		// template that gets pasted into tickets.
		if key == "api_key" {
			if s, ok := field.Interface().(string); ok && s != "" {
				result[key] = "[REDACTED]"
				continue
			}
		}

		// Handle different types
		switch v := field.Interface().(type) {
		case time.Duration:
			result[key] = duration.Format(v)
		case config.ByteSize:
			result[key] = v.String()
		default:
			if field.Kind() == reflect.Struct {
				result[key] = toMap(field.Interface())
			} else {
				result[key] = field.Interface()
			}
		}
	}
	return result
}

func runConfigDump(cmd *cobra.Command, args []string) error {
	// Load config with defaults (no file, just defaults)
	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Convert to map with human-readable values
	cfgMap := toMap(cfg)

	// Marshal to YAML
	yamlData, err := yaml.Marshal(cfgMap)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	// Print header with documentation
	fmt.Println("# hap Configuration File")
	fmt.Println("# ======================")
	fmt.Println("#")
	fmt.Println("# All values shown below are defaults.")
	fmt.Println("# Duration format: 30s, 5m, 1h, 30d")
	fmt.Println("# Size format: 5MB, 1GB")
	fmt.Println("#")
	fmt.Println("# Environment variable overrides:")
	fmt.Println("#   HAP_DATABASE_DRIVER, HAP_DATABASE_DSN")
	fmt.Println("#   HAP_STORAGE_WORKING_DIR_ROOT, HAP_STORAGE_TRANSITIONS_DIR")
	fmt.Println("#   HAP_PIPELINE_CONCURRENCY, HAP_PIPELINE_FETCH_TIMEOUT")
	fmt.Println("#   HAP_TRANSCRIPTION_WHISPER_API_KEY, HAP_TRANSCRIPTION_DEEPGRAM_API_KEY")
	fmt.Println("#   HAP_LOGGING_LEVEL, HAP_LOGGING_FORMAT")
	fmt.Println("#   etc.")
	fmt.Println("#")
	fmt.Println("")
	fmt.Print(string(yamlData))

	return nil
}
