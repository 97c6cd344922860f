package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/lazywriter/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
	Long: `Manage lazywriterd configuration files.

Subcommands:
  init      Write a default configuration file
  validate  Validate a configuration file
  show      Display the effective configuration
  schema    Generate a JSON schema for the configuration file`,
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSchemaCmd)
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := GetConfigFile()
		if path == "" {
			path = config.GetDefaultConfigPath()
		}
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("configuration file already exists: %s", path)
		}
		cfg := config.DefaultConfig()
		if err := config.SaveConfig(&cfg, path); err != nil {
			return err
		}
		cmd.Printf("Wrote default configuration to %s\n", path)
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.MustLoad(GetConfigFile())
		if err != nil {
			return err
		}
		if err := config.Validate(cfg); err != nil {
			return err
		}
		cmd.Println("configuration is valid")
		return nil
	},
}

var configShowOutput string

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.MustLoad(GetConfigFile())
		if err != nil {
			return err
		}
		switch configShowOutput {
		case "json":
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(cfg)
		default:
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(data)
			return err
		}
	},
}

func init() {
	configShowCmd.Flags().StringVarP(&configShowOutput, "output", "o", "yaml", "Output format (yaml|json)")
}

var schemaOutput string

var configSchemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Generate a JSON schema for the configuration file",
	Long: `Generate a JSON schema for the lazywriterd configuration file.

The schema can be used for editor autocompletion and configuration file
validation.

Examples:
  # Print schema to stdout
  lazywriterd config schema

  # Save schema to file
  lazywriterd config schema --output config.schema.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		reflector := jsonschema.Reflector{
			AllowAdditionalProperties: false,
			DoNotReference:            true,
		}
		schema := reflector.Reflect(&config.Config{})
		schema.Version = "https://json-schema.org/draft/2020-12/schema"
		schema.Title = "lazywriterd Configuration"
		schema.Description = "Configuration schema for the lazywriterd daemon"

		schemaJSON, err := json.MarshalIndent(schema, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to generate schema: %w", err)
		}

		if schemaOutput != "" {
			if err := os.WriteFile(schemaOutput, schemaJSON, 0644); err != nil {
				return fmt.Errorf("failed to write schema file: %w", err)
			}
			cmd.Printf("JSON schema written to %s\n", schemaOutput)
			return nil
		}

		cmd.Println(string(schemaJSON))
		return nil
	},
}

func init() {
	configSchemaCmd.Flags().StringVarP(&schemaOutput, "output", "o", "", "Output file (default: stdout)")
}
