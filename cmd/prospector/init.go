package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

var (
	initGatewayURL string
	initGatewayKey string
	initAIKey      string
	initAPIKey     string
	initDataDir    string
	initOutput     string
	initForce      bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize Prospector configuration",
	Long: `Interactive wizard to create a Prospector configuration file.

Secrets are written as ${VAR} references and a matching .env file is
created next to the config. The operator API key is stored as a bcrypt
hash and printed once.

Examples:
  # Interactive mode - prompts for missing values
  prospector init

  # Non-interactive with all flags
  prospector init --gateway-url http://evolution:8080 --gateway-key KEY --ai-key KEY -o prospector.yaml`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initGatewayURL, "gateway-url", "", "Evolution API base URL")
	initCmd.Flags().StringVar(&initGatewayKey, "gateway-key", "", "Evolution API key")
	initCmd.Flags().StringVar(&initAIKey, "ai-key", "", "Gemini API key")
	initCmd.Flags().StringVar(&initAPIKey, "api-key", "", "Operator API key (auto-generated if not provided)")
	initCmd.Flags().StringVar(&initDataDir, "data-dir", "/var/lib/prospector", "Data directory for the database and state")
	initCmd.Flags().StringVarP(&initOutput, "output", "o", "config.yaml", "Output configuration file path")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing config file")

	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("Prospector Configuration Wizard")
	fmt.Println("===============================")
	fmt.Println()

	if initGatewayURL == "" {
		initGatewayURL = prompt(reader, "Evolution API URL", "http://localhost:8080")
	}
	if initGatewayKey == "" {
		initGatewayKey = prompt(reader, "Evolution API key", "")
		if initGatewayKey == "" {
			return fmt.Errorf("gateway key is required")
		}
	}
	if initAIKey == "" {
		initAIKey = prompt(reader, "Gemini API key", "")
		if initAIKey == "" {
			return fmt.Errorf("AI key is required")
		}
	}
	initDataDir = prompt(reader, "Data directory", initDataDir)

	if initAPIKey == "" {
		initAPIKey = generateRandomString(32)
		fmt.Printf("  Generated API key: %s\n", initAPIKey)
	}

	if !initForce {
		if _, err := os.Stat(initOutput); err == nil {
			return fmt.Errorf("config file %s already exists (use --force to overwrite)", initOutput)
		}
	}

	fmt.Println()
	fmt.Println("Creating configuration...")

	if err := os.MkdirAll(initDataDir, 0755); err != nil {
		fmt.Printf("  Warning: Could not create data directory: %v\n", err)
	}

	hash, err := hashAPIKey(initAPIKey, bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	if err := os.WriteFile(initOutput, []byte(generateConfig(hash)), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	fmt.Printf("  Configuration saved to: %s\n", initOutput)

	envPath := envFilePath(initOutput)
	if err := os.WriteFile(envPath, []byte(generateEnv()), 0600); err != nil {
		return fmt.Errorf("failed to write env file: %w", err)
	}
	fmt.Printf("  Secrets saved to: %s\n", envPath)
	fmt.Println()

	printNextSteps()
	return nil
}

func prompt(reader *bufio.Reader, question, defaultValue string) string {
	if defaultValue != "" {
		fmt.Printf("%s [%s]: ", question, defaultValue)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultValue
	}
	return input
}

func envFilePath(configPath string) string {
	if i := strings.LastIndexByte(configPath, '/'); i >= 0 {
		return configPath[:i+1] + ".env"
	}
	return ".env"
}

func generateEnv() string {
	return fmt.Sprintf("PROSPECTOR_GATEWAY_KEY=%s\nPROSPECTOR_AI_KEY=%s\n", initGatewayKey, initAIKey)
}

func generateConfig(apiKeyHash string) string {
	return fmt.Sprintf(`# Prospector configuration
# Generated by: prospector init

api:
  listen_addr: ":8080"
  api_keys:
    - "%s"
  read_timeout: 30s
  write_timeout: 30s
  idle_timeout: 60s

webhook:
  # allowed_ips: ["10.0.0.0/8"]
  trust_proxy: false

database:
  path: "%s/prospector.db"

storage:
  path: "%s/state.bolt"

gateway:
  base_url: "%s"
  api_key: "${PROSPECTOR_GATEWAY_KEY}"
  timeout: 30s
  send_delay: 1200ms
  presence: "composing"

ai:
  api_keys:
    - "${PROSPECTOR_AI_KEY}"
  model: "gemini-2.5-flash"
  temperature: 0.5

scheduler:
  followup_exclude: []

dispatch:
  max_attempts: 3
  pause_min: 4s
  pause_max: 10s

orchestrator:
  idle_interval: 25s
  action_min: 5s
  action_max: 15s
  poll_interval: 30s

events:
  enabled: false
  # url: "${PROSPECTOR_AMQP_URL}"
  exchange: "prospector.outcomes"

metrics:
  enabled: false
  listen_addr: ":9090"
  path: "/metrics"

logging:
  level: "info"
  format: "json"
`,
		apiKeyHash,
		initDataDir,
		initDataDir,
		initGatewayURL,
	)
}

func printNextSteps() {
	fmt.Println("Next Steps")
	fmt.Println("==========")
	fmt.Println()
	fmt.Println("1. Point the Evolution webhook (MESSAGES_UPSERT) to:")
	fmt.Println("   http://<this-host>:8080/webhook/evolution")
	fmt.Println()
	fmt.Println("2. Create the schema:")
	fmt.Printf("   prospector migrate -c %s\n", initOutput)
	fmt.Println()
	fmt.Println("3. Start the server:")
	fmt.Printf("   prospector serve -c %s\n", initOutput)
	fmt.Println()
	fmt.Println("4. Start a campaign:")
	fmt.Println("   curl -X POST http://localhost:8080/api/v1/campaigns/<id>/start \\")
	fmt.Printf("     -H \"Authorization: Bearer %s\"\n", initAPIKey)
	fmt.Println()
}
