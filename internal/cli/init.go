package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write an example config file",
	RunE:  initAction,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func initAction(_ *cobra.Command, _ []string) error {
	if dir := filepath.Dir(configPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}

	wrote, err := writeIfNotExists(configPath, []byte(exampleConfig))
	if err != nil {
		return err
	}
	if wrote {
		fmt.Printf("Initialized %s. Set the secrets it references in the environment.\n", configPath)
	}
	return nil
}

// writeIfNotExists writes data to path if the file does not exist.
// Returns true if the file was created.
func writeIfNotExists(path string, data []byte) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("  exists: %s\n", path)
		return false, nil
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Printf("  created: %s\n", path)
	return true, nil
}

const exampleConfig = `# postcast configuration
# Every value can also come from the environment (MODE, BASE_URL, AZURE_RSS_URL,
# SLACK_CHANNEL, OPENAI_STATEMENT, CUSTOM_AZURE_STATEMENT, SPECIFIC_DATE, LOG_LEVEL).

mode: wiki

wiki:
  base_url: https://your-company.atlassian.net/wiki
  username_env: CONFLUENCE_USERNAME
  token_env: CONFLUENCE_TOKEN
  page_size: 20

feed:
  url: https://azurecomcdn.azureedge.net/en-us/updates/feed/
  page_size: 50
  timezone: UTC
  drop_lines:
    - "Additional resources:"
    - "Related Products"

summarize:
  provider: openai
  model: gpt-3.5-turbo
  api_key_env: OPENAI_API_KEY
  max_tokens: 500
  temperature: 0.8
  timeout: 60s

slack:
  token_env: SLACK_TOKEN
  channel: C0123456789
  history_limit: 200

delivery:
  first_run: latest
  cursor_store: slack
  timeout: 10m
  lock_ttl: 15m

storage:
  path: .postcast/postcast.db
  retain_days: 90

privacy:
  redact:
    enabled: false
    # regular expressions, or builtin:<name> for slack_token, openai_key,
    # aws_access_key, bearer, email
    patterns:
      - builtin:slack_token
      - builtin:openai_key

logging:
  level: info
  format: auto
`
