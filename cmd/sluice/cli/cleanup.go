package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newCleanupCmd() *cobra.Command {
	var (
		serverURL string
		token     string
	)

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Trigger an immediate cleanup pass on a running gateway",
		Long: `Ask a running Sluice server to drop all user-created databases on the
configured default servers now, instead of waiting for the nightly schedule.`,
		Example: `  sluice cleanup --server http://localhost:8080
  sluice cleanup --server http://localhost:8080 --token $ADMIN_CLEANUP_TOKEN`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCleanup(serverURL, token)
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Base URL of the running gateway")
	cmd.Flags().StringVar(&token, "token", "", "Admin cleanup token (prompted if omitted)")

	return cmd
}

func runCleanup(serverURL, token string) error {
	if token == "" {
		fmt.Print("Admin token: ")
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			return fmt.Errorf("failed to read token: %w", err)
		}
		fmt.Println()
		token = string(raw)
	}
	if token == "" {
		return fmt.Errorf("admin token is required")
	}

	url := strings.TrimRight(serverURL, "/") + "/admin/cleanup"
	req, err := http.NewRequest(http.MethodPost, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Admin-Token", token)

	client := &http.Client{Timeout: 11 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", url, err)
	}
	defer resp.Body.Close()

	var body struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("unexpected response (%d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || !body.Success {
		if body.Error == "" {
			body.Error = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("cleanup failed: %s", body.Error)
	}

	fmt.Println("Cleanup pass completed.")
	return nil
}
