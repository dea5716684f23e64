package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/rohankatakam/shopgraph/internal/config"
)

var credentialsCmd = &cobra.Command{
	Use:   "credentials",
	Short: "Manage the Neo4j password in the OS keychain",
	Long: `Store the Neo4j password in the OS keychain so it does not have to live in
the config file or the environment. NEO4J_PASSWORD still takes precedence.`,
}

var credentialsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Save the Neo4j password to the keychain",
	RunE: func(cmd *cobra.Command, args []string) error {
		km := config.NewKeyringManager()
		if !km.IsAvailable() {
			return fmt.Errorf("OS keychain not available; set NEO4J_PASSWORD instead")
		}

		password, err := readPassword("Neo4j password: ")
		if err != nil {
			return err
		}
		if err := km.SetNeo4jPassword(password); err != nil {
			return err
		}
		fmt.Println("✓ Neo4j password saved to keychain")
		return nil
	},
}

var credentialsDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Remove the Neo4j password from the keychain",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.NewKeyringManager().DeleteNeo4jPassword(); err != nil {
			return err
		}
		fmt.Println("✓ Neo4j password removed from keychain")
		return nil
	},
}

var credentialsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show where the Neo4j password comes from",
	RunE: func(cmd *cobra.Command, args []string) error {
		km := config.NewKeyringManager()

		source := "config file"
		switch {
		case os.Getenv("NEO4J_PASSWORD") != "":
			source = "environment (NEO4J_PASSWORD)"
		case km.IsAvailable():
			if stored, _ := km.GetNeo4jPassword(); stored != "" {
				source = "OS keychain"
			}
		}

		fmt.Printf("Keychain available: %t\n", km.IsAvailable())
		fmt.Printf("Password source:    %s\n", source)
		fmt.Printf("Password:           %s\n", config.MaskSecret(cfg.Neo4j.Password))
		return nil
	},
}

func init() {
	credentialsCmd.AddCommand(credentialsSetCmd)
	credentialsCmd.AddCommand(credentialsDeleteCmd)
	credentialsCmd.AddCommand(credentialsStatusCmd)
}

// readPassword prompts without echo on a terminal and reads a line otherwise
func readPassword(prompt string) (string, error) {
	fd := int(syscall.Stdin)
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, prompt)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimSpace(line), nil
}
