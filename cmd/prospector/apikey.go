package main

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "API key helpers",
}

var apikeyHashCmd = &cobra.Command{
	Use:   "hash [key]",
	Short: "Print the bcrypt hash of an API key",
	Long: `Print the bcrypt hash of an API key for api.api_keys.

The key is read from stdin when not given as an argument. With --generate a
random key is created and printed together with its hash.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAPIKeyHash,
}

var (
	apikeyGenerate bool
	apikeyCost     int
)

func init() {
	apikeyHashCmd.Flags().BoolVar(&apikeyGenerate, "generate", false, "generate a random key")
	apikeyHashCmd.Flags().IntVar(&apikeyCost, "cost", bcrypt.DefaultCost, "bcrypt cost")

	apikeyCmd.AddCommand(apikeyHashCmd)
	rootCmd.AddCommand(apikeyCmd)
}

func runAPIKeyHash(cmd *cobra.Command, args []string) error {
	var key string
	switch {
	case apikeyGenerate:
		key = generateRandomString(32)
	case len(args) == 1:
		key = args[0]
	default:
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("failed to read key: %w", err)
		}
		key = strings.TrimSpace(line)
	}

	hash, err := hashAPIKey(key, apikeyCost)
	if err != nil {
		return err
	}

	if apikeyGenerate {
		fmt.Printf("key:  %s\n", key)
		fmt.Printf("hash: %s\n", hash)
		return nil
	}
	fmt.Println(hash)
	return nil
}

func hashAPIKey(key string, cost int) (string, error) {
	if key == "" {
		return "", fmt.Errorf("key is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash key: %w", err)
	}
	return string(hash), nil
}

func generateRandomString(length int) string {
	bytes := make([]byte, length/2)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}
