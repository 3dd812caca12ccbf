package main

import (
	"fmt"
	"os"

	giftwell "github.com/giftwell/giftwell-go"
)

// resolveAuth merges config-file auth with environment overrides.
// GIFTWELL_TOKEN, GIFTWELL_USER_ID and GIFTWELL_BASE_URL win over the file.
func resolveAuth() (token, userID, baseURL string, err error) {
	cfg, err := loadConfig()
	if err != nil {
		return "", "", "", fmt.Errorf("failed to load config: %w", err)
	}
	token = cfg.Auth.Token
	userID = cfg.Auth.UserID
	baseURL = cfg.Default.BaseURL

	if v := os.Getenv("GIFTWELL_TOKEN"); v != "" {
		token = v
	}
	if v := os.Getenv("GIFTWELL_USER_ID"); v != "" {
		userID = v
	}
	if v := os.Getenv("GIFTWELL_BASE_URL"); v != "" {
		baseURL = v
	}
	return token, userID, baseURL, nil
}

// getClient creates a REST client from the stored credentials.
func getClient() *giftwell.Client {
	token, _, baseURL, err := resolveAuth()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if token == "" {
		fmt.Fprintln(os.Stderr, "No token. Run 'giftwell init <token>' first.")
		os.Exit(1)
	}

	var opts []giftwell.ClientOption
	if baseURL != "" {
		opts = append(opts, giftwell.WithBaseURL(baseURL))
	}
	return giftwell.NewClient(token, opts...)
}

// getCredentials returns the credential store the stream client reads from.
func getCredentials() giftwell.CredentialStore {
	token, _, _, err := resolveAuth()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return giftwell.StaticCredentials{Token: token}
}

// getUserID returns the configured local user id.
func getUserID() string {
	_, userID, _, err := resolveAuth()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return userID
}
