package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/gmail/v1"
)

const (
	credentialsFile = "credentials.json"
	oobRedirectURL  = "urn:ietf:wg:oauth:2.0:oob"
)

// Scopes are the read-only permissions meetprep asks for.
var Scopes = []string{calendar.CalendarReadonlyScope, gmail.GmailReadonlyScope}

// NewHTTPClient returns an authenticated client for the given account.
// The account's token is read from token-<account>.json, written by the auth command.
func NewHTTPClient(ctx context.Context, clientID, clientSecret, accountName string) (*http.Client, error) {
	config, err := getOAuthConfig(clientID, clientSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to get OAuth config: %w", err)
	}

	token, err := tokenFromFile(TokenFile(accountName))
	if err != nil {
		return nil, fmt.Errorf("could not load token for account %s: %w. Please run the 'auth' command first", accountName, err)
	}
	return config.Client(ctx, token), nil
}

// TokenFile is the path of the stored token for an account.
func TokenFile(accountName string) string {
	return "token-" + accountName + ".json"
}

// GetOAuthConfigForAuthFlow is used by the auth command to get the config for the web flow.
func GetOAuthConfigForAuthFlow(clientID, clientSecret string) (*oauth2.Config, error) {
	return getOAuthConfig(clientID, clientSecret)
}

// getOAuthConfig reads credentials and returns an OAuth2 config.
// Environment-provided client credentials win over a local credentials.json file.
func getOAuthConfig(clientID, clientSecret string) (*oauth2.Config, error) {
	if clientID != "" && clientSecret != "" {
		return &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  oobRedirectURL,
			Scopes:       Scopes,
			Endpoint:     google.Endpoint,
		}, nil
	}

	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			return nil, fmt.Errorf("credentials.json not found. Provide GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET or place credentials.json in the working directory")
		}
		return nil, fmt.Errorf("unable to read client secret file: %w", err)
	}

	config, err := google.ConfigFromJSON(b, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file to config: %w", err)
	}
	config.RedirectURL = oobRedirectURL
	return config, nil
}

// TokenFromWeb exchanges an authorization code for a token.
func TokenFromWeb(ctx context.Context, config *oauth2.Config, authCode string) (*oauth2.Token, error) {
	return config.Exchange(ctx, authCode)
}

// SaveToken saves a token to a file path.
func SaveToken(path string, token *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("unable to create token file: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(token)
}

// tokenFromFile retrieves a token from a local file.
func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	return tok, err
}

// GetTokenAccounts lists the account names that have a stored token in dir.
func GetTokenAccounts(dir string) ([]string, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var accounts []string
	for _, file := range files {
		name := file.Name()
		if strings.HasPrefix(name, "token-") && strings.HasSuffix(name, ".json") {
			accounts = append(accounts, strings.TrimSuffix(strings.TrimPrefix(name, "token-"), ".json"))
		}
	}
	return accounts, nil
}
