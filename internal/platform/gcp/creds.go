package gcp

import (
	"fmt"
	"os"
	"strings"

	"google.golang.org/api/option"
)

// ClientOptionsFromEnv builds client options from either inline JSON
// credentials or a key file path. Returns nil so ADC applies when
// neither is set.
func ClientOptionsFromEnv() []option.ClientOption {
	creds := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON"))
	if creds == "" {
		creds = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	if creds == "" {
		return nil
	}
	if strings.HasPrefix(creds, "{") {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(creds))}
	}
	return []option.ClientOption{option.WithCredentialsFile(creds)}
}

// ParseGCSURI splits gs://bucket/key into its parts.
func ParseGCSURI(uri string) (bucket, key string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("not a gs:// uri: %q", uri)
	}
	rest := strings.TrimPrefix(uri, "gs://")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed gs:// uri: %q", uri)
	}
	return parts[0], parts[1], nil
}
