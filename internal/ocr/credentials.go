package ocr

import (
	"google.golang.org/api/option"
)

// Credentials selects how Google clients authenticate. JSON takes precedence over
// File; when both are empty Application Default Credentials are used.
type Credentials struct {
	JSON string
	File string
}

// IsZero reports whether no explicit credentials were configured.
func (c Credentials) IsZero() bool {
	return c.JSON == "" && c.File == ""
}

// ClientOptions converts the credentials into Google API client options.
func (c Credentials) ClientOptions() []option.ClientOption {
	switch {
	case c.JSON != "":
		return []option.ClientOption{option.WithCredentialsJSON([]byte(c.JSON))}
	case c.File != "":
		return []option.ClientOption{option.WithCredentialsFile(c.File)}
	default:
		return nil
	}
}
