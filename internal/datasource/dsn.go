package datasource

import (
	"database/sql"
	"fmt"
	"net/url"
	"strings"
)

// BuildDSN returns the connection string handed to sql.Open.
// URL-form DSNs receive the credentials as userinfo and the driver properties
// as query parameters (sorted by name). Anything else passes through unchanged.
func BuildDSN(rawURL, username, password string, props map[string]string) (string, error) {
	if !strings.Contains(rawURL, "://") {
		return rawURL, nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parsing url: %w", err)
	}

	if username != "" {
		if password != "" {
			u.User = url.UserPassword(username, password)
		} else {
			u.User = url.User(username)
		}
	}

	if len(props) > 0 {
		q := u.Query()
		for k, v := range props {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}

	return u.String(), nil
}

// ParseIsolation maps a configuration name to a database/sql isolation level.
func ParseIsolation(name string) (sql.IsolationLevel, error) {
	switch strings.ToLower(name) {
	case "", "default":
		return sql.LevelDefault, nil
	case "read_uncommitted":
		return sql.LevelReadUncommitted, nil
	case "read_committed":
		return sql.LevelReadCommitted, nil
	case "repeatable_read":
		return sql.LevelRepeatableRead, nil
	case "serializable":
		return sql.LevelSerializable, nil
	default:
		return sql.LevelDefault, fmt.Errorf("unknown isolation level %q", name)
	}
}
