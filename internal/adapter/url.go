package adapter

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
)

// SanitizeURL re-encodes the userinfo of a URL-style connection string so
// that raw passwords containing @, #, % or other URL-special characters do
// not mis-split the authority component. Non-URL strings are returned as-is.
func SanitizeURL(raw string) string {
	schemeEnd := strings.Index(raw, "://")
	if schemeEnd < 0 {
		return raw
	}

	scheme := raw[:schemeEnd]
	rest := raw[schemeEnd+3:]

	query := ""
	if qi := strings.IndexByte(rest, '?'); qi >= 0 {
		query = rest[qi:]
		rest = rest[:qi]
	}

	// Everything before the LAST '@' is userinfo.
	atIdx := strings.LastIndex(rest, "@")
	if atIdx < 0 {
		return raw
	}

	userinfo := rest[:atIdx]
	hostpath := rest[atIdx+1:]

	user := userinfo
	pass := ""
	hasPass := false
	if ci := strings.IndexByte(userinfo, ':'); ci >= 0 {
		user = userinfo[:ci]
		pass = userinfo[ci+1:]
		hasPass = true
	}

	encoded := url.PathEscape(user)
	if hasPass {
		encoded += ":" + url.PathEscape(pass)
	}
	return scheme + "://" + encoded + "@" + hostpath + query
}

// WithDatabase returns rawURL with its path replaced by /database.
// An empty database removes the path entirely (server-root connection).
func WithDatabase(rawURL, database string) (string, error) {
	u, err := url.Parse(SanitizeURL(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse connection url: %w", err)
	}
	if database == "" {
		u.Path = "/"
	} else {
		u.Path = "/" + database
	}
	return u.String(), nil
}

// AdminURL rewrites a connection URL to target the engine's administrative
// scope, used for isolation provisioning and the cleanup routine.
func AdminURL(kind Kind, rawURL string) (string, error) {
	switch kind {
	case KindPostgres:
		return WithDatabase(rawURL, "postgres")
	case KindMySQL:
		return WithDatabase(rawURL, "")
	case KindMongo:
		return rawURL, nil
	}
	return "", fmt.Errorf("unsupported kind %q", kind)
}

// MySQLDSN converts a mysql:// URL into the DSN format go-sql-driver
// requires (user:pass@tcp(host:port)/dbname). Strings already in DSN form
// are normalized through the driver's own parser.
func MySQLDSN(raw string) (string, error) {
	if !strings.Contains(raw, "://") {
		cfg, err := mysqldriver.ParseDSN(raw)
		if err != nil {
			return "", fmt.Errorf("parse mysql dsn: %w", err)
		}
		applyMySQLDefaults(cfg)
		return cfg.FormatDSN(), nil
	}

	u, err := url.Parse(SanitizeURL(raw))
	if err != nil {
		return "", fmt.Errorf("parse mysql url: %w", err)
	}

	cfg := mysqldriver.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = u.Host
	if u.Port() == "" {
		cfg.Addr = u.Host + ":3306"
	}
	if u.User != nil {
		cfg.User = u.User.Username()
		cfg.Passwd, _ = u.User.Password()
	}
	cfg.DBName = strings.TrimPrefix(u.Path, "/")
	for key, vals := range u.Query() {
		if cfg.Params == nil {
			cfg.Params = make(map[string]string)
		}
		if len(vals) > 0 {
			cfg.Params[key] = vals[0]
		}
	}
	applyMySQLDefaults(cfg)
	return cfg.FormatDSN(), nil
}

func applyMySQLDefaults(cfg *mysqldriver.Config) {
	cfg.ParseTime = true
	cfg.MultiStatements = false
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
}

var (
	urlCredentials = regexp.MustCompile(`([a-zA-Z][a-zA-Z0-9+.-]*://)[^/@\s]+@`)
	keyCredentials = regexp.MustCompile(`(?i)\b(password|passwd|pwd|user)=[^&\s'";]+`)
)

// Redact strips credentials from driver error messages before they reach the
// client: userinfo in URL-like substrings and password=/user= pairs.
func Redact(message string) string {
	message = urlCredentials.ReplaceAllString(message, "${1}***:***@")
	message = keyCredentials.ReplaceAllString(message, "${1}=***")
	return message
}
