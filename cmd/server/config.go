package main

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/eventflow/eventflow/internal/email"
	"github.com/eventflow/eventflow/internal/email/postmark"
	"github.com/eventflow/eventflow/internal/krypto"
)

// httpConfig is the configuration for the HTTP server.
type httpConfig struct {
	addr            string
	readTimeout     time.Duration
	writeTimeout    time.Duration
	idleTimeout     time.Duration
	shutdownTimeout time.Duration
	secureCookie    bool
}

// dbConfig is the configuration for the SQLite database.
type dbConfig struct {
	file    string
	migrate bool
}

// authConfig is the configuration for tokens and verification codes.
type authConfig struct {
	accessKey     krypto.Key
	refreshKey    krypto.Key
	accessTTL     time.Duration
	refreshTTL    time.Duration
	codeTTL       time.Duration
	codeCacheSize int
}

// emailConfig is the configuration for outgoing email.
type emailConfig struct {
	driver   string
	from     email.Address
	postmark postmark.Settings
}

// config is the configuration for the server command.
type config struct {
	http      httpConfig
	db        dbConfig
	auth      authConfig
	email     emailConfig
	uploadDir string
}

// defaultConfig returns a config with sane default values.
func defaultConfig() config {
	return config{
		http: httpConfig{
			addr:            ":8888",
			readTimeout:     time.Second * 5,
			writeTimeout:    time.Second * 10,
			idleTimeout:     time.Second * 120,
			shutdownTimeout: time.Second * 15,
			secureCookie:    true,
		},
		db: dbConfig{
			file:    "eventflow.db",
			migrate: true,
		},
		auth: authConfig{
			accessTTL:     time.Minute * 15,
			refreshTTL:    time.Hour * 24 * 7,
			codeTTL:       time.Second * 300,
			codeCacheSize: 1024,
		},
		email: emailConfig{
			driver: "log",
			postmark: postmark.Settings{
				APIURL:        mustURL("https://api.postmarkapp.com/email"),
				MessageStream: "outbound",
			},
		},
		uploadDir: "uploads",
	}
}

// requiredKeys are env variables without a usable default.
var requiredKeys = []string{
	"AUTH_ACCESS_TOKEN_KEY",
	"AUTH_REFRESH_TOKEN_KEY",
	"EMAIL_FROM",
}

// envMap maps environment variable names to fields in the config struct.
var envMap = map[string]func(v string, c *config) error{
	"HTTP_ADDR": func(v string, c *config) error {
		c.http.addr = v
		return nil
	},
	"HTTP_READ_TIMEOUT": func(v string, c *config) error {
		return confDuration(v, &c.http.readTimeout, 0, math.MaxInt64)
	},
	"HTTP_WRITE_TIMEOUT": func(v string, c *config) error {
		return confDuration(v, &c.http.writeTimeout, 0, math.MaxInt64)
	},
	"HTTP_IDLE_TIMEOUT": func(v string, c *config) error {
		return confDuration(v, &c.http.idleTimeout, 0, math.MaxInt64)
	},
	"HTTP_SHUTDOWN_TIMEOUT": func(v string, c *config) error {
		return confDuration(v, &c.http.shutdownTimeout, 0, math.MaxInt64)
	},
	"HTTP_SECURE_COOKIE": func(v string, c *config) error {
		return confBool(v, &c.http.secureCookie)
	},
	"DB_FILENAME": func(v string, c *config) error {
		if v == "" {
			return errors.New("filename can't be empty")
		}
		c.db.file = v
		return nil
	},
	"DB_MIGRATE": func(v string, c *config) error {
		return confBool(v, &c.db.migrate)
	},
	"AUTH_ACCESS_TOKEN_KEY": func(v string, c *config) error {
		return confKey(v, &c.auth.accessKey)
	},
	"AUTH_REFRESH_TOKEN_KEY": func(v string, c *config) error {
		return confKey(v, &c.auth.refreshKey)
	},
	"AUTH_ACCESS_TOKEN_EXPIRY": func(v string, c *config) error {
		return confDuration(v, &c.auth.accessTTL, 0, math.MaxInt64)
	},
	"AUTH_REFRESH_TOKEN_EXPIRY": func(v string, c *config) error {
		return confDuration(v, &c.auth.refreshTTL, 0, math.MaxInt64)
	},
	"AUTH_CODE_EXPIRY": func(v string, c *config) error {
		return confDuration(v, &c.auth.codeTTL, 0, math.MaxInt64)
	},
	"AUTH_CODE_CACHE_SIZE": func(v string, c *config) error {
		return confInt(v, &c.auth.codeCacheSize, 1, math.MaxInt)
	},
	"EMAIL_DRIVER": func(v string, c *config) error {
		if v != "log" && v != "postmark" {
			return fmt.Errorf("unknown email driver %q", v)
		}
		c.email.driver = v
		return nil
	},
	"EMAIL_FROM": func(v string, c *config) error {
		addr, err := email.ParseAddress(v)
		if err != nil {
			return err
		}
		c.email.from = addr
		return nil
	},
	"POSTMARK_API_URL": func(v string, c *config) error {
		return confURL(v, &c.email.postmark.APIURL)
	},
	"POSTMARK_MESSAGE_STREAM": func(v string, c *config) error {
		c.email.postmark.MessageStream = v
		return nil
	},
	"POSTMARK_SERVER_TOKEN": func(v string, c *config) error {
		c.email.postmark.ServerToken = krypto.NewSecret(v)
		return nil
	},
	"UPLOAD_DIR": func(v string, c *config) error {
		if v == "" {
			return errors.New("upload dir can't be empty")
		}
		c.uploadDir = v
		return nil
	},
}

// configFromEnv returns a config with values from the environment. It falls
// back to default values for any missing environment variables, except for
// the required ones.
//
// It does a best effort to validate provided values, so that mistakes are
// caught ASAP. However, there is no guarantee that the returned config
// is valid and will work.
func configFromEnv() (config, error) {
	c := defaultConfig()

	var errs []error
	for _, key := range requiredKeys {
		if _, ok := os.LookupEnv(key); !ok {
			errs = append(errs, fmt.Errorf("missing required env variable %s", key))
		}
	}

	for key, mf := range envMap {
		if val, ok := os.LookupEnv(key); ok {
			if err := mf(val, &c); err != nil {
				errs = append(errs, fmt.Errorf("invalid env variable %s: %w", key, err))
			}
		}
	}

	if len(errs) > 0 {
		return c, errors.Join(errs...)
	}

	return c, nil
}

// confDuration attempts to parse v into tgt and checks if the result is in
// the provided range (inclusive).
func confDuration(v string, tgt *time.Duration, min, max time.Duration) error {
	dur, err := time.ParseDuration(v)
	if err != nil {
		return err
	}

	if dur < min || dur > max {
		return fmt.Errorf("duration %s not in range [%s, %s] (inclusive)", dur, min, max)
	}

	*tgt = dur

	return nil
}

func confBool(v string, tgt *bool) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return err
	}

	*tgt = b

	return nil
}

func confInt(v string, tgt *int, min, max int) error {
	i, err := strconv.Atoi(v)
	if err != nil {
		return err
	}

	if i < min || i > max {
		return fmt.Errorf("int %d not in range [%d, %d] (inclusive)", i, min, max)
	}

	*tgt = i

	return nil
}

func confKey(v string, tgt *krypto.Key) error {
	key, err := krypto.ParseKey(v)
	if err != nil {
		return err
	}

	*tgt = key

	return nil
}

func confURL(v string, tgt **url.URL) error {
	u, err := url.Parse(v)
	if err != nil {
		return err
	}

	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("url %q is missing a scheme or host", v)
	}

	*tgt = u

	return nil
}

func mustURL(v string) *url.URL {
	u, err := url.Parse(v)
	if err != nil {
		panic(err)
	}
	return u
}
