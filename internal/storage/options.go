package storage

import "time"

// Option configures either storage backend. Options that only make sense
// for one backend are silently ignored by the other.
type Option interface {
	applyJSON(*Storage)
	applyPostgres(*PostgresConfig)
}

type optionAdapter struct {
	json func(*Storage)
	pg   func(*PostgresConfig)
}

func (o optionAdapter) applyJSON(store *Storage) {
	if o.json != nil && store != nil {
		o.json(store)
	}
}

func (o optionAdapter) applyPostgres(cfg *PostgresConfig) {
	if o.pg != nil && cfg != nil {
		o.pg(cfg)
	}
}

func composeOption(json func(*Storage), pg func(*PostgresConfig)) Option {
	return optionAdapter{json: json, pg: pg}
}

func postgresOnlyOption(pg func(*PostgresConfig)) Option {
	return optionAdapter{pg: pg}
}

// AdminBootstrap seeds an administrator account on first boot when no user
// holds the admin role yet.
type AdminBootstrap struct {
	Username string
	Password string
}

// WithAdminBootstrap configures the seeded administrator account.
func WithAdminBootstrap(bootstrap AdminBootstrap) Option {
	return composeOption(
		func(s *Storage) {
			s.adminBootstrap = bootstrap
		},
		func(cfg *PostgresConfig) {
			cfg.AdminBootstrap = bootstrap
		},
	)
}

// WithClock overrides the store's notion of now. Tests use it to cross the
// UTC date boundary without sleeping.
func WithClock(now func() time.Time) Option {
	return composeOption(
		func(s *Storage) {
			if now != nil {
				s.now = now
			}
		},
		func(cfg *PostgresConfig) {
			if now != nil {
				cfg.Now = now
			}
		},
	)
}

// WithMaxConnections caps the Postgres connection pool.
func WithMaxConnections(n int32) Option {
	return postgresOnlyOption(func(cfg *PostgresConfig) {
		if n > 0 {
			cfg.MaxConnections = n
		}
	})
}

// WithApplicationName sets the application_name reported to Postgres.
func WithApplicationName(name string) Option {
	return postgresOnlyOption(func(cfg *PostgresConfig) {
		if name != "" {
			cfg.ApplicationName = name
		}
	})
}

// WithConnectTimeout bounds the initial Postgres connection attempt.
func WithConnectTimeout(d time.Duration) Option {
	return postgresOnlyOption(func(cfg *PostgresConfig) {
		if d > 0 {
			cfg.ConnectTimeout = d
		}
	})
}
