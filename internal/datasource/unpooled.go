package datasource

import (
	"context"
	"database/sql"
	"fmt"
	"maps"
	"sync"
	"time"
)

// Settings is a snapshot of the identity of an unpooled data source.
type Settings struct {
	Driver         string
	URL            string
	Username       string
	Password       string
	Properties     map[string]string
	AutoCommit     bool
	Isolation      sql.IsolationLevel
	NetworkTimeout time.Duration
}

// Unpooled opens a brand-new physical connection on every request.
// It is the connection factory underneath the pooled data source.
type Unpooled struct {
	mu sync.RWMutex
	s  Settings

	// open is sql.Open unless replaced in tests.
	open func(driverName, dsn string) (*sql.DB, error)
}

// NewUnpooled creates an unpooled data source in auto-commit mode.
func NewUnpooled(driver, url, username, password string) *Unpooled {
	return NewUnpooledFromSettings(Settings{
		Driver:     driver,
		URL:        url,
		Username:   username,
		Password:   password,
		AutoCommit: true,
	})
}

// NewUnpooledFromSettings creates an unpooled data source from a settings snapshot.
func NewUnpooledFromSettings(s Settings) *Unpooled {
	s.Properties = maps.Clone(s.Properties)
	return &Unpooled{s: s, open: sql.Open}
}

// Settings returns a copy of the current settings.
func (u *Unpooled) Settings() Settings {
	u.mu.RLock()
	defer u.mu.RUnlock()
	s := u.s
	s.Properties = maps.Clone(u.s.Properties)
	return s
}

// Conn opens a connection with the default credentials.
func (u *Unpooled) Conn(ctx context.Context) (Conn, error) {
	s := u.Settings()
	return u.Open(ctx, s.Username, s.Password)
}

// Open opens a new physical connection with the given credentials and
// verifies it with a ping before returning.
func (u *Unpooled) Open(ctx context.Context, username, password string) (*PhysicalConn, error) {
	s := u.Settings()

	dsn, err := BuildDSN(s.URL, username, password, s.Properties)
	if err != nil {
		return nil, fmt.Errorf("building dsn: %w", err)
	}

	db, err := u.open(s.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}

	// Each *sql.DB is used as a single-connection handle so every
	// PhysicalConn maps 1:1 to a driver connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pingCtx, cancel := ctx, context.CancelFunc(func() {})
	if s.NetworkTimeout > 0 {
		pingCtx, cancel = context.WithTimeout(ctx, s.NetworkTimeout)
	}
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	conn, err := NewPhysicalConn(ctx, db, Options{
		AutoCommit:     s.AutoCommit,
		Isolation:      s.Isolation,
		NetworkTimeout: s.NetworkTimeout,
		OwnsDB:         true,
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return conn, nil
}

// SetDriver changes the driver name.
func (u *Unpooled) SetDriver(driver string) {
	u.mu.Lock()
	u.s.Driver = driver
	u.mu.Unlock()
}

// SetURL changes the connection URL.
func (u *Unpooled) SetURL(url string) {
	u.mu.Lock()
	u.s.URL = url
	u.mu.Unlock()
}

// SetUsername changes the default username.
func (u *Unpooled) SetUsername(username string) {
	u.mu.Lock()
	u.s.Username = username
	u.mu.Unlock()
}

// SetPassword changes the default password.
func (u *Unpooled) SetPassword(password string) {
	u.mu.Lock()
	u.s.Password = password
	u.mu.Unlock()
}

// SetProperties replaces the driver properties.
func (u *Unpooled) SetProperties(props map[string]string) {
	u.mu.Lock()
	u.s.Properties = maps.Clone(props)
	u.mu.Unlock()
}

// SetAutoCommit changes the auto-commit mode of new connections.
func (u *Unpooled) SetAutoCommit(autoCommit bool) {
	u.mu.Lock()
	u.s.AutoCommit = autoCommit
	u.mu.Unlock()
}

// SetIsolation changes the isolation level of lazy transactions.
func (u *Unpooled) SetIsolation(level sql.IsolationLevel) {
	u.mu.Lock()
	u.s.Isolation = level
	u.mu.Unlock()
}

// SetNetworkTimeout changes the per-call network timeout.
func (u *Unpooled) SetNetworkTimeout(d time.Duration) {
	u.mu.Lock()
	u.s.NetworkTimeout = d
	u.mu.Unlock()
}
