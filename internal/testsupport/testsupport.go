package testsupport

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/karloscodes/cartridge"
	ctestsupport "github.com/karloscodes/cartridge/testsupport"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"folio/internal"
	"folio/internal/analytics"
	"folio/internal/config"
	"folio/internal/database"
	"folio/internal/users"
	"folio/internal/visitors"
)

// TestIPSalt is the salt test hashers and the test app share.
const TestIPSalt = config.DefaultIPSalt

func init() {
	if os.Getenv("FOLIO_ENV") == "" {
		os.Setenv("FOLIO_ENV", config.Test)
	}
}

// testDBCache caches test databases by root test name so setup helpers called
// from subtests share the parent's database.
var testDBCache = make(map[string]*gorm.DB)
var testDBCacheMu sync.Mutex

// TestDBManager wraps cartridge's TestDBManager.
type TestDBManager struct {
	*ctestsupport.TestDBManager
}

func NewTestDBManager(db *gorm.DB) *TestDBManager {
	return &TestDBManager{
		TestDBManager: ctestsupport.NewTestDBManager(db),
	}
}

var _ cartridge.DBManager = (*TestDBManager)(nil)

// SetupTestDB creates a named in-memory database with every model migrated.
// cache=shared lets the pool's connections see the same database.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	rootName := t.Name()
	if idx := strings.Index(rootName, "/"); idx > 0 {
		rootName = rootName[:idx]
	}

	testDBCacheMu.Lock()
	if db, exists := testDBCache[rootName]; exists {
		testDBCacheMu.Unlock()
		return db
	}
	testDBCacheMu.Unlock()

	dsn := fmt.Sprintf("file:test_%s_%d?mode=memory&cache=shared", rootName, time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("testsupport: failed to open test database: %v", err)
	}

	db.Exec("PRAGMA foreign_keys = ON")
	db.Exec("PRAGMA journal_mode = WAL")

	if err := db.AutoMigrate(database.Models()...); err != nil {
		t.Fatalf("testsupport: failed to migrate models: %v", err)
	}

	testDBCacheMu.Lock()
	testDBCache[rootName] = db
	testDBCacheMu.Unlock()

	t.Cleanup(func() {
		testDBCacheMu.Lock()
		delete(testDBCache, rootName)
		testDBCacheMu.Unlock()
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	return db
}

// SetupTestDBManager refuses to run outside the test environment so a
// misconfigured run can never touch a real database.
func SetupTestDBManager(t *testing.T) (*TestDBManager, *slog.Logger) {
	cfg := config.GetConfig()
	if cfg.Environment != config.Test {
		t.Fatalf("CRITICAL: Tests must run in test environment! Current: %s. Set FOLIO_ENV=test", cfg.Environment)
	}

	return NewTestDBManager(SetupTestDB(t)), GetLogger()
}

// CleanAllTables clears all non-system tables in the database.
func CleanAllTables(db *gorm.DB) {
	var tableNames []string
	db.Raw("SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'").Scan(&tableNames)
	CleanTables(db, tableNames)
}

func CleanTables(db *gorm.DB, tables []string) {
	if len(tables) == 0 {
		return
	}

	db.Exec("PRAGMA foreign_keys = OFF")
	defer db.Exec("PRAGMA foreign_keys = ON")

	db.Transaction(func(tx *gorm.DB) error {
		for _, table := range tables {
			tx.Exec("DELETE FROM " + table)
			tx.Exec("DELETE FROM sqlite_sequence WHERE name=?", table)
		}
		return nil
	})
}

// CreateTestUserForAuth creates a user with a bcrypt hash so login works.
func CreateTestUserForAuth(t *testing.T, db *gorm.DB, email, password string) *users.User {
	t.Helper()

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)

	user := &users.User{
		Email:             email,
		EncryptedPassword: string(hashedPassword),
		CreatedAt:         time.Now().UTC(),
		UpdatedAt:         time.Now().UTC(),
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

// AdminToken creates an admin and returns a bearer token for it.
func AdminToken(t *testing.T, db *gorm.DB) string {
	t.Helper()

	user, err := users.FindByEmail(db, "admin@example.com")
	if err != nil {
		user = CreateTestUserForAuth(t, db, "admin@example.com", "password")
	}
	cfg := config.GetConfig()
	token, _, err := users.IssueToken(user, cfg.GetSessionSecret(), cfg.AdminTokenTTL(), time.Now())
	require.NoError(t, err)
	return token
}

// AuthHeader formats a bearer Authorization value.
func AuthHeader(token string) string {
	return "Bearer " + token
}

func GetLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})
	return slog.New(handler)
}

// Hasher returns the IP hasher the test app uses.
func Hasher() visitors.IPHasher {
	return visitors.NewIPHasher(TestIPSalt)
}

// SessionFixture describes a session row. Zero values get sensible defaults.
type SessionFixture struct {
	SessionID       string
	IP              string
	Country         string
	City            string
	Referrer        string
	UserAgent       string
	Browser         string
	IsAuthenticated bool
	CreatedAt       time.Time
}

// CreateSession inserts a session and returns it.
func CreateSession(t *testing.T, db *gorm.DB, f SessionFixture) *analytics.Session {
	t.Helper()

	if f.SessionID == "" {
		f.SessionID = uuid.NewString()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	if f.Country == "" {
		f.Country = analytics.UnknownLocation
	}
	if f.City == "" {
		f.City = analytics.UnknownLocation
	}
	if f.UserAgent == "" {
		f.UserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Safari/605.1.15"
	}

	session := &analytics.Session{
		SessionID:       f.SessionID,
		Country:         f.Country,
		City:            f.City,
		UserAgent:       f.UserAgent,
		IsAuthenticated: f.IsAuthenticated,
		CreatedAt:       f.CreatedAt.UTC(),
		UpdatedAt:       f.CreatedAt.UTC(),
	}
	if f.IP != "" {
		ip := f.IP
		session.IP = &ip
		session.IPHash = Hasher().Hash(f.IP)
	}
	if f.Referrer != "" {
		ref := f.Referrer
		session.Referrer = &ref
	}
	if f.Browser != "" {
		browser := f.Browser
		session.Browser = &browser
	}
	require.NoError(t, db.Create(session).Error)
	return session
}

// EventFixture describes an event row.
type EventFixture struct {
	SessionID string
	Type      analytics.EventType
	Path      string
	ElementID string
	Duration  *float64
	CreatedAt time.Time
}

func CreateEvent(t *testing.T, db *gorm.DB, f EventFixture) *analytics.Event {
	t.Helper()

	if f.Type == "" {
		f.Type = analytics.EventTypePageView
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}

	event := &analytics.Event{
		SessionID: f.SessionID,
		EventType: f.Type,
		Path:      f.Path,
		Duration:  f.Duration,
		Metadata:  "{}",
		CreatedAt: f.CreatedAt.UTC(),
	}
	if f.ElementID != "" {
		id := f.ElementID
		event.ElementID = &id
	}
	require.NoError(t, db.Create(event).Error)
	return event
}

// Seconds returns a pointer for event durations.
func Seconds(v float64) *float64 {
	return &v
}

// CreateMinimalTestApp creates a fiber app with every route mounted.
func CreateMinimalTestApp(t *testing.T, db *gorm.DB) *fiber.App {
	t.Helper()

	appConfig := config.GetConfig()
	appConfig.Environment = config.Test

	// Same server settings as production.
	cfg := internal.NewServerConfig()
	cfg.Config = appConfig
	cfg.Logger = GetLogger()
	cfg.DBManager = NewTestDBManager(db)

	srv, err := cartridge.NewServer(cfg)
	require.NoError(t, err)

	internal.MountAppRoutes(srv)
	return srv.App()
}
