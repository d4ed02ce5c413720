// main.go - Admin control tool for folio
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"
	"gorm.io/gorm"

	"folio/internal"
	"folio/internal/analytics"
	"folio/internal/config"
	"folio/internal/seeder"
	"folio/internal/users"
)

const (
	defaultShutdownTimeout = 30 * time.Second
	minPasswordLength      = 8
)

// Command defines the interface for all command implementations
type Command interface {
	// Name returns the command name
	Name() string
	// Description returns the command description
	Description() string
	// Execute runs the command with the given app and args
	Execute(ctx context.Context, app *internal.Application, args []string) error
}

// The set of available commands
var commands = []Command{
	&CreateAdminUserCommand{},
	&ChangeAdminPasswordCommand{},
	&IssueTokenCommand{},
	&MigrateCommand{},
	&SeedCommand{},
	&PurgeCommand{},
	&StatusCommand{},
	&HelpCommand{},
}

func main() {
	flag.Parse()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := <-sigChan
		log.Printf("Received signal: %v, initiating cleanup...", sig)
		cancel()
	}()

	cmdName, args := parseArgs()
	cmd := findCommand(cmdName)
	if cmd == nil {
		showUsageAndExit()
	}
	if _, ok := cmd.(*HelpCommand); ok {
		_ = cmd.Execute(ctx, nil, args)
		return
	}

	app, err := internal.NewApp()
	if err != nil {
		log.Fatalf("Failed to initialize app: %v", err)
	}

	err = cmd.Execute(ctx, app, args)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancelShutdown()
	if shutdownErr := app.Shutdown(shutdownCtx); shutdownErr != nil {
		log.Printf("Warning: Cleanup error: %v", shutdownErr)
	}

	if err != nil {
		log.Fatalf("Command failed: %v", err)
	}
	log.Printf("Command %s completed successfully", cmd.Name())
}

func connection(app *internal.Application) (*gorm.DB, error) {
	db := app.DBManager.GetConnection()
	if db == nil {
		return nil, errors.New("database connection unavailable")
	}
	return db, nil
}

// CreateAdminUserCommand implements the command to create an initial admin user
type CreateAdminUserCommand struct{}

func (c *CreateAdminUserCommand) Name() string        { return "create-admin-user" }
func (c *CreateAdminUserCommand) Description() string { return "Creates an admin user: <email> [password]" }

func (c *CreateAdminUserCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: %s <email> [password]", c.Name())
	}
	email := args[0]

	password, err := passwordArg(args, 1)
	if err != nil {
		return err
	}

	db, err := connection(app)
	if err != nil {
		return err
	}

	log.Printf("Creating admin user: %s", email)
	if err := users.CreateAdminUser(db, email, password); err != nil {
		if errors.Is(err, users.ErrUserExists) {
			log.Printf("User %s already exists", email)
			return nil
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// ChangeAdminPasswordCommand implements password update for existing admin user
type ChangeAdminPasswordCommand struct{}

func (c *ChangeAdminPasswordCommand) Name() string { return "change-admin-password" }
func (c *ChangeAdminPasswordCommand) Description() string {
	return "Changes the password of an existing admin user: <email> [password]"
}

func (c *ChangeAdminPasswordCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	email := ""
	if len(args) >= 1 {
		email = args[0]
	} else {
		fmt.Print("Enter admin email: ")
		input, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		email = strings.TrimSpace(input)
	}
	if email == "" {
		return errors.New("email is required")
	}

	db, err := connection(app)
	if err != nil {
		return err
	}
	if _, err := users.FindByEmail(db, email); err != nil {
		return fmt.Errorf("user lookup failed: %w", err)
	}

	password, err := passwordArg(args, 1)
	if err != nil {
		return err
	}
	if err := users.ChangePassword(db, email, password); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	fmt.Println("Password updated successfully")
	return nil
}

// passwordArg returns args[idx] or prompts twice without echo.
func passwordArg(args []string, idx int) (string, error) {
	var password string
	if len(args) > idx {
		password = args[idx]
	} else {
		first, err := readPassword("Enter password: ")
		if err != nil {
			return "", err
		}
		second, err := readPassword("Confirm password: ")
		if err != nil {
			return "", err
		}
		if first != second {
			return "", errors.New("passwords do not match")
		}
		password = first
	}
	if len(password) < minPasswordLength {
		return "", fmt.Errorf("password must be at least %d characters", minPasswordLength)
	}
	return password, nil
}

func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return strings.TrimSpace(line), nil
	}
	pass, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimSpace(string(pass)), nil
}

// IssueTokenCommand prints a bearer token for scripts.
type IssueTokenCommand struct{}

func (c *IssueTokenCommand) Name() string        { return "issue-token" }
func (c *IssueTokenCommand) Description() string { return "Prints an admin bearer token: <email> [-ttl 12h]" }

func (c *IssueTokenCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	cfg := config.GetConfig()
	fs := flag.NewFlagSet(c.Name(), flag.ContinueOnError)
	ttl := fs.Duration("ttl", cfg.AdminTokenTTL(), "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: %s <email> [-ttl 12h]", c.Name())
	}

	db, err := connection(app)
	if err != nil {
		return err
	}
	user, err := users.FindByEmail(db, fs.Arg(0))
	if err != nil {
		return fmt.Errorf("user lookup failed: %w", err)
	}

	token, expiresAt, err := users.IssueToken(user, cfg.GetSessionSecret(), *ttl, time.Now())
	if err != nil {
		return err
	}
	fmt.Println(token)
	log.Printf("Token expires at %s", expiresAt.UTC().Format(time.RFC3339))
	return nil
}

// MigrateCommand runs database migrations
type MigrateCommand struct{}

func (c *MigrateCommand) Name() string        { return "migrate" }
func (c *MigrateCommand) Description() string { return "Runs database migrations" }

func (c *MigrateCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	log.Println("Running database migrations...")
	if err := app.DBManager.MigrateDatabase(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	log.Println("Migrations completed successfully")
	return nil
}

// SeedCommand populates the DB with sample traffic
type SeedCommand struct{}

func (c *SeedCommand) Name() string        { return "seed" }
func (c *SeedCommand) Description() string { return "Seeds the database with sample visits [-visits N]" }

func (c *SeedCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	fs := flag.NewFlagSet(c.Name(), flag.ContinueOnError)
	visits := fs.Int("visits", 2000, "number of visits to generate")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := app.DBManager.MigrateDatabase(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return seeder.NewSeeder(app.DBManager, app.Logger, config.GetConfig(), *visits).Run(ctx)
}

// PurgeCommand runs a purge without going through HTTP.
type PurgeCommand struct{}

func (c *PurgeCommand) Name() string { return "purge" }
func (c *PurgeCommand) Description() string {
	return "Purges sessions: all | bots | 1month | 3months (default), or -resume <job id>"
}

var purgeModes = map[string]analytics.PurgeMode{
	"all":     analytics.PurgeModeAll,
	"bots":    analytics.PurgeModeBots,
	"1month":  analytics.PurgeModeOlderThan1Month,
	"3months": analytics.PurgeModeOlderThan3Months,
}

func (c *PurgeCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	fs := flag.NewFlagSet(c.Name(), flag.ContinueOnError)
	resume := fs.String("resume", "", "resume a partial purge job")
	if err := fs.Parse(args); err != nil {
		return err
	}

	db, err := connection(app)
	if err != nil {
		return err
	}
	cfg := config.GetConfig()
	purger := analytics.NewPurger(db, app.Logger, analytics.PurgerOptions{
		BatchSize: cfg.PurgeBatchSize,
		Location:  cfg.Location(),
	})

	var job *analytics.PurgeJob
	if *resume != "" {
		job, err = purger.Resume(ctx, *resume)
	} else {
		name := "3months"
		if fs.NArg() > 0 {
			name = fs.Arg(0)
		}
		mode, ok := purgeModes[name]
		if !ok {
			return fmt.Errorf("unknown purge mode %q", name)
		}
		job, err = purger.Purge(ctx, analytics.PurgeRequest{Mode: mode})
	}
	if job != nil {
		fmt.Printf("job %s: %s, deleted %d of %d sessions in %d batches\n",
			job.ID, job.Status, job.Deleted, job.Total, job.Batches)
	}
	return err
}

// StatusCommand implements a command to check the system status
type StatusCommand struct{}

func (c *StatusCommand) Name() string        { return "status" }
func (c *StatusCommand) Description() string { return "Shows the current system status" }

func (c *StatusCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	db, err := connection(app)
	if err != nil {
		return err
	}

	var userCount, sessionCount, eventCount, partialJobs int64
	if err := db.Model(&users.User{}).Count(&userCount).Error; err != nil {
		return fmt.Errorf("database error: %w", err)
	}
	db.Model(&analytics.Session{}).Count(&sessionCount)
	db.Model(&analytics.Event{}).Count(&eventCount)
	db.Model(&analytics.PurgeJob{}).Where("status = ?", analytics.PurgeStatusPartial).Count(&partialJobs)

	retention, err := analytics.Retention(db, time.Now())
	if err != nil {
		return err
	}

	log.Println("System Status:")
	log.Println("- Database: Connected")
	log.Printf("- Users: %d", userCount)
	log.Printf("- Sessions: %d (%d purgeable before %s)", sessionCount, retention.Purgeable, retention.Cutoff.Format(time.DateOnly))
	log.Printf("- Events: %d", eventCount)
	log.Printf("- Partial purge jobs: %d", partialJobs)

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get SQL DB: %w", err)
	}
	stats := sqlDB.Stats()
	app.Logger.Debug("Connection pool",
		slog.Int("open", stats.OpenConnections),
		slog.Int("in_use", stats.InUse),
		slog.Int("idle", stats.Idle))
	return nil
}

// HelpCommand implements a command to show usage information
type HelpCommand struct{}

func (c *HelpCommand) Name() string        { return "help" }
func (c *HelpCommand) Description() string { return "Shows usage information" }

func (c *HelpCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	printUsage()
	return nil
}

func printUsage() {
	fmt.Println("Usage: folioctl [command] [args...]")
	fmt.Println("Available commands:")
	for _, cmd := range commands {
		fmt.Printf("  %s: %s\n", cmd.Name(), cmd.Description())
	}
}

// parseArgs parses the command name and arguments
func parseArgs() (string, []string) {
	args := flag.Args()
	if len(args) == 0 {
		return "help", []string{}
	}
	return args[0], args[1:]
}

// findCommand finds a command by name
func findCommand(name string) Command {
	for _, cmd := range commands {
		if cmd.Name() == name {
			return cmd
		}
	}
	return nil
}

func showUsageAndExit() {
	printUsage()
	os.Exit(1)
}
