package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"collection-viewer/internal/credentials"
	"collection-viewer/internal/docstore"
	"collection-viewer/internal/errs"
	"collection-viewer/internal/models"

	"golang.org/x/term"
)

const (
	// Default timeout for document store operations
	defaultTimeout = 30 * time.Second

	defaultMongoURI = "mongodb://localhost:27017"
	defaultDatabase = "collectionviewer"

	generatedLength = 20
)

func main() {
	user := flag.String("user", "", "account username")
	generate := flag.Bool("generate", false, "set a generated password and print it once")
	create := flag.Bool("create", false, "create the account when it does not exist")
	check := flag.Bool("check", false, "report account status and exit")
	flag.Usage = printUsage
	flag.Parse()

	// Create a context that cancels on interrupt signals
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nInterrupted, shutting down...")
		cancel()
	}()

	uri, dbName := storeTarget()
	connectCtx, connectCancel := context.WithTimeout(ctx, defaultTimeout)
	store, err := docstore.Connect(connectCtx, uri, dbName)
	connectCancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to connect to document store: %v\n", err)
		fmt.Fprintf(os.Stderr, "Make sure MONGO_URI and MONGO_DATABASE are set correctly (current: %s / %s)\n", uri, dbName)
		os.Exit(1)
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		if err := store.Close(closeCtx); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close document store: %v\n", err)
		}
	}()

	switch {
	case *check:
		if !showStatus(ctx, store, *user) {
			os.Exit(1)
		}
	case *user != "":
		if !resetPassword(ctx, store, *user, *generate, *create) {
			os.Exit(1)
		}
	default:
		printUsage()
		os.Exit(1)
	}
}

// storeTarget resolves the document store location from the environment.
func storeTarget() (uri, dbName string) {
	uri = os.Getenv("MONGO_URI")
	if uri == "" {
		uri = defaultMongoURI
	}
	dbName = os.Getenv("MONGO_DATABASE")
	if dbName == "" {
		dbName = defaultDatabase
	}
	return uri, dbName
}

func printUsage() {
	fmt.Println("Collection Viewer account management")
	fmt.Println("")
	fmt.Println("Usage: resetpw [flags]")
	fmt.Println("")
	fmt.Println("Flags:")
	fmt.Println("  -user <name>  account to reset; prompts for the password twice")
	fmt.Println("  -generate     set a generated password and print it once")
	fmt.Println("  -create       create the account first when it does not exist")
	fmt.Println("  -check        report account status (combine with -user for one account)")
	fmt.Println("")
	fmt.Println("Environment:")
	fmt.Printf("  MONGO_URI      - Document store URI (default: %s)\n", defaultMongoURI)
	fmt.Printf("  MONGO_DATABASE - Database name (default: %s)\n", defaultDatabase)
}

func resetPassword(ctx context.Context, store *docstore.Store, username string, generate, create bool) bool {
	// Add timeout to context for store operations
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	user, err := store.Users.GetByUsername(ctx, username)
	switch {
	case errs.IsNotFound(err):
		if !create {
			fmt.Fprintf(os.Stderr, "Error: no account named %q. Re-run with -create to add it.\n", username)
			return false
		}
		user = &models.User{
			Username: username,
			Role:     models.RoleAdmin,
			IsActive: true,
		}
		id, createErr := store.Users.Create(ctx, user)
		if createErr != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to create account: %v\n", createErr)
			return false
		}
		user.ID = id
		fmt.Printf("Created account %q\n", username)
	case err != nil:
		fmt.Fprintf(os.Stderr, "Error: account lookup failed: %v\n", err)
		return false
	}

	var password string
	if generate {
		var genErr error
		password, genErr = credentials.Generate(generatedLength)
		if genErr != nil {
			fmt.Fprintf(os.Stderr, "Error: password generation failed: %v\n", genErr)
			return false
		}
	} else {
		entered, ok := promptPassword()
		if !ok {
			return false
		}
		password = entered
	}

	hash, err := credentials.HashPassword(password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return false
	}

	if err := store.Users.SetPassword(ctx, user.ID, hash); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to update password: %v\n", err)
		return false
	}

	revoked, err := store.RefreshTokens.RevokeAllForUser(ctx, user.ID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to revoke sessions: %v\n", err)
	}

	if generate {
		fmt.Printf("Password for %q set to: %s\n", username, password)
		fmt.Println("Store it now; it is not shown again.")
	} else {
		fmt.Println("Password updated successfully.")
	}
	if revoked > 0 {
		fmt.Printf("%d active session(s) invalidated.\n", revoked)
	}
	return true
}

// promptPassword reads the new password twice without echo and reports its
// strength after the first entry.
func promptPassword() (string, bool) {
	fmt.Print("New Password: ")
	password, err := term.ReadPassword(syscall.Stdin)
	fmt.Println()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading password: %v\n", err)
		return "", false
	}

	if err := credentials.ValidatePassword(string(password)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return "", false
	}
	fmt.Printf("Strength: %s\n", strengthLabel(credentials.StrengthScore(string(password))))

	fmt.Print("Confirm Password: ")
	confirm, err := term.ReadPassword(syscall.Stdin)
	fmt.Println()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading password: %v\n", err)
		return "", false
	}

	if !bytes.Equal(password, confirm) {
		fmt.Fprintln(os.Stderr, "Error: Passwords do not match")
		return "", false
	}
	return string(password), true
}

// strengthLabel buckets a 0-100 strength score for display.
func strengthLabel(score int) string {
	switch {
	case score >= 80:
		return "strong"
	case score >= 60:
		return "good"
	case score >= 40:
		return "fair"
	default:
		return "weak"
	}
}

func showStatus(ctx context.Context, store *docstore.Store, username string) bool {
	// Add timeout to context for store operations
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if username != "" {
		user, err := store.Users.GetByUsername(ctx, username)
		if errs.IsNotFound(err) {
			fmt.Printf("Status: no account named %q\n", username)
			return true
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: account lookup failed: %v\n", err)
			return false
		}
		state := "active"
		if !user.IsActive {
			state = "inactive"
		}
		fmt.Printf("Status: account %q exists (%s, role %s)\n", username, state, user.Role)
		if user.LastLoginAt != nil {
			fmt.Printf("Last login: %s\n", user.LastLoginAt.Format(time.RFC3339))
		}
		return true
	}

	n, err := store.Users.CountActive(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: account count failed: %v\n", err)
		return false
	}
	if n == 0 {
		fmt.Println("Status: no accounts configured; API authentication is off until one exists")
	} else {
		fmt.Printf("Status: %d active account(s); API authentication is enforced\n", n)
	}
	return true
}
