// Command resetpw manages Collection Viewer accounts from the shell.
//
// It sets or resets an account's password against the document store, can
// create the account on the way, and reports whether authentication is
// currently enforced.
//
// Usage:
//
//	resetpw [flags]
//
// Flags:
//
//	-user <name>  Account to reset. Prompts for the new password twice
//	              without echo and reports its strength. Every active
//	              refresh token for the account is revoked afterwards.
//
//	-generate     Set a generated password instead of prompting and print
//	              it once. Useful for headless provisioning.
//
//	-create       Create the account (role admin, active) when no account
//	              with that username exists. Without it, resetting an
//	              unknown account is an error.
//
//	-check        Report status. Combined with -user it describes one
//	              account; alone it reports the active-account count and
//	              whether API authentication is enforced.
//
// Environment:
//
//	MONGO_URI      - Document store URI (default: mongodb://localhost:27017)
//	MONGO_DATABASE - Database name (default: collectionviewer)
//
// Notes:
//
// The API serves without authentication while zero active accounts exist,
// so creating the first account here is what switches enforcement on.
package main
