// Package config loads worker configuration from the environment.
//
// A .env file in the working directory is read first when present; real
// environment variables always win. All variables carry the VAULTSYNC_
// prefix. Parsed values are checked against an embedded CUE schema so every
// constraint failure names the variable it came from.
//
// The scan window bounds are required. They are never inferred from the
// ledger.
package config
