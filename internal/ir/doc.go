// Package ir defines the data model shared by every vaultsync package.
//
// This package contains type definitions and encoding helpers only. All other
// internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Custody values are derived each run and never cached across runs
//   - Step ordering uses the per-run logical seq, not wall-clock time
//   - All JSON tags use snake_case
package ir
