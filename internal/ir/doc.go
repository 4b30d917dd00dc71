// Package ir defines the data model shared by every spendsync package.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Entities carry exactly one identifier: a temporary frontend id
//     (prefix "f_") until the server confirms creation, then the numeric
//     server id rendered as a decimal string
//   - Operation callbacks are a closed enum; unknown names fail to decode
//   - All JSON tags on queue records use the persisted camelCase layout
//   - Canonical JSON (RFC 8785) is the only encoding used for fingerprints
package ir
