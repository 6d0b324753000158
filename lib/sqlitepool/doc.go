// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens SQLite databases for controller-local state.
//
// The deployment journal is the main user: it records every deployment
// the controller accepted so a restart does not forget what is running
// where. The package wraps zombiezen.com/go/sqlite's sqlitex.Pool with
// a fixed pragma set, ordered schema migrations tracked through
// PRAGMA user_version, and a [Pool.Write] helper that runs a function
// inside an immediate transaction.
//
// Connections are not safe for concurrent use. Each goroutine takes
// its own with [Pool.Take] and returns it with [Pool.Put].
//
// # Pragmas
//
//   - journal_mode=WAL: readers and the single writer never block
//     each other.
//   - synchronous=NORMAL: commits survive a controller crash but not
//     a power failure. Agents still hold the deployments, so a lost
//     tail of the journal is recoverable.
//   - busy_timeout=5000: wait up to five seconds for the write lock.
//   - foreign_keys=OFF.
//   - cache_size=-8192: 8 MB page cache per connection.
//   - temp_store=MEMORY.
//
// # Migrations
//
// [Config.Migrations] is an ordered list of SQL scripts. Open applies
// every script whose position is past the stored user_version, each in
// its own transaction, and bumps user_version as it goes. Appending a
// script is the only supported way to change a schema; editing one
// that has shipped leaves existing databases on the old shape.
//
//	pool, err := sqlitepool.Open(sqlitepool.Config{
//	    Path:       "/var/lib/modelfleet/deployments.db",
//	    PoolSize:   2,
//	    Logger:     logger,
//	    Migrations: []string{createDeployments},
//	})
package sqlitepool
