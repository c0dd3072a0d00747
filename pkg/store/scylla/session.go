// Package scylla stores messages in ScyllaDB (or Cassandra) through gocql.
package scylla

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gocql/gocql"
)

type Session struct {
	*gocql.Session
}

// NewSession connects to keyspace with quorum consistency and a bounded
// exponential retry policy. An empty keyspace connects without one, which is
// how the schema tool creates it.
func NewSession(hosts []string, keyspace string, log *slog.Logger) (*Session, error) {
	cluster := gocql.NewCluster(hosts...)
	cluster.Keyspace = keyspace
	cluster.Consistency = gocql.Quorum
	cluster.Timeout = 5 * time.Second
	cluster.ConnectTimeout = 5 * time.Second
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        100 * time.Millisecond,
		Max:        1 * time.Second,
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("connect scylla %v: %w", hosts, err)
	}

	log.Info("Connected to ScyllaDB cluster", "hosts", hosts, "keyspace", keyspace)
	return &Session{Session: session}, nil
}

var tables = []string{
	`CREATE TABLE IF NOT EXISTS messages (
		conversation_id text,
		id bigint,
		sender_id text,
		receiver_id text,
		body text,
		created_at timestamp,
		read_at timestamp,
		PRIMARY KEY (conversation_id, id)
	) WITH CLUSTERING ORDER BY (id DESC)`,
	// one row per unread message; the partition is the reader's inbox from one sender
	`CREATE TABLE IF NOT EXISTS unread_messages (
		receiver_id text,
		sender_id text,
		id bigint,
		PRIMARY KEY ((receiver_id, sender_id), id)
	)`,
	`CREATE TABLE IF NOT EXISTS user_conversations (
		user_id text,
		other_user_id text,
		last_message_id bigint,
		PRIMARY KEY (user_id, other_user_id)
	)`,
}

// EnsureSchema creates the keyspace and tables when missing. system must be a
// session opened without a keyspace.
func EnsureSchema(system *Session, keyspace string, replicationFactor int) error {
	err := system.Query(fmt.Sprintf(
		`CREATE KEYSPACE IF NOT EXISTS %s WITH REPLICATION = { 'class' : 'SimpleStrategy', 'replication_factor' : %d }`,
		keyspace, replicationFactor,
	)).Exec()
	if err != nil {
		return fmt.Errorf("create keyspace %s: %w", keyspace, err)
	}
	for _, stmt := range tables {
		if err := system.Query(qualify(stmt, keyspace)).Exec(); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}

// DropSchema removes every table; used to reset development clusters.
func DropSchema(session *Session, keyspace string) error {
	for _, table := range []string{"messages", "unread_messages", "user_conversations"} {
		if err := session.Query(fmt.Sprintf(`DROP TABLE IF EXISTS %s.%s`, keyspace, table)).Exec(); err != nil {
			return fmt.Errorf("drop table %s: %w", table, err)
		}
	}
	return nil
}

func qualify(stmt, keyspace string) string {
	const prefix = "CREATE TABLE IF NOT EXISTS "
	return prefix + keyspace + "." + stmt[len(prefix):]
}
