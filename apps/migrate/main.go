// Command migrate creates the ScyllaDB keyspace and tables used by the
// scylla message store. It is idempotent; -drop resets a development cluster
// first.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/mahaj/presence-chat/pkg/config"
	"github.com/mahaj/presence-chat/pkg/logging"
	"github.com/mahaj/presence-chat/pkg/store/scylla"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}

func run() error {
	drop := flag.Bool("drop", false, "drop existing tables before creating them")
	rf := flag.Int("rf", 1, "replication factor for a new keyspace")
	flag.Parse()

	cfg, err := config.LoadMigrate()
	if err != nil {
		return err
	}
	log := logging.New(cfg.LogLevel)

	// no keyspace yet: connect without one
	system, err := scylla.NewSession(cfg.ScyllaHosts, "", log)
	if err != nil {
		return err
	}
	defer system.Close()

	if *drop {
		log.Warn("Dropping tables", "keyspace", cfg.ScyllaKeyspace)
		if err := scylla.DropSchema(system, cfg.ScyllaKeyspace); err != nil {
			return err
		}
	}
	if err := scylla.EnsureSchema(system, cfg.ScyllaKeyspace, *rf); err != nil {
		return err
	}
	log.Info("Schema ready", "keyspace", cfg.ScyllaKeyspace, "replication_factor", *rf)
	return nil
}
