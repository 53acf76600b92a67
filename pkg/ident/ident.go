package ident

import (
	"os"
	"sync"

	"github.com/denisbrodbeck/machineid"
)

var (
	once sync.Once
	node string
)

// NodeID returns a stable identifier for this host. Journal entries and
// persisted runs are stamped with it so records written by different
// machines against a shared account can be told apart. Falls back to
// the hostname, then "unknown", when the platform id is unreadable.
func NodeID() string {
	once.Do(func() {
		id, err := machineid.ProtectedID("trading-agent")
		if err == nil && id != "" {
			node = id
			return
		}
		host, err := os.Hostname()
		if err == nil && host != "" {
			node = host
			return
		}
		node = "unknown"
	})
	return node
}
