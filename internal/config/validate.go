package config

import (
	"fmt"

	"github.com/kluzzebass/treeserve/internal/ingest"
	"github.com/kluzzebass/treeserve/internal/variant"
)

// Validate checks the "listen", "view", "fetch", "sources", "env" and
// "reply_cache" keys (§6.5) for shape correctness ("listen_threads",
// "expose_debug_apis" and "tls" are not checked here), failing fast at
// load time rather than surfacing a
// malformed entry mid-request or mid-ingest.
func (c *Config) Validate() error {
	if _, err := c.Listen(); err != nil {
		return err
	}
	if v, ok := c.lookup("view"); ok && v.Kind() != variant.Map {
		return fmt.Errorf("config: \"view\" must be an object")
	}
	if v, ok := c.lookup("fetch"); ok && v.Kind() != variant.Map {
		return fmt.Errorf("config: \"fetch\" must be an object")
	}
	if list, ok := c.SourceEntries(); ok {
		if _, err := ingest.ParseEntries(c.pool, list); err != nil {
			return err
		}
	}
	if _, err := c.SourcesPurgeEvery(); err != nil {
		return err
	}
	if _, err := c.Env(); err != nil {
		return err
	}
	if _, err := c.ReplyCache(); err != nil {
		return err
	}
	return nil
}
