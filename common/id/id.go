package id

import (
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	node *snowflake.Node
	once sync.Once
)

// Init initializes the Snowflake node with the given node ID.
// The server and worker processes use distinct node IDs so suffixes never
// collide across instances.
func Init(nodeID int64) error {
	var err error
	once.Do(func() {
		node, err = snowflake.NewNode(nodeID)
	})
	return err
}

// NewJobID constructs a queue job id of the form
//
//	<site_id>-<unix_millis>-<snowflake base36>
//
// The site prefix groups a tenant's jobs for downstream idempotency-aware
// dedup; the snowflake suffix makes collisions within a site's submission
// stream negligible. The id is not guaranteed globally unique.
func NewJobID(siteID string) string {
	return fmt.Sprintf("%s-%d-%s", siteID, time.Now().UnixMilli(), node.Generate().Base36())
}
