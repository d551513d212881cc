package common

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/lib/store/cstore"
)

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// ServerShard maps a shard id to a collection. Every shard is served by its
// own store.IStore.
type ServerShard struct {
	// ShardID is the ID of the shard
	ShardID uint64
	// Collection is the collection the shard exposes
	Collection string
}

// ServerConfig holds all configuration parameters of an RPC server.
type ServerConfig struct {
	Shards []ServerShard

	// Connection holds url, database and driver kwargs shared by all shards.
	// The collection is taken from the shard.
	Connection store.ConnectionConfig

	// Result cache settings
	Cache    string // one of cstore.CacheMaple, cstore.CacheRedis, cstore.CacheNone
	RedisURL string // used for CacheRedis

	// Per request timeout
	TimeoutSecond int64

	// HTTP api settings
	Endpoint string

	// Logging configuration
	LogLevel string
}

// ShardConnection returns the connection config of a shard
func (c *ServerConfig) ShardConnection(shard ServerShard) store.ConnectionConfig {
	return c.Connection.Merge(store.ConnectionConfig{Collection: shard.Collection})
}

// Validate checks that the configuration can be served
func (c *ServerConfig) Validate() error {
	if len(c.Shards) == 0 {
		return fmt.Errorf("at least one shard is required")
	}
	seen := make(map[uint64]struct{}, len(c.Shards))
	for _, shard := range c.Shards {
		if _, ok := seen[shard.ShardID]; ok {
			return fmt.Errorf("duplicate shard id %d", shard.ShardID)
		}
		seen[shard.ShardID] = struct{}{}
		if _, err := c.ShardConnection(shard).Scheme(); err != nil {
			return fmt.Errorf("shard %d: %w", shard.ShardID, err)
		}
	}
	switch c.Cache {
	case cstore.CacheMaple, cstore.CacheNone, "":
	case cstore.CacheRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("the redis cache needs a redis url")
		}
	default:
		return fmt.Errorf("invalid cache %q (expected one of: %s, %s, %s)", c.Cache, cstore.CacheMaple, cstore.CacheRedis, cstore.CacheNone)
	}
	return nil
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// RPC settings
	addSection("RPC Server")
	addField("Endpoint", c.Endpoint)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)

	// Database
	addSection("Database")
	addField("URL", c.Connection.Redacted())
	addField("Database", c.Connection.Database)
	keys := make([]string, 0, len(c.Connection.Kwargs))
	for k := range c.Connection.Kwargs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		addField(k, fmt.Sprintf("%v", c.Connection.Kwargs[k]))
	}

	// Cache
	addSection("Result Cache")
	addField("Engine", c.Cache)
	if c.Cache == cstore.CacheRedis {
		addField("Redis URL", (&store.ConnectionConfig{URL: c.RedisURL}).Redacted())
	}

	// Shards
	addSection("Shards")
	for _, shard := range c.Shards {
		addField(strconv.FormatUint(shard.ShardID, 10), shard.Collection)
	}

	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

type ClientConfig struct {
	Endpoints              []string
	TimeoutSecond          int
	RetryCount             int
	ConnectionsPerEndpoint int
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// General Client Settings
	addSection("Client Configuration")
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", strconv.Itoa(c.RetryCount))
	addField("Connections Per Endpoint", strconv.Itoa(int(math.Max(1, float64(c.ConnectionsPerEndpoint)))))

	// Endpoints
	addSection("Endpoints")
	for i, endpoint := range c.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	return sb.String()
}
