package serve

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	cmdUtil "github.com/ValentinKolb/dDoc/cmd/util"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/lib/store/cstore"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/ValentinKolb/dDoc/rpc/server"
	"github.com/ValentinKolb/dDoc/rpc/transport/http"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// localConnection is used when neither flags nor a config file name a database
var localConnection = store.ConnectionConfig{URL: "memory://local", Database: "ddoc"}

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:   "serve",
		Short: "Start the dDoc server",
		Long: `Start the dDoc server with the specified configuration. Every shard exposes one collection of the configured database.
The configuration can be set via command line flags, a TOML config file or environment variables. The format of the environment variables is DDOC_<flag> (e.g. DDOC_REDIS_URL=redis://localhost:6379/0)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	cobra.OnInitialize(cmdUtil.InitConfig)

	key := "shards"
	ServeCmd.PersistentFlags().String(key, "100=posts,200=connection", cmdUtil.WrapString("Comma-separated list of shards to serve. Format: ID=COLLECTION"))

	cmdUtil.SetupConnectionFlags(ServeCmd)

	key = "cache"
	ServeCmd.PersistentFlags().String(key, cstore.CacheMaple, cmdUtil.WrapString("Result cache engine (maple, redis, none). maple keeps results in process memory, redis shares them between servers"))

	key = "redis-url"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Redis url for the redis cache (e.g. redis://localhost:6379/0)"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 5, cmdUtil.WrapString("Timeout of a single request in seconds"))

	key = "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:8080", cmdUtil.WrapString("The address on which the API will listen (e.g. localhost:8080)"))
}

// ParseShards parses "ID=COLLECTION,ID=COLLECTION"
func ParseShards(s string) ([]common.ServerShard, error) {
	var shards []common.ServerShard
	for _, shardConfig := range strings.Split(s, ",") {
		id, collection, ok := strings.Cut(shardConfig, "=")
		if !ok {
			return nil, fmt.Errorf("invalid shard format: %s (expected ID=COLLECTION)", shardConfig)
		}

		shardID, err := strconv.ParseUint(strings.TrimSpace(id), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid shard ID %s: %v", id, err)
		}

		collection = strings.TrimSpace(collection)
		if collection == "" {
			return nil, fmt.Errorf("shard %d has no collection", shardID)
		}

		shards = append(shards, common.ServerShard{
			ShardID:    shardID,
			Collection: collection,
		})
	}
	return shards, nil
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	shards, err := ParseShards(viper.GetString("shards"))
	if err != nil {
		return err
	}
	serveCmdConfig.Shards = shards

	serveCmdConfig.Connection, err = cmdUtil.GetConnectionConfig(localConnection)
	if err != nil {
		return err
	}

	serveCmdConfig.Cache = viper.GetString("cache")
	serveCmdConfig.RedisURL = viper.GetString("redis-url")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	return serveCmdConfig.Validate()
}

// run starts the dDoc server and blocks until SIGINT or SIGTERM
func run(_ *cobra.Command, _ []string) error {
	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serv := server.NewRPCServer(
		*serveCmdConfig,
		http.NewHttpServerTransport(),
		s,
	)

	return serv.Serve(ctx)
}
