package web

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	cmdUtil "github.com/ValentinKolb/dDoc/cmd/util"
	"github.com/ValentinKolb/dDoc/lib/cache"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/lib/store/cstore"
	"github.com/ValentinKolb/dDoc/rpc/client"
	webapp "github.com/ValentinKolb/dDoc/web"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// localConnection is used when neither flags nor a config file name a database
var localConnection = store.ConnectionConfig{URL: "memory://local", Database: "ddoc", Collection: "connection"}

var WebCmd = &cobra.Command{
	Use:   "web",
	Short: "Start the dDoc demo web app",
	Long: `Start the demo web app: a connection demo page, a configuration page and the StreamY wall.
The stores are opened locally from the connection flags or config file, or with --remote through a dDoc server.`,
	PreRunE: func(cmd *cobra.Command, _ []string) error {
		return viper.BindPFlags(cmd.Flags())
	},
	RunE: run,
}

func init() {
	cobra.OnInitialize(cmdUtil.InitConfig)

	flags := WebCmd.PersistentFlags()
	flags.String("endpoint", "0.0.0.0:3000", cmdUtil.WrapString("The address on which the web app will listen"))
	flags.String("allowed-origins", "", cmdUtil.WrapString("Comma-separated origins allowed to call the json api with the session cookie (default: any http(s) origin, without cookies)"))

	// local stores
	cmdUtil.SetupConnectionFlags(WebCmd)
	flags.String("collection", "", cmdUtil.WrapString("Collection of the connection demo (default: the collection of the config file or 'connection')"))
	flags.String("wall-collection", "posts", cmdUtil.WrapString("Collection of the StreamY wall"))
	flags.String("cache", cstore.CacheMaple, cmdUtil.WrapString("Result cache engine of the local stores (maple, redis, none)"))
	flags.String("redis-url", "", cmdUtil.WrapString("Redis url for the redis cache"))

	// remote stores
	flags.Bool("remote", false, cmdUtil.WrapString("Use a dDoc server instead of opening the database directly"))
	cmdUtil.SetupRPCClientFlags(WebCmd)
	flags.Uint64("shard", 200, cmdUtil.WrapString("(remote) Shard of the connection demo"))
	flags.Uint64("wall-shard", 100, cmdUtil.WrapString("(remote) Shard of the StreamY wall"))
}

func run(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		demo, posts store.IStore
		backend     string
		closeAll    func() error
		err         error
	)
	if viper.GetBool("remote") {
		demo, posts, backend, closeAll, err = openRemote()
	} else {
		demo, posts, backend, closeAll, err = openLocal(ctx)
	}
	if err != nil {
		return err
	}
	defer func() {
		if err := closeAll(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to close stores: %v\n", err)
		}
	}()

	var origins []string
	if s := viper.GetString("allowed-origins"); s != "" {
		origins = strings.Split(s, ",")
	}

	return webapp.NewServer(webapp.Config{
		Backend:        backend,
		AllowedOrigins: origins,
	}, demo, posts).Serve(ctx, viper.GetString("endpoint"))
}

// openLocal opens both collections with a shared cache engine
func openLocal(ctx context.Context) (demo, posts store.IStore, backend string, closeAll func() error, err error) {
	conf, err := cmdUtil.GetConnectionConfig(localConnection)
	if err != nil {
		return nil, nil, "", nil, err
	}
	conf = conf.Merge(store.ConnectionConfig{Collection: viper.GetString("collection")})
	wallConf := conf.Merge(store.ConnectionConfig{Collection: viper.GetString("wall-collection")})

	engine, err := cstore.OpenCache(ctx, viper.GetString("cache"), viper.GetString("redis-url"))
	if err != nil {
		return nil, nil, "", nil, err
	}

	if demo, err = cstore.Open(ctx, conf, engine); err != nil {
		return nil, nil, "", nil, errors.Join(err, closeEngine(engine))
	}
	if posts, err = cstore.Open(ctx, wallConf, engine); err != nil {
		return nil, nil, "", nil, errors.Join(err, demo.Close(ctx), closeEngine(engine))
	}

	backend = fmt.Sprintf("%s (database %s, collections %s and %s, cache %s)",
		conf.Redacted(), conf.Database, conf.Collection, wallConf.Collection, viper.GetString("cache"))
	closeAll = func() error {
		return errors.Join(demo.Close(context.Background()), posts.Close(context.Background()), closeEngine(engine))
	}
	return demo, posts, backend, closeAll, nil
}

// openRemote connects to the demo and wall shards of a dDoc server
func openRemote() (demo, posts store.IStore, backend string, closeAll func() error, err error) {
	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return nil, nil, "", nil, err
	}
	config := cmdUtil.GetClientConfig()

	if demo, err = client.NewRPCStore(viper.GetUint64("shard"), *config, cmdUtil.GetTransport(), s); err != nil {
		return nil, nil, "", nil, err
	}
	if posts, err = client.NewRPCStore(viper.GetUint64("wall-shard"), *config, cmdUtil.GetTransport(), s); err != nil {
		return nil, nil, "", nil, errors.Join(err, demo.Close(context.Background()))
	}

	backend = fmt.Sprintf("dDoc server %s (shards %d and %d)",
		strings.Join(config.Endpoints, ", "), viper.GetUint64("shard"), viper.GetUint64("wall-shard"))
	closeAll = func() error {
		return errors.Join(demo.Close(context.Background()), posts.Close(context.Background()))
	}
	return demo, posts, backend, closeAll, nil
}

func closeEngine(engine cache.Engine) error {
	if engine == nil {
		return nil
	}
	return engine.Close()
}
