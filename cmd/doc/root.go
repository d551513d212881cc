package doc

import (
	"github.com/ValentinKolb/dDoc/cmd/util"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/rpc/client"
	"github.com/spf13/cobra"
)

var (
	rpcStore store.IStore

	// DocumentCommands represents the document command group
	DocumentCommands = &cobra.Command{
		Use:   "doc",
		Short: "Perform document store operations on a dDoc server",
		Long: `Perform document store operations on a dDoc server.
Documents, filters, updates and pipelines are given as MongoDB Extended JSON, e.g.

  ddoc doc insert '{"user": "CuriousNinja42", "post": "hello", "timestamp": {"$date": "2024-01-01T00:00:00Z"}}'
  ddoc doc find '{"user": "CuriousNinja42"}' --sort '{"timestamp": -1}' --limit 10 --ttl 0s`,
		PersistentPreRunE: setupDocClient,
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if rpcStore == nil {
				return nil
			}
			return rpcStore.Close(cmd.Context())
		},
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	util.SetupRPCClientFlags(DocumentCommands)

	DocumentCommands.PersistentFlags().Int("shard", 100, util.WrapString("ID of the shard (collection) to connect to"))

	setupOptionFlags(DocumentCommands)

	DocumentCommands.AddCommand(findCmd)
	DocumentCommands.AddCommand(findOneCmd)
	DocumentCommands.AddCommand(insertCmd)
	DocumentCommands.AddCommand(updateCmd)
	DocumentCommands.AddCommand(updateOneCmd)
	DocumentCommands.AddCommand(deleteCmd)
	DocumentCommands.AddCommand(deleteOneCmd)
	DocumentCommands.AddCommand(replaceCmd)
	DocumentCommands.AddCommand(aggregateCmd)
	DocumentCommands.AddCommand(countCmd)
	DocumentCommands.AddCommand(distinctCmd)
	DocumentCommands.AddCommand(infoCmd)
	DocumentCommands.AddCommand(perfTestCmd)
}

// setupDocClient initializes the RPC store client
func setupDocClient(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	s, err := util.GetSerializer()
	if err != nil {
		return err
	}

	rpcStore, err = client.NewRPCStore(
		util.GetShardID(),
		*util.GetClientConfig(),
		util.GetTransport(),
		s,
	)
	return err
}
