package doc

import (
	"fmt"

	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/spf13/cobra"
)

var (
	findCmd = &cobra.Command{
		Use:   "find [filter]",
		Short: "Finds all documents matching the filter",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, opts, err := filterAndOptions(cmd, args, 0)
			if err != nil {
				return err
			}
			docs, err := rpcStore.Find(cmd.Context(), filter, opts...)
			if err != nil {
				return err
			}
			return printResult(docs)
		},
	}
	findOneCmd = &cobra.Command{
		Use:   "find-one [filter]",
		Short: "Finds the first document matching the filter",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, opts, err := filterAndOptions(cmd, args, 0)
			if err != nil {
				return err
			}
			doc, err := rpcStore.FindOne(cmd.Context(), filter, opts...)
			if err != nil {
				return err
			}
			if doc == nil {
				fmt.Println("no document found")
				return nil
			}
			return printResult(doc)
		},
	}
	insertCmd = &cobra.Command{
		Use:   "insert [document|documents]",
		Short: "Inserts a document or an array of documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := parseValue(args[0])
			if err != nil {
				return fmt.Errorf("invalid document: %w", err)
			}
			opts, err := options(cmd)
			if err != nil {
				return err
			}
			res, err := rpcStore.Insert(cmd.Context(), data, opts...)
			if err != nil {
				return err
			}
			return printResult(res)
		},
	}
	updateCmd = &cobra.Command{
		Use:   "update [filter] [update]",
		Short: "Updates all documents matching the filter",
		Long:  "Updates all documents matching the filter. The update is either a document of update operators or an aggregation pipeline",
		Args:  cobra.ExactArgs(2),
		RunE:  runUpdate(false),
	}
	updateOneCmd = &cobra.Command{
		Use:   "update-one [filter] [update]",
		Short: "Updates the first document matching the filter",
		Args:  cobra.ExactArgs(2),
		RunE:  runUpdate(true),
	}
	deleteCmd = &cobra.Command{
		Use:   "delete [filter]",
		Short: "Deletes all documents matching the filter (all documents without a filter)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runDelete(false),
	}
	deleteOneCmd = &cobra.Command{
		Use:   "delete-one [filter]",
		Short: "Deletes the first document matching the filter",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runDelete(true),
	}
	replaceCmd = &cobra.Command{
		Use:   "replace [filter] [replacement]",
		Short: "Replaces the first document matching the filter",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, opts, err := filterAndOptions(cmd, args, 0)
			if err != nil {
				return err
			}
			replacement, err := parseDocument(args[1])
			if err != nil {
				return fmt.Errorf("invalid replacement: %w", err)
			}
			res, err := rpcStore.Replace(cmd.Context(), filter, replacement, opts...)
			if err != nil {
				return err
			}
			return printResult(res)
		},
	}
	aggregateCmd = &cobra.Command{
		Use:   "aggregate [pipeline]",
		Short: "Runs an aggregation pipeline",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var pipeline store.Pipeline
			if len(args) == 1 {
				var err error
				if pipeline, err = parsePipeline(args[0]); err != nil {
					return fmt.Errorf("invalid pipeline: %w", err)
				}
			}
			opts, err := options(cmd)
			if err != nil {
				return err
			}
			docs, err := rpcStore.Aggregate(cmd.Context(), pipeline, opts...)
			if err != nil {
				return err
			}
			return printResult(docs)
		},
	}
	countCmd = &cobra.Command{
		Use:   "count [filter]",
		Short: "Counts the documents matching the filter",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, opts, err := filterAndOptions(cmd, args, 0)
			if err != nil {
				return err
			}
			n, err := rpcStore.Count(cmd.Context(), filter, opts...)
			if err != nil {
				return err
			}
			fmt.Printf("documents=%d\n", n)
			return nil
		},
	}
	distinctCmd = &cobra.Command{
		Use:   "distinct [field] [filter]",
		Short: "Lists the distinct values of a field",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, opts, err := filterAndOptions(cmd, args, 1)
			if err != nil {
				return err
			}
			values, err := rpcStore.Distinct(cmd.Context(), args[0], filter, opts...)
			if err != nil {
				return err
			}
			return printResult(values)
		},
	}
	infoCmd = &cobra.Command{
		Use:   "info",
		Short: "Shows information about the collection and the result cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := rpcStore.GetInfo(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("collection=%s.%s documents=%d engine=%s\n", info.Collection.Database, info.Collection.Collection, info.Collection.Documents, info.Collection.Engine)
			if info.Cache != nil {
				fmt.Printf("cache engine=%s namespace=%s entries=%d\n", info.Cache.EngineType, info.CacheNamespace, info.Cache.Entries)
			} else {
				fmt.Println("cache disabled")
			}
			return nil
		},
	}
)

func runUpdate(one bool) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		filter, opts, err := filterAndOptions(cmd, args, 0)
		if err != nil {
			return err
		}
		update, err := parseValue(args[1])
		if err != nil {
			return fmt.Errorf("invalid update: %w", err)
		}

		var res store.UpdateResult
		if one {
			res, err = rpcStore.UpdateOne(cmd.Context(), filter, update, opts...)
		} else {
			res, err = rpcStore.Update(cmd.Context(), filter, update, opts...)
		}
		if err != nil {
			return err
		}
		return printResult(res)
	}
}

func runDelete(one bool) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		filter, opts, err := filterAndOptions(cmd, args, 0)
		if err != nil {
			return err
		}

		var res store.DeleteResult
		if one {
			res, err = rpcStore.DeleteOne(cmd.Context(), filter, opts...)
		} else {
			res, err = rpcStore.Delete(cmd.Context(), filter, opts...)
		}
		if err != nil {
			return err
		}
		return printResult(res)
	}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func filterAndOptions(cmd *cobra.Command, args []string, i int) (store.Filter, []store.Option, error) {
	filter, err := parseFilter(args, i)
	if err != nil {
		return nil, nil, err
	}
	opts, err := options(cmd)
	if err != nil {
		return nil, nil, err
	}
	return filter, opts, nil
}

func printResult(v any) error {
	out, err := toExtJSON(v)
	if err != nil {
		return fmt.Errorf("failed to render result: %w", err)
	}
	fmt.Println(out)
	return nil
}
