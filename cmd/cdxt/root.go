package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/Sternrassler/cdx-client/internal/config"
	"github.com/Sternrassler/cdx-client/pkg/cdx"
	"github.com/Sternrassler/cdx-client/pkg/client"
	"github.com/Sternrassler/cdx-client/pkg/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// app carries state shared by all subcommands.
type app struct {
	v      *viper.Viper
	cfg    *config.Config
	out    io.Writer
	errOut io.Writer
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	a := &app{v: config.NewViper(), out: out, errOut: errOut}

	root := &cobra.Command{
		Use:          "cdxt",
		Short:        "Query Common Crawl and Wayback Machine CDX indexes",
		Version:      client.Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)
	config.AddFlags(root.PersistentFlags())

	root.AddCommand(
		newIterCmd(a),
		newGetCmd(a),
		newSizeCmd(a),
		newEndpointsCmd(a),
		newPurgeCacheCmd(a),
	)
	return root
}

// load resolves settings once flags are parsed.
func (a *app) load(cmd *cobra.Command) error {
	flags := cmd.Root().PersistentFlags()
	if err := config.BindFlags(a.v, flags); err != nil {
		return fmt.Errorf("bind flags: %w", err)
	}

	configFile, _ := flags.GetString("config")
	cfg, err := config.Load(a.v, configFile)
	if err != nil {
		return err
	}

	lc := cfg.Logging()
	lc.Output = a.errOut
	logging.Setup(lc)

	a.cfg = cfg
	return nil
}

// fetcher builds the client and resolves the endpoint list.
func (a *app) fetcher(ctx context.Context) (*cdx.Fetcher, func(), error) {
	c, closeFn, err := a.cfg.NewClient(ctx)
	if err != nil {
		return nil, nil, err
	}

	f, err := cdx.NewFetcher(ctx, a.cfg.FetcherConfig(), c)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return f, closeFn, nil
}

// queryFlags are the per-query options shared by iter, get and size.
type queryFlags struct {
	from      string
	to        string
	matchType string
	limit     int
	sort      string
	closest   string
	filter    []string
	fields    []string
	pageSize  int
}

func (q *queryFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&q.from, "from", "", "earliest capture timestamp (yyyyMMddhhmmss or a prefix)")
	fs.StringVar(&q.to, "to", "", "latest capture timestamp")
	fs.StringVar(&q.matchType, "match-type", "", "exact, prefix, host or domain")
	fs.IntVar(&q.limit, "limit", 0, "maximum number of records")
	fs.StringVar(&q.sort, "index-sort", "", "server-side result sort (e.g. reverse, closest)")
	fs.StringVar(&q.closest, "closest", "", "timestamp for closest sorting")
	fs.StringArrayVar(&q.filter, "filter", nil, "field filter, repeatable (e.g. status:200, !mime:text/html)")
	fs.StringSliceVar(&q.fields, "fields", nil, "comma-separated fields to return")
	fs.IntVar(&q.pageSize, "page-size", 0, "server page size in index blocks")
}

func (q *queryFlags) params() cdx.Params {
	return cdx.Params{
		From:      q.from,
		To:        q.to,
		MatchType: q.matchType,
		Limit:     q.limit,
		Sort:      q.sort,
		Closest:   q.closest,
		Filter:    q.filter,
		Fields:    q.fields,
		PageSize:  q.pageSize,
	}
}

// writeRecord prints one record as a JSON line.
func writeRecord(enc *json.Encoder, rec map[string]string) error {
	if err := enc.Encode(rec); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}
