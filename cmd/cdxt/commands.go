package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Sternrassler/cdx-client/pkg/cdx"

	"github.com/spf13/cobra"
)

func newIterCmd(a *app) *cobra.Command {
	var q queryFlags

	cmd := &cobra.Command{
		Use:   "iter <url-pattern>",
		Short: "Stream every capture matching a URL pattern, page by page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			f, closeFn, err := a.fetcher(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			it, err := f.Items(args[0], q.params())
			if err != nil {
				return err
			}

			enc := json.NewEncoder(a.out)
			for rec, err := range it.All(ctx) {
				if err != nil {
					return fmt.Errorf("iterate: %w", err)
				}
				if err := writeRecord(enc, rec); err != nil {
					return err
				}
			}
			return nil
		},
	}
	q.register(cmd.Flags())
	return cmd
}

func newGetCmd(a *app) *cobra.Command {
	var (
		q    queryFlags
		page int
	)

	cmd := &cobra.Command{
		Use:   "get <url-pattern>",
		Short: "Fetch up to --limit captures with one request per endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			f, closeFn, err := a.fetcher(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			p := q.params()
			if cmd.Flags().Changed("page") {
				p.Page = &page
			}

			recs, err := f.Get(ctx, args[0], p)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(a.out)
			for _, rec := range recs {
				if err := writeRecord(enc, rec); err != nil {
					return err
				}
			}
			return nil
		},
	}
	q.register(cmd.Flags())
	cmd.Flags().IntVar(&page, "page", 0, "fetch only this page of each endpoint")
	return cmd
}

func newSizeCmd(a *app) *cobra.Command {
	var (
		q       queryFlags
		asPages bool
	)

	cmd := &cobra.Command{
		Use:   "size <url-pattern>",
		Short: "Estimate the number of captures (or pages) matching a URL pattern",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			f, closeFn, err := a.fetcher(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			n, err := f.SizeEstimate(ctx, args[0], asPages, q.params())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(a.out, n)
			return err
		},
	}
	q.register(cmd.Flags())
	cmd.Flags().BoolVar(&asPages, "as-pages", false, "report pages instead of estimated captures")
	return cmd
}

func newEndpointsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "endpoints",
		Short: "List the index endpoints the configured source resolves to, in query order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			f, closeFn, err := a.fetcher(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			for _, e := range f.Endpoints() {
				if _, err := fmt.Fprintln(a.out, e); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newPurgeCacheCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "purge-cache",
		Short: "Drop every cached response of the configured source's endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if a.cfg.RedisURL == "" {
				return errors.New("purge-cache needs --redis-url")
			}

			c, closeFn, err := a.cfg.NewClient(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			f, err := cdx.NewFetcher(ctx, a.cfg.FetcherConfig(), c)
			if err != nil {
				return err
			}

			total := 0
			for _, e := range f.Endpoints() {
				n, err := c.Config().Cache.Purge(ctx, e)
				if err != nil {
					return fmt.Errorf("purge %s: %w", e, err)
				}
				total += n
			}
			_, err = fmt.Fprintln(a.out, total)
			return err
		},
	}
}
