package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/briangreenhill/offlinesw/internal/model"
	"github.com/briangreenhill/offlinesw/internal/page"
	"github.com/briangreenhill/offlinesw/internal/replay"
	"github.com/briangreenhill/offlinesw/internal/restapi"
)

type cliOptions struct {
	proxy   string
	api     string
	timeout time.Duration
	verbose bool
}

// env returns the value of key or def.
func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}
	root := &cobra.Command{
		Use:           "offlinesw",
		Short:         "Browse and review restaurants through the offline caching proxy",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       "0.1.0",
	}
	root.PersistentFlags().StringVar(&opts.proxy, "proxy", env("OFFLINESW_PROXY", "http://localhost:8080"), "offline proxy URL")
	root.PersistentFlags().StringVar(&opts.api, "api", env("API_BASE_URL", restapi.DefaultBaseURL), "restaurant API base URL")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "request timeout")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log to stderr")

	root.AddCommand(
		newRestaurantsCmd(opts),
		newFavoriteCmd(opts),
		newReviewCmd(opts),
		newInstallCmd(opts),
		newActivateCmd(opts),
		newSyncCmd(opts),
		newPendingCmd(opts),
	)
	return root
}

func (o *cliOptions) logger(cmd *cobra.Command) zerolog.Logger {
	if !o.verbose {
		return zerolog.Nop()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr()}).With().Timestamp().Logger()
}

// proxied returns an HTTP client that sends every request through the proxy.
func (o *cliOptions) proxied() (*http.Client, error) {
	u, err := url.Parse(o.proxy)
	if err != nil {
		return nil, fmt.Errorf("proxy url: %w", err)
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = http.ProxyURL(u)
	return &http.Client{Transport: transport, Timeout: o.timeout}, nil
}

func (o *cliOptions) apiClient() (*restapi.Client, error) {
	h, err := o.proxied()
	if err != nil {
		return nil, err
	}
	return restapi.New(restapi.WithBaseURL(o.api), restapi.WithHTTPClient(h)), nil
}

func (o *cliOptions) workerClient() (*page.Client, error) {
	return page.NewClient(o.proxy, &http.Client{Timeout: o.timeout})
}

func newRestaurantsCmd(opts *cliOptions) *cobra.Command {
	var cuisine, neighborhood string
	cmd := &cobra.Command{
		Use:   "restaurants",
		Short: "List restaurants, served from the proxy's store when offline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := opts.apiClient()
			if err != nil {
				return err
			}
			list, err := api.Restaurants(cmd.Context())
			if err != nil {
				return err
			}
			list = model.FilterRestaurants(list, cuisine, neighborhood)

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tNEIGHBORHOOD\tCUISINE\tFAVORITE\tPAGE\tIMAGE")
			for _, r := range list {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%t\t%s\t%s\n",
					r.ID, r.Name, r.Neighborhood, r.CuisineType, bool(r.IsFavorite),
					model.RestaurantURL(r), model.ImageURL(r, "webp"))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&cuisine, "cuisine", model.All, "cuisine filter")
	cmd.Flags().StringVar(&neighborhood, "neighborhood", model.All, "neighborhood filter")
	cmd.AddCommand(&cobra.Command{
		Use:   "filters",
		Short: "List the known neighborhoods and cuisines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := opts.apiClient()
			if err != nil {
				return err
			}
			list, err := api.Restaurants(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Neighborhoods:")
			for _, n := range model.Neighborhoods(list) {
				fmt.Fprintln(out, "  "+n)
			}
			fmt.Fprintln(out, "Cuisines:")
			for _, c := range model.Cuisines(list) {
				fmt.Fprintln(out, "  "+c)
			}
			return nil
		},
	})
	return cmd
}

func (o *cliOptions) controller(cmd *cobra.Command) (*page.Controller, error) {
	api, err := o.apiClient()
	if err != nil {
		return nil, err
	}
	w, err := o.workerClient()
	if err != nil {
		return nil, err
	}
	probe, err := o.proxied()
	if err != nil {
		return nil, err
	}
	return page.New(page.Options{
		View:         &textView{out: cmd.OutOrStdout()},
		API:          api,
		Worker:       w,
		Connectivity: &proxyProbe{ctx: cmd.Context(), client: probe, url: api.URL("/restaurants", nil)},
		Log:          o.logger(cmd),
	}), nil
}

func newFavoriteCmd(opts *cliOptions) *cobra.Command {
	var current bool
	cmd := &cobra.Command{
		Use:   "favorite <restaurant-id>",
		Short: "Toggle a restaurant's favorite state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			c, err := opts.controller(cmd)
			if err != nil {
				return err
			}
			_, err = c.ToggleFavorite(cmd.Context(), id, current)
			return err
		},
	}
	cmd.Flags().BoolVar(&current, "current", false, "current favorite state")
	return cmd
}

func newReviewCmd(opts *cliOptions) *cobra.Command {
	var form page.ReviewForm
	cmd := &cobra.Command{
		Use:   "review <restaurant-id>",
		Short: "Submit a review, queued for sync when offline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			form.RestaurantID = id
			c, err := opts.controller(cmd)
			if err != nil {
				return err
			}
			_, err = c.SubmitReview(cmd.Context(), form)
			return err
		},
	}
	cmd.Flags().StringVar(&form.Name, "name", "", "reviewer name")
	cmd.Flags().StringVar(&form.Rating, "rating", "", "rating 1-5 (default 1)")
	cmd.Flags().StringVar(&form.Comments, "comments", "", "review text")
	return cmd
}

func newInstallCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Prime the static asset cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := opts.workerClient()
			if err != nil {
				return err
			}
			n, err := w.Install(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cached %d assets\n", n)
			return nil
		},
	}
}

func newActivateCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "activate",
		Short: "Delete old static cache generations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := opts.workerClient()
			if err != nil {
				return err
			}
			deleted, err := w.Activate(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d caches\n", len(deleted))
			for _, name := range deleted {
				fmt.Fprintln(cmd.OutOrStdout(), "  "+name)
			}
			return nil
		},
	}
}

func newSyncCmd(opts *cliOptions) *cobra.Command {
	var tag string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Ask the proxy to replay pending writes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := opts.workerClient()
			if err != nil {
				return err
			}
			scheduled, err := w.Sync(cmd.Context(), tag)
			if err != nil {
				return err
			}
			if scheduled {
				fmt.Fprintln(cmd.OutOrStdout(), "replay scheduled")
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "tag %q ignored\n", tag)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tag, "tag", replay.SyncTag, "sync tag")
	return cmd
}

func newPendingCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "Show writes waiting for sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := opts.workerClient()
			if err != nil {
				return err
			}
			raw, err := w.Pending(cmd.Context())
			if err != nil {
				return err
			}
			var pretty any
			if err := json.Unmarshal(raw, &pretty); err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(pretty)
		},
	}
}

func parseID(s string) (model.ID, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid restaurant id %q", s)
	}
	return model.ID(n), nil
}

// textView prints what a page would render.
type textView struct {
	out io.Writer
}

func (v *textView) SetFavorite(id model.ID, favorite bool) {
	if favorite {
		fmt.Fprintf(v.out, "restaurant %d marked as favorite\n", id)
	} else {
		fmt.Fprintf(v.out, "restaurant %d removed from favorites\n", id)
	}
}

func (v *textView) AppendReview(r model.Review) {
	fmt.Fprintf(v.out, "review by %s (%d/5) saved offline, will sync when online\n", r.Name, r.Rating)
}

func (v *textView) RemoveReview(id string) {
	fmt.Fprintf(v.out, "review %s could not be saved\n", id)
}

func (v *textView) SetReviews(list []model.Review) {
	fmt.Fprintf(v.out, "%d reviews:\n", len(list))
	for _, r := range list {
		fmt.Fprintf(v.out, "  %s (%d/5): %s\n", r.Name, r.Rating, r.Comments)
	}
}

func (v *textView) ResetForm() {}

// proxyProbe reports online when the API answers through the proxy. The
// proxy's 502 means neither the network nor its caches could answer.
type proxyProbe struct {
	ctx    context.Context
	client *http.Client
	url    string
}

func (p *proxyProbe) Online() bool {
	req, err := http.NewRequestWithContext(p.ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode != http.StatusBadGateway
}
