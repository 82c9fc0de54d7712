package main

import (
	"context"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"lookout/pkg/client"
	"lookout/pkg/events"
)

type notifyOptions struct {
	address   string
	timeout   time.Duration
	requestID string
	url       string
	head      string
}

func newNotifyCommand() *cobra.Command {
	opts := &notifyOptions{}
	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Send a single event to a running analyzer",
	}
	cmd.PersistentFlags().StringVar(&opts.address, "address", "127.0.0.1:2000", "analyzer address")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "call timeout")
	cmd.PersistentFlags().StringVar(&opts.requestID, "request-id", "", "x-request-id metadata sent with the call")
	cmd.PersistentFlags().StringVar(&opts.url, "url", "", "internal repository url")
	cmd.PersistentFlags().StringVar(&opts.head, "head", "", "head commit hash")

	var base string
	review := &cobra.Command{
		Use:   "review",
		Short: "Send a ReviewEvent for base..head",
		RunE: func(cmd *cobra.Command, _ []string) error {
			evt := &events.ReviewEvent{
				CommitRevision: events.CommitRevision{
					Base: events.ReferencePointer{InternalRepositoryURL: opts.url, Hash: base},
					Head: events.ReferencePointer{InternalRepositoryURL: opts.url, Hash: opts.head},
				},
			}
			return opts.send(cmd, func(ctx context.Context, c *client.Client) (*events.EventResponse, error) {
				return c.NotifyReviewEvent(ctx, evt)
			})
		},
	}
	review.Flags().StringVar(&base, "base", "", "base commit hash")

	var commits uint32
	push := &cobra.Command{
		Use:   "push",
		Short: "Send a PushEvent for head",
		RunE: func(cmd *cobra.Command, _ []string) error {
			evt := &events.PushEvent{
				Commits:         commits,
				DistinctCommits: commits,
				CommitRevision: events.CommitRevision{
					Head: events.ReferencePointer{InternalRepositoryURL: opts.url, Hash: opts.head},
				},
			}
			return opts.send(cmd, func(ctx context.Context, c *client.Client) (*events.EventResponse, error) {
				return c.NotifyPushEvent(ctx, evt)
			})
		},
	}
	push.Flags().Uint32Var(&commits, "commits", 1, "number of distinct commits")

	cmd.AddCommand(review, push)
	return cmd
}

func (o *notifyOptions) send(cmd *cobra.Command, call func(context.Context, *client.Client) (*events.EventResponse, error)) error {
	var clientOpts []client.Option
	if o.requestID != "" {
		clientOpts = append(clientOpts, client.WithMetadata("x-request-id", o.requestID))
	}
	c, err := client.Dial(o.address, clientOpts...)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
	defer cancel()
	resp, err := call(ctx, c)
	if err != nil {
		return fmt.Errorf("notify %s: %w", o.address, err)
	}

	out, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(resp, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return err
}
