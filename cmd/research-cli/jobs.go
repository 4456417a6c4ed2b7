package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/target/mmk-research-api/config"
	"github.com/target/mmk-research-api/internal/domain/model"
	"github.com/target/mmk-research-api/internal/observer"
)

type watchOptions struct {
	Stream   bool
	Interval time.Duration
	MaxWait  time.Duration
	Jitter   time.Duration
}

func (w *watchOptions) bind(cmd *cobra.Command, defaults config.ObserverConfig) {
	flags := cmd.Flags()
	flags.BoolVar(&w.Stream, "stream", false, "follow the websocket change stream, polling only as a fallback")
	flags.DurationVar(&w.Interval, "interval", defaults.PollInterval, "status poll interval (env OBSERVER_POLL_INTERVAL)")
	flags.DurationVar(&w.MaxWait, "max-wait", defaults.MaxWait, "give up after this long (env OBSERVER_MAX_WAIT)")
	flags.DurationVar(&w.Jitter, "jitter", defaults.PollJitter,
		"standard deviation of random poll offset (env OBSERVER_POLL_JITTER)")
}

func (w *watchOptions) build(root *rootOptions, client *observer.APIClient) (*observer.Observer, error) {
	opts := observer.Options{
		Interval: w.Interval,
		MaxWait:  w.MaxWait,
		Jitter:   w.Jitter,
		Logger:   root.logger,
	}
	if w.Stream {
		stream, err := observer.NewWebsocketStream(observer.StreamConfig{
			BaseURL: root.APIURL,
			Logger:  root.logger,
		})
		if err != nil {
			return nil, err
		}
		opts.Stream = stream
	}
	return observer.New(client, client, opts)
}

func newDispatchCmd(root *rootOptions) *cobra.Command {
	var (
		input     string
		inputFile string
		jobID     string
		watch     bool
		wopts     watchOptions
	)
	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Start a research job",
		Example: `  research-cli dispatch --input '{"topic":"supply chain"}'
  research-cli dispatch --input-file req.json --watch --stream`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := readInput(cmd.InOrStdin(), input, inputFile)
			if err != nil {
				return err
			}
			client, err := root.client()
			if err != nil {
				return err
			}
			req := model.StartJobRequest{JobID: strings.TrimSpace(jobID), Input: raw}

			if !watch {
				res, err := client.StartJob(cmd.Context(), req)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), res.JobID)
				return nil
			}

			obs, err := wopts.build(root, client)
			if err != nil {
				return err
			}
			h, err := obs.Start(cmd.Context(), req)
			if err != nil {
				return err
			}
			return report(cmd.OutOrStdout(), h)
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "job input as a JSON object")
	cmd.Flags().StringVar(&inputFile, "input-file", "", "read job input from a file ('-' for stdin)")
	cmd.Flags().StringVar(&jobID, "job-id", "", "use this job id instead of a generated one")
	cmd.Flags().BoolVar(&watch, "watch", false, "follow the job until it finishes")
	cmd.MarkFlagsMutuallyExclusive("input", "input-file")
	wopts.bind(cmd, root.Observer)
	return cmd
}

func newStatusCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show the reconciled status of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := root.client()
			if err != nil {
				return err
			}
			resp, err := client.GetStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), resp)
		},
	}
}

func newWatchCmd(root *rootOptions) *cobra.Command {
	var wopts watchOptions
	cmd := &cobra.Command{
		Use:   "watch <job-id>",
		Short: "Follow an existing job until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := root.client()
			if err != nil {
				return err
			}
			obs, err := wopts.build(root, client)
			if err != nil {
				return err
			}
			return report(cmd.OutOrStdout(), obs.Watch(cmd.Context(), args[0]))
		},
	}
	wopts.bind(cmd, root.Observer)
	return cmd
}

func newCallbackCmd(root *rootOptions) *cobra.Command {
	var (
		token       string
		success     bool
		errorDetail string
		data        string
	)
	cmd := &cobra.Command{
		Use:   "callback <job-id>",
		Short: "Post a workflow engine result for a job",
		Long: "Posts a result the way the workflow engine does. Useful for local testing\n" +
			"and for closing out jobs whose engine run was lost.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok := success && errorDetail == ""
			result := model.CallbackResult{Success: &ok, ErrorDetail: errorDetail}
			if data != "" {
				if !json.Valid([]byte(data)) {
					return errors.New("--data must be valid JSON")
				}
				result.Data = json.RawMessage(data)
			}
			if err := result.Validate(); err != nil {
				return err
			}

			client, err := root.client()
			if err != nil {
				return err
			}
			if err := client.PostCallback(cmd.Context(), args[0], token, result); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "recorded %s for %s\n", result.TargetStatus(), args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", os.Getenv("CALLBACK_SECRET"), "shared callback token")
	cmd.Flags().BoolVar(&success, "success", true, "report a successful run")
	cmd.Flags().StringVar(&errorDetail, "error-detail", "", "report a failed run with this detail")
	cmd.Flags().StringVar(&data, "data", "", "result payload as JSON")
	return cmd
}

// report prints each transition and returns errJobUnsuccessful unless the job completed.
func report(w io.Writer, h *observer.Handle) error {
	for s := range h.Transitions() {
		line := fmt.Sprintf("%-12s job=%s elapsed=%s", s.Phase, s.JobID, s.Elapsed.Round(time.Millisecond))
		if s.Status != "" {
			line += " status=" + string(s.Status)
		}
		_, _ = fmt.Fprintln(w, line)
	}

	final := h.Result()
	switch final.Phase {
	case observer.PhaseComplete:
		if len(final.Payload) > 0 {
			return writeJSON(w, final.Payload)
		}
		return nil
	case observer.PhaseError:
		if final.ErrorDetail != nil {
			return fmt.Errorf("%w: %s", errJobUnsuccessful, *final.ErrorDetail)
		}
		return fmt.Errorf("%w: %w", errJobUnsuccessful, final.Err)
	default:
		return fmt.Errorf("%w: stopped in phase %s", errJobUnsuccessful, final.Phase)
	}
}

func readInput(stdin io.Reader, inline, file string) (json.RawMessage, error) {
	var raw []byte
	switch {
	case inline != "":
		raw = []byte(inline)
	case file == "-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		raw = b
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read input file: %w", err)
		}
		raw = b
	default:
		return nil, errors.New("one of --input or --input-file is required")
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' || !json.Valid(raw) {
		return nil, errors.New("input must be a JSON object")
	}
	return raw, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
