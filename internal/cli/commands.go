package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/config"
	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/jobs"
	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/models"
	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/multiagent"
)

func queryCMD(opts *rootOptions) *cobra.Command {
	var sessionID, strategy string
	var interactive bool
	cmd := &cobra.Command{
		Use:   "query <multi-agent-id> [prompt]",
		Short: "Run a query across the agents of a multi-agent",
		Long: "Run a query across the agents of a multi-agent. With --interactive every\n" +
			"line read from stdin is a prompt in the same session, and synthesis settings\n" +
			"are reloaded when the config file changes.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			prompt := strings.Join(args[1:], " ")
			if prompt == "" && !interactive {
				return errors.New("a prompt is required unless --interactive is set")
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				o, err := a.orchestrator(ctx)
				if err != nil {
					return err
				}
				if !interactive {
					res := o.ExecuteQuery(ctx, id, prompt, sessionID, strategy)
					if err := render(cmd.OutOrStdout(), opts.output, res); err != nil {
						return err
					}
					if res.Failed() {
						return errors.New(res.Error)
					}
					return nil
				}

				if sessionID == "" {
					sessionID = uuid.NewString()
				}
				a.loader.OnChange(func(cfg *config.Config) { a.synthesis().UpdateConfig(cfg.Synthesis) })
				a.loader.Watch()
				a.logger.Info("Interactive session started", zap.String("session_id", sessionID))

				scanner := bufio.NewScanner(cmd.InOrStdin())
				for scanner.Scan() {
					line := strings.TrimSpace(scanner.Text())
					if line == "" {
						continue
					}
					res := o.ExecuteQuery(ctx, id, line, sessionID, strategy)
					if err := render(cmd.OutOrStdout(), opts.output, res); err != nil {
						return err
					}
					if ctx.Err() != nil {
						return nil
					}
				}
				return scanner.Err()
			})
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session id for conversation history")
	cmd.Flags().StringVar(&strategy, "strategy", "auto", "strategy hint (auto, direct, broadcast, chained)")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "read prompts from stdin")
	return cmd
}

func detectCMD(opts *rootOptions) *cobra.Command {
	var store, async bool
	cmd := &cobra.Command{
		Use:   "detect <source-agent-id> <target-agent-id>",
		Short: "Suggest the join key between two agents",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			source, target := ids[0], ids[1]
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if async {
					q, err := a.queue(ctx)
					if err != nil {
						return err
					}
					jobID, err := jobs.EnqueueDetectJoinKeys(ctx, q, source, target)
					if err != nil {
						return err
					}
					return render(cmd.OutOrStdout(), opts.output, map[string]string{"job_id": jobID})
				}

				d, err := a.detector(ctx)
				if err != nil {
					return err
				}
				var suggestion *models.JoinKeySuggestion
				if store {
					suggestion, err = d.DetectAndStore(ctx, source, target)
				} else {
					suggestion, err = d.Detect(ctx, source, target)
				}
				if err != nil {
					return err
				}
				if suggestion == nil {
					a.logger.Info("No join key above threshold",
						zap.Int64("source_agent_id", source),
						zap.Int64("target_agent_id", target))
				}
				return render(cmd.OutOrStdout(), opts.output, map[string]interface{}{"suggestion": suggestion})
			})
		},
	}
	cmd.Flags().BoolVar(&store, "store", false, "persist the suggestion as an agent relation")
	cmd.Flags().BoolVar(&async, "async", false, "enqueue detection for the worker instead of running it")
	return cmd
}

func createCMD(opts *rootOptions) *cobra.Command {
	var (
		name      string
		agentIDs  []string
		relations []string
		detect    bool
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a multi-agent from existing agents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ids, err := parseIDs(agentIDs)
			if err != nil {
				return err
			}
			rels := make([]models.Relation, 0, len(relations))
			for _, raw := range relations {
				rel, err := parseRelation(raw)
				if err != nil {
					return err
				}
				rels = append(rels, rel)
			}

			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				creator, err := a.creator(ctx)
				if err != nil {
					return err
				}
				ma, err := creator.CreateMultiAgent(ctx, multiagent.CreateRequest{Name: name, AgentIDs: ids, Relations: rels})
				if err != nil {
					return err
				}
				if detect {
					q, err := a.queue(ctx)
					if err != nil {
						return fmt.Errorf("multi-agent %d created, but join-key detection could not be queued: %w", ma.ID, err)
					}
					jobIDs, err := jobs.EnqueuePairwise(ctx, q, ma.AgentIDs)
					if err != nil {
						return fmt.Errorf("multi-agent %d created, but join-key detection could not be queued: %w", ma.ID, err)
					}
					a.logger.Info("Queued join-key detection", zap.Int64("multi_agent_id", ma.ID), zap.Int("jobs", len(jobIDs)))
				}
				return render(cmd.OutOrStdout(), opts.output, ma)
			})
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "multi-agent name (suggested when empty)")
	cmd.Flags().StringSliceVarP(&agentIDs, "agents", "a", nil, "agent ids, comma separated")
	cmd.Flags().StringArrayVarP(&relations, "relation", "r", nil, "relation source:target:join_key[:description], repeatable")
	cmd.Flags().BoolVar(&detect, "detect-join-keys", false, "queue join-key detection for every agent pair")
	_ = cmd.MarkFlagRequired("agents")
	return cmd
}

func suggestNameCMD(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "suggest-name <agent-id>...",
		Short: "Suggest a multi-agent name from agent names",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				creator, err := a.creator(ctx)
				if err != nil {
					return err
				}
				name, err := creator.SuggestName(ctx, ids, time.Now())
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), opts.output, map[string]string{"name": name})
			})
		},
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func parseIDs(values []string) ([]int64, error) {
	ids := make([]int64, 0, len(values))
	for _, v := range values {
		id, err := parseID(v)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// parseRelation reads source:target:join_key with an optional :description
func parseRelation(raw string) (models.Relation, error) {
	parts := strings.SplitN(raw, ":", 4)
	if len(parts) < 3 {
		return models.Relation{}, fmt.Errorf("invalid relation %q, want source:target:join_key[:description]", raw)
	}
	ids, err := parseIDs(parts[:2])
	if err != nil {
		return models.Relation{}, fmt.Errorf("invalid relation %q: %w", raw, err)
	}
	rel := models.Relation{
		SourceAgentID: ids[0],
		TargetAgentID: ids[1],
		JoinKey:       strings.TrimSpace(parts[2]),
	}
	if len(parts) == 4 {
		rel.Description = strings.TrimSpace(parts[3])
	}
	return rel, nil
}
