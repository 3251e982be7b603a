package main

import (
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/csams/podcast-offline/internal/autosync"
	"github.com/csams/podcast-offline/internal/download"
	"github.com/csams/podcast-offline/internal/models"
	"github.com/csams/podcast-offline/internal/offline"
)

func newFollowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "follow <feed-url>",
		Short: "Follow an RSS feed for auto-sync",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCore(cmd.Context(), func(core *offline.Core) error {
				feed, err := core.FollowURL(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("follow %s: %w", args[0], err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Following %s (%s)\n", feed.Title, feed.ID)
				return nil
			})
		},
	}
}

func newUnfollowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "unfollow <feed-id>",
		Short: "Stop auto-syncing a feed; its downloads are kept",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCore(cmd.Context(), func(core *offline.Core) error {
				return core.Unfollow(cmd.Context(), args[0])
			})
		},
	}
}

func newFeedsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "feeds",
		Short: "List followed feeds",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCore(cmd.Context(), func(core *offline.Core) error {
				feeds := core.Followed()
				if len(feeds) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No followed feeds")
					return nil
				}
				rows := make([][]string, 0, len(feeds))
				for _, f := range feeds {
					rows = append(rows, []string{
						f.ID,
						f.Title,
						strconv.Itoa(len(core.Downloads.GetDownloadsForFeed(f.ID))),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Title", "Downloads"}, rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight}))
				return nil
			})
		},
	}
}

func newSyncCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one auto-sync sweep over followed feeds",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCore(cmd.Context(), func(core *offline.Core) error {
				report := core.SyncNow(cmd.Context())
				printReport(cmd, report)
				return nil
			})
		},
	}
}

func printReport(cmd *cobra.Command, report autosync.Report) {
	out := cmd.OutOrStdout()
	if report.Deferred {
		fmt.Fprintln(out, "Sync deferred: waiting for an unmetered network")
		return
	}
	rows := make([][]string, 0, len(report.Feeds))
	for _, fr := range report.Feeds {
		status := "ok"
		switch {
		case fr.Err != nil:
			status = fr.Err.Error()
		case fr.Skipped:
			status = "at quota"
		}
		rows = append(rows, []string{
			fr.FeedID,
			strconv.Itoa(fr.Downloaded),
			strconv.Itoa(fr.Failed),
			strconv.Itoa(fr.Removed),
			status,
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Feed", "Downloaded", "Failed", "Removed", "Status"}, rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignLeft}))
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Keep followed feeds synced until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return ctx.withCore(runCtx, func(core *offline.Core) error {
				if !core.Config.Sync.Enabled {
					return fmt.Errorf("auto-sync is disabled in the configuration")
				}
				core.StartAutoSync(runCtx, nil)
				fmt.Fprintf(cmd.OutOrStdout(), "Syncing %d feeds every %s\n",
					len(core.Followed()), core.Config.Sync.Interval())
				<-runCtx.Done()
				return nil
			})
		},
	}
}

func newDownloadCommand(ctx *commandContext) *cobra.Command {
	var latest int

	cmd := &cobra.Command{
		Use:   "download <feed-id> [episode-id...]",
		Short: "Download episodes of a followed feed, then apply the per-feed limit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCore(cmd.Context(), func(core *offline.Core) error {
				feed, ok := core.FollowedFeed(args[0])
				if !ok {
					return fmt.Errorf("feed %s is not followed", args[0])
				}
				episodes, err := core.Episodes(cmd.Context(), feed)
				if err != nil {
					return fmt.Errorf("list episodes of %s: %w", feed.Title, err)
				}
				selected := selectEpisodes(episodes, args[1:], latest)
				if len(selected) == 0 {
					return fmt.Errorf("no matching episodes in %s", feed.Title)
				}

				added := core.DownloadEpisodes(cmd.Context(), selected, feed)
				fmt.Fprintf(cmd.OutOrStdout(), "Downloaded %d of %d episodes\n", len(added), len(selected))
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&latest, "latest", 1, "Download the newest N episodes when no ids are given")
	return cmd
}

// selectEpisodes picks the listed ids, or the newest n episodes when ids is
// empty.
func selectEpisodes(episodes []models.Episode, ids []string, n int) []models.Episode {
	if len(ids) > 0 {
		want := make(map[string]bool, len(ids))
		for _, id := range ids {
			want[id] = true
		}
		var out []models.Episode
		for _, ep := range episodes {
			if want[ep.ID] {
				out = append(out, ep)
			}
		}
		return out
	}

	sorted := append([]models.Episode(nil), episodes...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].PublishedAt, sorted[j].PublishedAt
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})
	if n < len(sorted) {
		sorted = sorted[:max(n, 0)]
	}
	return sorted
}

func newDownloadsCommand(ctx *commandContext) *cobra.Command {
	var minScore int

	cmd := &cobra.Command{
		Use:   "downloads [query]",
		Short: "List downloaded episodes, optionally fuzzy-filtered",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var query string
			if len(args) == 1 {
				query = args[0]
			}
			return ctx.withCore(cmd.Context(), func(core *offline.Core) error {
				results := core.Downloads.Search(query, minScore)
				if len(results) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No downloads")
					return nil
				}
				rows := make([][]string, 0, len(results))
				for _, r := range results {
					ep := r.Episode
					rows = append(rows, []string{
						ep.ID,
						ep.FeedTitle,
						ep.Title,
						humanize.Time(ep.DownloadedAt),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Feed", "Title", "Downloaded"}, rows, nil))
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&minScore, "min-score", download.ScoreThresholdNormal, "Minimum fuzzy match score")
	return cmd
}

func newRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <episode-id>",
		Short: "Delete a downloaded episode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCore(cmd.Context(), func(core *offline.Core) error {
				if !core.Downloads.IsDownloaded(args[0]) {
					return fmt.Errorf("episode %s is not downloaded", args[0])
				}
				core.Downloads.RemoveDownload(cmd.Context(), args[0])
				return nil
			})
		},
	}
}

func newStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show download storage usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCore(cmd.Context(), func(core *offline.Core) error {
				stats, err := core.Downloads.StorageStats()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Episodes:   %d (%d stored locally)\n", stats.EpisodeCount, stats.LocalCount)
				fmt.Fprintf(out, "Disk usage: %s\n", humanize.Bytes(uint64(stats.TotalBytes)))
				fmt.Fprintf(out, "Positions:  %d saved\n", core.Positions.Len())
				return nil
			})
		},
	}
}

