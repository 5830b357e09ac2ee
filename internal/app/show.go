package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"validator-watch/internal/debounce"
	"validator-watch/internal/solana"
	"validator-watch/internal/storage"
)

// Show prints the tracked validators with their debounce state, then the latest deliveries.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.requireStore(ctx, "show tracked validators")
	if err != nil {
		return err
	}
	defer closeStore()

	networks := solana.Networks
	if opts.Network != "" {
		networks = []solana.Network{opts.Network}
	}

	var tracked []storage.TrackedValidator
	for _, network := range networks {
		list, err := store.ListTracked(ctx, network)
		if err != nil {
			return fmt.Errorf("list %s validators: %w", network, err)
		}
		tracked = append(tracked, list...)
	}

	records, err := store.ListRecentNotifications(ctx, opts.Limit)
	if err != nil {
		return err
	}

	writeTracked(os.Stdout, tracked)
	fmt.Fprintln(os.Stdout)
	writeNotifications(os.Stdout, records)
	return nil
}

func writeTracked(out io.Writer, tracked []storage.TrackedValidator) {
	if len(tracked) == 0 {
		fmt.Fprintln(out, "no tracked validators")
		return
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Network\tVote Account\tSubscribers\tStatus\tLow Balance\tLow PDA\tLow Credits")
	for _, v := range tracked {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%d\t%s\t%s\t%s\t%t\n",
			v.Network,
			v.VoteAddress,
			len(v.Subscribers()),
			statusLabel(v.LastStatus),
			lowFlags(v.BalanceFlags),
			lowFlags(v.PDABalanceFlags),
			v.LastVoteLow,
		)
	}
	writer.Flush()
}

func writeNotifications(out io.Writer, records []storage.NotificationRecord) {
	if len(records) == 0 {
		fmt.Fprintln(out, "no notifications recorded")
		return
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tSignal\tChannel\tSubscriber\tNetwork\tVote Account\tStatus\tError")
	for _, rec := range records {
		errMsg := ""
		if rec.Error != nil {
			errMsg = sanitizeInline(*rec.Error)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.CreatedAt.UTC().Format(time.RFC3339),
			rec.Signal,
			rec.Channel,
			rec.SubscriberID,
			rec.Network,
			rec.VoteAddress,
			rec.Status,
			errMsg,
		)
	}
	writer.Flush()
}

func statusLabel(s debounce.Status) string {
	if s == debounce.StatusUnset {
		return "-"
	}
	return string(s)
}

// lowFlags lists the subscribers currently flagged low, sorted.
func lowFlags(flags debounce.Flags) string {
	var low []string
	for id, v := range flags {
		if v {
			low = append(low, id)
		}
	}
	if len(low) == 0 {
		return "-"
	}
	sort.Strings(low)
	return strings.Join(low, ",")
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
