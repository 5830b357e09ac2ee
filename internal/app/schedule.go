package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"validator-watch/internal/slotskip"
	"validator-watch/internal/solana"
	"validator-watch/internal/timerqueue"
)

// ScheduleOptions select the validator to plan.
type ScheduleOptions struct {
	Network     solana.Network
	VoteAddress string
	JSON        bool
}

// Schedule prints the slot groups and predicted check times of one validator
// without arming anything.
func (a *App) Schedule(ctx context.Context, opts ScheduleOptions) error {
	clients := a.newClients(nil)
	defer closeClients(clients)

	client, ok := clients[opts.Network]
	if !ok {
		return fmt.Errorf("no rpc endpoint configured for %s", opts.Network)
	}

	dir := a.newDirectory()
	if err := dir.Refresh(ctx); err != nil && dir.Size(opts.Network) == 0 {
		return fmt.Errorf("load validator list: %w", err)
	}

	planner := slotskip.New(
		slotskip.OptionsFromConfig(a.Config.SlotSkip),
		map[solana.Network]solana.RPC{opts.Network: client},
		nil,
		dir,
		timerqueue.New(timerqueue.Options{}, a.Logger),
		nil,
		a.Logger,
	)
	plan, err := planner.Plan(ctx, opts.Network, opts.VoteAddress)
	if err != nil {
		return err
	}

	if opts.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(plan)
	}
	writePlan(os.Stdout, plan)
	return nil
}

func writePlan(out io.Writer, plan slotskip.Plan) {
	fmt.Fprintf(out, "network: %s\nvote account: %s\nidentity: %s\nepoch: %d\nassigned slots: %d (elapsed groups: %d)\n\n",
		plan.Network, plan.VoteAddress, plan.Identity, plan.Epoch, plan.Assigned, plan.Elapsed)
	if len(plan.Groups) == 0 {
		fmt.Fprintln(out, "no upcoming leader slots this epoch")
		return
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "First\tLast\tSlots\tCheck At (UTC)")
	for _, g := range plan.Groups {
		slots := make([]string, len(g.Slots))
		for i, s := range g.Slots {
			slots[i] = fmt.Sprintf("%d", s)
		}
		fmt.Fprintf(writer, "%d\t%d\t%s\t%s\n", g.First(), g.Last(), strings.Join(slots, ","), g.CheckAt.UTC().Format(time.RFC3339))
	}
	writer.Flush()
}
