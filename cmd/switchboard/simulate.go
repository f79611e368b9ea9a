package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/tailored-agentic-units/switchboard/catalog"
	"github.com/tailored-agentic-units/switchboard/client"
	"github.com/tailored-agentic-units/switchboard/config"
	"github.com/tailored-agentic-units/switchboard/message"
	"github.com/tailored-agentic-units/switchboard/route"
	"github.com/tailored-agentic-units/switchboard/state"
)

const settleTimeout = 5 * time.Second

type transitionRecord struct {
	Client  string `json:"client"`
	Machine string `json:"machine"`
	Message string `json:"message"`
	State   string `json:"state"`
}

type simulation struct {
	Popup       string             `json:"popup"`
	Tabs        []string           `json:"tabs"`
	Acks        int64              `json:"acks"`
	Pongs       int64              `json:"pongs"`
	Transitions []transitionRecord `json:"transitions"`
	Clients     []string           `json:"clients"`
	Tracked     int                `json:"tracked"`
	Collisions  int                `json:"collisions"`
}

type transcript struct {
	mu      sync.Mutex
	records []transitionRecord
}

// watch records every settled transition of m until ctx ends.
func (t *transcript) watch(ctx context.Context, owner func() string, m *state.Machine) {
	sub, cancel := m.Subscribe()
	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case tr := <-sub:
				if tr.Phase != state.PhaseSettle {
					continue
				}
				t.mu.Lock()
				t.records = append(t.records, transitionRecord{
					Client:  owner(),
					Machine: tr.Machine,
					Message: tr.Message,
					State:   string(tr.State.Name),
				})
				t.mu.Unlock()
			}
		}
	}()
}

func (t *transcript) snapshot() []transitionRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]transitionRecord(nil), t.records...)
}

func newSimulateCommand(opts *RootOptions) *cobra.Command {
	var tabs int

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run the wave toggle between a popup and content tabs on an in-process bus",
		Long: `Start a router, one popup, and --tabs content scripts on an in-process bus,
then toggle the wave on and off from the popup and ping every tab. Prints
the settled transitions of every machine.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if tabs < 1 {
				return fmt.Errorf("--tabs must be at least 1")
			}

			cfg, err := opts.load()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			h, err := newHub(ctx, cfg, opts.log())
			if err != nil {
				return err
			}

			result, runErr := simulate(h, tabs)
			cancel()
			if err := h.wait(); err != nil && !errors.Is(err, context.Canceled) && runErr == nil {
				runErr = err
			}
			if runErr != nil {
				return runErr
			}
			return writeSimulation(cmd.OutOrStdout(), opts.Format, result)
		},
	}

	cmd.Flags().IntVar(&tabs, "tabs", 1, "number of content tabs")
	return cmd
}

func simulate(h *hub, tabs int) (*simulation, error) {
	ctx := h.ctx
	log := &transcript{}

	var (
		popup     *client.Client
		tabIDs    []string
		acks      atomic.Int64
		pongs     atomic.Int64
		machineOf = func(name string, table *state.Table) (*state.Machine, error) {
			cfg := config.DefaultMachineConfig(name)
			cfg.Observer = h.cfg.Observer
			cfg.Logger = h.logger
			return catalog.NewMachine(ctx, cfg, table)
		}
	)

	toTabs := func(machine string, payload message.Payload) catalog.Hook {
		return func(ctx context.Context, msg message.Message) error {
			var errs []error
			for _, tab := range tabIDs {
				path := route.NewAddress().Hop("background").Hop(tab).Machine(machine).Path()
				errs = append(errs, popup.Send(ctx, path, payload))
			}
			return errors.Join(errs...)
		}
	}
	count := func(n *atomic.Int64) catalog.Hook {
		return func(context.Context, message.Message) error {
			n.Add(1)
			return nil
		}
	}

	waveTable, err := catalog.WaveToggle(catalog.WaveHooks{
		Start:   toTabs(catalog.MachineContentWave, catalog.Start{}),
		Stop:    toTabs(catalog.MachineContentWave, catalog.Stop{}),
		Started: count(&acks),
		Stopped: count(&acks),
	}, h.logger)
	if err != nil {
		return nil, err
	}
	liveTable, err := catalog.Liveness(catalog.LivenessHooks{Pong: count(&pongs)}, h.logger)
	if err != nil {
		return nil, err
	}

	toggle, err := machineOf(catalog.MachineWaveToggle, waveTable)
	if err != nil {
		return nil, err
	}
	popupLive, err := machineOf(catalog.MachineLiveness, liveTable)
	if err != nil {
		return nil, err
	}

	popup, err = h.join(route.Popup, 0, toggle, popupLive)
	if err != nil {
		return nil, err
	}
	log.watch(ctx, popup.ID, toggle)
	log.watch(ctx, popup.ID, popupLive)

	var contentWaves []*state.Machine
	for i := 1; i <= tabs; i++ {
		tabID := i
		var content *client.Client

		// Content scripts answer whoever stamped the message.
		reply := func(machine string, payload message.Payload) catalog.Hook {
			return func(ctx context.Context, msg message.Message) error {
				path := route.NewAddress().Hop("background").Hop(msg.ClientID()).Machine(machine).Path()
				return content.Send(ctx, path, payload)
			}
		}

		cwTable, err := catalog.ContentWave(catalog.WaveHooks{
			Start: reply(catalog.MachineWaveToggle, catalog.WaveStarted{TabID: tabID}),
			Stop:  reply(catalog.MachineWaveToggle, catalog.WaveStopped{TabID: tabID}),
		}, h.logger)
		if err != nil {
			return nil, err
		}
		clTable, err := catalog.Liveness(catalog.LivenessHooks{
			Ping: func(ctx context.Context, msg message.Message) error {
				ping, err := message.As[catalog.Ping](msg)
				if err != nil {
					return err
				}
				return reply(catalog.MachineLiveness, catalog.Pong{Seq: ping.Seq})(ctx, msg)
			},
		}, h.logger)
		if err != nil {
			return nil, err
		}

		wave, err := machineOf(catalog.MachineContentWave, cwTable)
		if err != nil {
			return nil, err
		}
		live, err := machineOf(catalog.MachineLiveness, clTable)
		if err != nil {
			return nil, err
		}

		content, err = h.join(route.Content, tabID, wave, live)
		if err != nil {
			return nil, err
		}
		log.watch(ctx, content.ID, wave)
		log.watch(ctx, content.ID, live)

		tabIDs = append(tabIDs, strconv.Itoa(tabID))
		contentWaves = append(contentWaves, wave)
	}

	self := "#" + catalog.MachineWaveToggle
	want := int64(tabs)

	if err := popup.Send(ctx, self, catalog.Toggle{}); err != nil {
		return nil, err
	}
	if err := settle(ctx, func() bool {
		return acks.Load() == want && allIn(contentWaves, catalog.StateWaving)
	}); err != nil {
		return nil, fmt.Errorf("wave did not start: %w", err)
	}

	if err := popup.Send(ctx, self, catalog.Toggle{}); err != nil {
		return nil, err
	}
	if err := settle(ctx, func() bool {
		return acks.Load() == 2*want && allIn(contentWaves, state.BaseName) && toggle.Current().Name == state.BaseName
	}); err != nil {
		return nil, fmt.Errorf("wave did not stop: %w", err)
	}

	if err := toTabs(catalog.MachineLiveness, catalog.Ping{Seq: 1})(ctx, nil); err != nil {
		return nil, err
	}
	if err := settle(ctx, func() bool { return pongs.Load() == want }); err != nil {
		return nil, fmt.Errorf("tabs did not answer ping: %w", err)
	}

	var tracked, collisions int
	for _, snapshot := range h.diagnostics() {
		tracked += len(snapshot.History)
		collisions += len(snapshot.Collisions)
	}
	return &simulation{
		Popup:       popup.ID(),
		Tabs:        tabIDs,
		Acks:        acks.Load(),
		Pongs:       pongs.Load(),
		Transitions: log.snapshot(),
		Clients:     h.router.Clients(),
		Tracked:     tracked,
		Collisions:  collisions,
	}, nil
}

func allIn(machines []*state.Machine, name state.Name) bool {
	for _, m := range machines {
		if m.Current().Name != name {
			return false
		}
	}
	return true
}

// settle polls done until it holds or settleTimeout passes.
func settle(ctx context.Context, done func() bool) error {
	ctx, cancel := context.WithTimeout(ctx, settleTimeout)
	defer cancel()

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for !done() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func writeSimulation(w io.Writer, format string, s *simulation) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}

	fmt.Fprintf(w, "popup %s, tabs %v\n", s.Popup, s.Tabs)
	for _, t := range s.Transitions {
		fmt.Fprintf(w, "  %-12s %-14s %-16s -> %s\n", t.Client, t.Machine, t.Message, t.State)
	}
	fmt.Fprintf(w, "acks %d, pongs %d\n", s.Acks, s.Pongs)
	fmt.Fprintf(w, "clients %v\n", s.Clients)
	fmt.Fprintf(w, "diagnostics: %d tracked, %d collisions\n", s.Tracked, s.Collisions)
	return nil
}
