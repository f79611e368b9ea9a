package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tailored-agentic-units/switchboard/catalog"
	"github.com/tailored-agentic-units/switchboard/config"
	"github.com/tailored-agentic-units/switchboard/message"
	"github.com/tailored-agentic-units/switchboard/route"
	"github.com/tailored-agentic-units/switchboard/transport"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestValidate_JSON(t *testing.T) {
	out, err := run(t, "validate", "--format", "json")
	require.NoError(t, err)

	var v validation
	require.NoError(t, json.Unmarshal([]byte(out), &v))

	machines := make([]string, 0, len(v.Tables))
	for _, table := range v.Tables {
		machines = append(machines, table.Machine)
	}
	assert.Equal(t, []string{
		catalog.MachineContentWave,
		catalog.MachineLiveness,
		catalog.MachineSelectorUX,
		catalog.MachineSettingsSync,
		catalog.MachineWaveToggle,
	}, machines)

	assert.Contains(t, v.Messages, message.NameBootstrap)
	assert.Contains(t, v.Messages, catalog.NamePing)
	assert.Equal(t, "slog", v.Observer)
}

func TestValidate_Text(t *testing.T) {
	out, err := run(t, "validate")
	require.NoError(t, err)

	assert.Contains(t, out, "wave-toggle: ok")
	assert.Contains(t, out, "registered messages")
}

func TestRoot_InvalidFormat(t *testing.T) {
	_, err := run(t, "validate", "--format", "yaml")
	assert.ErrorContains(t, err, "invalid format")
}

func TestSimulate_JSON(t *testing.T) {
	out, err := run(t, "simulate", "--tabs", "2", "--format", "json")
	require.NoError(t, err)

	var s simulation
	require.NoError(t, json.Unmarshal([]byte(out), &s))

	assert.Equal(t, []string{"1", "2"}, s.Tabs)
	assert.Equal(t, int64(4), s.Acks)
	assert.Equal(t, int64(2), s.Pongs)
	assert.Contains(t, s.Clients, transport.BackgroundID)
	assert.Contains(t, s.Clients, "1")
	assert.Contains(t, s.Clients, "2")
	assert.Contains(t, s.Clients, s.Popup)
	assert.Positive(t, s.Tracked)
	assert.Zero(t, s.Collisions)
}

func TestSimulate_RejectsNoTabs(t *testing.T) {
	_, err := run(t, "simulate", "--tabs", "0")
	assert.ErrorContains(t, err, "--tabs")
}

func TestHub_Handler(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Observer = "noop"

	ctx, cancel := context.WithCancel(context.Background())
	h, err := newHub(ctx, &cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	srv := httptest.NewServer(h.handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	var health map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", health["status"])

	resp, err = http.Get(srv.URL + "/debug/diagnostics")
	require.NoError(t, err)
	var report debugReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Contains(t, report.Clients, transport.BackgroundID)
	assert.Zero(t, report.Sessions)

	cancel()
	if err := h.wait(); err != nil {
		assert.True(t, errors.Is(err, context.Canceled), err)
	}
}

func TestHub_LoopCountedPerHop(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Observer = "noop"
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h, err := newHub(ctx, &cfg, logger)
	require.NoError(t, err)

	table, err := catalog.Liveness(catalog.LivenessHooks{}, logger)
	require.NoError(t, err)
	machineCfg := config.DefaultMachineConfig(catalog.MachineLiveness)
	machineCfg.Observer = "noop"
	live, err := catalog.NewMachine(ctx, machineCfg, table)
	require.NoError(t, err)

	popup, err := h.join(route.Popup, 0)
	require.NoError(t, err)
	content, err := h.join(route.Content, 7, live)
	require.NoError(t, err)

	ping, err := message.New(catalog.NamePing, route.Popup).
		ClientID(popup.ID()).
		Attributes(catalog.Ping{Seq: 1}).
		Build()
	require.NoError(t, err)

	const sends = 4
	for range sends {
		require.NoError(t, popup.SendMessage(ctx, transport.ClientMessage{Path: "background/7#liveness", Message: ping}))
	}
	require.NoError(t, settle(ctx, func() bool { return content.Diagnostics().LoopCount(ping) == sends }))

	background := h.router.Client()
	assert.NotSame(t, background.Diagnostics(), popup.Diagnostics())
	assert.NotSame(t, popup.Diagnostics(), content.Diagnostics())
	assert.Equal(t, sends, popup.Diagnostics().LoopCount(ping))
	assert.Equal(t, sends, background.Diagnostics().LoopCount(ping))
	assert.Len(t, h.diagnostics(), 3)

	cancel()
	if err := h.wait(); err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}
}
