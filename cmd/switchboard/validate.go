package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/tailored-agentic-units/switchboard/catalog"
	"github.com/tailored-agentic-units/switchboard/message"
	"github.com/tailored-agentic-units/switchboard/state"
)

type tableReport struct {
	Machine string      `json:"machine"`
	States  []stateInfo `json:"states"`
}

type stateInfo struct {
	Name      string   `json:"name"`
	BaseLevel bool     `json:"base_level,omitempty"`
	Venture   []string `json:"venture,omitempty"`
}

type validation struct {
	Observer string        `json:"observer"`
	Tables   []tableReport `json:"tables"`
	Messages []string      `json:"messages"`
}

func newValidateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load the config and check every catalog state table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}

			tables, err := catalog.Tables(catalog.Hooks{}, opts.log())
			if err != nil {
				return err
			}

			v := validation{
				Observer: cfg.Observer,
				Messages: message.Names(),
			}
			for _, name := range sortedKeys(tables) {
				v.Tables = append(v.Tables, describe(name, tables[name]))
			}
			return writeValidation(cmd.OutOrStdout(), opts.Format, v)
		},
	}
}

func describe(machine string, table *state.Table) tableReport {
	report := tableReport{Machine: machine}
	for _, name := range table.Names() {
		st, _ := table.Get(name)
		info := stateInfo{Name: string(name), BaseLevel: st.BaseLevel}
		for _, next := range st.Venture {
			info.Venture = append(info.Venture, string(next))
		}
		report.States = append(report.States, info)
	}
	return report
}

func sortedKeys(tables map[string]*state.Table) []string {
	keys := make([]string, 0, len(tables))
	for k := range tables {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func writeValidation(w io.Writer, format string, v validation) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	for _, t := range v.Tables {
		fmt.Fprintf(w, "%s: ok (%d states)\n", t.Machine, len(t.States))
		for _, s := range t.States {
			marker := " "
			if s.BaseLevel {
				marker = "*"
			}
			fmt.Fprintf(w, "  %s %-22s -> %v\n", marker, s.Name, s.Venture)
		}
	}
	fmt.Fprintf(w, "%d registered messages\n", len(v.Messages))
	return nil
}
