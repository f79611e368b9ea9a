// Package state implements the message-driven state machine each
// switchboard context runs.
//
// A Table maps state names to States. Incoming message names are looked up
// in the table: base-level states are reachable from anywhere, other states
// only from a state that lists them as a venture state. Anything else is
// substituted by the table's "error" state, whose effect returns to "base".
//
//	table, err := state.NewTable(
//	    state.Base(nil, "start"),
//	    state.Error(logger),
//	    state.State{Name: "start", Venture: []state.Name{"waving"}, Effect: state.Stay("waving")},
//	    state.State{Name: "waving", Venture: []state.Name{"stop"}},
//	    state.State{Name: "stop", BaseLevel: true},
//	)
//
//	m, _ := state.NewMachine(config.DefaultMachineConfig("wave"))
//	m.Initialize(ctx, table, state.BaseName)
//	current, _ := m.HandleState(ctx, msg)
//
// Every HandleState call publishes two Transitions to subscribers: the
// resolved state before its effect runs and the state the effect settled on.
package state
