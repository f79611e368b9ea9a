// Package bus is an in-process stand-in for a browser extension host.
//
// Popup and background endpoints share the runtime channel: a runtime send
// reaches every other runtime endpoint. Content endpoints are addressed by
// tab id. Each endpoint drains its inbox on its own goroutine, so packets
// reach one endpoint in the order they were sent.
//
//	b := bus.New(ctx, config.DefaultBusConfig())
//	background, _ := b.Connect(route.Background, 0)
//	tab, _ := b.Connect(route.Content, 42)
//	defer b.Shutdown(5 * time.Second)
package bus
