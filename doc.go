// Package sparkcloud is a cloud server for a fleet of connected devices.
//
// Devices publish named events. Owners register webhooks that turn matching
// events into outbound HTTP calls, and the answers come back onto the event
// bus as hook-response events that devices can subscribe to.
//
// The Server wires the pieces together:
//   - a store for webhooks and device records (memory or Redis)
//   - an event bus (in-process or Redis pub/sub)
//   - the webhook dispatcher with its throttle and error breaker
//   - the device manager and the firmware repository
//   - the HTTP API
//
// Quick start:
//
//	srv, err := sparkcloud.New(
//	    sparkcloud.WithStore(memory.New()),
//	    sparkcloud.WithUserResolver(api.StaticTokens{"secret": "user-1"}),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := srv.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer srv.Stop(ctx)
//
//	http.ListenAndServe(":8080", srv.Handler())
package sparkcloud
