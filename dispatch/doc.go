// Package dispatch turns device events into outbound webhook calls.
//
// A dispatch compiles a webhook definition against an event into a Request,
// announces it on the bus as "hook-sent/<event>", performs the HTTP call in
// a detached goroutine and republishes the outcome as chunked
// "hook-response/<event>/<n>" or "hook-error/<event>/<n>" events. Callers
// never block on the network and never see an error: every failure surfaces
// as a published event or a log line.
package dispatch
