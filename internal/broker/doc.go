// Package broker carries typed message envelopes between walletgate
// processes without the mediator knowing the transport.
//
// A [Broker] publishes an [Envelope] to a named topic and delivers it to
// every subscriber of that topic, in publish order per subscriber. Three
// backends are provided:
//
//   - [Memory]: in-process channels, for a mediator and console in one binary
//   - [File]: append-only JSONL files in a shared directory, for CLI
//     processes on the same host
//   - [Redis]: Redis pub/sub, for originators on other hosts
//
// Topic names are plain strings such as "requests" or "reply.<client>".
// The file and Redis backends prefix them with the configured channel
// prefix so several deployments can share a directory or server.
//
// # Basic Usage
//
//	b, err := broker.Open(ctx, broker.Settings{Backend: "file", Dir: dataDir})
//	if err != nil {
//	    return err
//	}
//	defer b.Close()
//
//	sub, err := b.Subscribe(ctx, "broadcast", func(env broker.Envelope) {
//	    fmt.Println(env.Type)
//	})
//	defer sub.Close()
//
//	env, _ := broker.NewEnvelope("queue.snapshot", snapshot)
//	err = b.Publish(ctx, "broadcast", env)
//
// # Thread Safety
//
// All backends are safe for concurrent use. Handlers for one subscription
// run sequentially on a goroutine owned by the subscription.
package broker
