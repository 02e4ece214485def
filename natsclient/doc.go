// Package natsclient connects stage graphs to NATS.
//
// # Client
//
// Client wraps a core NATS connection with a circuit breaker: after a number
// of consecutive failures (5 by default) Connect fails fast with
// ErrCircuitOpen, and the backoff before the next attempt doubles up to a
// maximum. Health monitoring pings the server periodically and reports
// changes through a callback. Close drains the connection, bounded by the
// drain timeout or the context deadline, and clears credentials. WithTLS
// requires TLS and takes optional client certificate and CA PEM files.
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//		natsclient.WithLogger(logger),
//		natsclient.WithMetrics(registry),
//	)
//	if err != nil {
//		return err
//	}
//	if err := client.Connect(ctx); err != nil {
//		return err
//	}
//	defer client.Close(context.Background())
//
// # Subject Adapters
//
// SubjectPublisher turns a subject into a reactive.Publisher[[]byte]. Messages
// are buffered (WithMaxPending) until the subscriber asks for them; the
// overflow policy decides between failing with ErrSlowConsumer and dropping.
//
// SubjectSubscriber is a reactive.Subscriber[[]byte] that publishes each
// element to a subject, requesting in batches between two watermarks. Its
// Result future resolves with the number of published messages.
//
// The two adapters agree on an end-of-stream marker: a message with the
// HeaderEndOfStream header. The subscriber sends it when its upstream
// terminates, with HeaderError set on failure, and the publisher completes (or
// fails with ErrRemoteStream) after delivering what it buffered before the
// marker. Chaining them links graphs running in different processes:
//
//	pub, _ := natsclient.NewSubjectPublisher(ctx, client, "numbers.in")
//	pub.Subscribe(stage.Source(first.In()))
//
//	sub, _ := natsclient.NewSubjectSubscriber(ctx, client, "numbers.out")
//	stage.Sink(last.Out()).Subscribe(sub)
//
// Both adapters work against the Transport interface; testutil.MockNATSClient
// implements it in memory for unit tests.
//
// # Testing
//
// NewTestClient starts a NATS server with testcontainers and returns a
// connected client cleaned up with the test. Tests using it carry the
// integration build tag:
//
//	go test -tags integration ./natsclient/...
package natsclient
