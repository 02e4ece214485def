// Package testutil provides test doubles for stagegraph tests.
//
// # Reactive Probes
//
// ManualPublisher is a publisher the test drives by hand. It records every
// Request and Cancel its subscriber makes and emits whatever the test asks
// for, including signals that break the protocol (elements beyond demand,
// a second terminal):
//
//	g := stage.NewGraph()
//	sum := stage.Collect(g, "sum", stage.Reducing(0, add))
//	pub := testutil.NewManualPublisher[int]()
//	pub.Subscribe(stage.Source(sum.In()))
//	require.NoError(t, g.Start())
//	assert.Equal(t, []int64{8}, pub.Requests())
//	pub.Next(1, 2)
//	pub.Complete()
//
// RecordingSubscriber captures elements and terminal signals and exposes its
// subscription so the test controls demand:
//
//	rec := testutil.NewRecordingSubscriber[int](0)
//	stage.Sink(m.Out()).Subscribe(rec)
//	rec.Request(2)
//	<-rec.Done()
//	assert.Equal(t, []int{1, 2}, rec.Items())
//
// # NATS
//
// MockNATSClient is an in-memory transport with the Publish, PublishMsg,
// Subscribe and SubscribeMsg methods of natsclient.Client, so the subject
// adapters run against it without a server. Handlers run synchronously inside
// the publishing call. Headers are kept, which lets tests assert on
// end-of-stream markers. Integration tests that need real NATS use
// natsclient.NewTestClient (testcontainers) behind the integration build tag.
//
// All types are safe for concurrent use from multiple goroutines.
package testutil
