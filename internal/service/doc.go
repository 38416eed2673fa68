// Package service runs the two protocols a beacon node speaks over its
// transport.
//
// DiscoveryService broadcasts presence announcements on an interval, decodes
// peers' announcements into the device registry, and evicts devices that go
// quiet for longer than the device timeout. While the node is owned it stops
// broadcasting but still sweeps and answers direct discovery requests by
// unicast.
//
// CredentialExchange requests, presents, verifies and caches ownership
// credentials between peers. Verified credentials are applied to the registry
// so a discovered device's owner and trust score reflect the signed claim.
//
// Both services publish to an EventBus. Listeners run synchronously on the
// publishing goroutine; Subscribe gives a buffered channel for slow consumers
// such as the SSE hub.
package service
