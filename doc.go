// Package hotrod is a client for remote caches speaking the HotRod binary
// protocol, with SASL authentication and pluggable marshallers.
//
// Components:
//   - ConfigurationBuilder: servers, protocol version, SASL, timeouts. Also
//     loadable from HOTROD_* environment variables or a YAML file.
//   - RemoteCacheManager: owns the connection pools (one per server) and the
//     lifecycle new -> started -> stopped.
//   - RemoteCache[K, V]: a handle on one named cache. Keys and values are
//     converted by marshal.Marshaller implementations; ByteCache keeps raw bytes.
//   - nearcache: optional client-side cache of values, kept coherent with local
//     writes through per-key generations (genstore) over a provider store.
//
// Usage:
//
//	cfg, err := hotrod.NewConfigurationBuilder().
//		AddServer("127.0.0.1", 11222).
//		Protocol("3.0").
//		Sasl(sasl.MechPlain, "", "bob", "secret").
//		Build()
//	m, err := hotrod.NewRemoteCacheManager(cfg)
//	err = m.Start(ctx)
//	defer m.Stop(ctx)
//
//	c := m.Cache("books")
//	_, _, err = c.Put(ctx, []byte("k"), []byte("v"))
//	v, ok, err := c.Get(ctx, []byte("k"))
//
// Absent keys are reported with ok=false and a nil error. Failures are typed:
// ConfigError, AuthError, TransportError, TimeoutError, ProtocolError,
// AdminError and NotConnectedError, each matching its Err* sentinel via
// errors.Is.
package hotrod
