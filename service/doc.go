// Package service runs a safety rules engine in one of several execution topologies.
//
// LocalClient calls the engine directly. ThreadService runs the engine on a
// dedicated OS thread and SpawnedProcess runs it in a child process. Both are
// serializer.Transports, so that consensus talks to them through a
// serializer.SerializerClient. Serve and StreamTransport carry the serializer
// protocol over any byte stream.
package service
