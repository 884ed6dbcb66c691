// Package store holds Lightlink's whole engine state behind a single guarded access layer.
//
// Every mutation runs to completion under one mutex. The snapshot is encoded
// under that lock and persisted after it is released through a Snapshotter
// (JSON file, Postgres or Redis). A sequence number makes sure an older
// snapshot never overwrites a newer one.
package store
