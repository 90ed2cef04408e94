// Package filelib manages uploaded files and the versions derived from them.
//
// A File is an upload under a named profile. Its bytes live in a Resource,
// which may be shared between files with identical content. Version
// providers, registered as plugins, derive additional artifacts (thumbnails,
// renditions) from the original and store them through a StorageAdapter.
// Versions can be produced eagerly right after upload, or lazily on the first
// render request.
//
// The root package holds the data model, the error values, the event
// dispatcher and the contracts implemented by the sub packages:
//
//   - plugin: plugin registry and shared plugin plumbing
//   - profile: profile manager resolving version providers per file
//   - versionprovider: version provider and artifact producers
//   - storage: multi backend storage facade and backend adapters
//   - cache: cache facade and cache adapters
//   - renderer: HTTP shaped delivery of versions
//   - library: composition root wiring all of the above
//
// Example:
//
//	lib, err := library.New(
//	    library.WithRepository(memory.New()),
//	    library.WithStorage(storage.NewMulti(fsAdapter)),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	lib.AddProfile(ctx, filelib.NewProfile("default"))
//	file, err := lib.Upload(ctx, "/tmp/cat.jpg", "default")
package filelib
