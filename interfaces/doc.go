// Package interfaces defines the shared contracts between the storage layer,
// the processing queue, and their collaborators.
//
// # Storage
//
// StorageProvider is the uniform contract for uploading, downloading and
// managing stored artifacts across interchangeable backends (local disk,
// object store, blob store, SFTP). StorageConfig is the tagged union a
// factory consumes to construct the right provider; StorageLocation is the
// opaque backend-tag-plus-logical-path value a document record carries.
//
// Every provider failure is a *StorageError classifying the fault with an
// ErrorCode so callers can branch on kind (retry transient classes, surface
// the rest) without knowing the transport:
//
//	data, err := provider.Download(ctx, doc.Location.Path)
//	if interfaces.IsNotFound(err) {
//	    // artifact gone
//	}
//
// # Queue
//
// QueueStore is the durable work queue keyed by document identity. Workers
// claim entries under mutual exclusion, run an externally supplied processing
// step, and report success or failure; the store keeps entry status and the
// document lifecycle status consistent.
package interfaces
