// Package async runs background tasks of the REST service, such as the user
// directory watcher and the upstream frame listener, so that a panic or an
// error in one is logged instead of taking the process down.
//
//	done := async.SafeGo(ctx, logger, 0, "directory watch", directory.Watch)
//	<-done
package async
