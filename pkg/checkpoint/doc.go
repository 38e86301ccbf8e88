// Package checkpoint provides durable resume state for crawl jobs.
//
// A Store is one SQLite file with three tables: checkpoints (the resume
// position of each job), entities (fetched users and friend lists, or a
// sentinel recording a permanent failure) and runs (one row per job
// invocation). Entities and checkpoints live in separate tables so an entity
// id can never shadow a checkpoint.
//
// All writes go through a Session. Only one session may be open per store
// file at a time; this is enforced with an exclusive flock on "<file>.lock"
// and holds across processes. Session writes are buffered and Commit flushes
// them in a single transaction, so data and the checkpoint covering it
// become durable together.
//
//	sess, err := store.Acquire(ctx, 500*time.Millisecond)
//	if err != nil {
//	    return err
//	}
//	defer sess.Release()
//
//	_ = sess.SetEntity(userEntity)
//	_ = sess.SetCheckpoint(ctx, checkpoint.Checkpoint{Job: "users", Line: 200})
//	return sess.Commit(ctx)
//
// ProgressFile is the plain-text resume state of the tweet search, saved
// with an atomic rename.
package checkpoint
