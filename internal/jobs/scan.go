package jobs

import (
	"context"
	"fmt"
	"iter"

	"twcrawl/pkg/checkpoint"
	"twcrawl/pkg/models"
)

// userScan walks the stored users in id order, resuming after a given id.
// The prior and activity jobs use it in place of an input log: their
// checkpoint line counts users scanned and the cursor is the last id handled.
type userScan struct {
	store *checkpoint.Store
	after string
	next  func() (checkpoint.Entity, error, bool)
	stop  func()
}

func newUserScan(ctx context.Context, store *checkpoint.Store, after string) *userScan {
	next, stop := iter.Pull2(store.Iterate(ctx, models.KindUser))
	return &userScan{store: store, after: after, next: next, stop: stop}
}

// user returns the next stored user accepted by keep. skipped counts the
// users passed over so the caller can keep its line in step. The bool is
// false once every user was seen.
func (s *userScan) user(keep func(*models.User) bool) (u *models.User, skipped int64, ok bool, err error) {
	for {
		e, err, more := s.next()
		if !more {
			return nil, skipped, false, nil
		}
		if err != nil {
			return nil, skipped, false, storeFailure(s.store, "iterate", err)
		}
		if e.ID <= s.after {
			continue
		}
		s.after = e.ID
		if e.IsSentinel() {
			skipped++
			continue
		}

		u = &models.User{}
		if err := e.Decode(u); err != nil {
			return nil, skipped, false, storeFailure(s.store, "decode", err)
		}
		if !keep(u) {
			skipped++
			continue
		}
		return u, skipped, true, nil
	}
}

func (s *userScan) close() {
	if s != nil {
		s.stop()
	}
}

// updateUser applies fn to the latest stored copy of user id inside sess, so
// fields written by another job in the meantime are kept.
func updateUser(ctx context.Context, sess *checkpoint.Session, id string, fn func(*models.User)) error {
	e, ok, err := sess.Entity(ctx, models.KindUser, id)
	if err != nil {
		return err
	}
	if !ok || e.IsSentinel() {
		return fmt.Errorf("user %s is no longer stored", id)
	}

	u := &models.User{}
	if err := e.Decode(u); err != nil {
		return err
	}
	fn(u)

	updated, err := checkpoint.NewEntity(models.KindUser, id, u)
	if err != nil {
		return err
	}
	return sess.SetEntity(updated)
}
