package directory

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"tagbot/internal/storage"
)

// MemberRecord is a (group, member) identity with its last-seen time.
type MemberRecord = storage.Member

var ErrInvalidRecord = errors.New("directory: invalid member record")

// NewMemberRecord normalizes and validates a directory row. The handle is
// stored without a leading '@'; an empty handle means "no username".
func NewMemberRecord(groupID, userID int64, handle, first, last string, seen time.Time) (MemberRecord, error) {
	if groupID == 0 {
		return MemberRecord{}, fmt.Errorf("%w: group id is zero", ErrInvalidRecord)
	}
	if userID <= 0 {
		return MemberRecord{}, fmt.Errorf("%w: user id %d", ErrInvalidRecord, userID)
	}
	if seen.IsZero() {
		return MemberRecord{}, fmt.Errorf("%w: last seen is zero", ErrInvalidRecord)
	}
	return MemberRecord{
		GroupID:   groupID,
		UserID:    userID,
		Username:  NormalizeHandle(handle),
		FirstName: strings.TrimSpace(first),
		LastName:  strings.TrimSpace(last),
		LastSeen:  seen,
	}, nil
}

func NormalizeHandle(h string) string {
	return strings.TrimPrefix(strings.TrimSpace(h), "@")
}
