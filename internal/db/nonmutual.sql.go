package db

import (
	"context"

	"github.com/google/uuid"
)

const insertNonMutualRecordSQL = `
INSERT INTO non_mutual_records
    (id, job_id, target_user_id, target_handle, target_full_name, target_avatar_url,
     user_follows_target, target_follows_user, is_mutual)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`

// InsertNonMutualRecord persists one analyzed connection row for a job.
func (q *Queries) InsertNonMutualRecord(ctx context.Context, r NonMutualRecord) error {
	_, err := q.db.Exec(ctx, insertNonMutualRecordSQL,
		uuid.New(), r.JobID, r.TargetUserID, r.TargetHandle, r.TargetFullName, r.TargetAvatarURL,
		r.UserFollowsTarget, r.TargetFollowsUser, r.IsMutual)
	return err
}

const listNonMutualByJobSQL = `
SELECT id, job_id, target_user_id, target_handle, target_full_name, target_avatar_url,
       user_follows_target, target_follows_user, is_mutual
FROM non_mutual_records
WHERE job_id = $1 AND is_mutual = false
ORDER BY target_handle ASC
`

// ListNonMutualByJob returns the non-mutual connections found for a job.
func (q *Queries) ListNonMutualByJob(ctx context.Context, jobID uuid.UUID) ([]NonMutualRecord, error) {
	rows, err := q.db.Query(ctx, listNonMutualByJobSQL, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []NonMutualRecord
	for rows.Next() {
		var r NonMutualRecord
		if err := rows.Scan(&r.ID, &r.JobID, &r.TargetUserID, &r.TargetHandle, &r.TargetFullName,
			&r.TargetAvatarURL, &r.UserFollowsTarget, &r.TargetFollowsUser, &r.IsMutual); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
