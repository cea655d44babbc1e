package prostlog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// ---- Pull application (server wins) ----
//
// Apply* methods upsert authoritative server rows, overwriting local copies
// unconditionally. Dirty local rows are protected by the push-before-pull
// ordering contract of the sync cycle, not by field-level merging.

func (s *Store) ApplyFestivals(festivals []Festival, at time.Time) error {
	return s.applyBatch(func(tx *sql.Tx) error {
		for _, f := range festivals {
			_, err := tx.Exec(`
				INSERT INTO festivals (id, name, location, start_date, end_date, map_url, _synced_at, _deleted, _dirty)
				VALUES (?, ?, ?, ?, ?, ?, ?, 0, 0)
				ON CONFLICT(id) DO UPDATE SET
					name = excluded.name, location = excluded.location,
					start_date = excluded.start_date, end_date = excluded.end_date,
					map_url = excluded.map_url,
					_synced_at = excluded._synced_at, _deleted = 0, _dirty = 0
			`, f.ID, f.Name, nullString(f.Location), timeText(f.StartDate), timeText(f.EndDate),
				nullString(f.MapURL), timeText(at))
			if err != nil {
				return fmt.Errorf("store: apply festival %s: %w", f.ID, err)
			}
		}
		return nil
	})
}

func (s *Store) ApplyTents(tents []Tent, at time.Time) error {
	return s.applyBatch(func(tx *sql.Tx) error {
		for _, t := range tents {
			_, err := tx.Exec(`
				INSERT INTO tents (id, name, category, _synced_at, _deleted, _dirty)
				VALUES (?, ?, ?, ?, 0, 0)
				ON CONFLICT(id) DO UPDATE SET
					name = excluded.name, category = excluded.category,
					_synced_at = excluded._synced_at, _deleted = 0, _dirty = 0
			`, t.ID, t.Name, nullString(t.Category), timeText(at))
			if err != nil {
				return fmt.Errorf("store: apply tent %s: %w", t.ID, err)
			}
		}
		return nil
	})
}

func (s *Store) ApplyTentPrices(prices []TentPrice, at time.Time) error {
	return s.applyBatch(func(tx *sql.Tx) error {
		for _, p := range prices {
			_, err := tx.Exec(`
				INSERT INTO festival_tent_prices (festival_id, tent_id, beer_price, _synced_at, _deleted, _dirty)
				VALUES (?, ?, ?, ?, 0, 0)
				ON CONFLICT(festival_id, tent_id) DO UPDATE SET
					beer_price = excluded.beer_price,
					_synced_at = excluded._synced_at, _deleted = 0, _dirty = 0
			`, p.FestivalID, p.TentID, p.BeerPrice, timeText(at))
			if err != nil {
				return fmt.Errorf("store: apply tent price %s/%s: %w", p.FestivalID, p.TentID, err)
			}
		}
		return nil
	})
}

func (s *Store) ApplyProfiles(profiles []Profile, at time.Time) error {
	return s.applyBatch(func(tx *sql.Tx) error {
		for _, p := range profiles {
			_, err := tx.Exec(`
				INSERT INTO profiles (id, username, full_name, avatar_url, _synced_at, _deleted, _dirty)
				VALUES (?, ?, ?, ?, ?, 0, 0)
				ON CONFLICT(id) DO UPDATE SET
					username = excluded.username, full_name = excluded.full_name,
					avatar_url = excluded.avatar_url,
					_synced_at = excluded._synced_at, _deleted = 0, _dirty = 0
			`, p.ID, p.Username, nullString(p.FullName), nullString(p.AvatarURL), timeText(at))
			if err != nil {
				return fmt.Errorf("store: apply profile %s: %w", p.ID, err)
			}
		}
		return nil
	})
}

func (s *Store) ApplyAttendances(attendances []Attendance, at time.Time) error {
	return s.applyBatch(func(tx *sql.Tx) error {
		for _, a := range attendances {
			_, err := tx.Exec(`
				INSERT INTO attendances (id, user_id, festival_id, date, tent_id, note, _synced_at, _deleted, _dirty)
				VALUES (?, ?, ?, ?, ?, ?, ?, 0, 0)
				ON CONFLICT(id) DO UPDATE SET
					user_id = excluded.user_id, festival_id = excluded.festival_id,
					date = excluded.date, tent_id = excluded.tent_id, note = excluded.note,
					_synced_at = excluded._synced_at, _deleted = 0, _dirty = 0
			`, a.ID, a.UserID, a.FestivalID, a.Date, nullString(a.TentID), nullString(a.Note), timeText(at))
			if err != nil {
				return fmt.Errorf("store: apply attendance %s: %w", a.ID, err)
			}
		}
		return nil
	})
}

func (s *Store) ApplyGroups(groups []Group, at time.Time) error {
	return s.applyBatch(func(tx *sql.Tx) error {
		for _, g := range groups {
			_, err := tx.Exec(`
				INSERT INTO groups (id, name, invite_code, created_by, _synced_at, _deleted, _dirty)
				VALUES (?, ?, ?, ?, ?, 0, 0)
				ON CONFLICT(id) DO UPDATE SET
					name = excluded.name, invite_code = excluded.invite_code,
					created_by = excluded.created_by,
					_synced_at = excluded._synced_at, _deleted = 0, _dirty = 0
			`, g.ID, g.Name, nullString(g.InviteCode), nullString(g.CreatedBy), timeText(at))
			if err != nil {
				return fmt.Errorf("store: apply group %s: %w", g.ID, err)
			}
		}
		return nil
	})
}

func (s *Store) ApplyGroupMembers(members []GroupMember, at time.Time) error {
	return s.applyBatch(func(tx *sql.Tx) error {
		for _, m := range members {
			_, err := tx.Exec(`
				INSERT INTO group_members (group_id, user_id, joined_at, _synced_at, _deleted, _dirty)
				VALUES (?, ?, ?, ?, 0, 0)
				ON CONFLICT(group_id, user_id) DO UPDATE SET
					joined_at = excluded.joined_at,
					_synced_at = excluded._synced_at, _deleted = 0, _dirty = 0
			`, m.GroupID, m.UserID, timeText(m.JoinedAt), timeText(at))
			if err != nil {
				return fmt.Errorf("store: apply group member %s/%s: %w", m.GroupID, m.UserID, err)
			}
		}
		return nil
	})
}

func (s *Store) ApplyAchievements(achievements []Achievement, at time.Time) error {
	return s.applyBatch(func(tx *sql.Tx) error {
		for _, a := range achievements {
			_, err := tx.Exec(`
				INSERT INTO achievements (id, name, description, category, threshold, _synced_at, _deleted, _dirty)
				VALUES (?, ?, ?, ?, ?, ?, 0, 0)
				ON CONFLICT(id) DO UPDATE SET
					name = excluded.name, description = excluded.description,
					category = excluded.category, threshold = excluded.threshold,
					_synced_at = excluded._synced_at, _deleted = 0, _dirty = 0
			`, a.ID, a.Name, nullString(a.Description), nullString(a.Category), a.Threshold, timeText(at))
			if err != nil {
				return fmt.Errorf("store: apply achievement %s: %w", a.ID, err)
			}
		}
		return nil
	})
}

func (s *Store) ApplyUserAchievements(unlocked []UserAchievement, at time.Time) error {
	return s.applyBatch(func(tx *sql.Tx) error {
		for _, u := range unlocked {
			_, err := tx.Exec(`
				INSERT INTO user_achievements (id, user_id, achievement_id, festival_id, unlocked_at, _synced_at, _deleted, _dirty)
				VALUES (?, ?, ?, ?, ?, ?, 0, 0)
				ON CONFLICT(id) DO UPDATE SET
					user_id = excluded.user_id, achievement_id = excluded.achievement_id,
					festival_id = excluded.festival_id, unlocked_at = excluded.unlocked_at,
					_synced_at = excluded._synced_at, _deleted = 0, _dirty = 0
			`, u.ID, u.UserID, u.AchievementID, nullString(u.FestivalID), timeText(u.UnlockedAt), timeText(at))
			if err != nil {
				return fmt.Errorf("store: apply user achievement %s: %w", u.ID, err)
			}
		}
		return nil
	})
}

func (s *Store) applyBatch(fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer tx.Rollback() // no-op if committed

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// ---- Local mutations ----
//
// Each mutation writes the entity row and its outbox entry in one local
// transaction, so a crash can never leave a dirty row without a queue item.

// SaveProfile upserts the local profile and queues an UPDATE.
func (s *Store) SaveProfile(p Profile) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("store: begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO profiles (id, username, full_name, avatar_url, _synced_at, _deleted, _dirty)
		VALUES (?, ?, ?, ?, NULL, 0, 1)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username, full_name = excluded.full_name,
			avatar_url = excluded.avatar_url, _dirty = 1
	`, p.ID, p.Username, nullString(p.FullName), nullString(p.AvatarURL))
	if err != nil {
		return nil, fmt.Errorf("store: save profile: %w", err)
	}

	if err := s.enqueueEntityTx(tx, OpUpdate, TableProfiles, p.ID, p, ""); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	p.Dirty = true
	return &p, nil
}

// CheckIn records attendance at a festival for one day and queues an INSERT.
func (s *Store) CheckIn(a Attendance) (*Attendance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	if a.ID == "" {
		a.ID = ulid.Make().String()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("store: begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO attendances (id, user_id, festival_id, date, tent_id, note, _synced_at, _deleted, _dirty)
		VALUES (?, ?, ?, ?, ?, ?, NULL, 0, 1)
	`, a.ID, a.UserID, a.FestivalID, a.Date, nullString(a.TentID), nullString(a.Note))
	if err != nil {
		return nil, fmt.Errorf("store: insert attendance: %w", err)
	}

	if err := s.enqueueEntityTx(tx, OpInsert, TableAttendances, a.ID, a, ""); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	a.Dirty = true
	return &a, nil
}

// UpdateAttendance edits an attendance locally and queues an UPDATE.
func (s *Store) UpdateAttendance(a Attendance) (*Attendance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("store: begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		UPDATE attendances SET tent_id = ?, note = ?, _dirty = 1
		WHERE id = ? AND _deleted = 0
	`, nullString(a.TentID), nullString(a.Note), a.ID)
	if err != nil {
		return nil, fmt.Errorf("store: update attendance: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}

	if err := s.enqueueEntityTx(tx, OpUpdate, TableAttendances, a.ID, a, ""); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	a.Dirty = true
	return &a, nil
}

// RemoveAttendance soft-deletes an attendance and queues a DELETE. The row
// is retained until the deletion is confirmed and purged.
func (s *Store) RemoveAttendance(id string) error {
	return s.softDelete(TableAttendances, id)
}

// LogConsumption records one drink against an attendance and queues an
// INSERT. The deterministic idempotency key makes re-logging after a crash
// a no-op: an existing row with the same key is returned unchanged.
// If the parent attendance has a pending queue item, the consumption's
// operation depends on it.
func (s *Store) LogConsumption(c Consumption) (*Consumption, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	if !c.DrinkType.IsValid() {
		return nil, ErrInvalidDrinkType
	}

	if c.RecordedAt.IsZero() {
		c.RecordedAt = time.Now().UTC()
	}
	if c.VolumeML == 0 {
		c.VolumeML = DefaultVolumeML
	}
	if c.IdempotencyKey == "" {
		c.IdempotencyKey = ConsumptionIdempotencyKey(c.UserID, c.FestivalID, c.Date, c.DrinkType, c.RecordedAt)
	}

	// Duplicate submission: return the existing row untouched.
	existing, err := s.consumptionByKeyLocked(c.IdempotencyKey)
	if err == nil {
		return existing, nil
	}
	if err != ErrNotFound {
		return nil, err
	}

	if c.ID == "" {
		c.ID = ulid.Make().String()
	}

	dependsOn, err := s.latestPendingOpLocked(TableAttendances, c.AttendanceID)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("store: begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO consumptions (id, attendance_id, user_id, festival_id, date, tent_id,
			drink_type, volume_ml, idempotency_key, recorded_at, _synced_at, _deleted, _dirty)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, 0, 1)
	`, c.ID, c.AttendanceID, c.UserID, c.FestivalID, c.Date, nullString(c.TentID),
		string(c.DrinkType), c.VolumeML, c.IdempotencyKey, timeText(c.RecordedAt))
	if err != nil {
		return nil, fmt.Errorf("store: insert consumption: %w", err)
	}

	item := QueueItem{
		Operation:      OpInsert,
		TableName:      TableConsumptions,
		RecordID:       c.ID,
		IdempotencyKey: c.IdempotencyKey,
		DependsOn:      dependsOn,
	}
	payload, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("store: marshal consumption: %w", err)
	}
	item.Payload = payload
	if err := s.enqueueTx(tx, &item); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	c.Dirty = true
	return &c, nil
}

// RemoveConsumption soft-deletes a consumption and queues a DELETE.
func (s *Store) RemoveConsumption(id string) error {
	return s.softDelete(TableConsumptions, id)
}

// JoinGroup records a group membership locally and queues an INSERT.
func (s *Store) JoinGroup(m GroupMember) (*GroupMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	if m.JoinedAt.IsZero() {
		m.JoinedAt = time.Now().UTC()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("store: begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO group_members (group_id, user_id, joined_at, _synced_at, _deleted, _dirty)
		VALUES (?, ?, ?, NULL, 0, 1)
		ON CONFLICT(group_id, user_id) DO UPDATE SET _deleted = 0, _dirty = 1
	`, m.GroupID, m.UserID, timeText(m.JoinedAt))
	if err != nil {
		return nil, fmt.Errorf("store: join group: %w", err)
	}

	recordID := m.GroupID + "/" + m.UserID
	if err := s.enqueueEntityTx(tx, OpInsert, TableGroupMembers, recordID, m, ""); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	m.Dirty = true
	return &m, nil
}

// LeaveGroup soft-deletes a group membership and queues a DELETE.
func (s *Store) LeaveGroup(groupID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		UPDATE group_members SET _deleted = 1, _dirty = 1
		WHERE group_id = ? AND user_id = ? AND _deleted = 0
	`, groupID, userID)
	if err != nil {
		return fmt.Errorf("store: leave group: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	recordID := groupID + "/" + userID
	if err := s.enqueueEntityTx(tx, OpDelete, TableGroupMembers, recordID, nil, ""); err != nil {
		return err
	}
	return tx.Commit()
}

// softDelete marks a row deleted-and-dirty and queues the DELETE in the
// same transaction. The row is never hard-deleted while dirty.
func (s *Store) softDelete(table, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		fmt.Sprintf("UPDATE %s SET _deleted = 1, _dirty = 1 WHERE id = ? AND _deleted = 0", table),
		id,
	)
	if err != nil {
		return fmt.Errorf("store: soft delete %s/%s: %w", table, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	if err := s.enqueueEntityTx(tx, OpDelete, table, id, nil, ""); err != nil {
		return err
	}
	return tx.Commit()
}

// enqueueEntityTx marshals the entity payload and enqueues an operation
// inside the caller's transaction.
func (s *Store) enqueueEntityTx(tx *sql.Tx, op Operation, table, recordID string, entity any, idemKey string) error {
	payload := []byte("{}")
	if entity != nil {
		var err error
		payload, err = json.Marshal(entity)
		if err != nil {
			return fmt.Errorf("store: marshal %s payload: %w", table, err)
		}
	}
	item := QueueItem{
		Operation:      op,
		TableName:      table,
		RecordID:       recordID,
		Payload:        payload,
		IdempotencyKey: idemKey,
	}
	return s.enqueueTx(tx, &item)
}

// ---- Photo rows ----

// StagePicture inserts a pending beer picture row and its UPLOAD_FILE
// operation in one transaction. The row references the staged local copy.
func (s *Store) StagePicture(p BeerPicture) (*BeerPicture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	if p.ID == "" {
		p.ID = ulid.Make().String()
	}
	if p.TakenAt.IsZero() {
		p.TakenAt = time.Now().UTC()
	}

	dependsOn, err := s.latestPendingOpLocked(TableAttendances, p.AttendanceID)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("store: begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO beer_pictures (id, attendance_id, user_id, picture_url, taken_at,
			_synced_at, _deleted, _dirty, _pending_upload, _local_uri)
		VALUES (?, ?, ?, NULL, ?, NULL, 0, 1, 1, ?)
	`, p.ID, p.AttendanceID, p.UserID, timeText(p.TakenAt), p.LocalURI)
	if err != nil {
		return nil, fmt.Errorf("store: stage picture: %w", err)
	}

	item := QueueItem{
		Operation: OpUploadFile,
		TableName: TableBeerPictures,
		RecordID:  p.ID,
		DependsOn: dependsOn,
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("store: marshal picture: %w", err)
	}
	item.Payload = payload
	if err := s.enqueueTx(tx, &item); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	p.PendingUpload = true
	p.Dirty = true
	return &p, nil
}

// FinishPictureUpload reconciles the metadata row after a confirmed upload:
// the public URL is set, the staging fields are cleared, and the row is
// marked clean in one statement.
func (s *Store) FinishPictureUpload(id, pictureURL string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	res, err := s.db.Exec(`
		UPDATE beer_pictures
		SET picture_url = ?, _pending_upload = 0, _local_uri = NULL, _dirty = 0, _synced_at = ?
		WHERE id = ?
	`, pictureURL, timeText(at), id)
	if err != nil {
		return fmt.Errorf("store: finish picture upload: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Picture returns a beer picture row by id.
func (s *Store) Picture(id string) (*BeerPicture, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	return s.pictureLocked(id)
}

func (s *Store) pictureLocked(id string) (*BeerPicture, error) {
	row := s.db.QueryRow(`
		SELECT id, attendance_id, user_id, picture_url, taken_at,
		       _synced_at, _deleted, _dirty, _pending_upload, _local_uri
		FROM beer_pictures WHERE id = ?
	`, id)
	return scanPicture(row)
}

// PendingPictures returns all rows awaiting upload.
func (s *Store) PendingPictures() ([]BeerPicture, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query(`
		SELECT id, attendance_id, user_id, picture_url, taken_at,
		       _synced_at, _deleted, _dirty, _pending_upload, _local_uri
		FROM beer_pictures WHERE _pending_upload = 1
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BeerPicture
	for rows.Next() {
		p, err := scanPicture(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// PictureCount returns the total number of picture rows.
func (s *Store) PictureCount() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrStoreClosed
	}
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM beer_pictures WHERE _deleted = 0").Scan(&n)
	return n, err
}

// LocalURIKnown reports whether any picture row references the given
// staged file path. Used by orphan cleanup.
func (s *Store) LocalURIKnown(uri string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false, ErrStoreClosed
	}
	var n int
	if err := s.db.QueryRow(
		"SELECT COUNT(*) FROM beer_pictures WHERE _local_uri = ?", uri,
	).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// ---- Read paths used by the sync engine and tests ----

// GetAttendance returns an attendance row by id.
func (s *Store) GetAttendance(id string) (*Attendance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	row := s.db.QueryRow(`
		SELECT id, user_id, festival_id, date, tent_id, note, _synced_at, _deleted, _dirty
		FROM attendances WHERE id = ?
	`, id)

	var (
		a        Attendance
		tentID   sql.NullString
		note     sql.NullString
		syncedAt sql.NullString
	)
	err := row.Scan(&a.ID, &a.UserID, &a.FestivalID, &a.Date, &tentID, &note,
		&syncedAt, &a.Deleted, &a.Dirty)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.TentID = tentID.String
	a.Note = note.String
	a.SyncedAt = parseNullTime(syncedAt)
	return &a, nil
}

// GetConsumption returns a consumption row by id.
func (s *Store) GetConsumption(id string) (*Consumption, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	return s.consumptionWhereLocked("id = ?", id)
}

// ConsumptionByKey returns a consumption row by idempotency key.
func (s *Store) ConsumptionByKey(key string) (*Consumption, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	return s.consumptionByKeyLocked(key)
}

func (s *Store) consumptionByKeyLocked(key string) (*Consumption, error) {
	return s.consumptionWhereLocked("idempotency_key = ?", key)
}

func (s *Store) consumptionWhereLocked(where string, arg any) (*Consumption, error) {
	row := s.db.QueryRow(fmt.Sprintf(`
		SELECT id, attendance_id, user_id, festival_id, date, tent_id,
		       drink_type, volume_ml, idempotency_key, recorded_at,
		       _synced_at, _deleted, _dirty
		FROM consumptions WHERE %s
	`, where), arg)

	var (
		c          Consumption
		tentID     sql.NullString
		drinkType  string
		recordedAt string
		syncedAt   sql.NullString
	)
	err := row.Scan(&c.ID, &c.AttendanceID, &c.UserID, &c.FestivalID, &c.Date, &tentID,
		&drinkType, &c.VolumeML, &c.IdempotencyKey, &recordedAt,
		&syncedAt, &c.Deleted, &c.Dirty)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.TentID = tentID.String
	c.DrinkType = DrinkType(drinkType)
	c.RecordedAt = parseTimeText(recordedAt)
	c.SyncedAt = parseNullTime(syncedAt)
	return &c, nil
}

// GetFestival returns a festival row by id.
func (s *Store) GetFestival(id string) (*Festival, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	row := s.db.QueryRow(`
		SELECT id, name, location, start_date, end_date, map_url, _synced_at, _deleted, _dirty
		FROM festivals WHERE id = ?
	`, id)

	var (
		f         Festival
		location  sql.NullString
		startDate string
		endDate   string
		mapURL    sql.NullString
		syncedAt  sql.NullString
	)
	err := row.Scan(&f.ID, &f.Name, &location, &startDate, &endDate, &mapURL,
		&syncedAt, &f.Deleted, &f.Dirty)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	f.Location = location.String
	f.StartDate = parseTimeText(startDate)
	f.EndDate = parseTimeText(endDate)
	f.MapURL = mapURL.String
	f.SyncedAt = parseNullTime(syncedAt)
	return &f, nil
}

// scanner abstracts the Scan method shared by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanPicture(sc scanner) (*BeerPicture, error) {
	var (
		p          BeerPicture
		pictureURL sql.NullString
		takenAt    string
		syncedAt   sql.NullString
		localURI   sql.NullString
	)
	err := sc.Scan(&p.ID, &p.AttendanceID, &p.UserID, &pictureURL, &takenAt,
		&syncedAt, &p.Deleted, &p.Dirty, &p.PendingUpload, &localURI)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.PictureURL = pictureURL.String
	p.TakenAt = parseTimeText(takenAt)
	p.SyncedAt = parseNullTime(syncedAt)
	p.LocalURI = localURI.String
	return &p, nil
}
