package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"sort"

	uerr "github.com/standardbeagle/uci/internal/errors"
	"github.com/standardbeagle/uci/internal/types"
)

// Posting lists are sorted file-id sequences stored delta-varint encoded, one
// blob per trigram. Only files with stored content contribute.

// encodePostings serializes a sorted id list.
func encodePostings(ids []types.FileID) []byte {
	buf := make([]byte, 0, len(ids)*2)
	var tmp [binary.MaxVarintLen64]byte
	prev := int64(0)
	for _, id := range ids {
		n := binary.PutUvarint(tmp[:], uint64(int64(id)-prev))
		buf = append(buf, tmp[:n]...)
		prev = int64(id)
	}
	return buf
}

// decodePostings deserializes a posting blob back into a sorted id list.
func decodePostings(blob []byte) ([]types.FileID, error) {
	var ids []types.FileID
	prev := int64(0)
	for len(blob) > 0 {
		delta, n := binary.Uvarint(blob)
		if n <= 0 {
			return nil, uerr.Corrupt("malformed posting blob", nil)
		}
		prev += int64(delta)
		ids = append(ids, types.FileID(prev))
		blob = blob[n:]
	}
	return ids, nil
}

// insertSorted adds id to a sorted list, keeping it sorted and unique.
func insertSorted(ids []types.FileID, id types.FileID) []types.FileID {
	i := sort.Search(len(ids), func(i int) bool { return ids[i] >= id })
	if i < len(ids) && ids[i] == id {
		return ids
	}
	ids = append(ids, 0)
	copy(ids[i+1:], ids[i:])
	ids[i] = id
	return ids
}

// removeSorted drops id from a sorted list if present.
func removeSorted(ids []types.FileID, id types.FileID) []types.FileID {
	i := sort.Search(len(ids), func(i int) bool { return ids[i] >= id })
	if i < len(ids) && ids[i] == id {
		return append(ids[:i], ids[i+1:]...)
	}
	return ids
}

// addFileToPostings inserts fileID into the posting list of each trigram.
func addFileToPostings(tx *sql.Tx, trigrams []uint32, fileID types.FileID) error {
	get, err := tx.Prepare(`SELECT ids FROM trigram_postings WHERE trigram = ?`)
	if err != nil {
		return err
	}
	defer get.Close()
	put, err := tx.Prepare(`INSERT INTO trigram_postings (trigram, ids) VALUES (?, ?)
		ON CONFLICT(trigram) DO UPDATE SET ids = excluded.ids`)
	if err != nil {
		return err
	}
	defer put.Close()

	for _, tg := range trigrams {
		var blob []byte
		err := get.QueryRow(int64(tg)).Scan(&blob)
		if err != nil && err != sql.ErrNoRows {
			return err
		}
		var ids []types.FileID
		if len(blob) > 0 {
			if ids, err = decodePostings(blob); err != nil {
				return err
			}
		}
		ids = insertSorted(ids, fileID)
		if _, err := put.Exec(int64(tg), encodePostings(ids)); err != nil {
			return err
		}
	}
	return nil
}

// removeFileFromPostings removes fileID from each trigram's posting list,
// deleting emptied rows.
func removeFileFromPostings(tx *sql.Tx, trigrams []uint32, fileID types.FileID) error {
	get, err := tx.Prepare(`SELECT ids FROM trigram_postings WHERE trigram = ?`)
	if err != nil {
		return err
	}
	defer get.Close()
	put, err := tx.Prepare(`UPDATE trigram_postings SET ids = ? WHERE trigram = ?`)
	if err != nil {
		return err
	}
	defer put.Close()
	del, err := tx.Prepare(`DELETE FROM trigram_postings WHERE trigram = ?`)
	if err != nil {
		return err
	}
	defer del.Close()

	for _, tg := range trigrams {
		var blob []byte
		err := get.QueryRow(int64(tg)).Scan(&blob)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return err
		}
		ids, err := decodePostings(blob)
		if err != nil {
			return err
		}
		ids = removeSorted(ids, fileID)
		if len(ids) == 0 {
			if _, err := del.Exec(int64(tg)); err != nil {
				return err
			}
			continue
		}
		if _, err := put.Exec(encodePostings(ids), int64(tg)); err != nil {
			return err
		}
	}
	return nil
}

// CandidateFilter narrows trigram candidates by file metadata.
type CandidateFilter struct {
	Project  string
	Language types.Language
}

// GetTrigramCandidates intersects the posting lists of the required trigrams
// (shortest first, galloping merge) and applies the metadata filter. An empty
// trigram set yields no candidates; callers decide whether that means "scan
// everything".
func (s *Store) GetTrigramCandidates(ctx context.Context, trigrams []uint32, filter CandidateFilter) ([]types.FileID, error) {
	if len(trigrams) == 0 {
		return nil, nil
	}

	lists := make([][]types.FileID, 0, len(trigrams))
	stmt, err := s.db.PrepareContext(ctx, `SELECT ids FROM trigram_postings WHERE trigram = ?`)
	if err != nil {
		return nil, uerr.Unavailable("prepare posting lookup", err)
	}
	defer stmt.Close()

	for _, tg := range trigrams {
		var blob []byte
		err := stmt.QueryRowContext(ctx, int64(tg)).Scan(&blob)
		if err == sql.ErrNoRows {
			// A required trigram no file contains: the pattern cannot match.
			return nil, nil
		}
		if err != nil {
			return nil, uerr.Unavailable("read posting list", err)
		}
		ids, err := decodePostings(blob)
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			return nil, nil
		}
		lists = append(lists, ids)
	}

	// Always start from the shortest list; every later merge can only shrink.
	sort.Slice(lists, func(i, j int) bool { return len(lists[i]) < len(lists[j]) })
	acc := lists[0]
	for _, next := range lists[1:] {
		acc = gallopIntersect(acc, next)
		if len(acc) == 0 {
			return nil, nil
		}
	}

	return s.filterCandidates(ctx, acc, filter)
}

// gallopIntersect intersects two sorted lists, galloping through the longer
// one. a is expected to be the shorter list.
func gallopIntersect(a, b []types.FileID) []types.FileID {
	if len(a) > len(b) {
		a, b = b, a
	}
	out := a[:0:0]
	lo := 0
	for _, id := range a {
		// Exponential probe forward in b from lo.
		step := 1
		hi := lo
		for hi < len(b) && b[hi] < id {
			lo = hi
			hi += step
			step <<= 1
		}
		if hi > len(b) {
			hi = len(b)
		}
		i := lo + sort.Search(hi-lo, func(i int) bool { return b[lo+i] >= id })
		if i < len(b) && b[i] == id {
			out = append(out, id)
			lo = i + 1
		} else {
			lo = i
		}
		if lo >= len(b) {
			break
		}
	}
	return out
}

// filterCandidates keeps only ids whose file row satisfies the filter.
func (s *Store) filterCandidates(ctx context.Context, ids []types.FileID, filter CandidateFilter) ([]types.FileID, error) {
	if filter.Project == "" && filter.Language == "" {
		return ids, nil
	}
	out := make([]types.FileID, 0, len(ids))
	const chunk = 500
	for start := 0; start < len(ids); start += chunk {
		end := start + chunk
		if end > len(ids) {
			end = len(ids)
		}
		part := ids[start:end]

		query := `SELECT id FROM files WHERE id IN (` + placeholders(len(part)) + `)`
		args := make([]any, 0, len(part)+2)
		for _, id := range part {
			args = append(args, int64(id))
		}
		if filter.Project != "" {
			query += ` AND project = ?`
			args = append(args, filter.Project)
		}
		if filter.Language != "" {
			query += ` AND language = ?`
			args = append(args, string(filter.Language))
		}

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, uerr.Unavailable("filter candidates", err)
		}
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, uerr.Unavailable("scan candidate", err)
			}
			out = append(out, types.FileID(id))
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, uerr.Unavailable("iterate candidates", err)
		}
		rows.Close()
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func placeholders(n int) string {
	if n == 0 {
		return ""
	}
	buf := make([]byte, 0, n*2-1)
	for i := 0; i < n; i++ {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, '?')
	}
	return string(buf)
}
