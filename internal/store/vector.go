package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"sort"

	"cxxtract/internal/logging"
	"cxxtract/internal/types"
)

// Vector side-store for commit-diff summaries. The semantic-search service
// that consumes these lives outside this system; the storage primitives —
// gate, codec, upsert, KNN — are owned here because they share the SQLite
// file with the fact cache.

// CommitDiffSummary is one summarized commit diff with its embedding.
type CommitDiffSummary struct {
	ID             string
	WorkspaceID    string
	RepoID         string
	CommitSHA      string
	EmbeddingModel string
	Summary        string
	EmbeddingDim   int
	Metadata       string
	Embedding      []float32 // populated only when requested
}

// SummaryMatch is one KNN hit: the summary plus its similarity score.
type SummaryMatch struct {
	CommitDiffSummary
	Score float64
}

// SummaryID derives the deterministic row id for a summary.
func SummaryID(workspaceID, repoID, commitSHA, model string) string {
	sum := sha256.Sum256([]byte(workspaceID + "|" + repoID + "|" + commitSHA + "|" + model))
	return hex.EncodeToString(sum[:])
}

// EncodeEmbedding packs a float32 vector into the little-endian blob vec0
// expects.
func EncodeEmbedding(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeEmbedding is the inverse of EncodeEmbedding.
func DecodeEmbedding(blob []byte) []float32 {
	v := make([]float32, len(blob)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return v
}

// requireVector gates every vector operation: disabled features and a
// missing extension are distinct error kinds.
func (s *Store) requireVector() error {
	if !s.vectorReady {
		return types.Validationf(types.KindVectorUnavailable, "vec0 extension is not available in this build")
	}
	if !tableExists(s.db, "commit_diff_summary_vec") {
		return types.Validationf(types.KindVectorDisabled, "vector features are disabled")
	}
	return nil
}

// UpsertCommitDiffSummary stores a summary row and its embedding in one
// transaction. The embedding length must equal the configured dimension.
func (s *Store) UpsertCommitDiffSummary(ctx context.Context, cds CommitDiffSummary, embedding []float32) error {
	if err := s.requireVector(); err != nil {
		return err
	}
	if len(embedding) != s.embeddingDim {
		return types.Validationf(types.KindInvalidArgument,
			"embedding has %d dims, store is configured for %d", len(embedding), s.embeddingDim)
	}
	if cds.ID == "" {
		cds.ID = SummaryID(cds.WorkspaceID, cds.RepoID, cds.CommitSHA, cds.EmbeddingModel)
	}
	if cds.Metadata == "" {
		cds.Metadata = "{}"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin summary upsert: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO commit_diff_summaries
			(id, workspace_id, repo_id, commit_sha, embedding_model, summary, embedding_dim, metadata, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			summary = excluded.summary,
			embedding_dim = excluded.embedding_dim,
			metadata = excluded.metadata,
			updated_at = CURRENT_TIMESTAMP`,
		cds.ID, cds.WorkspaceID, cds.RepoID, cds.CommitSHA, cds.EmbeddingModel,
		cds.Summary, len(embedding), cds.Metadata)
	if err != nil {
		return fmt.Errorf("failed to upsert summary: %w", err)
	}

	var rowid int64
	if err := tx.QueryRowContext(ctx,
		"SELECT rowid FROM commit_diff_summaries WHERE id = ?", cds.ID).Scan(&rowid); err != nil {
		return err
	}
	// vec0 has no upsert; delete then insert at the metadata rowid.
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM commit_diff_summary_vec WHERE rowid = ?", rowid); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO commit_diff_summary_vec (rowid, embedding) VALUES (?, ?)",
		rowid, EncodeEmbedding(embedding)); err != nil {
		return fmt.Errorf("failed to insert embedding: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	logging.Get(logging.CategoryVector).Debug("upserted summary %s (%s/%s @ %s)",
		cds.ID, cds.WorkspaceID, cds.RepoID, cds.CommitSHA)
	return nil
}

// GetCommitDiffSummary loads one summary, optionally with its embedding.
func (s *Store) GetCommitDiffSummary(ctx context.Context, workspaceID, repoID, commitSHA, model string, includeEmbedding bool) (*CommitDiffSummary, error) {
	if err := s.requireVector(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id := SummaryID(workspaceID, repoID, commitSHA, model)
	var cds CommitDiffSummary
	var rowid int64
	err := s.db.QueryRowContext(ctx, `
		SELECT rowid, id, workspace_id, repo_id, commit_sha, embedding_model, summary, embedding_dim, metadata
		FROM commit_diff_summaries WHERE id = ?`, id).Scan(
		&rowid, &cds.ID, &cds.WorkspaceID, &cds.RepoID, &cds.CommitSHA,
		&cds.EmbeddingModel, &cds.Summary, &cds.EmbeddingDim, &cds.Metadata)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load summary: %w", err)
	}

	if includeEmbedding {
		var blob []byte
		err := s.db.QueryRowContext(ctx,
			"SELECT embedding FROM commit_diff_summary_vec WHERE rowid = ?", rowid).Scan(&blob)
		if err != nil && err != sql.ErrNoRows {
			return nil, err
		}
		cds.Embedding = DecodeEmbedding(blob)
	}
	return &cds, nil
}

// SearchCommitDiffSummaries runs a KNN query over the embedding table and
// joins the metadata by rowid. Score is 1/(1+distance); matches below
// minScore are dropped, results sort by score descending.
func (s *Store) SearchCommitDiffSummaries(ctx context.Context, queryEmbedding []float32, topK int, workspaceID, repoID string, minScore float64) ([]SummaryMatch, error) {
	if err := s.requireVector(); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = 10
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	// Over-fetch so post-KNN filters still leave topK rows.
	candidateLimit := topK * 5
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.rowid, v.distance,
			m.id, m.workspace_id, m.repo_id, m.commit_sha, m.embedding_model, m.summary, m.embedding_dim, m.metadata
		FROM commit_diff_summary_vec v
		JOIN commit_diff_summaries m ON m.rowid = v.rowid
		WHERE v.embedding MATCH ? AND k = ?`,
		EncodeEmbedding(queryEmbedding), candidateLimit)
	if err != nil {
		return nil, fmt.Errorf("knn search failed: %w", err)
	}
	defer rows.Close()

	var matches []SummaryMatch
	for rows.Next() {
		var m SummaryMatch
		var rowid int64
		var distance float64
		if err := rows.Scan(&rowid, &distance,
			&m.ID, &m.WorkspaceID, &m.RepoID, &m.CommitSHA,
			&m.EmbeddingModel, &m.Summary, &m.EmbeddingDim, &m.Metadata); err != nil {
			return nil, err
		}
		if workspaceID != "" && m.WorkspaceID != workspaceID {
			continue
		}
		if repoID != "" && m.RepoID != repoID {
			continue
		}
		m.Score = 1.0 / (1.0 + distance)
		if m.Score < minScore {
			continue
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}
