package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyrag/backend/internal/storage/models"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, c.InitSchema())
	t.Cleanup(func() { c.Close() })
	return c
}

func seedSubjectUnit(t *testing.T, c *Client) (*models.Subject, *models.Unit) {
	t.Helper()
	subject := &models.Subject{
		ID:        "subj-1",
		Code:      "ML1234",
		Name:      "Machine Learning",
		CreatedAt: time.Now(),
	}
	require.NoError(t, c.CreateSubject(subject))

	unit := &models.Unit{
		ID:        "unit-1",
		SubjectID: subject.ID,
		Title:     "Unit I",
		CreatedAt: time.Now(),
	}
	require.NoError(t, c.CreateUnit(unit))
	return subject, unit
}

func seedDocument(t *testing.T, c *Client) *models.SourceDocument {
	t.Helper()
	subject, unit := seedSubjectUnit(t, c)
	doc := &models.SourceDocument{
		ID:        "doc-1",
		SubjectID: subject.ID,
		UnitID:    unit.ID,
		SourceURL: "/notes/unit1.txt",
		FileType:  "text/plain",
		Status:    models.StatusPending,
		Metadata:  map[string]string{"term": "fall"},
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	require.NoError(t, c.CreateDocument(doc))
	return doc
}

func TestSubjects_CreateAndLookup(t *testing.T) {
	c := newTestClient(t)
	seedSubjectUnit(t, c)

	byCode, err := c.GetSubjectByCode("ML1234")
	require.NoError(t, err)
	assert.Equal(t, "Machine Learning", byCode.Name)

	byName, err := c.GetSubjectByName("Machine Learning")
	require.NoError(t, err)
	assert.Equal(t, "subj-1", byName.ID)

	_, err = c.GetSubjectByName("Quantum Computing")
	assert.ErrorIs(t, err, ErrNotFound)

	subjects, err := c.ListSubjects()
	require.NoError(t, err)
	assert.Len(t, subjects, 1)
}

func TestSubjects_DuplicateCode(t *testing.T) {
	c := newTestClient(t)
	seedSubjectUnit(t, c)

	err := c.CreateSubject(&models.Subject{
		ID: "subj-2", Code: "ML1234", Name: "Another", CreatedAt: time.Now(),
	})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestUnits_UniquePerSubject(t *testing.T) {
	c := newTestClient(t)
	subject, _ := seedSubjectUnit(t, c)

	err := c.CreateUnit(&models.Unit{
		ID: "unit-2", SubjectID: subject.ID, Title: "Unit I", CreatedAt: time.Now(),
	})
	assert.ErrorIs(t, err, ErrDuplicate)

	unit, err := c.GetUnit(subject.ID, "Unit I")
	require.NoError(t, err)
	assert.Equal(t, "unit-1", unit.ID)

	_, err = c.GetUnit(subject.ID, "Unit IX")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUnits_ListOrderedByIndex(t *testing.T) {
	c := newTestClient(t)
	subject, _ := seedSubjectUnit(t, c)

	require.NoError(t, c.CreateUnit(&models.Unit{
		ID: "unit-0", SubjectID: subject.ID, Title: "Unit Zero", OrderIndex: -1, CreatedAt: time.Now(),
	}))

	units, err := c.ListUnits(subject.ID)
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, "Unit Zero", units[0].Title)
}

func TestDocuments_RoundTrip(t *testing.T) {
	c := newTestClient(t)
	doc := seedDocument(t, c)

	got, err := c.GetDocument(doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, "fall", got.Metadata["term"])
	assert.Equal(t, "text/plain", got.FileType)

	_, err = c.GetDocument("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDocuments_StatusTransitions(t *testing.T) {
	c := newTestClient(t)
	doc := seedDocument(t, c)

	// pending -> completed skips processing and is rejected.
	err := c.UpdateDocumentStatus(doc.ID, models.StatusCompleted)
	assert.ErrorIs(t, err, ErrBadTransition)

	require.NoError(t, c.UpdateDocumentStatus(doc.ID, models.StatusProcessing))
	require.NoError(t, c.UpdateDocumentStatus(doc.ID, models.StatusCompleted))

	// completed is terminal.
	err = c.UpdateDocumentStatus(doc.ID, models.StatusProcessing)
	assert.ErrorIs(t, err, ErrBadTransition)
}

func TestDocuments_ListFiltersByStatus(t *testing.T) {
	c := newTestClient(t)
	doc := seedDocument(t, c)

	require.NoError(t, c.UpdateDocumentStatus(doc.ID, models.StatusProcessing))

	pending, err := c.ListDocuments(models.StatusPending)
	require.NoError(t, err)
	assert.Empty(t, pending)

	processing, err := c.ListDocuments(models.StatusProcessing)
	require.NoError(t, err)
	assert.Len(t, processing, 1)

	all, err := c.ListDocuments("")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestInsertChunks_BatchContinuesPastFailures(t *testing.T) {
	c := newTestClient(t)
	doc := seedDocument(t, c)

	chunk := func(id string) models.ChunkRecord {
		return models.ChunkRecord{
			ID:             id,
			DocumentID:     doc.ID,
			SubjectID:      doc.SubjectID,
			UnitID:         doc.UnitID,
			Content:        "content",
			EmbeddingModel: "test-model",
			CreatedAt:      time.Now(),
		}
	}

	// The middle record collides with the first on the composite key.
	result := c.InsertChunks([]models.ChunkRecord{chunk("1-0"), chunk("1-0"), chunk("1-1")})

	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.ErrorIs(t, result.Errors[0], ErrDuplicate)
}

func TestResetForReingest(t *testing.T) {
	c := newTestClient(t)
	doc := seedDocument(t, c)

	require.NoError(t, c.UpdateDocumentStatus(doc.ID, models.StatusProcessing))
	require.NoError(t, c.UpdateDocumentStatus(doc.ID, models.StatusCompleted))

	result := c.InsertChunks([]models.ChunkRecord{{
		ID: "1-0", DocumentID: doc.ID, SubjectID: doc.SubjectID, UnitID: doc.UnitID,
		Content: "c", EmbeddingModel: "m", CreatedAt: time.Now(),
	}})
	require.Equal(t, 1, result.Succeeded)

	require.NoError(t, c.ResetForReingest(doc.ID))

	got, err := c.GetDocument(doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)

	// Old chunk rows are gone, so the same ids insert cleanly again.
	result = c.InsertChunks([]models.ChunkRecord{{
		ID: "1-0", DocumentID: doc.ID, SubjectID: doc.SubjectID, UnitID: doc.UnitID,
		Content: "c", EmbeddingModel: "m", CreatedAt: time.Now(),
	}})
	assert.Equal(t, 1, result.Succeeded)

	assert.ErrorIs(t, c.ResetForReingest("missing"), ErrNotFound)
}

func TestDeleteSubjectCascades(t *testing.T) {
	c := newTestClient(t)
	doc := seedDocument(t, c)

	_, err := c.db.Exec(`DELETE FROM subjects WHERE id = ?`, doc.SubjectID)
	require.NoError(t, err)

	_, err = c.GetDocument(doc.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
