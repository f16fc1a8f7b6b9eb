package pagination

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeLimit(t *testing.T) {
	assert.Equal(t, DefaultLimit, NormalizeLimit(0))
	assert.Equal(t, DefaultLimit, NormalizeLimit(-3))
	assert.Equal(t, 7, NormalizeLimit(7))
	assert.Equal(t, MaxLimit, NormalizeLimit(MaxLimit+50))
	assert.Equal(t, 8, LimitWithBuffer(7))
}

func TestCursorRoundTrip(t *testing.T) {
	cursor := Cursor{CreatedAt: time.Date(2026, 3, 1, 10, 0, 0, 123, time.FixedZone("WIB", 7*3600)), ID: uuid.New()}

	encoded := EncodeCursor(cursor)
	assert.NotContains(t, encoded, "=")
	assert.NotContains(t, encoded, "/")

	decoded, err := ParseCursor(encoded)
	require.NoError(t, err)
	require.NotNil(t, decoded)
	assert.True(t, cursor.CreatedAt.Equal(decoded.CreatedAt))
	assert.Equal(t, cursor.ID, decoded.ID)
}

func TestParseCursorBlankAndInvalid(t *testing.T) {
	decoded, err := ParseCursor("  ")
	require.NoError(t, err)
	assert.Nil(t, decoded)

	_, err = ParseCursor("!!!")
	assert.Error(t, err)

	_, err = ParseCursor(EncodeCursor(Cursor{})[:4])
	assert.Error(t, err)
}

type row struct {
	at time.Time
	id uuid.UUID
}

func TestTrimUsesLastKeptRow(t *testing.T) {
	base := time.Now().UTC()
	rows := make([]row, 0, 4)
	for i := 0; i < 4; i++ {
		rows = append(rows, row{at: base.Add(-time.Duration(i) * time.Minute), id: uuid.New()})
	}
	key := func(r row) Cursor { return Cursor{CreatedAt: r.at, ID: r.id} }

	kept, next := Trim(rows, 3, key)
	require.Len(t, kept, 3)
	require.NotNil(t, next)
	assert.Equal(t, rows[2].id, next.ID)

	kept, next = Trim(rows[:2], 3, key)
	assert.Len(t, kept, 2)
	assert.Nil(t, next)
}

func TestNewPageNeverReturnsNilItems(t *testing.T) {
	page := NewPage[row](nil, nil)
	assert.NotNil(t, page.Items)
	assert.Empty(t, page.NextCursor)

	c := Cursor{CreatedAt: time.Now(), ID: uuid.New()}
	page = NewPage([]row{{}}, &c)
	assert.Equal(t, EncodeCursor(c), page.NextCursor)
}
