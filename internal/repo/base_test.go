package repo

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-backend/pkg/pagination"
)

type row struct {
	ID        uuid.UUID `gorm:"type:text;primaryKey"`
	Scope     string
	CreatedAt time.Time
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:repo_"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&row{}))
	return conn
}

func cursorOf(r row) pagination.Cursor {
	return pagination.Cursor{CreatedAt: r.CreatedAt, ID: r.ID}
}

func TestBaseBindsContextAndTx(t *testing.T) {
	db := newTestDB(t)
	base := NewBase(db)

	ctx := context.WithValue(context.Background(), struct{}{}, "value")
	assert.Equal(t, ctx, base.DB(ctx).Statement.Context)
	assert.Same(t, db, base.DB(nil))

	assert.Same(t, db, base.Bind(nil).db)
	tx := db.Session(&gorm.Session{})
	assert.Same(t, tx, base.Bind(tx).db)
}

func TestListNewestWalksPages(t *testing.T) {
	db := newTestDB(t)
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, db.Create(&row{ID: uuid.New(), Scope: "a", CreatedAt: start.Add(time.Duration(i) * time.Minute)}).Error)
	}
	// same timestamp as the newest row; id breaks the tie
	require.NoError(t, db.Create(&row{ID: uuid.New(), Scope: "a", CreatedAt: start.Add(4 * time.Minute)}).Error)
	require.NoError(t, db.Create(&row{ID: uuid.New(), Scope: "b", CreatedAt: start}).Error)

	seen := map[uuid.UUID]bool{}
	params := pagination.Params{Limit: 4}
	var pages int
	for {
		page, err := ListNewest(db.Where("scope = ?", "a"), params, cursorOf)
		require.NoError(t, err)
		pages++
		for i, r := range page.Items {
			assert.False(t, seen[r.ID], "row repeated across pages")
			seen[r.ID] = true
			if i > 0 {
				assert.False(t, r.CreatedAt.After(page.Items[i-1].CreatedAt))
			}
		}
		if page.NextCursor == "" {
			break
		}
		params.Cursor = page.NextCursor
	}
	assert.Equal(t, 2, pages)
	assert.Len(t, seen, 6)
}

func TestListNewestRejectsBadCursor(t *testing.T) {
	_, err := ListNewest(newTestDB(t), pagination.Params{Cursor: "not-base64!"}, cursorOf)
	require.Error(t, err)
}
