package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/theftclaim-api/internal/models"
)

var itemRowColumns = []string{"id", "name", "description", "owner_id", "case_report_id", "created_at", "updated_at"}

func TestItemRepositoryCreateAndGet(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewItemRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO items")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	item := &models.Item{Name: "Tractor", Description: "Created during bulk evidence upload", OwnerID: "user-1"}
	require.NoError(t, repo.Create(context.Background(), item))
	require.NotEmpty(t, item.ID)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, description, owner_id, case_report_id, created_at, updated_at FROM items WHERE id = $1")).
		WithArgs(item.ID).
		WillReturnRows(sqlmock.NewRows(itemRowColumns).AddRow(item.ID, item.Name, item.Description, item.OwnerID, nil, now, now))

	found, err := repo.GetByID(context.Background(), item.ID)
	require.NoError(t, err)
	require.Equal(t, "Tractor", found.Name)
	require.Nil(t, found.CaseReportID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestItemRepositoryListFilters(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewItemRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM items WHERE owner_id = $1 AND LOWER(name) LIKE $2 ORDER BY created_at DESC LIMIT 10 OFFSET 10")).
		WithArgs("user-1", "%bike%").
		WillReturnRows(sqlmock.NewRows(itemRowColumns).AddRow("item-1", "Bike", "", "user-1", nil, now, now))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM items WHERE owner_id = $1 AND LOWER(name) LIKE $2")).
		WithArgs("user-1", "%bike%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(11))

	items, total, err := repo.List(context.Background(), models.ItemFilter{OwnerID: "user-1", Search: "Bike", Page: 2, PageSize: 10})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, 11, total)
	require.NoError(t, mock.ExpectationsWereMet())
}
