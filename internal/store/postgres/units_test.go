package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sylvia-iot/controlplane/internal/apperr"
	"github.com/sylvia-iot/controlplane/internal/models"
	"github.com/sylvia-iot/controlplane/internal/store"
)

func newUnitTestStore(t *testing.T) (*UnitStore, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return NewUnitStore(&DB{Conn: sqlDB}), mock
}

func unitCols() []string {
	return []string{"unit_id", "code", "owner_id", "member_ids", "name", "info", "created_at", "modified_at"}
}

func TestUnitStore_Add(t *testing.T) {
	s, mock := newUnitTestStore(t)
	ctx := context.Background()

	u := &models.Unit{UnitID: "u1", Code: "unitA", OwnerID: "owner1", Name: "Unit A"}
	mock.ExpectExec("INSERT INTO units").WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.Add(ctx, u)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnitStore_Add_DuplicateCode(t *testing.T) {
	s, mock := newUnitTestStore(t)
	ctx := context.Background()

	u := &models.Unit{UnitID: "u1", Code: "unitA", OwnerID: "owner1"}
	mock.ExpectExec("INSERT INTO units").
		WillReturnError(&pq.Error{Code: "23505"})

	err := s.Add(ctx, u)
	require.Error(t, err)
	ae, ok := err.(*apperr.Error)
	require.True(t, ok)
	assert.Equal(t, apperr.KindConflict, ae.Kind)
	assert.Equal(t, apperr.CodeBrokerUnitExist, ae.Code)
}

func TestUnitStore_Get_NotFound(t *testing.T) {
	s, mock := newUnitTestStore(t)
	ctx := context.Background()

	mock.ExpectQuery("FROM units WHERE unit_id").
		WillReturnRows(sqlmock.NewRows(unitCols()))

	_, err := s.Get(ctx, "missing")
	require.Error(t, err)
	ae, ok := err.(*apperr.Error)
	require.True(t, ok)
	assert.Equal(t, apperr.KindNotFound, ae.Kind)
}

func TestUnitStore_Get_Found(t *testing.T) {
	s, mock := newUnitTestStore(t)
	ctx := context.Background()

	now := time.Now()
	rows := sqlmock.NewRows(unitCols()).
		AddRow("u1", "unitA", "owner1", "{m1}", "Unit A", []byte(`{}`), now, now)
	mock.ExpectQuery("FROM units WHERE unit_id").WillReturnRows(rows)

	u, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "unitA", u.Code)
	assert.Equal(t, []string{"m1"}, u.MemberIDs)
}

func TestUnitStore_List_ScopedToOwnerOrMember(t *testing.T) {
	s, mock := newUnitTestStore(t)
	ctx := context.Background()

	now := time.Now()
	rows := sqlmock.NewRows(unitCols()).
		AddRow("u1", "unitA", "owner1", "{}", "Unit A", []byte(`{}`), now, now)
	mock.ExpectQuery(`\(owner_id = \$1 OR member_ids @> to_jsonb\(\$1::text\)\)`).WillReturnRows(rows)

	out, cur, err := s.List(ctx, "owner1", "", store.ListOptions{}, nil)
	require.NoError(t, err)
	assert.Len(t, out, 1)
	assert.Nil(t, cur)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnitStore_List_RejectsUnknownSortKey(t *testing.T) {
	s, _ := newUnitTestStore(t)
	ctx := context.Background()

	_, _, err := s.List(ctx, "", "", store.ListOptions{Sort: []store.SortKey{{Key: "owner_id", Asc: true}}}, nil)
	require.Error(t, err)
	ae, ok := err.(*apperr.Error)
	require.True(t, ok)
	assert.Equal(t, apperr.KindParameter, ae.Kind)
}

func TestUnitStore_Update_NotFound(t *testing.T) {
	s, mock := newUnitTestStore(t)
	ctx := context.Background()

	mock.ExpectExec("UPDATE units SET").WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.Update(ctx, &models.Unit{UnitID: "missing"})
	require.Error(t, err)
	ae, ok := err.(*apperr.Error)
	require.True(t, ok)
	assert.Equal(t, apperr.KindNotFound, ae.Kind)
}

func TestUnitStore_Del(t *testing.T) {
	s, mock := newUnitTestStore(t)
	ctx := context.Background()

	mock.ExpectExec("DELETE FROM units WHERE unit_id").WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.Del(ctx, "u1")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
