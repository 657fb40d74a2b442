package queue

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
)

func mockDB(t *testing.T) (sqlmock.Sqlmock, DBTX) {
	t.Helper()
	mdb, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock init: %v", err)
	}
	t.Cleanup(func() { mdb.Close() })
	return mock, mdb
}

func TestEnqueueReturnsInsertedID(t *testing.T) {
	mock, db := mockDB(t)

	want := uuid.New()
	mock.ExpectQuery("INSERT INTO work_items").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(want.String()))

	got, err := Enqueue(context.Background(), db, Item{
		Kind:    KindValidateBusiness,
		Payload: map[string]string{"businessId": uuid.NewString()},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if got != want {
		t.Errorf("enqueue returned %s, want the inserted id %s", got, want)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations not met: %v", err)
	}
}

func TestEnqueueDedupNoopReturnsExistingID(t *testing.T) {
	mock, db := mockDB(t)

	businessID := uuid.New()
	existing := uuid.New()
	mock.ExpectQuery("INSERT INTO work_items").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery("SELECT id FROM work_items").
		WithArgs(string(KindValidateBusiness), ValidateDedupKey(businessID)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(existing.String()))

	got, err := Enqueue(context.Background(), db, Item{
		Kind:     KindValidateBusiness,
		Payload:  map[string]string{"businessId": businessID.String()},
		DedupKey: ValidateDedupKey(businessID),
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if got != existing {
		t.Errorf("dedup no-op returned %s, want the in-flight item %s", got, existing)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations not met: %v", err)
	}
}

func TestEnqueueDedupConflictAlreadyFinished(t *testing.T) {
	mock, db := mockDB(t)

	businessID := uuid.New()
	mock.ExpectQuery("INSERT INTO work_items").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery("SELECT id FROM work_items").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	got, err := Enqueue(context.Background(), db, Item{
		Kind:     KindValidateBusiness,
		Payload:  map[string]string{"businessId": businessID.String()},
		DedupKey: ValidateDedupKey(businessID),
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if got != uuid.Nil {
		t.Errorf("vanished conflict returned %s, want uuid.Nil", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations not met: %v", err)
	}
}
