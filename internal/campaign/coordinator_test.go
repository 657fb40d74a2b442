package campaign

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"prospector/internal/listing"
	"prospector/internal/model"
	"prospector/internal/queue"
	"prospector/internal/store"
)

func TestCreateRequestValidate(t *testing.T) {
	good := CreateRequest{Country: "US", Region: "CA", City: "Los Angeles", Category: "plumber"}
	if err := good.Validate(); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}

	cases := map[string]CreateRequest{
		"missing city":       {Country: "US", Category: "plumber"},
		"missing category":   {Country: "US", City: "LA"},
		"bad country":        {Country: "USA", City: "LA", Category: "plumber"},
		"unknown mode":       {Country: "US", City: "LA", Category: "plumber", Mode: "turbo"},
		"unknown planner":    {Country: "US", City: "LA", Category: "plumber", PlannerMode: "psychic"},
	}
	for name, req := range cases {
		if err := req.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}

	modes := CreateRequest{Country: "us", City: "LA", Category: "plumber",
		Mode: model.ModeDraft, PlannerMode: model.PlannerUniform}
	if err := modes.Validate(); err != nil {
		t.Errorf("explicit modes rejected: %v", err)
	}
}

func TestDuplicateErrorCarriesExistingID(t *testing.T) {
	id := uuid.New()
	err := &DuplicateError{Existing: id}
	if !strings.Contains(err.Error(), id.String()) {
		t.Errorf("error %q does not name the existing campaign", err.Error())
	}
}

func TestSearchLimitDefault(t *testing.T) {
	c := &Coordinator{}
	if got := c.searchLimit(); got != defaultSearchLimit {
		t.Errorf("default limit = %d", got)
	}
	c.SearchLimit = 50
	if got := c.searchLimit(); got != 50 {
		t.Errorf("configured limit = %d", got)
	}
}

func mockCoordinator(t *testing.T) (*Coordinator, sqlmock.Sqlmock) {
	t.Helper()
	mdb, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock init: %v", err)
	}
	t.Cleanup(func() { mdb.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewCoordinator(store.New(mdb), nil, nil, nil, logger), mock
}

func scrapeZoneFixture() *model.Zone {
	return &model.Zone{
		ID:         uuid.New(),
		CampaignID: uuid.New(),
		Slug:       "center",
		Status:     model.ZoneScraping,
	}
}

func TestFailZoneTransientResetsZoneForRetry(t *testing.T) {
	c, mock := mockCoordinator(t)
	zone := scrapeZoneFixture()
	item := &queue.WorkItem{Attempts: 0, MaxAttempts: 3}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE zones SET status").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("status = 'pending'").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := c.failZone(context.Background(), zone, item, &listing.TransientError{Status: 503})
	if err == nil {
		t.Fatal("transient failure with budget left must return an error to reschedule")
	}
	if queue.IsPermanent(err) {
		t.Fatalf("transient failure must stay retryable, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations not met: %v", err)
	}
}

func TestFailZoneExhaustedDeadLetters(t *testing.T) {
	c, mock := mockCoordinator(t)
	zone := scrapeZoneFixture()
	item := &queue.WorkItem{Attempts: 2, MaxAttempts: 3}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE zones SET status").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE campaigns SET status = 'completed'").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := c.failZone(context.Background(), zone, item, &listing.TransientError{Status: 503})
	if !queue.IsPermanent(err) {
		t.Fatalf("exhausted budget must surface a permanent failure, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations not met: %v", err)
	}
}

func TestFailZonePermanentProviderErrorDeadLetters(t *testing.T) {
	c, mock := mockCoordinator(t)
	zone := scrapeZoneFixture()
	item := &queue.WorkItem{Attempts: 0, MaxAttempts: 3}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE zones SET status").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE campaigns SET status = 'completed'").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := c.failZone(context.Background(), zone, item, &listing.PermanentError{Status: 401, Reason: "authentication rejected"})
	if !queue.IsPermanent(err) {
		t.Fatalf("provider auth failure must surface a permanent failure, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations not met: %v", err)
	}
}
