package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusClassificationIsTotal(t *testing.T) {
	all := []Status{
		StatusUploading, StatusUploaded, StatusProcessing, StatusReviewPending,
		StatusProcessed, StatusSalesforceUploadPending, StatusCorrectionPending,
		StatusUploadedToSalesforce, StatusCompleted, StatusCompletedWithErrors,
		StatusFailed,
	}
	for _, s := range all {
		assert.True(t, s.Known(), "status %q missing from classification", s)
		assert.NotEqual(t, s.Active(), s.Stable(), "status %q must be exactly one class", s)
	}
}

func TestActiveStatuses(t *testing.T) {
	active := []Status{StatusUploading, StatusUploaded, StatusProcessing, StatusSalesforceUploadPending}
	for _, s := range active {
		assert.True(t, s.Active(), "status %q should be active", s)
	}
	stable := []Status{
		StatusReviewPending, StatusProcessed, StatusCorrectionPending,
		StatusUploadedToSalesforce, StatusCompleted, StatusCompletedWithErrors,
		StatusFailed,
	}
	for _, s := range stable {
		assert.True(t, s.Stable(), "status %q should be stable", s)
	}
}

func TestUnknownStatusPollsFast(t *testing.T) {
	s := Status("shiny_new_state")
	assert.False(t, s.Known())
	assert.True(t, s.Active())
}

func TestAnyActive(t *testing.T) {
	assert.False(t, AnyActive(nil))
	assert.False(t, AnyActive([]Document{{Status: StatusCompleted}, {Status: StatusFailed}}))
	assert.True(t, AnyActive([]Document{{Status: StatusCompleted}, {Status: StatusProcessing}}))
}
