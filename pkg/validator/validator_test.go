package validator

import (
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newValidate(t *testing.T) *validator.Validate {
	t.Helper()
	v := validator.New()
	require.NoError(t, RegisterCustomValidators(v))
	return v
}

func TestKMSKeyRef(t *testing.T) {
	v := newValidate(t)

	valid := []string{
		"1234abcd-12ab-34cd-56ef-1234567890ab",
		"alias/audit-key",
		"arn:aws:kms:us-east-1:111122223333:key/1234abcd-12ab-34cd-56ef-1234567890ab",
	}
	for _, ref := range valid {
		assert.NoError(t, v.Var(ref, "kms_key_ref"), ref)
	}
	assert.Error(t, v.Var("not a key", "kms_key_ref"))
}

func TestBucketAndRegion(t *testing.T) {
	v := newValidate(t)

	assert.NoError(t, v.Var("audit-archive.prod", "s3_bucket"))
	assert.Error(t, v.Var("Upper_Case", "s3_bucket"))
	assert.NoError(t, v.Var("eu-west-1", "region"))
	assert.Error(t, v.Var("", "region"))
}

func TestPositiveDuration(t *testing.T) {
	v := newValidate(t)

	type cfg struct {
		Window time.Duration `validate:"duration_positive"`
	}
	assert.NoError(t, v.Struct(cfg{Window: time.Minute}))
	assert.Error(t, v.Struct(cfg{}))
}

func TestKinds(t *testing.T) {
	v := newValidate(t)

	assert.NoError(t, v.Var("pager", "channel_kind"))
	assert.Error(t, v.Var("email", "channel_kind"))
	assert.NoError(t, v.Var("operation_failure", "event_kind"))
	assert.Error(t, v.Var("operation_started", "event_kind"))
}
