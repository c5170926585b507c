package validator

import (
	"regexp"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"
)

var (
	arnRegex      = regexp.MustCompile(`^arn:aws[a-z\-]*:[a-z0-9\-]+:[a-z0-9\-]*:[0-9]{12}:.*$`)
	keyIDRegex    = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
	keyAliasRegex = regexp.MustCompile(`^alias/[a-zA-Z0-9/_\-]{1,250}$`)
	bucketRegex   = regexp.MustCompile(`^[a-z0-9][a-z0-9.\-]{1,61}[a-z0-9]$`)
	regionRegex   = regexp.MustCompile(`^[a-z0-9][a-z0-9\-]{0,31}$`)
)

// isARN checks if a string is a valid AWS ARN.
func isARN(fl validator.FieldLevel) bool {
	return arnRegex.MatchString(fl.Field().String())
}

// isKMSKeyRef accepts a key id, a key ARN or an alias name.
func isKMSKeyRef(fl validator.FieldLevel) bool {
	v := fl.Field().String()
	return keyIDRegex.MatchString(v) || keyAliasRegex.MatchString(v) || arnRegex.MatchString(v)
}

func isBucketName(fl validator.FieldLevel) bool {
	return bucketRegex.MatchString(fl.Field().String())
}

func isRegion(fl validator.FieldLevel) bool {
	return regionRegex.MatchString(fl.Field().String())
}

// isPositiveDuration accepts time.Duration fields greater than zero.
func isPositiveDuration(fl validator.FieldLevel) bool {
	d, ok := fl.Field().Interface().(time.Duration)
	return ok && d > 0
}

var (
	channelKinds = []string{"slack", "webhook", "pager"}
	eventKinds   = []string{
		"session_start", "session_end",
		"operation_success", "operation_failure",
		"alert_dispatched", "alert_dispatch_failure",
	}
)

func isChannelKind(fl validator.FieldLevel) bool {
	return slices.Contains(channelKinds, fl.Field().String())
}

func isEventKind(fl validator.FieldLevel) bool {
	return slices.Contains(eventKinds, fl.Field().String())
}

// RegisterCustomValidators registers custom validation functions with the validator.
func RegisterCustomValidators(validate *validator.Validate) error {
	custom := map[string]validator.Func{
		"arn":               isARN,
		"kms_key_ref":       isKMSKeyRef,
		"s3_bucket":         isBucketName,
		"region":            isRegion,
		"duration_positive": isPositiveDuration,
		"channel_kind":      isChannelKind,
		"event_kind":        isEventKind,
	}
	for tag, fn := range custom {
		if err := validate.RegisterValidation(tag, fn); err != nil {
			return err
		}
	}
	return nil
}
