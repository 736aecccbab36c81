package deb

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/etnz/debmaker/internal/logger"
)

// ResolveOutputTimestamp returns the time stamped on every archive member.
//
// An explicit param is either epoch seconds or an RFC 3339 date. Without it
// SOURCE_DATE_EPOCH is read through lookupEnv (nil means os.LookupEnv). The
// zero time means no fixed timestamp.
//
// Reference: https://reproducible-builds.org/specs/source-date-epoch/
func ResolveOutputTimestamp(ctx context.Context, param string, lookupEnv LookupEnvFunc) (time.Time, error) {
	if lookupEnv == nil {
		lookupEnv = os.LookupEnv
	}
	if param = strings.TrimSpace(param); param != "" {
		t, err := parseTimestamp(param)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid output timestamp %q: %w", param, err)
		}
		logger.Infof(ctx, "Accepted output timestamp: %s", param)
		return t, nil
	}
	if v, ok := lookupEnv("SOURCE_DATE_EPOCH"); ok && v != "" {
		secs, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid SOURCE_DATE_EPOCH environment variable value %q: %w", v, err)
		}
		logger.Infof(ctx, "Accepted SOURCE_DATE_EPOCH environment variable: %s", v)
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Time{}, nil
}

func parseTimestamp(s string) (time.Time, error) {
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
