// Package trigger decodes bucket event notifications into the object to ingest.
package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/aws/aws-lambda-go/events"

	"github.com/JonMunkholm/csvrefinery/internal/core"
	"github.com/JonMunkholm/csvrefinery/internal/logging"
)

// Object identifies one raw file.
type Object struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// String returns the object as bucket/key.
func (o Object) String() string {
	return o.Bucket + "/" + o.Key
}

// Validate reports whether both bucket and key are set.
func (o Object) Validate() error {
	if o.Bucket == "" || o.Key == "" {
		return core.Errorf(core.KindInvalidTrigger, "parse trigger", "missing bucket name or object key")
	}
	return nil
}

// Parse decodes an S3 event notification body.
func Parse(ctx context.Context, body []byte) (Object, error) {
	var ev events.S3Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return Object{}, core.E(core.KindInvalidTrigger, "parse trigger", fmt.Errorf("decode event: %w", err))
	}
	return FromS3Event(ctx, ev)
}

// FromS3Event extracts the object from the first record of ev.
// Additional records are logged and ignored. The key is URL-decoded
// ("+" becomes a space) as delivered by S3 notifications.
func FromS3Event(ctx context.Context, ev events.S3Event) (Object, error) {
	if len(ev.Records) == 0 {
		return Object{}, core.Errorf(core.KindInvalidTrigger, "parse trigger", "event has no records")
	}
	if n := len(ev.Records); n > 1 {
		logging.FromContext(ctx).Warn("event has multiple records, processing the first only", "records", n)
	}

	rec := ev.Records[0].S3
	key, err := url.QueryUnescape(rec.Object.Key)
	if err != nil {
		return Object{}, core.E(core.KindInvalidTrigger, "parse trigger", fmt.Errorf("decode key %q: %w", rec.Object.Key, err))
	}

	obj := Object{Bucket: rec.Bucket.Name, Key: key}
	if err := obj.Validate(); err != nil {
		logging.FromContext(ctx).Error("missing bucket name or object key in event")
		return Object{}, err
	}
	return obj, nil
}
