// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/agenttrace/agenttrace/pkg/aterrors"
)

// DefaultRetention is the Object-Lock retention applied to event writes.
const DefaultRetention = 7 * 365 * 24 * time.Hour

// s3API is the slice of the S3 client the backend uses.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObjectLockConfiguration(ctx context.Context, in *s3.GetObjectLockConfigurationInput, opts ...func(*s3.Options)) (*s3.GetObjectLockConfigurationOutput, error)
}

// ObjectStorageConfig configures the object-store backend.
type ObjectStorageConfig struct {
	Bucket string
	// Prefix namespaces all keys, e.g. "audit".
	Prefix string
	// Retention for event objects; DefaultRetention when zero.
	Retention time.Duration
}

// ObjectStorage stores audit records in an Object-Lock bucket. Events are
// PUT in COMPLIANCE mode with the configured retention, which gives real
// WORM semantics: neither the writer nor the bucket owner can delete or
// rewrite them before retention expires.
type ObjectStorage struct {
	client s3API
	cfg    ObjectStorageConfig
}

// NewObjectStorage verifies the bucket has Object-Lock enabled and returns
// the backend. Capture must fail fast on a misconfigured bucket rather than
// silently writing deletable records.
func NewObjectStorage(ctx context.Context, client *s3.Client, cfg ObjectStorageConfig) (*ObjectStorage, error) {
	return newObjectStorage(ctx, client, cfg)
}

func newObjectStorage(ctx context.Context, client s3API, cfg ObjectStorageConfig) (*ObjectStorage, error) {
	if cfg.Bucket == "" {
		return nil, aterrors.New(aterrors.KindValidation, "audit bucket required")
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}

	out, err := client.GetObjectLockConfiguration(ctx, &s3.GetObjectLockConfigurationInput{
		Bucket: aws.String(cfg.Bucket),
	})
	if err != nil {
		return nil, aterrors.Wrap(aterrors.KindStorage, err, "read object-lock configuration for bucket %s", cfg.Bucket)
	}
	if out.ObjectLockConfiguration == nil ||
		out.ObjectLockConfiguration.ObjectLockEnabled != types.ObjectLockEnabledEnabled {
		return nil, aterrors.New(aterrors.KindStorage, "bucket %s does not have object-lock enabled", cfg.Bucket)
	}
	return &ObjectStorage{client: client, cfg: cfg}, nil
}

// Name implements Storage.
func (s *ObjectStorage) Name() string { return "objectstore" }

func (s *ObjectStorage) eventKey(org string, ts time.Time, eventID string) string {
	ts = ts.UTC()
	return path.Join(s.cfg.Prefix, org,
		fmt.Sprintf("%04d", ts.Year()),
		fmt.Sprintf("%02d", int(ts.Month())),
		fmt.Sprintf("%02d", ts.Day()),
		eventID+".json")
}

func (s *ObjectStorage) checkpointKey(org, date string) string {
	return path.Join(s.cfg.Prefix, org, "checkpoints", date+".json")
}

// WriteEvent implements Storage.
func (s *ObjectStorage) WriteEvent(ctx context.Context, e *Event) error {
	key := s.eventKey(e.OrganizationID, e.Timestamp, e.EventID)

	if _, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	}); err == nil {
		return duplicateWriteErr("event", e.EventID)
	}

	data, err := json.Marshal(e)
	if err != nil {
		return aterrors.Wrap(aterrors.KindStorage, err, "encode event %s", e.EventID)
	}
	retainUntil := time.Now().UTC().Add(s.cfg.Retention)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:                    aws.String(s.cfg.Bucket),
		Key:                       aws.String(key),
		Body:                      bytes.NewReader(data),
		ContentType:               aws.String("application/json"),
		ObjectLockMode:            types.ObjectLockModeCompliance,
		ObjectLockRetainUntilDate: aws.Time(retainUntil),
	})
	if err != nil {
		return aterrors.Wrap(aterrors.KindStorage, err, "put event %s", e.EventID)
	}
	return nil
}

// GetEvent implements Storage. The event ID alone does not locate the key,
// so the org prefix is scanned.
func (s *ObjectStorage) GetEvent(ctx context.Context, org, eventID string) (*Event, error) {
	suffix := "/" + eventID + ".json"
	prefix := path.Join(s.cfg.Prefix, org) + "/"

	var continuation *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.cfg.Bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: continuation,
		})
		if err != nil {
			return nil, aterrors.Wrap(aterrors.KindStorage, err, "list events for org %s", org)
		}
		for _, obj := range out.Contents {
			if strings.HasSuffix(aws.ToString(obj.Key), suffix) {
				return s.getEventObject(ctx, aws.ToString(obj.Key))
			}
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		continuation = out.NextContinuationToken
	}
	return nil, notFoundErr("event", eventID)
}

// QueryEvents implements Storage.
func (s *ObjectStorage) QueryEvents(ctx context.Context, org string, from, to time.Time) ([]*Event, error) {
	var out []*Event
	for day := from.UTC().Truncate(24 * time.Hour); day.Before(to); day = day.Add(24 * time.Hour) {
		events, err := s.listDay(ctx, org, day)
		if err != nil {
			return nil, err
		}
		for _, e := range events {
			if !e.Timestamp.Before(from) && e.Timestamp.Before(to) {
				out = append(out, e)
			}
		}
	}
	sortEvents(out)
	return out, nil
}

// LatestEvent implements Storage.
func (s *ObjectStorage) LatestEvent(ctx context.Context, org string) (*Event, error) {
	prefix := path.Join(s.cfg.Prefix, org) + "/"
	checkpointPrefix := s.checkpointKey(org, "")

	var latestKey string
	var continuation *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.cfg.Bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: continuation,
		})
		if err != nil {
			return nil, aterrors.Wrap(aterrors.KindStorage, err, "list events for org %s", org)
		}
		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasPrefix(key, checkpointPrefix) {
				continue
			}
			// Keys sort lexicographically by yyyy/mm/dd, so the maximum key
			// narrows the scan to the newest day.
			if key > latestKey {
				latestKey = key
			}
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		continuation = out.NextContinuationToken
	}
	if latestKey == "" {
		return nil, notFoundErr("chain tail for org", org)
	}

	// The newest day can hold events written out of key order; pick the
	// highest sequence number within it.
	dayPrefix := latestKey[:strings.LastIndex(latestKey, "/")+1]
	events, err := s.listPrefix(ctx, dayPrefix)
	if err != nil {
		return nil, err
	}
	var latest *Event
	for _, e := range events {
		if latest == nil || e.Seq > latest.Seq {
			latest = e
		}
	}
	if latest == nil {
		return nil, notFoundErr("chain tail for org", org)
	}
	return latest, nil
}

// WriteCheckpoint implements Storage. Sealed checkpoints carry Object-Lock
// retention; pending ones are written unlocked so the timestamp retrier can
// replace them with the sealed version.
func (s *ObjectStorage) WriteCheckpoint(ctx context.Context, cp *Checkpoint) error {
	key := s.checkpointKey(cp.OrganizationID, cp.Date)

	if existing, err := s.GetCheckpoint(ctx, cp.OrganizationID, cp.Date); err == nil {
		if existing.Status != CheckpointPendingTimestamp {
			return duplicateWriteErr("checkpoint", cp.OrganizationID+"/"+cp.Date)
		}
	}

	data, err := json.Marshal(cp)
	if err != nil {
		return aterrors.Wrap(aterrors.KindStorage, err, "encode checkpoint %s", cp.Date)
	}
	in := &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	}
	if cp.Status != CheckpointPendingTimestamp {
		in.ObjectLockMode = types.ObjectLockModeCompliance
		in.ObjectLockRetainUntilDate = aws.Time(time.Now().UTC().Add(s.cfg.Retention))
	}
	if _, err := s.client.PutObject(ctx, in); err != nil {
		return aterrors.Wrap(aterrors.KindStorage, err, "put checkpoint %s", cp.Date)
	}
	return nil
}

// GetCheckpoint implements Storage.
func (s *ObjectStorage) GetCheckpoint(ctx context.Context, org, date string) (*Checkpoint, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.checkpointKey(org, date)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, notFoundErr("checkpoint", org+"/"+date)
		}
		return nil, aterrors.Wrap(aterrors.KindStorage, err, "get checkpoint %s/%s", org, date)
	}
	defer func() { _ = out.Body.Close() }()

	var cp Checkpoint
	if err := json.NewDecoder(out.Body).Decode(&cp); err != nil {
		return nil, aterrors.Wrap(aterrors.KindStorage, err, "decode checkpoint %s/%s", org, date)
	}
	return &cp, nil
}

// ListPendingCheckpoints implements Storage. Scans every org's checkpoints
// prefix; pending checkpoints are rare so the scan stays small.
func (s *ObjectStorage) ListPendingCheckpoints(ctx context.Context) ([]*Checkpoint, error) {
	var out []*Checkpoint
	var continuation *string
	for {
		resp, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.cfg.Bucket),
			Prefix:            aws.String(s.cfg.Prefix),
			ContinuationToken: continuation,
		})
		if err != nil {
			return nil, aterrors.Wrap(aterrors.KindStorage, err, "list checkpoints")
		}
		for _, obj := range resp.Contents {
			key := aws.ToString(obj.Key)
			if !strings.Contains(key, "/checkpoints/") {
				continue
			}
			get, err := s.client.GetObject(ctx, &s3.GetObjectInput{
				Bucket: aws.String(s.cfg.Bucket),
				Key:    aws.String(key),
			})
			if err != nil {
				return nil, aterrors.Wrap(aterrors.KindStorage, err, "get checkpoint %s", key)
			}
			var cp Checkpoint
			err = json.NewDecoder(get.Body).Decode(&cp)
			_ = get.Body.Close()
			if err != nil {
				return nil, aterrors.Wrap(aterrors.KindStorage, err, "decode checkpoint %s", key)
			}
			if cp.Status == CheckpointPendingTimestamp {
				out = append(out, &cp)
			}
		}
		if !aws.ToBool(resp.IsTruncated) {
			break
		}
		continuation = resp.NextContinuationToken
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (s *ObjectStorage) listDay(ctx context.Context, org string, day time.Time) ([]*Event, error) {
	day = day.UTC()
	prefix := path.Join(s.cfg.Prefix, org,
		fmt.Sprintf("%04d", day.Year()),
		fmt.Sprintf("%02d", int(day.Month())),
		fmt.Sprintf("%02d", day.Day())) + "/"
	return s.listPrefix(ctx, prefix)
}

func (s *ObjectStorage) listPrefix(ctx context.Context, prefix string) ([]*Event, error) {
	var out []*Event
	var continuation *string
	for {
		resp, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.cfg.Bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: continuation,
		})
		if err != nil {
			return nil, aterrors.Wrap(aterrors.KindStorage, err, "list prefix %s", prefix)
		}
		for _, obj := range resp.Contents {
			e, err := s.getEventObject(ctx, aws.ToString(obj.Key))
			if err != nil {
				return nil, err
			}
			out = append(out, e)
		}
		if !aws.ToBool(resp.IsTruncated) {
			break
		}
		continuation = resp.NextContinuationToken
	}
	return out, nil
}

func (s *ObjectStorage) getEventObject(ctx context.Context, key string) (*Event, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, aterrors.Wrap(aterrors.KindStorage, err, "get event object %s", key)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, aterrors.Wrap(aterrors.KindStorage, err, "read event object %s", key)
	}
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, aterrors.Wrap(aterrors.KindStorage, err, "decode event object %s", key)
	}
	return &e, nil
}
