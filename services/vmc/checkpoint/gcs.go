// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// objectStore is the subset of a bucket the exporter needs.
type objectStore interface {
	NewWriter(ctx context.Context, name string) io.WriteCloser
	NewReader(ctx context.Context, name string) (io.ReadCloser, error)
	Close() error
}

type gcsBucket struct {
	client *storage.Client
	bucket string
}

func (b gcsBucket) NewWriter(ctx context.Context, name string) io.WriteCloser {
	w := b.client.Bucket(b.bucket).Object(name).NewWriter(ctx)
	w.ContentType = "application/json"
	w.CacheControl = "no-cache, no-store, must-revalidate"
	return w
}

func (b gcsBucket) NewReader(ctx context.Context, name string) (io.ReadCloser, error) {
	r, err := b.client.Bucket(b.bucket).Object(name).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, ErrNotFound
	}
	return r, err
}

func (b gcsBucket) Close() error { return b.client.Close() }

// Exporter copies checkpoints to a Google Cloud Storage bucket.
type Exporter struct {
	objects objectStore
	bucket  string
	prefix  string
}

// NewGCSExporter connects to bucket. An empty keyPath uses application
// default credentials.
func NewGCSExporter(ctx context.Context, bucket, prefix, keyPath string) (*Exporter, error) {
	if bucket == "" {
		return nil, errors.New("gcs export: bucket is required")
	}
	var opts []option.ClientOption
	if keyPath != "" {
		if _, err := os.Stat(keyPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("gcs export: service account key not found at path: %s", keyPath)
		}
		opts = append(opts, option.WithCredentialsFile(keyPath))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs export: create storage client: %w", err)
	}
	return &Exporter{objects: gcsBucket{client: client, bucket: bucket}, bucket: bucket, prefix: prefix}, nil
}

// ObjectName returns the object path of a checkpoint.
func (e *Exporter) ObjectName(runID string, step int) string {
	return path.Join(e.prefix, runID, fmt.Sprintf("step-%012d.json", step))
}

// URI returns the gs:// location of a checkpoint.
func (e *Exporter) URI(runID string, step int) string {
	return "gs://" + e.bucket + "/" + e.ObjectName(runID, step)
}

// Export uploads c.
func (e *Exporter) Export(ctx context.Context, c Checkpoint) error {
	data, err := Encode(c)
	if err != nil {
		return err
	}
	name := e.ObjectName(c.RunID, c.Step)
	w := e.objects.NewWriter(ctx, name)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs export: write %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs export: close %s: %w", name, err)
	}
	return nil
}

// Import downloads the checkpoint of runID at step.
func (e *Exporter) Import(ctx context.Context, runID string, step int) (Checkpoint, error) {
	name := e.ObjectName(runID, step)
	r, err := e.objects.NewReader(ctx, name)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("gcs import %s: %w", name, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("gcs import %s: %w", name, err)
	}
	return Decode(data)
}

// Close releases the storage client.
func (e *Exporter) Close() error { return e.objects.Close() }
