// Package snapshot implements periodic full-database export to object
// storage (component C10), a disaster-recovery aid that runs alongside
// block commits without ever blocking the writer.
package snapshot

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/ledgerwatch/namedb/internal/logger"
)

// Exporter uploads a copy of the database file to S3 every Every
// blocks. It never back-pressures the writer: a slow or failed export
// is logged and dropped rather than retried inline.
type Exporter struct {
	dbPath   string
	bucket   string
	prefix   string
	every    int64
	uploader *s3manager.Uploader
	log      logger.Logger

	jobs chan int64
}

// New constructs an Exporter uploading copies of dbPath to
// s3://bucket/prefix/<blockID>/namedb.sqlite every `every` blocks.
func New(sess *session.Session, dbPath, bucket, prefix string, every int64, log logger.Logger) *Exporter {
	e := &Exporter{
		dbPath:   dbPath,
		bucket:   bucket,
		prefix:   prefix,
		every:    every,
		uploader: s3manager.NewUploader(sess),
		log:      log,
		jobs:     make(chan int64, 8),
	}
	go e.run()
	return e
}

// ExportAfterCommit has the signature of an engine OnCommit hook. It only
// enqueues an export every `every` blocks, and drops the request rather
// than blocking if the export queue already holds 8 pending exports.
func (e *Exporter) ExportAfterCommit(blockID int64) {
	if e.every <= 0 || blockID%e.every != 0 {
		return
	}
	select {
	case e.jobs <- blockID:
	default:
		if e.log != nil {
			e.log.Warn("snapshot export queue full, dropping", "block", blockID)
		}
	}
}

func (e *Exporter) run() {
	for blockID := range e.jobs {
		if err := e.export(context.Background(), blockID); err != nil && e.log != nil {
			e.log.Error("snapshot export failed", "block", blockID, "err", err)
		}
	}
}

func (e *Exporter) export(ctx context.Context, blockID int64) error {
	f, err := os.Open(e.dbPath)
	if err != nil {
		return fmt.Errorf("snapshot: open %s: %w", e.dbPath, err)
	}
	defer f.Close()

	key := fmt.Sprintf("%s/%d/namedb.sqlite", e.prefix, blockID)
	_, err = e.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(e.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("snapshot: upload %s: %w", key, err)
	}
	if e.log != nil {
		e.log.Info("exported snapshot", "block", blockID, "key", key)
	}
	return nil
}

// Close closes the export queue and returns at once. The worker still
// runs the exports already queued and then exits; Close does not wait
// for them.
func (e *Exporter) Close() {
	close(e.jobs)
}
