// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package replicasink is a reference "backup tool" collaborator (see
// spec §1: a replicawire client is consumed by "a slave (or backup
// tool)"): it drains a Response's transaction stream and uploads each
// transaction's block-log payload to S3.
package replicasink

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/nishisan-dev/replicawire"
)

// Sink uploads transaction payloads to a single S3 bucket, one object
// per (datasource, txId) pair.
type Sink struct {
	uploader *manager.Uploader
	bucket   string
	prefix   string
	logger   *slog.Logger
}

// NewSink builds a Sink from the ambient AWS configuration (env vars,
// shared config/credentials files, or an attached role).
func NewSink(ctx context.Context, bucket, prefix string, logger *slog.Logger) (*Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("replicasink: loading aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return &Sink{
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   prefix,
		logger:   logger.With("component", "replicasink"),
	}, nil
}

// Drain reads every transaction out of resp's stream, uploading each
// one's block-log payload to S3 as it arrives, and closes resp when
// done (returning its connection to the pool). It is a standalone
// generic function, not a Sink method, for the same reason
// replicawire.SendRequest is standalone: Go methods cannot carry their
// own type parameters.
func Drain[R any](ctx context.Context, s *Sink, resp *replicawire.Response[R]) (uploaded int, err error) {
	defer func() {
		if cerr := resp.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	stream := resp.Transactions()
	for {
		tx, err := stream.Next()
		if err != nil {
			return uploaded, fmt.Errorf("replicasink: reading transaction: %w", err)
		}
		if tx == nil {
			return uploaded, nil
		}

		key := fmt.Sprintf("%s/%s/%d", s.prefix, tx.Datasource, tx.TxID)
		if _, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
			Body:   tx.Payload,
		}); err != nil {
			return uploaded, fmt.Errorf("replicasink: uploading %s: %w", key, err)
		}
		s.logger.Debug("uploaded transaction", "key", key, "tx_id", tx.TxID, "datasource", tx.Datasource)
		uploaded++
	}
}
