package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"idleempire.io/internal/persistence/r2s3"
)

// buildMirror returns nil when IDLE_MIRROR is off.
func buildMirror(ctx context.Context, slot string, log *slog.Logger) (*r2s3.Mirror, error) {
	if !envBool("IDLE_MIRROR", false) {
		return nil, nil
	}
	cfg := r2s3.Config{
		Endpoint:        os.Getenv("IDLE_S3_ENDPOINT"),
		Region:          strings.TrimSpace(os.Getenv("IDLE_S3_REGION")),
		Bucket:          os.Getenv("IDLE_S3_BUCKET"),
		AccessKeyID:     os.Getenv("IDLE_S3_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("IDLE_S3_SECRET_ACCESS_KEY"),
	}
	client, err := r2s3.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("IDLE_MIRROR=true but the bucket is not usable: %w", err)
	}
	return r2s3.NewMirror(client, strings.TrimSpace(os.Getenv("IDLE_S3_PREFIX")), slot, log), nil
}

func writeMirrorMetrics(w io.Writer, m *r2s3.Mirror) {
	if m == nil {
		return
	}
	s := m.Stats()
	fmt.Fprintf(w, "# HELP idle_mirror_uploads_total Save mirror uploads by result.\n")
	fmt.Fprintf(w, "# TYPE idle_mirror_uploads_total counter\n")
	fmt.Fprintf(w, "idle_mirror_uploads_total{result=%q} %d\n", "ok", s.UploadSuccessTotal)
	fmt.Fprintf(w, "idle_mirror_uploads_total{result=%q} %d\n", "fail", s.UploadFailTotal)
	fmt.Fprintf(w, "idle_mirror_uploads_total{result=%q} %d\n", "superseded", s.SupersededTotal)
	fmt.Fprintf(w, "# HELP idle_mirror_last_success_unix Last successful upload time.\n")
	fmt.Fprintf(w, "# TYPE idle_mirror_last_success_unix gauge\n")
	fmt.Fprintf(w, "idle_mirror_last_success_unix %d\n", s.LastSuccessUnix)
}
