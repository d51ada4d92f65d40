package store

import (
	"context"
	"fmt"
	"image"
	"testing"
	"time"

	"github.com/andresmejia3/faceexport/internal/export"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestStoreIntegration runs a full integration test against a real Postgres container.
// It requires Docker to be running.
func TestStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	// Explicitly check for Docker availability and fail hard if missing
	// We wrap this in a function to recover from panics inside testcontainers (e.g. socket not found)
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("testcontainers panicked: %v", r)
			}
		}()
		_, err = testcontainers.NewDockerClientWithOpts(ctx)
		return
	}()
	if err != nil {
		t.Fatalf("Docker not available, cannot run integration test: %v", err)
	}

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("faceexport_test"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
		testcontainers.WithLogger(noopLogger{}),
	)
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("Failed to terminate container: %v", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	// Initialize Store (runs migrations)
	s, err := New(ctx, connStr)
	if err != nil {
		t.Fatalf("Failed to connect to store: %v", err)
	}
	defer s.Close(ctx)

	// --- Test Scenarios ---

	if err := s.EnsureSource(ctx, "src_1", "/data/data_src"); err != nil {
		t.Fatalf("EnsureSource failed: %v", err)
	}
	// Re-registering must not fail and must update the path.
	if err := s.EnsureSource(ctx, "src_1", "/data/data_src_moved"); err != nil {
		t.Fatalf("EnsureSource (update) failed: %v", err)
	}

	results := []export.Result{
		{
			Face:  export.Rect{Left: 10, Top: 10, Right: 50, Bottom: 50},
			Crop:  image.Rect(0, 0, 78, 78),
			Path:  "/faces/_small/f_1.png",
			Small: true,
		},
		{
			Face: export.Rect{Left: 100, Top: 100, Right: 300, Bottom: 300},
			Crop: image.Rect(0, 0, 440, 440),
			Path: "/faces/f_2.png",
		},
	}
	if err := s.InsertExports(ctx, "src_1", 7, results); err != nil {
		t.Fatalf("InsertExports failed: %v", err)
	}
	if err := s.InsertExports(ctx, "src_1", 8, nil); err != nil {
		t.Fatalf("InsertExports with no results failed: %v", err)
	}

	total, small, err := s.CountExports(ctx, "src_1")
	if err != nil {
		t.Fatalf("CountExports failed: %v", err)
	}
	if total != 2 || small != 1 {
		t.Errorf("CountExports = %d/%d, want 2/1", total, small)
	}

	exports, err := s.ListExports(ctx, 0)
	if err != nil {
		t.Fatalf("ListExports failed: %v", err)
	}
	if len(exports) != 2 {
		t.Fatalf("Expected 2 exports, got %d", len(exports))
	}

	// Newest first.
	latest := exports[0]
	if latest.Path != "/faces/f_2.png" || latest.Small {
		t.Errorf("Unexpected latest export: %+v", latest)
	}
	if latest.SourcePath != "/data/data_src_moved" || latest.FrameIndex != 7 {
		t.Errorf("Source not joined correctly: %+v", latest)
	}
	wantCrop := export.Rect{Left: 0, Top: 0, Right: 440, Bottom: 440}
	if latest.Face != results[1].Face || latest.Crop != wantCrop {
		t.Errorf("Rect round trip mismatch: face %+v crop %+v", latest.Face, latest.Crop)
	}

	limited, err := s.ListExports(ctx, 1)
	if err != nil {
		t.Fatalf("ListExports with limit failed: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("Expected 1 export with limit, got %d", len(limited))
	}

	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if _, err := s.ListExports(ctx, 0); err == nil {
		t.Error("Expected ListExports to fail after Reset dropped the tables")
	}
}

type noopLogger struct{}

func (n noopLogger) Printf(format string, v ...interface{}) {}
