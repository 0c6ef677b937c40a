package retention

import (
	"context"
	"testing"
	"time"

	"ridechat/pkg/archive"
	"ridechat/pkg/config"
	"ridechat/pkg/models"
)

func TestRunOncePurgesOldEntries(t *testing.T) {
	arc, err := archive.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer arc.Close()

	now := time.Now().UTC().UnixNano()
	old := now - int64(72*time.Hour)
	if err := arc.Append("c1", models.Message{ServerID: "old", Sender: "u1", Body: "old", TS: old}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := arc.Append("c1", models.Message{ServerID: "new", Sender: "u1", Body: "new", TS: now}); err != nil {
		t.Fatalf("append: %v", err)
	}

	if err := RunOnce(arc, 24*time.Hour); err != nil {
		t.Fatalf("run once: %v", err)
	}
	msgs, err := arc.List("c1", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ServerID != "new" {
		t.Fatalf("wrong survivor: %+v", msgs)
	}
}

func TestStartDisabled(t *testing.T) {
	cancel, err := Start(context.Background(), config.RetentionConfig{Enabled: false}, nil)
	if err != nil {
		t.Fatalf("disabled start: %v", err)
	}
	cancel()
}

func TestStartRejectsBadConfig(t *testing.T) {
	arc, err := archive.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer arc.Close()

	cfg := config.RetentionConfig{Enabled: true}
	if _, err := Start(context.Background(), cfg, arc); err == nil {
		t.Fatalf("expected error for missing period")
	}

	cfg = config.RetentionConfig{Enabled: true, Period: config.Duration(time.Hour), Cron: "not a cron"}
	if _, err := Start(context.Background(), cfg, arc); err == nil {
		t.Fatalf("expected error for invalid cron")
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	arc, err := archive.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer arc.Close()

	ctx, cancelCtx := context.WithCancel(context.Background())
	cfg := config.RetentionConfig{Enabled: true, Period: config.Duration(time.Hour), Cron: "* * * * *"}
	stop, err := Start(ctx, cfg, arc)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	stop()
	cancelCtx()
}
