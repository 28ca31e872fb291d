package main

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"boxcraft.dev/internal/persistence/mirror"
)

// openMirror returns nil when BOXCRAFT_MIRROR_ENDPOINT is unset.
func openMirror(dataDir string, logger *log.Logger) (*mirror.Mirror, error) {
	endpoint := strings.TrimSpace(os.Getenv("BOXCRAFT_MIRROR_ENDPOINT"))
	if endpoint == "" {
		return nil, nil
	}
	client, err := mirror.NewClient(mirror.ClientConfig{
		Endpoint:        endpoint,
		Bucket:          os.Getenv("BOXCRAFT_MIRROR_BUCKET"),
		Region:          os.Getenv("BOXCRAFT_MIRROR_REGION"),
		AccessKeyID:     os.Getenv("BOXCRAFT_MIRROR_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("BOXCRAFT_MIRROR_SECRET_ACCESS_KEY"),
	})
	if err != nil {
		return nil, fmt.Errorf("BOXCRAFT_MIRROR_ENDPOINT set: %w", err)
	}
	return mirror.New(client, dataDir, os.Getenv("BOXCRAFT_MIRROR_PREFIX"), mirror.Options{
		Workers:       envInt("BOXCRAFT_MIRROR_WORKERS", 1),
		QueueCapacity: envInt("BOXCRAFT_MIRROR_QUEUE", 256),
		EnqueueWait:   time.Duration(envInt("BOXCRAFT_MIRROR_ENQUEUE_WAIT_MS", 25)) * time.Millisecond,
	}, logger), nil
}
