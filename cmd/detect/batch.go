package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"detectionapi/internal/logger"
	"detectionapi/internal/service"
)

var imageExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

// collectImages lists the images directly inside dir, sorted by name.
func collectImages(dir string) ([]string, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read images directory: %w", err)
	}

	var images []string
	for _, file := range files {
		if file.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(file.Name()))] {
			continue
		}
		images = append(images, filepath.Join(dir, file.Name()))
	}
	sort.Strings(images)
	return images, nil
}

type summary struct {
	Processed  int
	Failed     int
	Warnings   int
	Detections map[string]int
}

func (s summary) print(w io.Writer) {
	fmt.Fprintf(w, "✅ Processed %d images\n", s.Processed)
	if s.Warnings > 0 {
		fmt.Fprintf(w, "⚠️  %d images stored with warnings\n", s.Warnings)
	}
	if s.Failed > 0 {
		fmt.Fprintf(w, "❌ %d images failed\n", s.Failed)
	}
	if len(s.Detections) == 0 {
		return
	}

	labels := make([]string, 0, len(s.Detections))
	for label := range s.Detections {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	fmt.Fprintf(w, "\n📊 Detected objects:\n")
	for _, label := range labels {
		fmt.Fprintf(w, "   - %s: %d\n", label, s.Detections[label])
	}
}

// processAll runs every image through the processor with at most workers in flight.
// A failed image is counted and logged; it never stops the batch.
func processAll(ctx context.Context, processor service.Processor, images []string, workers int, log *logger.Logger) summary {
	if workers < 1 {
		workers = 1
	}

	var mu sync.Mutex
	result := summary{Detections: map[string]int{}}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, path := range images {
		g.Go(func() error {
			outcome, err := processor.Process(ctx, path)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Error("Failed to process %s: %v", path, err)
				result.Failed++
				return nil
			}
			result.Processed++
			if len(outcome.Warnings) > 0 {
				result.Warnings++
			}
			for _, label := range outcome.Record.Detections.Labels() {
				result.Detections[label]++
			}
			return nil
		})
	}
	g.Wait()
	return result
}
